package discovery

import (
	"testing"

	"github.com/vivars7/a2a-orchestrator/internal/protocol"
)

func TestDetectChanges(t *testing.T) {
	base := testCard("blog_agent", "blog", "article")

	tests := []struct {
		name         string
		mutate       func(c *protocol.AgentCard)
		wantFields   []string
		wantCritical bool
	}{
		{
			name:   "identical",
			mutate: func(c *protocol.AgentCard) {},
		},
		{
			name:         "keyword case only",
			mutate:       func(c *protocol.AgentCard) { c.PrimaryKeywords = []string{"Blog", " article "} },
			wantFields:   nil,
			wantCritical: false,
		},
		{
			name:         "keywords added",
			mutate:       func(c *protocol.AgentCard) { c.PrimaryKeywords = append(c.PrimaryKeywords, "post") },
			wantFields:   []string{"primaryKeywords"},
			wantCritical: true,
		},
		{
			name:         "description",
			mutate:       func(c *protocol.AgentCard) { c.Description = "new" },
			wantFields:   []string{"description"},
			wantCritical: false,
		},
		{
			name: "url and version",
			mutate: func(c *protocol.AgentCard) {
				c.URL = "http://elsewhere"
				c.Version = "2.0.0"
			},
			wantFields:   []string{"url", "version"},
			wantCritical: true,
		},
		{
			name: "skills doubled",
			mutate: func(c *protocol.AgentCard) {
				c.Skills = append(c.Skills, protocol.AgentSkill{ID: "b", Name: "B"}, protocol.AgentSkill{ID: "c", Name: "C"})
			},
			wantFields:   []string{"skills"},
			wantCritical: true,
		},
		{
			name:         "capabilities",
			mutate:       func(c *protocol.AgentCard) { c.Capabilities = &protocol.AgentCapabilities{PushNotifications: true} },
			wantFields:   []string{"capabilities"},
			wantCritical: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := base
			next.PrimaryKeywords = append([]string(nil), base.PrimaryKeywords...)
			next.Skills = append([]protocol.AgentSkill(nil), base.Skills...)
			tt.mutate(&next)

			changes := DetectChanges(&base, &next)
			if len(changes) != len(tt.wantFields) {
				t.Fatalf("changes = %+v, want fields %v", changes, tt.wantFields)
			}
			for i, f := range tt.wantFields {
				if changes[i].Field != f {
					t.Errorf("changes[%d].Field = %q, want %q", i, changes[i].Field, f)
				}
			}
			if got := HasCriticalChanges(changes); got != tt.wantCritical {
				t.Errorf("HasCriticalChanges = %v, want %v", got, tt.wantCritical)
			}
		})
	}
}

func TestDetectChanges_FirstFetch(t *testing.T) {
	card := testCard("blog_agent", "blog")
	if changes := DetectChanges(nil, &card); changes != nil {
		t.Errorf("first fetch changes = %v, want nil", changes)
	}
}
