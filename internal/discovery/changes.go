package discovery

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/vivars7/a2a-orchestrator/internal/protocol"
)

// Change describes a single field difference between two Agent Cards.
// Critical changes affect where or how tasks are routed.
type Change struct {
	Field    string
	OldValue string
	NewValue string
	Critical bool
}

// DetectChanges compares two cards for the same URL. A nil old card is the
// first fetch and reports nothing.
func DetectChanges(old, newCard *protocol.AgentCard) []Change {
	if old == nil || newCard == nil {
		return nil
	}

	var changes []Change
	add := func(field, oldV, newV string, critical bool) {
		if oldV != newV {
			changes = append(changes, Change{Field: field, OldValue: oldV, NewValue: newV, Critical: critical})
		}
	}

	add("url", old.URL, newCard.URL, true)
	add("version", old.Version, newCard.Version, true)
	add("protocolVersion", old.ProtocolVersion, newCard.ProtocolVersion, true)
	add("name", old.Name, newCard.Name, false)
	add("description", old.Description, newCard.Description, false)
	add("primaryKeywords",
		strings.Join(old.Keywords(), ","),
		strings.Join(newCard.Keywords(), ","),
		true)

	// Skills count: critical if it moves by more than half.
	oldSkills, newSkills := len(old.Skills), len(newCard.Skills)
	if oldSkills != newSkills {
		critical := newSkills > 0
		if oldSkills > 0 {
			critical = math.Abs(float64(newSkills-oldSkills))/float64(oldSkills) > 0.5
		}
		changes = append(changes, Change{
			Field:    "skills",
			OldValue: fmt.Sprintf("%d skills", oldSkills),
			NewValue: fmt.Sprintf("%d skills", newSkills),
			Critical: critical,
		})
	}

	add("capabilities", capabilitiesString(old.Capabilities), capabilitiesString(newCard.Capabilities), false)
	return changes
}

// HasCriticalChanges returns true if any change is marked critical.
func HasCriticalChanges(changes []Change) bool {
	return slices.ContainsFunc(changes, func(c Change) bool { return c.Critical })
}

func capabilitiesString(caps *protocol.AgentCapabilities) string {
	if caps == nil {
		return "<nil>"
	}
	return fmt.Sprintf("streaming=%t,push=%t,history=%t",
		caps.Streaming, caps.PushNotifications, caps.StateTransitionHistory)
}
