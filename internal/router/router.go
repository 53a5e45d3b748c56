// Package router selects the agent that should handle a task by matching the
// task text against each agent's primary keywords.
//
// Scoring is a pure function of the task text and the ordered candidate
// profiles: no I/O, no randomness, O(agents × keywords) per call.
package router

import (
	"fmt"
	"sort"
	"strings"

	orcherrors "github.com/vivars7/a2a-orchestrator/internal/errors"
)

// Scores are computed in tenths so that ties compare exactly.
const (
	matchTenths   = 5  // +0.5 per own keyword
	capTenths     = 10 // positive part saturates at 1.0
	penaltyTenths = 3  // -0.3 per keyword of another agent
)

// Profile is the routing view of one candidate agent. Profiles are passed in
// configuration order, which is the tie-break order.
type Profile struct {
	Name     string
	Keywords []string
}

// Scored is the explainable result for one agent.
type Scored struct {
	Name      string   `json:"name"`
	Score     float64  `json:"score"`
	Matched   []string `json:"matched,omitempty"`
	Penalized []string `json:"penalized,omitempty"`
	Default   bool     `json:"default,omitempty"`

	tenths int
}

// String renders the score with its contributing keywords, e.g. for the route command.
func (s Scored) String() string {
	out := fmt.Sprintf("%s %.1f", s.Name, s.Score)
	if len(s.Matched) > 0 {
		out += " +[" + strings.Join(s.Matched, ",") + "]"
	}
	if len(s.Penalized) > 0 {
		out += " -[" + strings.Join(s.Penalized, ",") + "]"
	}
	if s.Default {
		out += " (default)"
	}
	return out
}

// Rank scores every profile against text and returns them best first.
// Equal scores keep configuration order.
func Rank(text string, profiles []Profile) []Scored {
	text = strings.ToLower(text)

	// Keywords found in the text, per agent, deduplicated.
	found := make([][]string, len(profiles))
	for i, p := range profiles {
		found[i] = matchKeywords(text, p.Keywords)
	}

	ranked := make([]Scored, len(profiles))
	for i, p := range profiles {
		positive := min(len(found[i])*matchTenths, capTenths)

		var penalized []string
		seen := make(map[string]bool)
		for j := range profiles {
			if j == i {
				continue
			}
			for _, kw := range found[j] {
				if !seen[kw] {
					seen[kw] = true
					penalized = append(penalized, kw)
				}
			}
		}

		tenths := max(0, min(capTenths, positive-len(penalized)*penaltyTenths))
		ranked[i] = Scored{
			Name:      p.Name,
			Score:     float64(tenths) / 10,
			Matched:   found[i],
			Penalized: penalized,
			tenths:    tenths,
		}
	}

	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].tenths > ranked[b].tenths
	})
	return ranked
}

// Select returns the best-scoring agent. When no agent scores above zero the
// profile named defaultName is returned with Default set; without one the
// result is a no-match error.
func Select(text string, profiles []Profile, defaultName string) (Scored, error) {
	ranked := Rank(text, profiles)
	if len(ranked) > 0 && ranked[0].tenths > 0 {
		return ranked[0], nil
	}
	if defaultName != "" {
		for _, s := range ranked {
			if s.Name == defaultName {
				s.Default = true
				return s, nil
			}
		}
	}
	return Scored{}, orcherrors.NoMatch(len(profiles))
}

// matchKeywords returns the distinct keywords that occur in lowered text.
func matchKeywords(text string, keywords []string) []string {
	var out []string
	seen := make(map[string]bool, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		if strings.Contains(text, kw) {
			out = append(out, kw)
		}
	}
	return out
}
