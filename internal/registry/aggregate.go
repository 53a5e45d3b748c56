package registry

import (
	"slices"

	"github.com/vivars7/a2a-orchestrator/internal/protocol"
)

// AggregateCard returns base extended with the skills, keywords and
// capabilities of every healthy agent whose card is cached. base is not modified.
func (r *Registry) AggregateCard(base protocol.AgentCard) *protocol.AgentCard {
	card := base
	card.Skills = slices.Clone(base.Skills)
	card.PrimaryKeywords = slices.Clone(base.PrimaryKeywords)
	caps := protocol.AgentCapabilities{Streaming: true}
	if base.Capabilities != nil {
		caps = *base.Capabilities
	}
	if card.Skills == nil {
		card.Skills = []protocol.AgentSkill{}
	}
	if card.PrimaryKeywords == nil {
		card.PrimaryKeywords = []string{}
	}

	seenSkill := make(map[string]bool)
	for _, s := range card.Skills {
		seenSkill[s.ID] = true
	}
	seenKeyword := make(map[string]bool)
	for _, kw := range card.PrimaryKeywords {
		seenKeyword[kw] = true
	}

	for _, a := range r.agents {
		if !a.Healthy() {
			continue
		}
		agentCard, ok := r.discovery.Peek(a.URL)
		if !ok {
			continue
		}
		for _, s := range agentCard.Skills {
			if !seenSkill[s.ID] {
				seenSkill[s.ID] = true
				card.Skills = append(card.Skills, s)
			}
		}
		for _, kw := range agentCard.Keywords() {
			if !seenKeyword[kw] {
				seenKeyword[kw] = true
				card.PrimaryKeywords = append(card.PrimaryKeywords, kw)
			}
		}
		if c := agentCard.Capabilities; c != nil {
			caps.PushNotifications = caps.PushNotifications || c.PushNotifications
			caps.StateTransitionHistory = caps.StateTransitionHistory || c.StateTransitionHistory
		}
	}
	card.Capabilities = &caps
	return &card
}
