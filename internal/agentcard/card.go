// Package agentcard builds the Agent Card a node serves about itself, either
// from the card section of the config or from a JSON card file.
package agentcard

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/vivars7/a2a-orchestrator/internal/config"
	"github.com/vivars7/a2a-orchestrator/internal/protocol"
)

// Default modes advertised by every node.
var defaultModes = []string{"text/plain"}

// Build returns the node's card. A card file replaces every configured field
// except url, which is filled in when the file leaves it empty.
func Build(cfg *config.Config) (*protocol.AgentCard, error) {
	url := AdvertisedURL(cfg)

	if cfg.Card.File != "" {
		data, err := os.ReadFile(cfg.Card.File)
		if err != nil {
			return nil, fmt.Errorf("reading card file: %w", err)
		}
		var card protocol.AgentCard
		if err := json.Unmarshal(data, &card); err != nil {
			return nil, fmt.Errorf("parsing card file %s: %w", cfg.Card.File, err)
		}
		if card.URL == "" {
			card.URL = url
		}
		if err := card.Validate(); err != nil {
			return nil, fmt.Errorf("card file %s: %w", cfg.Card.File, err)
		}
		return &card, nil
	}

	c := cfg.Card
	card := &protocol.AgentCard{
		Name:               c.Name,
		Description:        c.Description,
		Version:            c.Version,
		URL:                url,
		Protocol:           "a2a",
		ProtocolVersion:    c.ProtocolVersion,
		DefaultInputModes:  defaultModes,
		DefaultOutputModes: defaultModes,
		PrimaryKeywords:    c.PrimaryKeywords,
		Skills:             make([]protocol.AgentSkill, 0, len(c.Skills)),
		Capabilities:       &protocol.AgentCapabilities{Streaming: true},
	}
	if card.Description == "" {
		card.Description = c.Name
	}
	if card.PrimaryKeywords == nil {
		card.PrimaryKeywords = []string{}
	}
	if c.Organization != "" {
		card.Provider = &protocol.AgentProvider{Organization: c.Organization}
	}
	for _, s := range c.Skills {
		skill := protocol.AgentSkill{
			ID:          s.ID,
			Name:        s.Name,
			Description: s.Description,
			Tags:        s.Tags,
			Examples:    s.Examples,
		}
		if skill.Tags == nil {
			skill.Tags = []string{}
		}
		card.Skills = append(card.Skills, skill)
	}
	if err := card.Validate(); err != nil {
		return nil, err
	}
	return card, nil
}

// AdvertisedURL is the base URL callers should use for this node: the
// external_url when set, otherwise derived from the listen address.
func AdvertisedURL(cfg *config.Config) string {
	if cfg.ExternalURL != "" {
		return cfg.ExternalURL
	}
	scheme := "http"
	if cfg.Listen.TLS.CertFile != "" {
		scheme = "https"
	}
	host := cfg.Listen.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return scheme + "://" + net.JoinHostPort(host, strconv.Itoa(cfg.Listen.Port))
}
