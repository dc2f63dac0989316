package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RoutingConfig is the category taxonomy and handler roster. It is
// loaded once at startup and treated as immutable afterwards; a reload
// means building a fresh pipeline, never mutating a live one.
type RoutingConfig struct {
	// FallbackCategory receives messages no rule matched.
	FallbackCategory string `yaml:"fallback_category"`

	// MatchMode is "substring" or "whole_word".
	MatchMode string `yaml:"match_mode"`

	// StoryReplyCategory overrides classification for story replies.
	// Empty disables the override.
	StoryReplyCategory string `yaml:"story_reply_category"`

	Categories []CategoryRule `yaml:"categories"`
	Handlers   []HandlerEntry `yaml:"handlers"`

	// DefaultPool lists handler ids that take conversations whose
	// category no handler declares.
	DefaultPool []string `yaml:"default_pool"`
}

// CategoryRule is one named category with ordered keyword sets and a
// priority rank used as the deterministic tie-break.
type CategoryRule struct {
	Name          string       `yaml:"name"`
	Priority      int          `yaml:"priority"`
	PriorityLabel string       `yaml:"priority_label"`
	KeywordSets   []KeywordSet `yaml:"keyword_sets"`
}

type KeywordSet struct {
	Keywords []string `yaml:"keywords"`
	Weight   int      `yaml:"weight"`
}

// HandlerEntry declares one handler, its capability set and availability.
type HandlerEntry struct {
	ID         string   `yaml:"id"`
	Categories []string `yaml:"categories"`
	Available  bool     `yaml:"available"`
}

// LoadRouting reads the routing config from path, or returns the
// built-in default taxonomy when path is empty.
func LoadRouting(path string) (*RoutingConfig, error) {
	if path == "" {
		return DefaultRouting(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read routing config: %w", err)
	}

	var rc RoutingConfig
	if err := yaml.Unmarshal(data, &rc); err != nil {
		return nil, fmt.Errorf("failed to parse routing config: %w", err)
	}
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	return &rc, nil
}

func (rc *RoutingConfig) Validate() error {
	if rc.FallbackCategory == "" {
		return fmt.Errorf("routing config: fallback_category is required")
	}
	switch rc.MatchMode {
	case "", "substring", "whole_word":
	default:
		return fmt.Errorf("routing config: unknown match_mode %q", rc.MatchMode)
	}
	seen := make(map[string]bool, len(rc.Categories))
	for _, c := range rc.Categories {
		if c.Name == "" {
			return fmt.Errorf("routing config: category with empty name")
		}
		if seen[c.Name] {
			return fmt.Errorf("routing config: duplicate category %q", c.Name)
		}
		seen[c.Name] = true
	}
	ids := make(map[string]bool, len(rc.Handlers))
	for _, h := range rc.Handlers {
		if h.ID == "" {
			return fmt.Errorf("routing config: handler with empty id")
		}
		if ids[h.ID] {
			return fmt.Errorf("routing config: duplicate handler %q", h.ID)
		}
		ids[h.ID] = true
	}
	for _, id := range rc.DefaultPool {
		if !ids[id] {
			return fmt.Errorf("routing config: default_pool references unknown handler %q", id)
		}
	}
	return nil
}

// DefaultRouting mirrors the taxonomy the service ran with originally:
// cooperation and feedback detection with everything else falling back
// to general support.
func DefaultRouting() *RoutingConfig {
	return &RoutingConfig{
		FallbackCategory:   "general_support",
		MatchMode:          "substring",
		StoryReplyCategory: "feedback",
		Categories: []CategoryRule{
			{
				Name:          "cooperation",
				Priority:      30,
				PriorityLabel: "normal",
				KeywordSets: []KeywordSet{
					{Keywords: []string{
						"zusammenarbeit", "kooperation", "influencer", "collab",
						"partnership", "werbung", "promotion", "creator", "ugc",
						"ambassador", "botschafter",
					}},
				},
			},
			{
				Name:          "feedback",
				Priority:      20,
				PriorityLabel: "low",
				KeywordSets: []KeywordSet{
					{Keywords: []string{
						"toll", "super", "danke", "liebe", "perfekt", "amazing",
						"love", "great", "awesome", "wunderschön", "begeistert",
						"empfehlen", "zufrieden", "glücklich", "happy",
					}},
					{Keywords: []string{
						"❤️", "🔥", "😍", "👍", "💕", "🥰", "😊",
					}},
				},
			},
		},
	}
}
