// Package classify maps message text to one category of the configured
// taxonomy. Classification is pure: the same text and the same taxonomy
// always produce the same result, across calls and across restarts.
package classify

import (
	"sort"
	"strings"
	"unicode"

	"github.com/marcs89/Instagram-Message-Router/pkg/config"
)

// Classification is the outcome of classifying one text.
type Classification struct {
	Category string
	// Priority is the label the winning rule carries ("low", "normal",
	// "high").
	Priority string
	// Confidence is the weight of the keyword set that matched; 0 for
	// the fallback category.
	Confidence int
	// Fallback marks that no rule matched.
	Fallback bool
}

type rule struct {
	name     string
	priority string
	rank     int
	sets     []keywordSet
}

type keywordSet struct {
	keywords []string
	weight   int
}

// Classifier holds an immutable, pre-normalized snapshot of the
// taxonomy. Safe for concurrent use.
type Classifier struct {
	rules         []rule
	fallback      string
	storyCategory string
	wholeWord     bool
	maxLen        int
}

// New builds a classifier from the routing config. Rules are ordered by
// descending priority rank, ties broken by name, so multi-category text
// always resolves the same way.
func New(rc *config.RoutingConfig, maxLen int) *Classifier {
	c := &Classifier{
		fallback:      rc.FallbackCategory,
		storyCategory: rc.StoryReplyCategory,
		wholeWord:     rc.MatchMode == "whole_word",
		maxLen:        maxLen,
	}

	for _, cat := range rc.Categories {
		r := rule{
			name:     cat.Name,
			priority: cat.PriorityLabel,
			rank:     cat.Priority,
		}
		if r.priority == "" {
			r.priority = "normal"
		}
		for _, set := range cat.KeywordSets {
			ks := keywordSet{weight: set.Weight}
			if ks.weight == 0 {
				ks.weight = 1
			}
			for _, kw := range set.Keywords {
				if norm := normalize(kw); norm != "" {
					ks.keywords = append(ks.keywords, norm)
				}
			}
			if len(ks.keywords) > 0 {
				r.sets = append(r.sets, ks)
			}
		}
		c.rules = append(c.rules, r)
	}

	sort.SliceStable(c.rules, func(i, j int) bool {
		if c.rules[i].rank != c.rules[j].rank {
			return c.rules[i].rank > c.rules[j].rank
		}
		return c.rules[i].name < c.rules[j].name
	})

	return c
}

// Classify returns the category for text. Empty or whitespace-only text
// classifies to the fallback category; text longer than the configured
// limit is truncated before matching.
func (c *Classifier) Classify(text string) Classification {
	norm := normalize(truncate(text, c.maxLen))
	if strings.TrimSpace(norm) == "" {
		return c.fallbackResult()
	}

	var words map[string]bool
	if c.wholeWord {
		words = make(map[string]bool)
		for _, w := range strings.Fields(norm) {
			words[w] = true
		}
	}

	for _, r := range c.rules {
		for _, set := range r.sets {
			if matches(norm, words, set.keywords, c.wholeWord) {
				return Classification{
					Category:   r.name,
					Priority:   r.priority,
					Confidence: set.weight,
				}
			}
		}
	}

	return c.fallbackResult()
}

// ClassifyStoryReply forces story replies into the configured story
// category with low priority, matching how story reactions were always
// treated as feedback rather than inquiries.
func (c *Classifier) ClassifyStoryReply(text string) Classification {
	if c.storyCategory == "" {
		return c.Classify(text)
	}
	return Classification{
		Category:   c.storyCategory,
		Priority:   "low",
		Confidence: 1,
	}
}

func (c *Classifier) fallbackResult() Classification {
	return Classification{
		Category: c.fallback,
		Priority: "normal",
		Fallback: true,
	}
}

func matches(norm string, words map[string]bool, keywords []string, wholeWord bool) bool {
	for _, kw := range keywords {
		if wholeWord && !strings.ContainsRune(kw, ' ') {
			if words[kw] {
				return true
			}
			continue
		}
		if strings.Contains(norm, kw) {
			return true
		}
	}
	return false
}

// normalize case-folds and strips punctuation. Symbols (emoji) survive
// so emoji keywords keep matching.
func normalize(s string) string {
	s = strings.ToLower(s)
	return strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return ' '
		}
		return r
	}, s)
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}
