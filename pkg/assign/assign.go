// Package assign selects a handler for a newly categorized
// conversation. Selection is round-robin within a category with
// deterministic tie-breaks, so load spreads evenly and repeated runs
// over the same inputs always pick the same handlers.
package assign

import (
	"errors"
	"sort"
	"sync"

	"github.com/marcs89/Instagram-Message-Router/pkg/config"
)

// ErrNoHandlerAvailable means neither the category's handlers nor the
// default pool could take the conversation. The conversation must still
// be stored, unassigned, and the failure surfaced to operators.
var ErrNoHandlerAvailable = errors.New("assign: no handler available")

// Handler is one roster member.
type Handler struct {
	ID         string
	Categories map[string]bool
	Available  bool
}

// Assigner tracks per-handler assignment recency. Safe for concurrent
// use; the roster itself is immutable after construction.
type Assigner struct {
	mu          sync.Mutex
	handlers    []*Handler
	defaultPool map[string]bool
	lastSeq     map[string]int64
	seq         int64
}

// NewAssigner builds an assigner from the routing config roster.
// Handlers are kept sorted by id so recency ties resolve the same way
// every time.
func NewAssigner(rc *config.RoutingConfig) *Assigner {
	a := &Assigner{
		defaultPool: make(map[string]bool, len(rc.DefaultPool)),
		lastSeq:     make(map[string]int64, len(rc.Handlers)),
	}
	for _, id := range rc.DefaultPool {
		a.defaultPool[id] = true
	}
	for _, h := range rc.Handlers {
		handler := &Handler{
			ID:         h.ID,
			Categories: make(map[string]bool, len(h.Categories)),
			Available:  h.Available,
		}
		for _, c := range h.Categories {
			handler.Categories[c] = true
		}
		a.handlers = append(a.handlers, handler)
	}
	sort.Slice(a.handlers, func(i, j int) bool {
		return a.handlers[i].ID < a.handlers[j].ID
	})
	return a
}

// Assign picks the least-recently-assigned available handler declaring
// category; if none declares it, the default pool is tried with the
// same rule. Callers must keep an existing assignee instead of calling
// Assign again for the same conversation.
func (a *Assigner) Assign(category string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id, ok := a.pick(func(h *Handler) bool {
		return h.Available && h.Categories[category]
	}); ok {
		return id, nil
	}

	if id, ok := a.pick(func(h *Handler) bool {
		return h.Available && a.defaultPool[h.ID]
	}); ok {
		return id, nil
	}

	return "", ErrNoHandlerAvailable
}

// pick scans in id order so equal recency resolves to the smaller id.
func (a *Assigner) pick(eligible func(*Handler) bool) (string, bool) {
	var best *Handler
	for _, h := range a.handlers {
		if !eligible(h) {
			continue
		}
		if best == nil || a.lastSeq[h.ID] < a.lastSeq[best.ID] {
			best = h
		}
	}
	if best == nil {
		return "", false
	}
	a.seq++
	a.lastSeq[best.ID] = a.seq
	return best.ID, true
}
