package logging

import (
	"context"
	"log/slog"
	"sync"
)

// ComponentFilterHandler filters records by a per-component minimum level.
// The component is taken from the "component" attribute, either attached
// with Logger.With or passed on the record itself. Components without an
// override use the default level.
//
// Levels can be changed at any time; loggers already derived from the
// handler pick up the change on their next record.
type ComponentFilterHandler struct {
	next      slog.Handler
	state     *filterState
	component string // from preset attrs, "" if none
}

type filterState struct {
	mu           sync.RWMutex
	defaultLevel slog.Level
	levels       map[string]slog.Level
}

// NewComponentFilterHandler wraps next. A nil next discards every record
// but still answers level queries.
func NewComponentFilterHandler(next slog.Handler, defaultLevel slog.Level) *ComponentFilterHandler {
	if next == nil {
		next = discardHandler{}
	}
	return &ComponentFilterHandler{
		next: next,
		state: &filterState{
			defaultLevel: defaultLevel,
			levels:       make(map[string]slog.Level),
		},
	}
}

// SetLevel overrides the minimum level for component.
func (h *ComponentFilterHandler) SetLevel(component string, level slog.Level) {
	h.state.mu.Lock()
	h.state.levels[component] = level
	h.state.mu.Unlock()
}

// ClearLevel removes the override for component.
func (h *ComponentFilterHandler) ClearLevel(component string) {
	h.state.mu.Lock()
	delete(h.state.levels, component)
	h.state.mu.Unlock()
}

// Level returns the effective minimum level for component.
func (h *ComponentFilterHandler) Level(component string) slog.Level {
	h.state.mu.RLock()
	defer h.state.mu.RUnlock()
	if l, ok := h.state.levels[component]; ok {
		return l
	}
	return h.state.defaultLevel
}

// DefaultLevel returns the level used for components without an override.
func (h *ComponentFilterHandler) DefaultLevel() slog.Level {
	h.state.mu.RLock()
	defer h.state.mu.RUnlock()
	return h.state.defaultLevel
}

// Enabled reports whether any component could log at level. The exact
// per-component check happens in Handle, once the record's attributes are
// known.
func (h *ComponentFilterHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.component != "" {
		if level < h.Level(h.component) {
			return false
		}
		return h.next.Enabled(ctx, level)
	}
	if level < h.lowestLevel() {
		return false
	}
	return h.next.Enabled(ctx, level)
}

func (h *ComponentFilterHandler) Handle(ctx context.Context, r slog.Record) error {
	component := h.component
	if component == "" {
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "component" {
				component = a.Value.String()
				return false
			}
			return true
		})
	}
	if r.Level < h.Level(component) {
		return nil
	}
	return h.next.Handle(ctx, r)
}

func (h *ComponentFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	component := h.component
	for _, a := range attrs {
		if a.Key == "component" {
			component = a.Value.String()
		}
	}
	return &ComponentFilterHandler{
		next:      h.next.WithAttrs(attrs),
		state:     h.state,
		component: component,
	}
}

func (h *ComponentFilterHandler) WithGroup(name string) slog.Handler {
	return &ComponentFilterHandler{
		next:      h.next.WithGroup(name),
		state:     h.state,
		component: h.component,
	}
}

func (h *ComponentFilterHandler) lowestLevel() slog.Level {
	h.state.mu.RLock()
	defer h.state.mu.RUnlock()
	lowest := h.state.defaultLevel
	for _, l := range h.state.levels {
		if l < lowest {
			lowest = l
		}
	}
	return lowest
}
