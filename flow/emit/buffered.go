package emit

import "sync"

// BufferedEmitter stores events in memory, organized per execution, and
// answers history queries. Used by tests and debugging dashboards.
//
// Everything is kept until Clear is called, so long-lived processes with
// high event volume should prefer a persistent backend.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// HistoryFilter narrows a history query. Zero-valued fields do not filter;
// set fields combine with AND.
type HistoryFilter struct {
	NodeID  string
	Msg     string
	MinStep *int
	MaxStep *int
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

// Emit appends the event to its execution's history.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.ExecutionID] = append(b.events[event.ExecutionID], event)
}

// History returns a copy of all events of one execution in emit order.
func (b *BufferedEmitter) History(executionID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[executionID]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// HistoryWithFilter returns the matching subset of one execution's events.
func (b *BufferedEmitter) HistoryWithFilter(executionID string, f HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Event
	for _, e := range b.events[executionID] {
		if f.NodeID != "" && e.NodeID != f.NodeID {
			continue
		}
		if f.Msg != "" && e.Msg != f.Msg {
			continue
		}
		if f.MinStep != nil && e.Step < *f.MinStep {
			continue
		}
		if f.MaxStep != nil && e.Step > *f.MaxStep {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Clear drops one execution's history.
func (b *BufferedEmitter) Clear(executionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.events, executionID)
}

// ClearAll drops every execution's history.
func (b *BufferedEmitter) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = make(map[string][]Event)
}
