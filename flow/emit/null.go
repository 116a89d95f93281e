package emit

// NullEmitter discards all events. The default for hosts that want zero
// observability overhead.
type NullEmitter struct{}

// NewNullEmitter creates a NullEmitter. Safe for concurrent use.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(Event) {}
