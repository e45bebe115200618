// Package sdk provides the plugin-author-facing envelope and host-call
// helpers described in SPEC_FULL.md §6. It is consumed by plugin code
// compiled to the sandbox target, not by the kernel itself; the types
// here mirror the JSON shape a plugin receives from handle_message and
// sends back via send_message/publish_message.
package sdk

// Priority is advisory: it is carried end-to-end on every message but the
// router does not reorder delivery by it in this implementation.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Message is the plugin-SDK message envelope (distinct from the bus wire
// envelope in package bus, which has no metadata/expires_at/priority
// fields — those are an SDK-level convenience layered on top).
type Message struct {
	ID          string            `json:"id"`
	From        string            `json:"from"`
	To          string            `json:"to"`
	Topic       string            `json:"topic,omitempty"`
	Payload     []byte            `json:"payload"`
	MessageType string            `json:"message_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Timestamp   int64             `json:"timestamp"`
	ExpiresAt   int64             `json:"expires_at,omitempty"`
	Priority    Priority          `json:"priority"`
}

// Expired reports whether the message has passed its ExpiresAt deadline,
// given nowMillis. The router itself does not consult this; it is
// provided for plugin authors who want to honor it themselves.
func (m Message) Expired(nowMillis int64) bool {
	return m.ExpiresAt != 0 && nowMillis >= m.ExpiresAt
}
