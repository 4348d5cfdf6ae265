// Package bus implements the pub/sub message bus: an in-process broker,
// a service-manager lifecycle around it, type+channel handler routing,
// and correlation-id-based request/response waiters. Grounded on the
// teacher's pkg/events.Broker (subscriber fan-out shape) and on
// original_source's teatype.comms.ipc.redis client (connect → subscribe →
// processor → request/response contract).
package bus

import "time"

// Type is the envelope's message kind.
type Type string

const (
	TypeBroadcast Type = "broadcast"
	TypeDispatch  Type = "dispatch"
	TypeResponse  Type = "response"
)

// Status is the outcome carried by a response envelope.
type Status string

const (
	StatusOK      Status = "ok"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
)

// Envelope is the JSON message exchanged over the bus (spec §4.4).
type Envelope struct {
	Type      Type   `json:"type"`
	Channel   string `json:"channel"`
	Source    string `json:"source"`
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`

	// Broadcast fields.
	Message string `json:"message,omitempty"`
	Value   any    `json:"value,omitempty"`

	// Dispatch fields.
	Command  string `json:"command,omitempty"`
	Receiver string `json:"receiver,omitempty"`
	Payload  any    `json:"payload,omitempty"`

	// Response fields.
	InReplyTo string `json:"in_reply_to,omitempty"`
	Status    Status `json:"status,omitempty"`
}

// NewBroadcast builds a broadcast envelope.
func NewBroadcast(source, channel, id, message string, value any) Envelope {
	return Envelope{
		Type:      TypeBroadcast,
		Channel:   channel,
		Source:    source,
		ID:        id,
		Timestamp: time.Now().UnixNano(),
		Message:   message,
		Value:     value,
	}
}

// NewDispatch builds a dispatch envelope addressed to receiver.
func NewDispatch(source, channel, id, command, receiver string, payload any) Envelope {
	return Envelope{
		Type:      TypeDispatch,
		Channel:   channel,
		Source:    source,
		ID:        id,
		Timestamp: time.Now().UnixNano(),
		Command:   command,
		Receiver:  receiver,
		Payload:   payload,
	}
}

// NewResponse builds a response envelope correlated to inReplyTo.
func NewResponse(source, channel, id, inReplyTo string, status Status, payload any) Envelope {
	return Envelope{
		Type:      TypeResponse,
		Channel:   channel,
		Source:    source,
		ID:        id,
		Timestamp: time.Now().UnixNano(),
		InReplyTo: inReplyTo,
		Status:    status,
		Payload:   payload,
	}
}
