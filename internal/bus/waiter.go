package bus

import (
	"sync"

	"github.com/enamentis/modulo/internal/metrics"
)

// waiterRegistry tracks in-flight request/response correlations keyed by
// envelope id (spec §4.4.3).
type waiterRegistry struct {
	mu      sync.Mutex
	waiters map[string]chan Envelope
}

func newWaiterRegistry() *waiterRegistry {
	return &waiterRegistry{waiters: make(map[string]chan Envelope)}
}

// register allocates a waiter for correlationID and returns the channel
// its resolution will be delivered on.
func (w *waiterRegistry) register(correlationID string) chan Envelope {
	ch := make(chan Envelope, 1)
	w.mu.Lock()
	w.waiters[correlationID] = ch
	w.mu.Unlock()
	return ch
}

// resolve delivers response to the waiter for response.InReplyTo, if one
// is still registered. Returns true if a waiter consumed it; false means
// the response should fall through to normal handler dispatch (spec
// §4.4.3: "a response whose in_reply_to matches no waiter is treated as
// a broadcast-style type").
func (w *waiterRegistry) resolve(response Envelope) bool {
	w.mu.Lock()
	ch, ok := w.waiters[response.InReplyTo]
	if ok {
		delete(w.waiters, response.InReplyTo)
	}
	w.mu.Unlock()

	if !ok {
		return false
	}
	ch <- response
	return true
}

// abandon removes the waiter for correlationID without resolving it (used
// when the caller's context is cancelled or the deadline already fired).
func (w *waiterRegistry) abandon(correlationID string) {
	w.mu.Lock()
	delete(w.waiters, correlationID)
	w.mu.Unlock()
}

func timeoutResponse(correlationID string) Envelope {
	metrics.BusDispatchTimeouts.Inc()
	return Envelope{
		Type:      TypeResponse,
		InReplyTo: correlationID,
		Status:    StatusTimeout,
	}
}
