package bus

import (
	"sync"

	"github.com/enamentis/modulo/internal/metrics"
)

// Subscriber is a channel a caller reads published envelopes from.
type Subscriber chan Envelope

// Broker is the in-process broker backing the bus: publish fans an
// envelope out to every subscriber of its channel. It is the in-process
// analogue of the external broker original_source's redis client connects
// to — swappable for a real broker client later without touching
// ServiceManager's contract.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[Subscriber]struct{}
	buffer      int
}

// NewBroker constructs a broker whose per-subscriber channel buffer holds
// buffer envelopes before Publish starts dropping for that subscriber.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broker{
		subscribers: make(map[string]map[Subscriber]struct{}),
		buffer:      buffer,
	}
}

// Subscribe registers a new subscriber on channel and returns the channel
// it will receive envelopes on.
func (b *Broker) Subscribe(channel string) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, b.buffer)
	set, ok := b.subscribers[channel]
	if !ok {
		set = make(map[Subscriber]struct{})
		b.subscribers[channel] = set
	}
	set[sub] = struct{}{}
	metrics.BusSubscribers.Inc()
	return sub
}

// Unsubscribe removes sub from channel and closes it.
func (b *Broker) Unsubscribe(channel string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if set, ok := b.subscribers[channel]; ok {
		if _, present := set[sub]; present {
			delete(set, sub)
			close(sub)
			metrics.BusSubscribers.Dec()
		}
		if len(set) == 0 {
			delete(b.subscribers, channel)
		}
	}
}

// Publish fans envelope out to every subscriber of its channel. A
// subscriber whose buffer is full is skipped rather than blocking the
// publisher (mirrors the teacher's broadcast: "subscriber buffer full,
// skip").
func (b *Broker) Publish(envelope Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	metrics.BusMessagesPublished.WithLabelValues(string(envelope.Type), envelope.Channel).Inc()

	for sub := range b.subscribers[envelope.Channel] {
		select {
		case sub <- envelope:
		default:
		}
	}
}

// Ping reports whether the broker is reachable. The in-process broker is
// always reachable; a future networked broker client would probe the
// connection here instead.
func (b *Broker) Ping() error {
	return nil
}
