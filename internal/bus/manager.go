package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/enamentis/modulo/internal/logging"
	"github.com/google/uuid"
)

// State is a ServiceManager lifecycle state (spec §4.4.1).
type State string

const (
	StateInit        State = "init"
	StateConnected    State = "connected"
	StateSubscribed   State = "subscribed"
	StateActive       State = "active"
	StateTerminating  State = "terminating"
	StateClosed       State = "closed"
)

// terminateDeadline is how long Terminate waits for the processor to join
// before issuing a hard stop (spec §4.4.1).
const terminateDeadline = 5 * time.Second

// ServiceManager attaches a named client to a Broker, subscribes to a set
// of channels, routes inbound envelopes to typed handlers, and supports
// request/response correlation. Grounded on the teacher's
// pkg/events.Broker subscriber model plus original_source's redis client
// connect→subscribe→processor lifecycle.
type ServiceManager struct {
	mu     sync.Mutex
	name   string
	broker *Broker
	router *Router
	waiters *waiterRegistry

	state         State
	subscriptions map[string]struct{}
	subs          map[string]Subscriber

	aggregate chan Envelope
	stopCh    chan struct{}
	done      chan struct{}
}

// NewServiceManager constructs a manager for a client named name over
// broker, starting in the init state.
func NewServiceManager(name string, broker *Broker) *ServiceManager {
	return &ServiceManager{
		name:          name,
		broker:        broker,
		router:        NewRouter(),
		waiters:       newWaiterRegistry(),
		state:         StateInit,
		subscriptions: make(map[string]struct{}),
		subs:          make(map[string]Subscriber),
	}
}

// Name returns the client name this manager was constructed with.
func (m *ServiceManager) Name() string { return m.name }

// State returns the manager's current lifecycle state.
func (m *ServiceManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// RegisterHandler adds a handler for msgType, optionally restricted to
// channels, to this manager's router.
func (m *ServiceManager) RegisterHandler(msgType Type, channels []string, handler Handler) {
	m.router.Register(msgType, channels, handler)
}

// Connect verifies the broker is reachable via a liveness check. It fails
// closed: on error the manager stays in the init state (spec §4.4.1).
func (m *ServiceManager) Connect(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateInit {
		return &InvalidStateError{Method: "connect", State: m.state}
	}
	if err := m.broker.Ping(); err != nil {
		return &BrokerUnavailable{Cause: err}
	}
	m.state = StateConnected
	return nil
}

// Subscribe records channels as the active subscription set and opens a
// broker subscription for each one not already held. Idempotent and safe
// to call again after a reconnect to restore the same set (spec §4.4.1).
func (m *ServiceManager) Subscribe(channels []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateConnected && m.state != StateSubscribed {
		return &InvalidStateError{Method: "subscribe", State: m.state}
	}

	for _, channel := range channels {
		m.subscriptions[channel] = struct{}{}
		if _, already := m.subs[channel]; already {
			continue
		}
		m.subs[channel] = m.broker.Subscribe(channel)
	}
	m.state = StateSubscribed
	return nil
}

// Start spawns the processor goroutine that fans every subscribed
// channel into the router (and into response waiters), transitioning to
// active (spec §4.4.1).
func (m *ServiceManager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateSubscribed {
		return &InvalidStateError{Method: "start", State: m.state}
	}

	m.aggregate = make(chan Envelope, 256)
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})

	for channel, sub := range m.subs {
		go m.forward(channel, sub)
	}

	go m.process()

	m.state = StateActive
	return nil
}

func (m *ServiceManager) forward(_ string, sub Subscriber) {
	for {
		select {
		case envelope, ok := <-sub:
			if !ok {
				return
			}
			select {
			case m.aggregate <- envelope:
			case <-m.stopCh:
				return
			}
		case <-m.stopCh:
			return
		}
	}
}

// process routes envelopes as they arrive until stopCh fires, then drains
// whatever is already queued in aggregate before exiting.
func (m *ServiceManager) process() {
	defer close(m.done)
	for {
		select {
		case envelope := <-m.aggregate:
			m.route(envelope)
		case <-m.stopCh:
			for {
				select {
				case envelope := <-m.aggregate:
					m.route(envelope)
				default:
					return
				}
			}
		}
	}
}

func (m *ServiceManager) route(envelope Envelope) {
	if envelope.Type == TypeResponse && m.waiters.resolve(envelope) {
		return
	}

	payload, handled := m.router.Dispatch(context.Background(), envelope)
	if handled && envelope.Type == TypeDispatch {
		response := NewResponse(m.name, envelope.Channel, GenerateCorrelationID(), envelope.ID, StatusOK, payload)
		m.broker.Publish(response)
	}
}

// Terminate signals the processor, unsubscribes every channel, and joins
// the processor within terminateDeadline; past that it proceeds anyway
// (spec §4.4.1: "issues a hard stop").
func (m *ServiceManager) Terminate(_ context.Context) error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return nil
	}
	m.state = StateTerminating
	stopCh := m.stopCh
	done := m.done
	for channel, sub := range m.subs {
		m.broker.Unsubscribe(channel, sub)
	}
	m.subs = make(map[string]Subscriber)
	m.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(terminateDeadline):
			logging.WithComponent("bus").Warn().Str("client", m.name).Msg("processor did not join before deadline; hard stop")
		}
	}

	m.mu.Lock()
	m.state = StateClosed
	m.mu.Unlock()
	return nil
}

// Send publishes envelope. When awaitResponse is true it blocks (subject
// to ctx and timeout) on a correlation waiter keyed by envelope.ID; on
// timeout the waiter resolves with a synthetic response{status: timeout}
// and Send returns a *DispatchTimeout alongside it (spec §4.4.3).
func (m *ServiceManager) Send(ctx context.Context, envelope Envelope, awaitResponse bool, timeout time.Duration) (Envelope, error) {
	if envelope.ID == "" {
		envelope.ID = GenerateCorrelationID()
	}

	if !awaitResponse {
		m.broker.Publish(envelope)
		return Envelope{}, nil
	}

	waiter := m.waiters.register(envelope.ID)
	m.broker.Publish(envelope)

	select {
	case response := <-waiter:
		return response, nil
	case <-time.After(timeout):
		m.waiters.abandon(envelope.ID)
		return timeoutResponse(envelope.ID), &DispatchTimeout{CorrelationID: envelope.ID}
	case <-ctx.Done():
		m.waiters.abandon(envelope.ID)
		return Envelope{}, fmt.Errorf("bus: send cancelled: %w", ctx.Err())
	}
}

// GenerateCorrelationID returns a process-unique correlation id (spec
// §4.4.3: "16 chars ample").
func GenerateCorrelationID() string {
	return uuid.NewString()[:16]
}
