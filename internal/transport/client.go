package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/enamentis/modulo/internal/logging"
	"github.com/enamentis/modulo/internal/metrics"
	"github.com/enamentis/modulo/internal/wire"
)

const (
	defaultQueueSize  = 32
	defaultAckTimeout = 2 * time.Second
	backoffBase       = 500 * time.Millisecond
	backoffCap        = 10 * time.Second
)

// outboundFrame is one queued send: the raw application payload bound
// for receiver.
type outboundFrame struct {
	receiver string
	payload  []byte
	result   chan error
}

// ClientWorker maintains an outbound connection to a single server
// address, re-dialing with exponential backoff on failure. Grounded on
// SocketClientWorker (original Python source) and the teacher's
// stop-channel worker lifecycle, generalized with errgroup/rate for Go's
// goroutine-based concurrency.
type ClientWorker struct {
	addr         string
	id           string
	autoReconnect bool
	ackTimeout   time.Duration

	mu      sync.Mutex
	conn    net.Conn
	queue   chan outboundFrame
	stopCh  chan struct{}
	group   *errgroup.Group
	groupCtx context.Context
}

// ClientOption configures a ClientWorker.
type ClientOption func(*ClientWorker)

// WithQueueSize overrides the default outbound queue capacity (32).
func WithQueueSize(size int) ClientOption {
	return func(w *ClientWorker) {
		if size > 0 {
			w.queue = make(chan outboundFrame, size)
		}
	}
}

// WithAckTimeout overrides the default 2s wait for a size-probe ACK.
func WithAckTimeout(d time.Duration) ClientOption {
	return func(w *ClientWorker) { w.ackTimeout = d }
}

// WithoutAutoReconnect disables reconnect-on-failure: a failed send is
// logged and returned to its Emit caller as a *PeerUnreachable, and the
// worker keeps running; the rest of the queue is not drained or stopped.
func WithoutAutoReconnect() ClientOption {
	return func(w *ClientWorker) { w.autoReconnect = false }
}

// NewClientWorker builds a ClientWorker that will dial addr, identifying
// itself as id in size-probe frames.
func NewClientWorker(addr, id string, opts ...ClientOption) *ClientWorker {
	w := &ClientWorker{
		addr:          addr,
		id:            id,
		autoReconnect: true,
		ackTimeout:    defaultAckTimeout,
		queue:         make(chan outboundFrame, defaultQueueSize),
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start dials the server and begins the send loop in the background.
func (w *ClientWorker) Start(ctx context.Context) error {
	if err := w.dial(ctx); err != nil {
		if !w.autoReconnect {
			return &PeerUnreachable{Addr: w.addr, Err: err}
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)
	w.mu.Lock()
	w.group = group
	w.groupCtx = groupCtx
	w.mu.Unlock()

	group.Go(func() error {
		w.sendLoop(groupCtx)
		return nil
	})
	return nil
}

func (w *ClientWorker) dial(ctx context.Context) error {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", w.addr)
	if err != nil {
		return err
	}
	w.mu.Lock()
	stale := w.conn
	w.conn = conn
	w.mu.Unlock()
	if stale != nil {
		stale.Close()
	}
	return nil
}

// Emit queues payload for delivery to receiver, blocking while the
// outbound queue is full (backpressure) or until ctx is done.
func (w *ClientWorker) Emit(ctx context.Context, receiver string, payload []byte) error {
	frame := outboundFrame{receiver: receiver, payload: payload, result: make(chan error, 1)}
	select {
	case w.queue <- frame:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.stopCh:
		return &PeerUnreachable{Addr: w.addr, Err: context.Canceled}
	}

	select {
	case err := <-frame.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *ClientWorker) sendLoop(ctx context.Context) {
	logger := logging.WithComponent("transport")
	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case frame := <-w.queue:
			err := w.sendWithReconnect(ctx, frame)
			frame.result <- err
			if err != nil {
				metrics.FramesSentTotal.WithLabelValues("failure").Inc()
				logger.Warn().Err(err).Str("receiver", frame.receiver).Msg("frame delivery failed")
			} else {
				metrics.FramesSentTotal.WithLabelValues("success").Inc()
			}
		}
	}
}

func (w *ClientWorker) sendWithReconnect(ctx context.Context, frame outboundFrame) error {
	err := w.sendOnce(frame)
	if err == nil {
		return nil
	}
	if !w.autoReconnect {
		return &PeerUnreachable{Addr: w.addr, Err: err}
	}
	if reconnectErr := w.reconnect(ctx); reconnectErr != nil {
		return reconnectErr
	}
	return w.sendOnce(frame)
}

func (w *ClientWorker) sendOnce(frame outboundFrame) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return &PeerUnreachable{Addr: w.addr, Err: net.ErrClosed}
	}

	probe := wire.SizeProbe(w.id, frame.receiver, len(frame.payload))
	encoded, err := wire.Encode(probe)
	if err != nil {
		return err
	}

	timer := metrics.NewTimer()
	if err := conn.SetWriteDeadline(time.Now().Add(w.ackTimeout)); err != nil {
		return err
	}
	if _, err := conn.Write(encoded); err != nil {
		return err
	}

	ack := make([]byte, len(wire.ACK))
	if err := conn.SetReadDeadline(time.Now().Add(w.ackTimeout)); err != nil {
		return err
	}
	if _, err := readFull(conn, ack); err != nil {
		metrics.FrameACKFailures.Inc()
		return &ProtocolError{Reason: "no ack received within timeout"}
	}
	if string(ack) != string(wire.ACK) {
		metrics.FrameACKFailures.Inc()
		return &ProtocolError{Reason: "unexpected ack bytes"}
	}
	timer.ObserveDuration(metrics.FrameACKDuration)

	if _, err := conn.Write(frame.payload); err != nil {
		return err
	}
	return nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// reconnect re-dials with exponential backoff (base 500ms, cap 10s),
// paced by a rate.Limiter so retries do not spin hot against a dead peer.
func (w *ClientWorker) reconnect(ctx context.Context) error {
	backoff := backoffBase
	limiter := rate.NewLimiter(rate.Every(backoff), 1)
	// Drain the initial burst token so the first wait is also paced; a
	// freshly constructed limiter otherwise lets the first attempt through
	// immediately.
	limiter.Allow()
	for attempt := 0; ; attempt++ {
		metrics.ReconnectAttempts.Inc()
		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		if err := w.dial(ctx); err == nil {
			return nil
		}

		select {
		case <-w.stopCh:
			return &PeerUnreachable{Addr: w.addr, Err: context.Canceled}
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		backoff *= 2
		if backoff > backoffCap {
			backoff = backoffCap
		}
		limiter.SetLimit(rate.Every(backoff))
	}
}

// Close stops the send loop, signals an in-progress reconnect to give up,
// and closes the underlying connection.
func (w *ClientWorker) Close() error {
	w.mu.Lock()
	stopCh := w.stopCh
	group := w.group
	conn := w.conn
	w.mu.Unlock()

	select {
	case <-stopCh:
	default:
		close(stopCh)
	}

	if conn != nil {
		conn.Close()
	}
	if group != nil {
		return group.Wait()
	}
	return nil
}
