package transport

import (
	"context"
	"net"
	"sync"
	"syscall"

	"github.com/enamentis/modulo/internal/logging"
)

// ServerWorker accepts inbound connections on addr and runs one Session
// goroutine per connection. Grounded on SocketServerWorker (original
// Python source) and the teacher's stop-channel worker lifecycle
// (pkg/worker/worker.go), adapted to context.Context for Start/Stop.
type ServerWorker struct {
	addr    string
	handler PayloadHandler

	mu       sync.Mutex
	listener net.Listener
	sessions map[*Session]struct{}
	stopCh   chan struct{}
	done     chan struct{}
	stopped  bool
}

// NewServerWorker builds a ServerWorker bound to addr (host:port). handler
// is invoked once per decoded payload, from the owning session's goroutine.
func NewServerWorker(addr string, handler PayloadHandler) *ServerWorker {
	return &ServerWorker{
		addr:     addr,
		handler:  handler,
		sessions: make(map[*Session]struct{}),
	}
}

// reuseAddrControl sets SO_REUSEADDR on the listening socket so a
// restarted worker can rebind immediately without waiting out TIME_WAIT.
// No third-party library in the corpus exposes portable socket-option
// control, so this one call uses the standard library directly.
func reuseAddrControl(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// Start binds the listener and begins accepting connections in the
// background. It returns once the listener is bound.
func (w *ServerWorker) Start(ctx context.Context) error {
	lc := net.ListenConfig{Control: reuseAddrControl}
	listener, err := lc.Listen(ctx, "tcp", w.addr)
	if err != nil {
		return &PeerUnreachable{Addr: w.addr, Err: err}
	}

	w.mu.Lock()
	w.listener = listener
	w.stopCh = make(chan struct{})
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.acceptLoop()
	return nil
}

func (w *ServerWorker) acceptLoop() {
	defer close(w.done)
	logger := logging.WithComponent("transport")
	for {
		conn, err := w.listener.Accept()
		if err != nil {
			select {
			case <-w.stopCh:
				return
			default:
				logger.Warn().Err(err).Str("addr", w.addr).Msg("accept failed")
				return
			}
		}

		session := newSession(conn, w.handler, w.stopCh)
		w.mu.Lock()
		w.sessions[session] = struct{}{}
		w.mu.Unlock()

		go func() {
			session.run()
			w.mu.Lock()
			delete(w.sessions, session)
			w.mu.Unlock()
		}()
	}
}

// Stop closes the listener, signals every live session to stop, and
// waits for the accept loop to exit.
func (w *ServerWorker) Stop() error {
	w.mu.Lock()
	if w.stopCh == nil || w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	stopCh := w.stopCh
	listener := w.listener
	w.mu.Unlock()

	close(stopCh)
	err := listener.Close()

	w.mu.Lock()
	for session := range w.sessions {
		session.conn.Close()
	}
	w.mu.Unlock()

	<-w.done
	return err
}

// ActiveSessions reports the number of currently connected sessions.
func (w *ServerWorker) ActiveSessions() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sessions)
}

// Addr returns the bound address, useful when addr was passed as
// "host:0" to let the OS choose a port.
func (w *ServerWorker) Addr() net.Addr {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.listener == nil {
		return nil
	}
	return w.listener.Addr()
}
