// Package transport implements the frame-protocol TCP transport: a
// two-phase wire protocol (size-probe control frame, ACK, raw payload
// bytes) between a server worker accepting connections and a client
// worker maintaining an outbound queue with automatic reconnect.
// Grounded on original_source's teatype.comms.ipc.socket package
// (SocketSession/SocketServerWorker/SocketClientWorker) and on the
// teacher's worker stop-channel lifecycle (pkg/worker/worker.go).
package transport

import (
	"net"

	"github.com/enamentis/modulo/internal/logging"
	"github.com/enamentis/modulo/internal/metrics"
	"github.com/enamentis/modulo/internal/wire"
)

// PayloadHandler processes a decoded application payload received from
// peerAddr.
type PayloadHandler func(payload []byte, peerAddr string)

// readChunkSize is the buffer size used for each conn.Read call.
const readChunkSize = 4096

// Session manages a single inbound connection: the receive-frame loop,
// ACK on size-probe, exact-payload read, and dispatch to handler (spec
// §4.5.4). Session lifetime ends on peer close, a close-signal frame,
// server shutdown, or an unrecoverable socket error.
type Session struct {
	conn    net.Conn
	handler PayloadHandler
	stopCh  <-chan struct{}
}

func newSession(conn net.Conn, handler PayloadHandler, stopCh <-chan struct{}) *Session {
	return &Session{conn: conn, handler: handler, stopCh: stopCh}
}

func (s *Session) run() {
	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()
	defer s.conn.Close()

	peer := s.conn.RemoteAddr().String()
	var buf []byte
	chunk := make([]byte, readChunkSize)

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		n, err := s.conn.Read(chunk)
		if err != nil {
			return
		}
		buf = append(buf, chunk[:n]...)

		for {
			frame, consumed, ok, decodeErr := wire.TryDecode(buf)
			if decodeErr != nil {
				logging.WithComponent("transport").Warn().Err(decodeErr).Str("peer", peer).Msg("dropping corrupted frame buffer")
				buf = nil
				break
			}
			if !ok {
				break
			}
			buf = buf[consumed:]

			switch frame.Header.Method {
			case "close_socket":
				return
			case "size_of":
				length, lenErr := wire.PayloadLength(frame)
				if lenErr != nil {
					logging.WithComponent("transport").Warn().Err(lenErr).Str("peer", peer).Msg("malformed size-probe")
					continue
				}
				if _, writeErr := s.conn.Write(wire.ACK); writeErr != nil {
					return
				}
				payload, recvErr := s.receiveExact(length, &buf, chunk)
				if recvErr != nil {
					return
				}
				if s.handler != nil {
					s.handler(payload, peer)
				}
			default:
				logging.WithComponent("transport").Warn().Str("method", frame.Header.Method).Str("peer", peer).Msg("unsupported control method")
			}
		}
	}
}

// receiveExact blocks until exactly n bytes are available, first
// consuming whatever is already buffered (bytes that followed the
// control frame in the same read), then issuing further conn.Read calls.
func (s *Session) receiveExact(n int, buf *[]byte, scratch []byte) ([]byte, error) {
	for len(*buf) < n {
		read, err := s.conn.Read(scratch)
		if err != nil {
			return nil, err
		}
		*buf = append(*buf, scratch[:read]...)
	}
	payload := append([]byte(nil), (*buf)[:n]...)
	*buf = (*buf)[n:]
	return payload, nil
}
