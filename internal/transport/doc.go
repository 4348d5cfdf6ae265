package transport

// Frame exchange, client to server:
//
//   ClientWorker                          ServerWorker / Session
//   ------------                          ----------------------
//   Emit(receiver, payload)
//        |
//        v
//   sendOnce: wire.SizeProbe --------------> TryDecode loop
//                                             method == "size_of"
//                                             write(wire.ACK) <----+
//        <---------------------------------- ACK                  |
//   write(payload) -------------------------> receiveExact(length) |
//                                             handler(payload, peer)
//
// On write/ack failure, sendWithReconnect redials with exponential
// backoff (base 500ms, cap 10s) before retrying the frame once.
// A close_socket control frame (or Session.stopCh closing) tears the
// session down from the server side; ClientWorker.Close tears it down
// from the client side.
