package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) (*ServerWorker, chan []byte) {
	t.Helper()
	received := make(chan []byte, 8)
	server := NewServerWorker("127.0.0.1:0", func(payload []byte, _ string) {
		received <- payload
	})
	require.NoError(t, server.Start(context.Background()))
	t.Cleanup(func() { server.Stop() })
	return server, received
}

func TestSizeProbeAckPayloadRoundTrip(t *testing.T) {
	server, received := startServer(t)

	client := NewClientWorker(server.Addr().String(), "client-1")
	require.NoError(t, client.Start(context.Background()))
	defer client.Close()

	require.NoError(t, client.Emit(context.Background(), "server", []byte("hello world")))

	select {
	case payload := <-received:
		assert.Equal(t, "hello world", string(payload))
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive payload")
	}
}

func TestClientEmitMultipleFramesInOrder(t *testing.T) {
	server, received := startServer(t)

	client := NewClientWorker(server.Addr().String(), "client-1")
	require.NoError(t, client.Start(context.Background()))
	defer client.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, client.Emit(context.Background(), "server", []byte{byte(i)}))
	}

	for i := 0; i < 5; i++ {
		select {
		case payload := <-received:
			assert.Equal(t, []byte{byte(i)}, payload)
		case <-time.After(2 * time.Second):
			t.Fatalf("did not receive frame %d", i)
		}
	}
}

func TestServerTracksActiveSessions(t *testing.T) {
	server, _ := startServer(t)

	client := NewClientWorker(server.Addr().String(), "client-1")
	require.NoError(t, client.Start(context.Background()))

	require.Eventually(t, func() bool {
		return server.ActiveSessions() == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, client.Close())

	require.Eventually(t, func() bool {
		return server.ActiveSessions() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestClientReconnectsAfterServerRestart(t *testing.T) {
	received := make(chan []byte, 8)
	server := NewServerWorker("127.0.0.1:0", func(payload []byte, _ string) {
		received <- payload
	})
	require.NoError(t, server.Start(context.Background()))
	addr := server.Addr().String()

	client := NewClientWorker(addr, "client-1", WithAckTimeout(300*time.Millisecond))
	require.NoError(t, client.Start(context.Background()))
	defer client.Close()

	require.NoError(t, client.Emit(context.Background(), "server", []byte("before restart")))
	<-received

	require.NoError(t, server.Stop())

	restarted := NewServerWorker(addr, func(payload []byte, _ string) {
		received <- payload
	})
	require.NoError(t, restarted.Start(context.Background()))
	defer restarted.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		client.Emit(context.Background(), "server", []byte("after restart"))
	}()

	select {
	case payload := <-received:
		assert.Equal(t, "after restart", string(payload))
	case <-time.After(5 * time.Second):
		t.Fatal("client did not reconnect and redeliver")
	}
	wg.Wait()
}

func TestEmitWithoutAutoReconnectFailsAfterServerStop(t *testing.T) {
	server, received := startServer(t)
	client := NewClientWorker(server.Addr().String(), "client-1",
		WithoutAutoReconnect(), WithAckTimeout(200*time.Millisecond))
	require.NoError(t, client.Start(context.Background()))
	defer client.Close()

	require.NoError(t, client.Emit(context.Background(), "server", []byte("first")))
	<-received

	require.NoError(t, server.Stop())

	err := client.Emit(context.Background(), "server", []byte("second"))
	assert.Error(t, err)
}
