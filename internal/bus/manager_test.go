package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceManagerLifecycleHappyPath(t *testing.T) {
	broker := NewBroker(8)
	m := NewServiceManager("unit-a", broker)

	assert.Equal(t, StateInit, m.State())
	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, StateConnected, m.State())

	require.NoError(t, m.Subscribe([]string{"alerts"}))
	assert.Equal(t, StateSubscribed, m.State())

	require.NoError(t, m.Start())
	assert.Equal(t, StateActive, m.State())

	require.NoError(t, m.Terminate(context.Background()))
	assert.Equal(t, StateClosed, m.State())
}

func TestServiceManagerRejectsOutOfOrderTransitions(t *testing.T) {
	broker := NewBroker(8)
	m := NewServiceManager("unit-a", broker)

	err := m.Subscribe([]string{"alerts"})
	require.Error(t, err)
	var invalid *InvalidStateError
	assert.ErrorAs(t, err, &invalid)
}

func TestServiceManagerRoutesBroadcastToHandler(t *testing.T) {
	broker := NewBroker(8)
	manager := NewServiceManager("unit-a", broker)

	received := make(chan Envelope, 1)
	manager.RegisterHandler(TypeBroadcast, nil, func(_ context.Context, e Envelope) (any, bool, error) {
		received <- e
		return nil, true, nil
	})

	require.NoError(t, manager.Connect(context.Background()))
	require.NoError(t, manager.Subscribe([]string{"alerts"}))
	require.NoError(t, manager.Start())
	defer manager.Terminate(context.Background())

	broker.Publish(NewBroadcast("other-unit", "alerts", "msg-1", "ping", nil))

	select {
	case env := <-received:
		assert.Equal(t, "ping", env.Message)
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestServiceManagerSendAwaitsResponse(t *testing.T) {
	broker := NewBroker(8)

	responder := NewServiceManager("responder", broker)
	responder.RegisterHandler(TypeDispatch, nil, func(_ context.Context, e Envelope) (any, bool, error) {
		return "pong", true, nil
	})
	require.NoError(t, responder.Connect(context.Background()))
	require.NoError(t, responder.Subscribe([]string{"rpc"}))
	require.NoError(t, responder.Start())
	defer responder.Terminate(context.Background())

	caller := NewServiceManager("caller", broker)
	require.NoError(t, caller.Connect(context.Background()))
	require.NoError(t, caller.Subscribe([]string{"rpc"}))
	require.NoError(t, caller.Start())
	defer caller.Terminate(context.Background())

	dispatch := NewDispatch("caller", "rpc", GenerateCorrelationID(), "ping", "responder", nil)
	response, err := caller.Send(context.Background(), dispatch, true, time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, response.Status)
	assert.Equal(t, "pong", response.Payload)
}

func TestServiceManagerSendTimesOutWithSyntheticResponse(t *testing.T) {
	broker := NewBroker(8)
	caller := NewServiceManager("caller", broker)
	require.NoError(t, caller.Connect(context.Background()))
	require.NoError(t, caller.Subscribe([]string{"rpc"}))
	require.NoError(t, caller.Start())
	defer caller.Terminate(context.Background())

	dispatch := NewDispatch("caller", "rpc", GenerateCorrelationID(), "ping", "nobody", nil)
	response, err := caller.Send(context.Background(), dispatch, true, 50*time.Millisecond)
	require.Error(t, err)
	var timeoutErr *DispatchTimeout
	assert.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, StatusTimeout, response.Status)
}

func TestGenerateCorrelationIDLength(t *testing.T) {
	assert.Len(t, GenerateCorrelationID(), 16)
}
