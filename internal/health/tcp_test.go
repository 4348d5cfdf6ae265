package health

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTCPCheckerReachable(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	checker := NewTCPChecker(listener.Addr().String())
	result := checker.Check(context.Background())
	assert.True(t, result.Reachable)
}

func TestTCPCheckerUnreachable(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	listener.Close()

	checker := NewTCPChecker(addr)
	result := checker.Check(context.Background())
	assert.False(t, result.Reachable)
}
