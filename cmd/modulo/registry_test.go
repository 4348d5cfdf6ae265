package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterLookupRemoveUnitRoundTrip(t *testing.T) {
	dataRoot := t.TempDir()

	record := unitRecord{ID: "worker-1", UnitType: "worker", Host: "127.0.0.1", Port: 9000}
	require.NoError(t, registerUnit(dataRoot, record))

	got, found, err := lookupUnit(dataRoot, "worker-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "127.0.0.1:9000", got.addr())

	require.NoError(t, removeUnit(dataRoot, "worker-1"))
	_, found, err = lookupUnit(dataRoot, "worker-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLoadRegistryOnMissingFileReturnsEmptyMap(t *testing.T) {
	units, err := loadRegistry(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, units)
}

func TestEncodeDecodeCommandRoundTrip(t *testing.T) {
	cmd := operationCommand{Command: "dispatch", Message: "rebuild-index"}
	payload, err := encodeCommand(cmd)
	require.NoError(t, err)

	decoded, err := decodeCommand(payload)
	require.NoError(t, err)
	assert.Equal(t, cmd, decoded)
}
