package schema

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotWritesOneManifestPerModel(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.Register("student", studentFields(t))
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, registry.Snapshot(dir))

	data, err := os.ReadFile(filepath.Join(dir, "student.json"))
	require.NoError(t, err)

	var manifest modelManifest
	require.NoError(t, json.Unmarshal(data, &manifest))
	assert.Equal(t, "student", manifest.ModelName)
	assert.NotEmpty(t, manifest.Fields)
}

func TestWatchReloadsManifestWrittenAfterStart(t *testing.T) {
	registry := NewRegistry()
	dir := t.TempDir()

	reloaded := make(chan string, 1)
	stop, err := registry.Watch(dir, func(modelName string, err error) {
		if err == nil {
			reloaded <- modelName
		}
	})
	require.NoError(t, err)
	defer stop()

	source := NewRegistry()
	_, err = source.Register("university", []FieldDescriptor{
		{Name: "name", Kind: KindAttribute, Type: TypeString, Required: true, MaxSize: 80},
	})
	require.NoError(t, err)
	require.NoError(t, source.Snapshot(dir))

	select {
	case modelName := <-reloaded:
		assert.Equal(t, "university", modelName)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not observe the manifest write")
	}

	described, err := registry.Describe("university")
	require.NoError(t, err)
	assert.Equal(t, "universities", described.Plural)
}
