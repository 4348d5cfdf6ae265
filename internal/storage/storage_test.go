package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/enamentis/modulo/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	r := schema.NewRegistry()

	name, err := schema.NewAttribute("name", schema.TypeString, schema.AttributeSpec{Required: true, Unique: true, Indexed: true, MaxSize: 80})
	require.NoError(t, err)
	gpa, err := schema.NewAttribute("gpa", schema.TypeFloat, schema.AttributeSpec{})
	require.NoError(t, err)
	enrolled, err := schema.NewAttribute("enrolled", schema.TypeBool, schema.AttributeSpec{Required: true, Indexed: true})
	require.NoError(t, err)
	university, err := schema.NewRelation("university", schema.ManyToOne, "UniversityModel", true, true)
	require.NoError(t, err)

	_, err = r.Register("StudentModel", []schema.FieldDescriptor{name, gpa, enrolled, university})
	require.NoError(t, err)

	uname, err := schema.NewAttribute("name", schema.TypeString, schema.AttributeSpec{Required: true})
	require.NoError(t, err)
	_, err = r.Register("UniversityModel", []schema.FieldDescriptor{uname})
	require.NoError(t, err)

	return r
}

func newTestEngine(t *testing.T, coldMode bool) *Engine {
	t.Helper()
	r := testRegistry(t)
	e, err := NewEngine(r, []string{"StudentModel", "UniversityModel"}, Config{
		Root:     t.TempDir(),
		ColdMode: coldMode,
	})
	require.NoError(t, err)
	return e
}

func TestCreateWritesRawFileAndIndices(t *testing.T) {
	e := newTestEngine(t, false)

	entity, err := e.Create("StudentModel", map[string]any{
		"name":       "Ada",
		"enrolled":   true,
		"university": "univ-1",
	})
	require.NoError(t, err)
	id := entity["id"].(string)

	got, ok := e.Get(id)
	require.True(t, ok)
	assert.Equal(t, "Ada", got["name"])
	assert.Equal(t, 1, e.Count("StudentModel"))

	path := e.rawfiles.IndexPath("students", id)
	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)
}

func TestCreateDuplicateIDIsConflict(t *testing.T) {
	e := newTestEngine(t, false)

	_, err := e.Create("StudentModel", map[string]any{
		"id": "stu-1", "name": "Ada", "enrolled": true, "university": "univ-1",
	})
	require.NoError(t, err)

	_, err = e.Create("StudentModel", map[string]any{
		"id": "stu-1", "name": "Grace", "enrolled": true, "university": "univ-1",
	})
	require.Error(t, err)
	var conflict *ConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestCreateUniqueFieldConflict(t *testing.T) {
	e := newTestEngine(t, false)

	_, err := e.Create("StudentModel", map[string]any{
		"name": "Ada", "enrolled": true, "university": "univ-1",
	})
	require.NoError(t, err)

	_, err = e.Create("StudentModel", map[string]any{
		"name": "Ada", "enrolled": false, "university": "univ-1",
	})
	require.Error(t, err)
	var conflict *ConflictError
	assert.ErrorAs(t, err, &conflict)
	assert.Equal(t, "name", conflict.Field)
}

func TestUpdateIsDiffDrivenOnFieldIndex(t *testing.T) {
	e := newTestEngine(t, false)

	entity, err := e.Create("StudentModel", map[string]any{
		"name": "Ada", "enrolled": true, "university": "univ-1",
	})
	require.NoError(t, err)
	id := entity["id"].(string)

	matches, err := e.FindBy("StudentModel", "enrolled", true)
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	_, err = e.Update(id, map[string]any{"enrolled": false})
	require.NoError(t, err)

	matches, err = e.FindBy("StudentModel", "enrolled", true)
	require.NoError(t, err)
	assert.Empty(t, matches)

	matches, err = e.FindBy("StudentModel", "enrolled", false)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestUpdateToExistingUniqueValueIsConflict(t *testing.T) {
	e := newTestEngine(t, false)

	_, err := e.Create("StudentModel", map[string]any{
		"name": "Ada", "enrolled": true, "university": "univ-1",
	})
	require.NoError(t, err)

	other, err := e.Create("StudentModel", map[string]any{
		"name": "Grace", "enrolled": true, "university": "univ-1",
	})
	require.NoError(t, err)
	id := other["id"].(string)

	_, err = e.Update(id, map[string]any{"name": "Ada"})
	require.Error(t, err)
	var conflict *ConflictError
	assert.ErrorAs(t, err, &conflict)
	assert.Equal(t, "name", conflict.Field)
}

func TestUpdateUnknownIDIsNotFound(t *testing.T) {
	e := newTestEngine(t, false)
	_, err := e.Update("ghost", map[string]any{"enrolled": true})
	require.Error(t, err)
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestDeleteRemovesFileAndIndices(t *testing.T) {
	e := newTestEngine(t, false)

	entity, err := e.Create("StudentModel", map[string]any{
		"name": "Ada", "enrolled": true, "university": "univ-1",
	})
	require.NoError(t, err)
	id := entity["id"].(string)
	path := e.rawfiles.IndexPath("students", id)

	ok, err := e.Delete(id)
	require.NoError(t, err)
	assert.True(t, ok)

	_, found := e.Get(id)
	assert.False(t, found)
	assert.Equal(t, 0, e.Count("StudentModel"))
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestColdModeWritesNoFiles(t *testing.T) {
	root := filepath.Join(t.TempDir(), "cold")
	e := newTestEngine(t, true)
	e.rawfiles.root = root

	_, err := e.Create("StudentModel", map[string]any{
		"name": "Ada", "enrolled": true, "university": "univ-1",
	})
	require.NoError(t, err)

	_, statErr := os.Stat(root)
	assert.True(t, os.IsNotExist(statErr), "cold mode must create zero files/directories")
	assert.Equal(t, 1, e.Count("StudentModel"))
}

func TestQueryEqualsOrderLimitOffset(t *testing.T) {
	e := newTestEngine(t, false)

	names := []string{"Ada", "Grace", "Katherine", "Margaret"}
	for _, n := range names {
		_, err := e.Create("StudentModel", map[string]any{
			"name": n, "enrolled": true, "university": "univ-1",
		})
		require.NoError(t, err)
	}

	results := e.Query("StudentModel").
		Where("enrolled").Equals(true).
		OrderBy("name", "asc").
		Offset(1).
		Limit(2).
		All()

	require.Len(t, results, 2)
	assert.Equal(t, "Grace", results[0]["name"])
	assert.Equal(t, "Katherine", results[1]["name"])
}

func TestQueryFirstAndCount(t *testing.T) {
	e := newTestEngine(t, false)
	_, err := e.Create("StudentModel", map[string]any{"name": "Ada", "enrolled": true, "university": "univ-1"})
	require.NoError(t, err)
	_, err = e.Create("StudentModel", map[string]any{"name": "Grace", "enrolled": false, "university": "univ-1"})
	require.NoError(t, err)

	assert.Equal(t, 2, e.Query("StudentModel").Count())

	first, ok := e.Query("StudentModel").Where("enrolled").Equals(false).First()
	require.True(t, ok)
	assert.Equal(t, "Grace", first["name"])
}

func TestQuarantineAfterFailedRollback(t *testing.T) {
	e := newTestEngine(t, false)
	// Force the raw-file write to fail deterministically by pointing the
	// handler at a path containing a NUL byte, which os rejects outright.
	e.rawfiles = &RawFileHandler{root: "bad\x00root"}
	e.rollbackHook = func() error { return errors.New("rollback failed") }

	_, err := e.Create("StudentModel", map[string]any{
		"name": "Ada", "enrolled": true, "university": "univ-1",
	})
	require.Error(t, err)
	var quarantined *EngineQuarantined
	require.ErrorAs(t, err, &quarantined)

	_, err = e.Create("StudentModel", map[string]any{
		"name": "Grace", "enrolled": true, "university": "univ-1",
	})
	require.Error(t, err)
	assert.ErrorAs(t, err, &quarantined)
}

func TestBackupAndRestoreRoundTrip(t *testing.T) {
	e := newTestEngine(t, false)
	_, err := e.Create("StudentModel", map[string]any{
		"name": "Ada", "enrolled": true, "university": "univ-1",
	})
	require.NoError(t, err)

	path, err := e.Backup("nightly")
	require.NoError(t, err)

	restored, err := RestoreFromBackup(path)
	require.NoError(t, err)
	require.Contains(t, restored, "StudentModel")
	assert.Len(t, restored["StudentModel"], 1)
	assert.Equal(t, "Ada", restored["StudentModel"][0]["name"])
}

func TestExportWritesOneFilePerModel(t *testing.T) {
	e := newTestEngine(t, false)
	_, err := e.Create("StudentModel", map[string]any{
		"name": "Ada", "enrolled": true, "university": "univ-1",
	})
	require.NoError(t, err)

	dir := t.TempDir()
	written, err := e.Export(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, written)

	data, err := os.ReadFile(filepath.Join(dir, "StudentModel.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Ada")

	_, err = os.Stat(filepath.Join(dir, "UniversityModel.json"))
	assert.NoError(t, err)
}

func TestExportDefaultsToHSDBExportsDir(t *testing.T) {
	e := newTestEngine(t, false)
	_, err := e.Create("StudentModel", map[string]any{
		"name": "Ada", "enrolled": true, "university": "univ-1",
	})
	require.NoError(t, err)

	written, err := e.Export("")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(written, "StudentModel.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Ada")
}
