package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// unitRecord is one entry in the local unit registry: the CLI's record
// of a unit this machine has launched, enough to dial it back for
// operations dispatch/kill without a central directory service.
type unitRecord struct {
	ID        string    `json:"id"`
	UnitType  string    `json:"unit_type"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

func (u unitRecord) addr() string {
	return fmt.Sprintf("%s:%d", u.Host, u.Port)
}

// registryPath returns the fixed location of the unit registry under the
// data root's meta directory, mirroring the hsdb/meta/ manifest
// convention used for model manifests.
func registryPath(dataRoot string) string {
	return filepath.Join(dataRoot, "meta", "units.json")
}

func loadRegistry(dataRoot string) (map[string]unitRecord, error) {
	path := registryPath(dataRoot)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]unitRecord{}, nil
	}
	if err != nil {
		return nil, err
	}
	var units map[string]unitRecord
	if err := json.Unmarshal(data, &units); err != nil {
		return nil, err
	}
	return units, nil
}

func saveRegistry(dataRoot string, units map[string]unitRecord) error {
	path := registryPath(dataRoot)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(units, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func registerUnit(dataRoot string, record unitRecord) error {
	units, err := loadRegistry(dataRoot)
	if err != nil {
		return err
	}
	units[record.ID] = record
	return saveRegistry(dataRoot, units)
}

func lookupUnit(dataRoot, id string) (unitRecord, bool, error) {
	units, err := loadRegistry(dataRoot)
	if err != nil {
		return unitRecord{}, false, err
	}
	record, ok := units[id]
	return record, ok, nil
}

func removeUnit(dataRoot, id string) error {
	units, err := loadRegistry(dataRoot)
	if err != nil {
		return err
	}
	delete(units, id)
	return saveRegistry(dataRoot, units)
}
