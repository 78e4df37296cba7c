package state

import (
	"errors"
	"fmt"
)

// SchemaVersion identifies the on-disk layout of evolution state. Increment it
// whenever a stored record changes shape.
const SchemaVersion uint32 = 1

var (
	schemaVersionKey = []byte("state/version")
	// ErrSchemaVersionMismatch indicates the database was written by an
	// incompatible binary.
	ErrSchemaVersionMismatch = errors.New("state: schema version mismatch")
)

// SetSchemaVersion records version in the database.
func (m *Manager) SetSchemaVersion(version uint32) error {
	return m.KVPut(schemaVersionKey, uint64(version))
}

// SchemaVersion returns the stored schema version, or zero for a fresh
// database.
func (m *Manager) SchemaVersion() (uint32, error) {
	var stored uint64
	ok, err := m.KVGet(schemaVersionKey, &stored)
	if err != nil || !ok {
		return 0, err
	}
	return uint32(stored), nil
}

// EnsureSchemaVersion stamps a fresh database and rejects one written with a
// different schema.
func (m *Manager) EnsureSchemaVersion() error {
	if m == nil {
		return ErrManagerUnavailable
	}
	stored, err := m.SchemaVersion()
	if err != nil {
		return err
	}
	switch stored {
	case 0:
		return m.SetSchemaVersion(SchemaVersion)
	case SchemaVersion:
		return nil
	default:
		return fmt.Errorf("%w: stored %d, supported %d", ErrSchemaVersionMismatch, stored, SchemaVersion)
	}
}
