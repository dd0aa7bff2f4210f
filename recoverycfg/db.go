package recoverycfg

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lightningnetwork/lnd/kvdb"
)

const (
	// DefaultDBFilename is the name of the bolt file holding attempts,
	// checkpoints, sealed keys and the backup cache.
	DefaultDBFilename = "recovery.db"

	// DefaultDBTimeout bounds how long opening the database waits for
	// the file lock.
	DefaultDBTimeout = kvdb.DefaultDBTimeout
)

// DB holds the local database configuration.
//
//nolint:lll
type DB struct {
	Path string `long:"path" description:"The bolt database file. Defaults to recovery.db in the data directory."`

	NoFreelistSync bool `long:"nofreelistsync" description:"Do not sync the freelist to disk. Faster writes, slower opens."`

	Timeout time.Duration `long:"timeout" description:"How long to wait for the database lock when opening."`
}

// DefaultDB returns the default database config.
func DefaultDB() *DB {
	return &DB{
		NoFreelistSync: true,
		Timeout:        DefaultDBTimeout,
	}
}

// Validate validates the DB config.
//
// NOTE: This is part of the Validator interface.
func (db *DB) Validate() error {
	if db.Path == "" {
		return fmt.Errorf("db path must be set")
	}
	if db.Timeout <= 0 {
		return fmt.Errorf("db timeout must be positive, got %v",
			db.Timeout)
	}

	return nil
}

// Open creates the database directory if needed and opens the bolt backend.
func (db *DB) Open() (kvdb.Backend, error) {
	if err := os.MkdirAll(filepath.Dir(db.Path), 0700); err != nil {
		return nil, fmt.Errorf("unable to create db directory: %w", err)
	}

	backend, err := kvdb.Create(
		kvdb.BoltBackendName, db.Path, db.NoFreelistSync, db.Timeout,
		false,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to open %v: %w", db.Path, err)
	}

	return backend, nil
}
