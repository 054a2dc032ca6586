package store

import (
	"fmt"
	"path/filepath"
)

// SqliteFile is the database file name used by the sqlite backend.
const SqliteFile = "docs.db"

// New creates a Store based on the backend name.
//
// Supported backends:
//
//	"json"   - one file per document in dataDir (default)
//	"sqlite" - SQLite database at dataDir/docs.db
//	"memory" - In-memory (ephemeral, for testing)
func New(backend, dataDir string) (Store, error) {
	switch backend {
	case "json", "":
		return NewJsonFileStore(dataDir)
	case "sqlite":
		return NewSqliteStore(filepath.Join(dataDir, SqliteFile))
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %q (supported: json, sqlite, memory)", backend)
	}
}
