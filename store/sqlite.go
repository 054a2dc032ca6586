package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// SqliteStore stores all documents in a single SQLite database.
//
// Tables:
//
//	documents(name, data)  PRIMARY KEY (name)
type SqliteStore struct {
	mu sync.RWMutex
	db *sql.DB
}

func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), dirPerms); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS documents (
		name TEXT PRIMARY KEY,
		data BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, err
	}
	return &SqliteStore{db: db}, nil
}

func (s *SqliteStore) Close() error {
	return s.db.Close()
}

func (s *SqliteStore) Read(name string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var data []byte
	err := s.db.QueryRow("SELECT data FROM documents WHERE name = ?", name).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, errors.Wrap(ErrNotExist, name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", name)
	}
	return data, nil
}

func (s *SqliteStore) Write(name string, data []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO documents (name, data) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET data = excluded.data`,
		name, data,
	)
	return errors.Wrapf(err, "writing %s", name)
}

func (s *SqliteStore) Create(name string, data []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("INSERT INTO documents (name, data) VALUES (?, ?)", name, data)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
			return errors.Wrap(ErrExist, name)
		}
		return errors.Wrapf(err, "creating %s", name)
	}
	return nil
}

func (s *SqliteStore) Remove(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec("DELETE FROM documents WHERE name = ?", name)
	if err != nil {
		return errors.Wrapf(err, "removing %s", name)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errors.Wrap(ErrNotExist, name)
	}
	return nil
}

func (s *SqliteStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query("SELECT name FROM documents ORDER BY name")
	if err != nil {
		return nil, errors.Wrap(err, "listing documents")
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
