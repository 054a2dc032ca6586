// Package store defines the backing store interface and implementations.
package store

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrNotExist is returned when no document is stored under a name.
	ErrNotExist = errors.New("no such document")

	// ErrExist is returned by Create when a document already exists.
	ErrExist = errors.New("document already exists")

	// ErrInvalidName is returned for names that are empty, absolute, or
	// escape the store root.
	ErrInvalidName = errors.New("invalid document name")
)

// Store is the interface that all backing stores must implement.
// It holds raw document bytes under flat or slash-separated relative names
// such as "alice.json" or "posts/first.json".
type Store interface {
	// Read returns the bytes stored under name, or ErrNotExist.
	Read(name string) ([]byte, error)

	// Write creates or replaces the document at name.
	Write(name string, data []byte) error

	// Create stores data under name only if nothing is stored there yet.
	// Returns ErrExist otherwise.
	Create(name string, data []byte) error

	// Remove deletes the document at name, or returns ErrNotExist.
	Remove(name string) error

	// List returns every stored name, sorted.
	List() ([]string, error)
}

// ValidName reports whether name may be used as a document name.
func ValidName(name string) bool {
	if name == "" || strings.Contains(name, `\`) {
		return false
	}
	return filepath.IsLocal(name)
}

func checkName(name string) error {
	if !ValidName(name) {
		return errors.Wrapf(ErrInvalidName, "%q", name)
	}
	return nil
}
