package store

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"

	"github.com/natefinch/atomic"
	"github.com/pkg/errors"
)

const (
	dirPerms  = 0o755
	filePerms = 0o644
)

// JsonFileStore stores each document as a separate file on disk.
//
// Layout:
//
//	data_dir/
//	  alice.json      # document "alice.json"
//	  post.json       # document "post.json"
//	  union.txt       # set-operation output
type JsonFileStore struct {
	dir string
}

func NewJsonFileStore(dir string) (*JsonFileStore, error) {
	if err := os.MkdirAll(dir, dirPerms); err != nil {
		return nil, err
	}
	return &JsonFileStore{dir: dir}, nil
}

// Dir returns the directory documents are stored in.
func (s *JsonFileStore) Dir() string {
	return s.dir
}

func (s *JsonFileStore) path(name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, filepath.FromSlash(name)), nil
}

func (s *JsonFileStore) Read(name string) ([]byte, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(ErrNotExist, name)
		}
		return nil, errors.Wrapf(err, "reading %s", name)
	}
	return data, nil
}

// Write replaces the file through a temporary file and rename, so readers
// never observe a half-written document.
func (s *JsonFileStore) Write(name string, data []byte) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), dirPerms); err != nil {
		return errors.Wrapf(err, "creating directory for %s", name)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return errors.Wrapf(err, "writing %s", name)
	}
	// atomic.WriteFile leaves new files with temp-file permissions.
	if err := os.Chmod(path, filePerms); err != nil {
		return errors.Wrapf(err, "setting permissions on %s", name)
	}
	return nil
}

func (s *JsonFileStore) Create(name string, data []byte) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), dirPerms); err != nil {
		return errors.Wrapf(err, "creating directory for %s", name)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerms)
	if err != nil {
		if os.IsExist(err) {
			return errors.Wrap(ErrExist, name)
		}
		return errors.Wrapf(err, "creating %s", name)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return errors.Wrapf(err, "writing %s", name)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return errors.Wrapf(err, "closing %s", name)
	}
	return nil
}

func (s *JsonFileStore) Remove(name string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return errors.Wrap(ErrNotExist, name)
		}
		return errors.Wrapf(err, "removing %s", name)
	}
	return nil
}

// List returns the regular files directly inside the data directory.
func (s *JsonFileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", s.dir)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
