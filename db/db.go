// Package db implements the document store: key/value edits of JSON
// documents, document lifecycle, set operations over top-level keys and
// aggregation of every document into one. Each call re-reads from the
// backing store and writes exactly one audit log entry.
package db

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/pkg/errors"

	"github.com/stevemurr/json-doc-server/auditlog"
	"github.com/stevemurr/json-doc-server/store"
)

// Options tunes store behaviour.
type Options struct {
	// StrictKeys makes Get, Intersect and Difference treat any stored value
	// as present. By default null, false, 0 and "" count as missing.
	StrictKeys bool

	// PathLocks serialises operations touching the same document.
	PathLocks bool
}

// DB is the document store. Safe for concurrent use; concurrent writes to
// the same document race unless PathLocks is set.
type DB struct {
	store store.Store
	log   *auditlog.Logger
	opts  Options
	locks pathLocks
}

// New returns a DB over s that records every call in log.
func New(s store.Store, log *auditlog.Logger, opts Options) *DB {
	return &DB{
		store: s,
		log:   log,
		opts:  opts,
		locks: pathLocks{enabled: opts.PathLocks},
	}
}

// PatchKind selects the patch format accepted by Patch.
type PatchKind int

const (
	// MergePatch is an RFC 7386 JSON merge patch.
	MergePatch PatchKind = iota
	// JSONPatch is an RFC 6902 list of operations.
	JSONPatch
)

// ---------- helpers ----------

// Decode parses data as a single JSON object, keeping numbers verbatim.
// Anything after the object is an error.
func Decode(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if dec.Decode(&struct{}{}) != io.EOF {
		return nil, errors.New("unexpected data after top-level object")
	}
	if doc == nil {
		return nil, errors.New("document is not a JSON object")
	}
	return doc, nil
}

func encode(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// render formats a value for log lines and response bodies.
func render(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case nil:
		return "null"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// isDocument reports whether name refers to a JSON document. Other files
// sharing the store, such as the audit log or set-operation results, are
// not reachable through document operations.
func isDocument(name string) bool {
	return strings.HasSuffix(name, jsonExt)
}

// load reads and parses a document. Read failures are ErrFileNotFound;
// parse failures are reported as parseKind.
func (d *DB) load(op, name string, parseKind error) (map[string]any, *Error) {
	if !isDocument(name) {
		return nil, &Error{Op: op, Subject: name, Kind: ErrFileNotFound}
	}
	data, err := d.store.Read(name)
	if err != nil {
		if errors.Is(err, store.ErrNotExist) {
			err = nil
		}
		return nil, &Error{Op: op, Subject: name, Kind: ErrFileNotFound, Err: err}
	}
	doc, err := Decode(data)
	if err != nil {
		return nil, &Error{Op: op, Subject: name, Kind: parseKind, Err: err}
	}
	return doc, nil
}

func (d *DB) save(op, name string, doc map[string]any) *Error {
	data, err := encode(doc)
	if err == nil {
		err = d.store.Write(name, data)
	}
	if err != nil {
		return &Error{Op: op, Subject: name, Kind: ErrStorage, Err: err}
	}
	return nil
}

// succeed logs msg and returns it as the operation result.
func (d *DB) succeed(msg string) (string, error) {
	if err := d.log.Log(msg, nil); err != nil {
		return "", err
	}
	return msg, nil
}

// fail logs msg with the failure and returns the failure.
func (d *DB) fail(msg string, e *Error) (string, error) {
	return "", d.log.Log(msg, e)
}

// ---------- key operations ----------

// Get returns the rendered value of key in file. A missing or falsy value
// fails with ErrInvalidKey.
func (d *DB) Get(file, key string) (string, error) {
	unlock := d.locks.acquire([]string{file}, nil)
	defer unlock()

	doc, e := d.load("get", file, ErrFileNotFound)
	if e != nil {
		return d.fail("ERROR no such file or directory "+file, e)
	}
	if !d.present(doc, key) {
		return d.fail(fmt.Sprintf("ERROR %s invalid key on %s", key, file),
			&Error{Op: "get", Subject: key + " on " + file, Kind: ErrInvalidKey})
	}
	return d.succeed(render(doc[key]))
}

// Set assigns value to key in file and rewrites the whole document.
func (d *DB) Set(file, key string, value any) (string, error) {
	unlock := d.locks.acquire(nil, []string{file})
	defer unlock()

	doc, e := d.load("set", file, ErrFileNotFound)
	if e != nil {
		return d.fail("ERROR no such file or directory: "+file, e)
	}
	doc[key] = value
	if e := d.save("set", file, doc); e != nil {
		return d.fail("ERROR unable to write "+file, e)
	}
	return d.succeed(fmt.Sprintf("%s: %s wrote to %s", file, render(value), key))
}

// Remove deletes key from file. Removing an absent key is not an error.
func (d *DB) Remove(file, key string) (string, error) {
	unlock := d.locks.acquire(nil, []string{file})
	defer unlock()

	doc, e := d.load("remove", file, ErrFileNotFound)
	if e != nil {
		return d.fail("ERROR no such file or directory: "+file, e)
	}
	delete(doc, key)
	if e := d.save("remove", file, doc); e != nil {
		return d.fail("ERROR unable to write "+file, e)
	}
	return d.succeed(fmt.Sprintf("%s: %s removed", file, key))
}

// Patch applies a merge patch or JSON patch to file. The result must still
// be a JSON object.
func (d *DB) Patch(file string, patch []byte, kind PatchKind) (string, error) {
	unlock := d.locks.acquire(nil, []string{file})
	defer unlock()

	doc, e := d.load("patch", file, ErrFileNotFound)
	if e != nil {
		return d.fail("ERROR no such file or directory: "+file, e)
	}
	// Re-encode so the patch sees exactly what the store considers the document.
	current, err := json.Marshal(doc)
	if err != nil {
		return d.fail("ERROR unable to patch "+file, &Error{Op: "patch", Subject: file, Kind: ErrStorage, Err: err})
	}

	var patched []byte
	switch kind {
	case JSONPatch:
		var ops jsonpatch.Patch
		ops, err = jsonpatch.DecodePatch(patch)
		if err == nil {
			patched, err = ops.Apply(current)
		}
	default:
		patched, err = jsonpatch.MergePatch(current, patch)
	}
	if err == nil {
		doc, err = Decode(patched)
	}
	if err != nil {
		return d.fail("ERROR unable to patch "+file, &Error{Op: "patch", Subject: file, Kind: ErrParse, Err: err})
	}

	if e := d.save("patch", file, doc); e != nil {
		return d.fail("ERROR unable to write "+file, e)
	}
	return d.succeed(file + ": patched")
}

// ---------- file lifecycle ----------

// DeleteFile removes file from storage.
func (d *DB) DeleteFile(file string) (string, error) {
	unlock := d.locks.acquire(nil, []string{file})
	defer unlock()

	if !isDocument(file) {
		return d.fail("ERROR no such file or directory: "+file, &Error{Op: "delete", Subject: file, Kind: ErrFileNotFound})
	}
	if err := d.store.Remove(file); err != nil {
		e := &Error{Op: "delete", Subject: file, Kind: ErrFileNotFound}
		if !errors.Is(err, store.ErrNotExist) {
			e.Err = err
		}
		return d.fail("ERROR no such file or directory: "+file, e)
	}
	return d.succeed(file + ": deleted")
}

// CreateFile stores content as a new document. It fails with
// ErrAlreadyExists if file is already present.
func (d *DB) CreateFile(file string, content map[string]any) (string, error) {
	unlock := d.locks.acquire(nil, []string{file})
	defer unlock()

	if !isDocument(file) {
		return d.fail("ERROR no such file or directory: "+file, &Error{Op: "create", Subject: file, Kind: ErrFileNotFound})
	}
	if content == nil {
		content = map[string]any{}
	}
	data, err := encode(content)
	if err != nil {
		return d.fail("ERROR unable to create "+file, &Error{Op: "create", Subject: file, Kind: ErrParse, Err: err})
	}
	if err := d.store.Create(file, data); err != nil {
		if errors.Is(err, store.ErrExist) {
			return d.fail("ERROR file or directory already exists: "+file,
				&Error{Op: "create", Subject: file, Kind: ErrAlreadyExists})
		}
		return d.fail("ERROR unable to create "+file, &Error{Op: "create", Subject: file, Kind: ErrStorage, Err: err})
	}
	return d.succeed(file + ": created")
}
