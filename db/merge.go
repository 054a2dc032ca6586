package db

import (
	"strings"
)

// MergedFile is the document MergeData writes.
const MergedFile = "merged.json"

const jsonExt = ".json"

// mergeable reports whether name is a document MergeData should include.
// Package manifests and the merge output itself are skipped.
func mergeable(name string) bool {
	return isDocument(name) &&
		!strings.HasPrefix(name, "package") &&
		name != MergedFile
}

// MergeData combines every stored JSON document into MergedFile, keyed by
// document name without the .json extension. Documents that cannot be read
// or parsed are logged and skipped.
func (d *DB) MergeData() (string, error) {
	names, err := d.store.List()
	if err != nil {
		return d.fail("ERROR reading directory", &Error{Op: "merge", Kind: ErrDirectoryRead, Err: err})
	}
	var sources []string
	for _, name := range names {
		if mergeable(name) {
			sources = append(sources, name)
		}
	}

	unlock := d.locks.acquire(sources, []string{MergedFile})
	defer unlock()

	merged := make(map[string]any, len(sources))
	for _, name := range sources {
		doc, e := d.load("merge", name, ErrParse)
		if e != nil {
			// Skipped files only get their own log entry. Log hands e back
			// once the entry is written.
			if err := d.log.Log("ERROR reading file or directory: "+name, e); err != error(e) {
				return "", &Error{Op: "merge", Subject: name, Kind: ErrStorage, Err: err}
			}
			continue
		}
		merged[strings.TrimSuffix(name, jsonExt)] = doc
	}

	data, err := encode(merged)
	if err == nil {
		err = d.store.Write(MergedFile, data)
	}
	if err != nil {
		return d.fail("ERROR unable to write "+MergedFile, &Error{Op: "merge", Subject: MergedFile, Kind: ErrStorage, Err: err})
	}
	return d.succeed(MergedFile + " created")
}
