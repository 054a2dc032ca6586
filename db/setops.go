package db

import (
	"fmt"
	"sort"
	"strings"
)

// Set-operation output files. Each call overwrites the previous result.
const (
	UnionFile      = "union.txt"
	IntersectFile  = "intersect.txt"
	DifferenceFile = "difference.txt"
)

// sortedKeys returns the top-level keys of doc in sorted order.
func sortedKeys(doc map[string]any) []string {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Union writes every key found in either a or b to UnionFile.
func (d *DB) Union(a, b string) (string, error) {
	return d.setOperation("union", UnionFile, a, b, func(docA, docB map[string]any) []string {
		keys := sortedKeys(docA)
		for _, k := range sortedKeys(docB) {
			if _, ok := docA[k]; !ok {
				keys = append(keys, k)
			}
		}
		return keys
	})
}

// Intersect writes the keys of a whose value in b is present to
// IntersectFile. Outside strict mode a falsy value in b counts as absent, so
// the result is not symmetric in a and b.
func (d *DB) Intersect(a, b string) (string, error) {
	return d.setOperation("intersect", IntersectFile, a, b, func(docA, docB map[string]any) []string {
		var keys []string
		for _, k := range sortedKeys(docA) {
			if d.present(docB, k) {
				keys = append(keys, k)
			}
		}
		return keys
	})
}

// Difference writes the keys of a missing from b, then the keys of b
// missing from a, to DifferenceFile. "Missing" follows the same rule as
// Intersect.
func (d *DB) Difference(a, b string) (string, error) {
	return d.setOperation("difference", DifferenceFile, a, b, func(docA, docB map[string]any) []string {
		var keys []string
		seen := make(map[string]bool)
		for _, k := range sortedKeys(docA) {
			if !d.present(docB, k) {
				keys = append(keys, k)
				seen[k] = true
			}
		}
		for _, k := range sortedKeys(docB) {
			if !d.present(docA, k) && !seen[k] {
				keys = append(keys, k)
			}
		}
		return keys
	})
}

func (d *DB) setOperation(op, output, a, b string, combine func(docA, docB map[string]any) []string) (string, error) {
	unlock := d.locks.acquire([]string{a, b}, []string{output})
	defer unlock()

	readErr := fmt.Sprintf("ERROR reading file or directory %s or %s", a, b)
	docA, e := d.load(op, a, ErrParse)
	if e != nil {
		return d.fail(readErr, e)
	}
	docB, e := d.load(op, b, ErrParse)
	if e != nil {
		return d.fail(readErr, e)
	}

	result := strings.Join(combine(docA, docB), ",")
	if err := d.store.Write(output, []byte(result)); err != nil {
		return d.fail("ERROR unable to write "+output, &Error{Op: op, Subject: output, Kind: ErrStorage, Err: err})
	}
	return d.succeed(fmt.Sprintf("%s and %s: %s created", a, b, output))
}
