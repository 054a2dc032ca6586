package db_test

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevemurr/json-doc-server/auditlog"
	"github.com/stevemurr/json-doc-server/db"
	"github.com/stevemurr/json-doc-server/store"
)

type fixture struct {
	db    *db.DB
	store *store.JsonFileStore
	log   *auditlog.Logger
}

func setup(t *testing.T, opts db.Options) *fixture {
	t.Helper()
	dir := t.TempDir()
	s, err := store.NewJsonFileStore(dir)
	require.NoError(t, err)
	l, err := auditlog.New(filepath.Join(dir, "log.txt"))
	require.NoError(t, err)
	return &fixture{db: db.New(s, l, opts), store: s, log: l}
}

func (f *fixture) write(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, f.store.Write(name, []byte(content)))
}

func (f *fixture) read(t *testing.T, name string) string {
	t.Helper()
	data, err := f.store.Read(name)
	require.NoError(t, err)
	return string(data)
}

func (f *fixture) logText(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(f.log.Path())
	if os.IsNotExist(err) {
		return ""
	}
	require.NoError(t, err)
	return string(data)
}

var entryLine = regexp.MustCompile(`^.* \d{13}$`)

// entries returns the first line of every log entry.
func (f *fixture) entries(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, line := range strings.Split(f.logText(t), "\n") {
		if entryLine.MatchString(line) {
			out = append(out, line)
		}
	}
	return out
}

func TestSetGetRoundTrip(t *testing.T) {
	f := setup(t, db.Options{})
	f.write(t, "user.json", `{"firstname":"Alice"}`)

	values := []struct {
		value any
		want  string
	}{
		{"alice@example.com", "alice@example.com"},
		{float64(42), "42"},
		{true, "true"},
		{map[string]any{"city": "Lyon"}, `{"city":"Lyon"}`},
		{[]any{}, "[]"},
	}
	for _, tc := range values {
		msg, err := f.db.Set("user.json", "field", tc.value)
		require.NoError(t, err)
		assert.Equal(t, "user.json: "+tc.want+" wrote to field", msg)

		got, err := f.db.Get("user.json", "field")
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}

	// Untouched keys survive the rewrite.
	got, err := f.db.Get("user.json", "firstname")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got)
}

func TestGetFalsyValueIsInvalidKey(t *testing.T) {
	for _, value := range []any{"", float64(0), false, nil} {
		t.Run(fmt.Sprintf("%v", value), func(t *testing.T) {
			f := setup(t, db.Options{})
			f.write(t, "user.json", `{}`)

			_, err := f.db.Set("user.json", "k", value)
			require.NoError(t, err)

			_, err = f.db.Get("user.json", "k")
			require.ErrorIs(t, err, db.ErrInvalidKey)
			assert.Contains(t, f.logText(t), "ERROR k invalid key on user.json")

			// The value is still stored.
			var doc map[string]any
			require.NoError(t, json.Unmarshal([]byte(f.read(t, "user.json")), &doc))
			assert.Contains(t, doc, "k")
		})
	}
}

func TestGetStrictKeys(t *testing.T) {
	f := setup(t, db.Options{StrictKeys: true})
	f.write(t, "user.json", `{"zero":0,"empty":"","no":false,"nothing":null}`)

	for key, want := range map[string]string{"zero": "0", "empty": "", "no": "false", "nothing": "null"} {
		got, err := f.db.Get("user.json", key)
		require.NoError(t, err, key)
		assert.Equal(t, want, got, key)
	}
	_, err := f.db.Get("user.json", "missing")
	require.ErrorIs(t, err, db.ErrInvalidKey)
}

func TestMissingOrCorruptFile(t *testing.T) {
	f := setup(t, db.Options{})
	f.write(t, "corrupt.json", `{"a":`)
	f.write(t, "array.json", `[1,2]`)

	for _, file := range []string{"missing.json", "corrupt.json", "array.json", "../outside.json"} {
		_, err := f.db.Get(file, "a")
		assert.ErrorIs(t, err, db.ErrFileNotFound, file)

		_, err = f.db.Set(file, "a", "b")
		assert.ErrorIs(t, err, db.ErrFileNotFound, file)

		_, err = f.db.Remove(file, "a")
		assert.ErrorIs(t, err, db.ErrFileNotFound, file)
	}

	// No partial write happened.
	assert.Equal(t, `{"a":`, f.read(t, "corrupt.json"))
	_, err := f.store.Read("missing.json")
	assert.ErrorIs(t, err, store.ErrNotExist)
}

func TestErrorDescription(t *testing.T) {
	f := setup(t, db.Options{})

	_, err := f.db.Get("missing.json", "a")
	require.Error(t, err)
	assert.Equal(t, "no such file or directory: missing.json", err.Error())

	var e *db.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "get", e.Op)
}

func TestRemoveIsIdempotent(t *testing.T) {
	f := setup(t, db.Options{})
	f.write(t, "user.json", `{"a":1,"b":2}`)

	for range 2 {
		msg, err := f.db.Remove("user.json", "a")
		require.NoError(t, err)
		assert.Equal(t, "user.json: a removed", msg)
	}
	for range 2 {
		_, err := f.db.Remove("user.json", "never")
		require.NoError(t, err)
	}

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(f.read(t, "user.json")), &doc))
	assert.Equal(t, map[string]any{"b": float64(2)}, doc)
}

func TestCreateFile(t *testing.T) {
	f := setup(t, db.Options{})

	msg, err := f.db.CreateFile("new.json", map[string]any{"title": "first"})
	require.NoError(t, err)
	assert.Equal(t, "new.json: created", msg)

	_, err = f.db.CreateFile("new.json", map[string]any{"title": "second"})
	require.ErrorIs(t, err, db.ErrAlreadyExists)
	assert.Equal(t, "file or directory already exists: new.json", err.Error())

	got, err := f.db.Get("new.json", "title")
	require.NoError(t, err)
	assert.Equal(t, "first", got)

	// A nil body still produces an object document.
	_, err = f.db.CreateFile("empty.json", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, f.read(t, "empty.json"))
}

func TestDeleteFile(t *testing.T) {
	f := setup(t, db.Options{})
	f.write(t, "gone.json", `{}`)

	msg, err := f.db.DeleteFile("gone.json")
	require.NoError(t, err)
	assert.Equal(t, "gone.json: deleted", msg)

	_, err = f.db.DeleteFile("gone.json")
	require.ErrorIs(t, err, db.ErrFileNotFound)
	assert.Contains(t, f.logText(t), "ERROR no such file or directory: gone.json")
}

func TestReset(t *testing.T) {
	f := setup(t, db.Options{PathLocks: true})
	f.write(t, "andrew.json", `{"scribbled":true}`)
	f.write(t, "keep.json", `{"mine":1}`)
	_, err := f.db.DeleteFile("scott.json")
	require.Error(t, err)
	require.NotEmpty(t, f.logText(t))

	msg, err := f.db.Reset()
	require.NoError(t, err)
	assert.Equal(t, "database reset", msg)

	for _, seed := range db.Seeds {
		assert.Equal(t, seed.Data, f.read(t, seed.Name), seed.Name)
	}
	assert.Equal(t, `{"mine":1}`, f.read(t, "keep.json"))
	assert.Empty(t, f.logText(t))

	got, err := f.db.Get("scott.json", "username")
	require.NoError(t, err)
	assert.Equal(t, "scoot", got)
}

func TestSetOperations(t *testing.T) {
	f := setup(t, db.Options{})
	f.write(t, "a.json", `{"a":1,"b":2}`)
	f.write(t, "b.json", `{"b":3,"c":4}`)

	tests := []struct {
		name   string
		op     func(a, b string) (string, error)
		output string
		want   string
	}{
		{"union", f.db.Union, db.UnionFile, "a,b,c"},
		{"intersect", f.db.Intersect, db.IntersectFile, "b"},
		{"difference", f.db.Difference, db.DifferenceFile, "a,c"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := tc.op("a.json", "b.json")
			require.NoError(t, err)
			assert.Equal(t, "a.json and b.json: "+tc.output+" created", msg)
			assert.Equal(t, tc.want, f.read(t, tc.output))
		})
	}
}

func TestSetOperationsSeeds(t *testing.T) {
	f := setup(t, db.Options{})
	_, err := f.db.Reset()
	require.NoError(t, err)

	_, err = f.db.Union("scott.json", "andrew.json")
	require.NoError(t, err)
	assert.Equal(t, "email,firstname,lastname,username", f.read(t, db.UnionFile))

	_, err = f.db.Intersect("scott.json", "andrew.json")
	require.NoError(t, err)
	assert.Equal(t, "email,firstname,lastname", f.read(t, db.IntersectFile))

	_, err = f.db.Difference("scott.json", "andrew.json")
	require.NoError(t, err)
	assert.Equal(t, "username", f.read(t, db.DifferenceFile))

	// A second call with other inputs overwrites the result.
	_, err = f.db.Difference("post.json", "post.json")
	require.NoError(t, err)
	assert.Equal(t, "", f.read(t, db.DifferenceFile))
}

func TestSetOperationsFalsyQuirk(t *testing.T) {
	const a, b = `{"x":1,"y":1}`, `{"x":0,"y":true,"z":""}`

	f := setup(t, db.Options{})
	f.write(t, "a.json", a)
	f.write(t, "b.json", b)

	_, err := f.db.Intersect("a.json", "b.json")
	require.NoError(t, err)
	assert.Equal(t, "y", f.read(t, db.IntersectFile))

	_, err = f.db.Difference("a.json", "b.json")
	require.NoError(t, err)
	assert.Equal(t, "x,z", f.read(t, db.DifferenceFile))

	strict := setup(t, db.Options{StrictKeys: true})
	strict.write(t, "a.json", a)
	strict.write(t, "b.json", b)

	_, err = strict.db.Intersect("a.json", "b.json")
	require.NoError(t, err)
	assert.Equal(t, "x,y", strict.read(t, db.IntersectFile))

	_, err = strict.db.Difference("a.json", "b.json")
	require.NoError(t, err)
	assert.Equal(t, "z", strict.read(t, db.DifferenceFile))
}

func TestSetOperationInputFailures(t *testing.T) {
	f := setup(t, db.Options{})
	f.write(t, "a.json", `{"a":1}`)
	f.write(t, "bad.json", `not json`)

	_, err := f.db.Union("a.json", "missing.json")
	require.ErrorIs(t, err, db.ErrFileNotFound)

	_, err = f.db.Intersect("bad.json", "a.json")
	require.ErrorIs(t, err, db.ErrParse)

	_, err = f.store.Read(db.UnionFile)
	assert.ErrorIs(t, err, store.ErrNotExist)
	_, err = f.store.Read(db.IntersectFile)
	assert.ErrorIs(t, err, store.ErrNotExist)

	assert.Contains(t, f.logText(t), "ERROR reading file or directory a.json or missing.json")
}

func TestMergeData(t *testing.T) {
	f := setup(t, db.Options{})
	f.write(t, "x.json", `{"n":1}`)
	f.write(t, "y.json", `{"n":2}`)
	f.write(t, "z.json", `{"n":`)
	f.write(t, "package.json", `{"name":"manifest"}`)
	f.write(t, "notes.txt", `{"n":3}`)

	for range 2 {
		msg, err := f.db.MergeData()
		require.NoError(t, err)
		assert.Equal(t, "merged.json created", msg)

		var merged map[string]any
		require.NoError(t, json.Unmarshal([]byte(f.read(t, db.MergedFile)), &merged))
		want := map[string]any{
			"x": map[string]any{"n": float64(1)},
			"y": map[string]any{"n": float64(2)},
		}
		if diff := cmp.Diff(want, merged); diff != "" {
			t.Fatalf("merged mismatch (-want +got):\n%s", diff)
		}
	}

	assert.Equal(t, 2, strings.Count(f.logText(t), "ERROR reading file or directory: z.json"))
}

func TestMergeDataDirectoryError(t *testing.T) {
	dir := t.TempDir()
	s, err := store.NewJsonFileStore(filepath.Join(dir, "data"))
	require.NoError(t, err)
	l, err := auditlog.New(filepath.Join(dir, "log.txt"))
	require.NoError(t, err)
	d := db.New(s, l, db.Options{})

	require.NoError(t, os.RemoveAll(s.Dir()))

	_, err = d.MergeData()
	require.ErrorIs(t, err, db.ErrDirectoryRead)
}

func TestMergeDataSkipLogFailure(t *testing.T) {
	f := setup(t, db.Options{})
	f.write(t, "x.json", `{"n":1}`)
	f.write(t, "z.json", `{"n":`)
	// A directory in place of the log makes every append fail.
	require.NoError(t, os.Mkdir(f.log.Path(), 0o755))

	_, err := f.db.MergeData()
	require.ErrorIs(t, err, db.ErrStorage)
	var e *db.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "z.json", e.Subject)

	_, err = f.store.Read(db.MergedFile)
	assert.ErrorIs(t, err, store.ErrNotExist)
}

func TestNonDocumentNamesAreNotFound(t *testing.T) {
	f := setup(t, db.Options{})
	_, err := f.db.CreateFile("a.json", nil)
	require.NoError(t, err)
	before := f.logText(t)
	require.NotEmpty(t, before)

	_, err = f.db.DeleteFile("log.txt")
	require.ErrorIs(t, err, db.ErrFileNotFound)
	assert.True(t, strings.HasPrefix(f.logText(t), before), "audit log was rewritten")

	_, err = f.db.Get("log.txt", "a")
	assert.ErrorIs(t, err, db.ErrFileNotFound)
	_, err = f.db.Set("log.txt", "a", "b")
	assert.ErrorIs(t, err, db.ErrFileNotFound)
	_, err = f.db.Remove("log.txt", "a")
	assert.ErrorIs(t, err, db.ErrFileNotFound)
	_, err = f.db.Patch("log.txt", []byte(`{}`), db.MergePatch)
	assert.ErrorIs(t, err, db.ErrFileNotFound)
	_, err = f.db.CreateFile("notes.txt", nil)
	assert.ErrorIs(t, err, db.ErrFileNotFound)
	_, err = f.store.Read("notes.txt")
	assert.ErrorIs(t, err, store.ErrNotExist)
}

func TestMultilineValueKeepsOneLogLine(t *testing.T) {
	f := setup(t, db.Options{})
	f.write(t, "u.json", `{}`)

	msg, err := f.db.Set("u.json", "k", "line1\nline2")
	require.NoError(t, err)
	assert.Equal(t, "u.json: line1\nline2 wrote to k", msg)

	lines := strings.Split(strings.TrimSuffix(f.logText(t), "\n"), "\n")
	require.Len(t, lines, 1)
	assert.Regexp(t, entryLine, lines[0])
	assert.True(t, strings.HasPrefix(lines[0], "u.json: line1 line2 wrote to k "))

	got, err := f.db.Get("u.json", "k")
	require.NoError(t, err)
	assert.Equal(t, "line1\nline2", got)
	assert.Len(t, f.entries(t), 2)
}

func TestPatch(t *testing.T) {
	f := setup(t, db.Options{})
	f.write(t, "user.json", `{"firstname":"Alice","email":"a@example.com","tags":["x"]}`)

	msg, err := f.db.Patch("user.json", []byte(`{"email":null,"city":"Lyon"}`), db.MergePatch)
	require.NoError(t, err)
	assert.Equal(t, "user.json: patched", msg)
	assert.JSONEq(t, `{"firstname":"Alice","city":"Lyon","tags":["x"]}`, f.read(t, "user.json"))

	_, err = f.db.Patch("user.json", []byte(`[{"op":"add","path":"/tags/-","value":"y"}]`), db.JSONPatch)
	require.NoError(t, err)
	assert.JSONEq(t, `{"firstname":"Alice","city":"Lyon","tags":["x","y"]}`, f.read(t, "user.json"))

	_, err = f.db.Patch("user.json", []byte(`not a patch`), db.JSONPatch)
	require.ErrorIs(t, err, db.ErrParse)

	_, err = f.db.Patch("user.json", []byte(`[{"op":"test","path":"/firstname","value":"Bob"}]`), db.JSONPatch)
	require.ErrorIs(t, err, db.ErrParse)

	// Patches must leave an object behind.
	_, err = f.db.Patch("user.json", []byte(`[1]`), db.MergePatch)
	require.ErrorIs(t, err, db.ErrParse)
	assert.JSONEq(t, `{"firstname":"Alice","city":"Lyon","tags":["x","y"]}`, f.read(t, "user.json"))

	_, err = f.db.Patch("missing.json", []byte(`{}`), db.MergePatch)
	require.ErrorIs(t, err, db.ErrFileNotFound)
}

func TestEveryCallLogsOneEntry(t *testing.T) {
	f := setup(t, db.Options{})
	f.write(t, "a.json", `{"k":"v"}`)
	f.write(t, "b.json", `{"k":""}`)

	calls := []func() (string, error){
		func() (string, error) { return f.db.Get("a.json", "k") },
		func() (string, error) { return f.db.Get("b.json", "k") },
		func() (string, error) { return f.db.Get("missing.json", "k") },
		func() (string, error) { return f.db.Set("a.json", "n", "1") },
		func() (string, error) { return f.db.Set("missing.json", "n", "1") },
		func() (string, error) { return f.db.Remove("a.json", "n") },
		func() (string, error) { return f.db.Remove("missing.json", "n") },
		func() (string, error) { return f.db.CreateFile("c.json", nil) },
		func() (string, error) { return f.db.CreateFile("c.json", nil) },
		func() (string, error) { return f.db.DeleteFile("c.json") },
		func() (string, error) { return f.db.DeleteFile("c.json") },
		func() (string, error) { return f.db.Union("a.json", "b.json") },
		func() (string, error) { return f.db.Intersect("a.json", "missing.json") },
		func() (string, error) { return f.db.Difference("a.json", "b.json") },
		func() (string, error) { return f.db.MergeData() },
		func() (string, error) { return f.db.Patch("a.json", []byte(`{}`), db.MergePatch) },
	}
	for i, call := range calls {
		before := len(f.entries(t))
		_, _ = call()
		assert.Equal(t, before+1, len(f.entries(t)), "call %d", i)
	}
}

func TestPathLocksSerialiseWrites(t *testing.T) {
	f := setup(t, db.Options{PathLocks: true})
	f.write(t, "shared.json", `{}`)

	const writers = 32
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.db.Set("shared.json", fmt.Sprintf("k%d", i), "v")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(f.read(t, "shared.json")), &doc))
	assert.Len(t, doc, writers)
	assert.Len(t, f.entries(t), writers)
}
