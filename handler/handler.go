// Package handler provides the HTTP handlers for the document server.
package handler

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/stevemurr/json-doc-server/db"
)

// Store is the set of document operations the handlers dispatch to.
// *db.DB implements it.
type Store interface {
	Get(file, key string) (string, error)
	Set(file, key string, value any) (string, error)
	Remove(file, key string) (string, error)
	Patch(file string, patch []byte, kind db.PatchKind) (string, error)
	DeleteFile(file string) (string, error)
	CreateFile(file string, content map[string]any) (string, error)
	MergeData() (string, error)
	Union(a, b string) (string, error)
	Intersect(a, b string) (string, error)
	Difference(a, b string) (string, error)
	Reset() (string, error)
}

// Handler holds the server dependencies and registers routes.
type Handler struct {
	store Store
	owner string
	now   func() time.Time
	mux   *http.ServeMux
}

// Option configures a Handler.
type Option func(*Handler)

// WithOwner sets the owner reported by /status.
func WithOwner(owner string) Option {
	return func(h *Handler) { h.owner = owner }
}

// WithClock overrides the time source used by /status.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// New creates a Handler and wires up all routes.
func New(s Store, opts ...Option) *Handler {
	h := &Handler{store: s, now: time.Now, mux: http.NewServeMux()}
	for _, opt := range opts {
		opt(h)
	}
	h.routes()
	return h
}

// ServeHTTP makes Handler an http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) routes() {
	// Welcome / status
	h.mux.HandleFunc("GET /{$}", h.home)
	h.mux.HandleFunc("GET /status", h.status)

	// --- Key operations ---
	h.mux.HandleFunc("GET /get", h.get)
	h.mux.HandleFunc("PATCH /set", h.set)
	h.mux.HandleFunc("DELETE /remove", h.remove)
	h.mux.HandleFunc("PATCH /patch/{file...}", h.patch)

	// --- File lifecycle ---
	h.mux.HandleFunc("POST /write/{file...}", h.write)
	h.mux.HandleFunc("DELETE /delete/{file...}", h.deleteFile)
	h.mux.HandleFunc("POST /reset", h.reset)

	// --- Aggregation and set operations ---
	h.mux.HandleFunc("POST /merge", h.merge)
	h.mux.HandleFunc("POST /union", h.setOp(h.store.Union))
	h.mux.HandleFunc("POST /intersect", h.setOp(h.store.Intersect))
	h.mux.HandleFunc("POST /difference", h.setOp(h.store.Difference))

	// Everything else, including known paths with the wrong method.
	h.mux.HandleFunc("/", h.notFound)
}

// ---------- helpers ----------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, msg)
}

// respond writes a store result: the message on success, the failure's
// description as a 400 otherwise.
func respond(w http.ResponseWriter, status int, msg string, err error) {
	if err != nil {
		writeText(w, http.StatusBadRequest, err.Error())
		return
	}
	writeText(w, status, msg)
}

// query returns the named query parameters, or ok=false if any is empty.
func query(r *http.Request, names ...string) (values []string, ok bool) {
	q := r.URL.Query()
	for _, name := range names {
		v := q.Get(name)
		if v == "" {
			return nil, false
		}
		values = append(values, v)
	}
	return values, true
}

const notFoundPage = `<!DOCTYPE html>
<html>
<head><title>404 Not Found</title></head>
<body><h1>404</h1><p>The requested resource could not be found.</p></body>
</html>
`

func (h *Handler) notFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	io.WriteString(w, notFoundPage)
}

// ---------- status endpoints ----------

func (h *Handler) home(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Service", "json-doc-server")
	w.Header().Set("X-Service-Info", "JSON documents with set operations")
	writeText(w, http.StatusOK, "Welcome to my server")
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"up":        true,
		"owner":     h.owner,
		"timestamp": h.now().UnixMilli(),
	})
}

// ---------- key operations ----------

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	args, ok := query(r, "file", "key")
	if !ok {
		writeText(w, http.StatusBadRequest, "Invalid arguments")
		return
	}
	msg, err := h.store.Get(args[0], args[1])
	respond(w, http.StatusOK, msg, err)
}

func (h *Handler) set(w http.ResponseWriter, r *http.Request) {
	args, ok := query(r, "file", "key", "value")
	if !ok {
		writeText(w, http.StatusBadRequest, "Invalid arguments")
		return
	}
	msg, err := h.store.Set(args[0], args[1], args[2])
	respond(w, http.StatusOK, msg, err)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	args, ok := query(r, "file", "key")
	if !ok {
		writeText(w, http.StatusBadRequest, "Invalid arguments")
		return
	}
	msg, err := h.store.Remove(args[0], args[1])
	respond(w, http.StatusOK, msg, err)
}

func (h *Handler) patch(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeText(w, http.StatusBadRequest, "unable to read request body: "+err.Error())
		return
	}
	kind := db.MergePatch
	if ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); ct == "application/json-patch+json" {
		kind = db.JSONPatch
	}
	msg, err := h.store.Patch(r.PathValue("file"), body, kind)
	respond(w, http.StatusOK, msg, err)
}

// ---------- file lifecycle ----------

func (h *Handler) write(w http.ResponseWriter, r *http.Request) {
	file := r.PathValue("file")
	if !strings.HasSuffix(file, ".json") {
		h.notFound(w, r)
		return
	}

	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeText(w, http.StatusBadRequest, "unable to read request body: "+err.Error())
		return
	}
	content, err := db.Decode(body)
	if err != nil {
		parseErr := &db.Error{Op: "create", Subject: file, Kind: db.ErrParse, Err: err}
		writeText(w, http.StatusBadRequest, parseErr.Error())
		return
	}

	msg, err := h.store.CreateFile(file, content)
	respond(w, http.StatusCreated, msg, err)
}

func (h *Handler) deleteFile(w http.ResponseWriter, r *http.Request) {
	msg, err := h.store.DeleteFile(r.PathValue("file"))
	respond(w, http.StatusOK, msg, err)
}

func (h *Handler) reset(w http.ResponseWriter, r *http.Request) {
	msg, err := h.store.Reset()
	respond(w, http.StatusOK, msg, err)
}

// ---------- aggregation and set operations ----------

func (h *Handler) merge(w http.ResponseWriter, r *http.Request) {
	msg, err := h.store.MergeData()
	respond(w, http.StatusOK, msg, err)
}

func (h *Handler) setOp(op func(a, b string) (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		args, ok := query(r, "a", "b")
		if !ok {
			writeText(w, http.StatusBadRequest, "Invalid arguments")
			return
		}
		msg, err := op(args[0], args[1])
		respond(w, http.StatusOK, msg, err)
	}
}
