// Package handler provides the HTTP API over a document store.
package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/quipubase/quipubase/store"
)

const defaultLimit = 1000

// Status is the reply for write operations.
type Status struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Key     string `json:"key,omitempty"`
}

// ErrResponse is the body of every failed request.
type ErrResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Options configures the router.
type Options struct {
	// AllowedOrigins for CORS. Empty means "*".
	AllowedOrigins []string
	Logger         *logrus.Entry
}

// Handler holds the server dependencies and registers routes.
type Handler struct {
	store  *store.DocumentStore
	log    *logrus.Entry
	router chi.Router
}

// New creates a Handler and wires up all routes.
func New(s *store.DocumentStore, opts Options) *Handler {
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	h := &Handler{store: s, log: log, router: chi.NewRouter()}
	h.routes(opts)
	return h
}

// ServeHTTP makes Handler an http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) routes(opts Options) {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Credentials only for an explicit origin list.
	credentials := true
	for _, o := range origins {
		if o == "*" {
			credentials = false
		}
	}

	r := h.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: credentials,
		MaxAge:           300,
	}))

	r.Get("/", h.root)
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.health)
		r.Post("/actions", h.action)
		r.Get("/count", h.count)
		r.Post("/find", h.findDocs)

		// Everything below /documents/ is a caller-supplied key.
		r.Route("/documents", func(r chi.Router) {
			r.Get("/", h.scanDocs)
			r.Post("/", h.createDoc)

			r.Route("/{key}", func(r chi.Router) {
				r.Head("/", h.exists)
				r.Get("/", h.getDoc)
				r.Put("/", h.putDoc)
				r.Patch("/", h.mergeDoc)
				r.Delete("/", h.deleteDoc)
			})
		})
	})
}

// ---------- helpers ----------

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, ErrResponse{Code: status, Message: msg})
}

// writeStoreError maps store sentinels onto HTTP status codes.
func (h *Handler) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"request_id": middleware.GetReqID(r.Context()),
		}).Error("Request failed")
	}
	writeError(w, r, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrInvalidDocument):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrInvalidArgument):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// readDocument decodes a request body that must be a JSON object. An empty
// body yields a nil document when optional is set.
func readDocument(r *http.Request, optional bool) (store.Document, error) {
	var doc store.Document
	err := render.DecodeJSON(r.Body, &doc)
	switch {
	case err == nil:
		return doc, nil
	case errors.Is(err, io.EOF) && optional:
		return nil, nil
	case errors.Is(err, store.ErrInvalidDocument):
		return nil, err
	default:
		return nil, fmt.Errorf("%w: invalid JSON: %v", store.ErrInvalidArgument, err)
	}
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", store.ErrInvalidArgument, name)
	}
	return n, nil
}

func queryBool(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean", store.ErrInvalidArgument, name)
	}
	return b, nil
}

func pagination(r *http.Request) (limit, offset int, err error) {
	if limit, err = queryInt(r, "limit", defaultLimit); err != nil {
		return 0, 0, err
	}
	if offset, err = queryInt(r, "offset", 0); err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

// pathKey returns the decoded {key} segment. chi matches on the escaped
// path, so "a%2Fb" arrives undecoded.
func pathKey(r *http.Request) (string, error) {
	key, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil {
		return "", fmt.Errorf("%w: malformed key: %v", store.ErrInvalidArgument, err)
	}
	return key, nil
}

func newKey() string {
	return ulid.Make().String()
}

// ---------- status endpoints ----------

func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "Quipubase",
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, Status{Code: http.StatusOK, Message: "Quipubase is running"})
}

// ---------- documents ----------

func (h *Handler) count(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.Count()
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]int{"count": n})
}

func (h *Handler) exists(w http.ResponseWriter, r *http.Request) {
	key, err := pathKey(r)
	if err != nil {
		w.WriteHeader(statusFor(err))
		return
	}
	ok, err := h.store.Exists(key)
	if err != nil {
		w.WriteHeader(statusFor(err))
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) getDoc(w http.ResponseWriter, r *http.Request) {
	key, err := pathKey(r)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	doc, ok, err := h.store.GetDoc(key)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, r, http.StatusNotFound, Status{Code: http.StatusNotFound, Message: "Document not found", Key: key})
		return
	}
	writeJSON(w, r, http.StatusOK, doc)
}

func (h *Handler) putDoc(w http.ResponseWriter, r *http.Request) {
	key, err := pathKey(r)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	h.doPut(w, r, key)
}

func (h *Handler) createDoc(w http.ResponseWriter, r *http.Request) {
	h.doPut(w, r, newKey())
}

func (h *Handler) doPut(w http.ResponseWriter, r *http.Request, key string) {
	doc, err := readDocument(r, false)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if err := h.store.PutDoc(key, doc); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, Status{Code: http.StatusCreated, Message: "Document created", Key: key})
}

func (h *Handler) mergeDoc(w http.ResponseWriter, r *http.Request) {
	key, err := pathKey(r)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	patch, err := readDocument(r, false)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if err := h.store.MergeDoc(key, patch); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, Status{Code: http.StatusOK, Message: "Document updated", Key: key})
}

func (h *Handler) deleteDoc(w http.ResponseWriter, r *http.Request) {
	key, err := pathKey(r)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if err := h.store.DeleteDoc(key); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, Status{Code: http.StatusNoContent, Message: "Document deleted", Key: key})
}

func (h *Handler) scanDocs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	keysOnly, err := queryBool(r, "keys_only")
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	cur, err := h.store.ScanDocs(limit, offset, keysOnly)
	h.writeCursor(w, r, cur, err)
}

func (h *Handler) findDocs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	filters, err := readDocument(r, true)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	cur, err := h.store.FindDocs(limit, offset, filters)
	h.writeCursor(w, r, cur, err)
}

func (h *Handler) writeCursor(w http.ResponseWriter, r *http.Request, cur *store.Cursor, err error) {
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	entries, err := cur.All()
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, entries)
}
