// Package admin provides a read-only HTTP API for inspecting the proxy cache and journal.
package admin

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/always-cache/forward-cache/cache"
	"github.com/always-cache/forward-cache/journal"

	"github.com/go-chi/chi/v5"
	"github.com/jmgilman/go/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

// Options configure the admin router.
type Options struct {
	// Cache to inspect. Required.
	Cache *cache.Cache
	// Journal to query. The journal endpoints answer 404 if nil.
	Journal *journal.Journal
	// Logger for the access log. The global logger is used if nil.
	Logger *zerolog.Logger
}

// EntryDescription is a cached response as seen by /cache/entry.
type EntryDescription struct {
	URI        string      `json:"uri"`
	Size       int         `json:"size"`
	Proto      string      `json:"proto,omitempty"`
	Status     string      `json:"status,omitempty"`
	StatusCode int         `json:"statusCode,omitempty"`
	Header     http.Header `json:"header,omitempty"`
	BodyLength int         `json:"bodyLength"`
	// ParseError is set when the stored bytes are not a valid HTTP response.
	ParseError string `json:"parseError,omitempty"`
}

type api struct {
	cache   *cache.Cache
	journal *journal.Journal
}

// NewRouter returns the admin HTTP handler.
func NewRouter(opts Options) http.Handler {
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	a := &api{cache: opts.Cache, journal: opts.Journal}

	r := chi.NewRouter()
	r.Use(hlog.NewHandler(logger.With().Str("component", "admin").Logger()))
	r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Admin request")
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/stats", a.stats)
	r.Get("/cache", a.entries)
	r.Get("/cache/entry", a.entry)
	r.Route("/journal", func(r chi.Router) {
		r.Get("/", a.recent)
		r.Get("/summary", a.summary)
	})
	return r
}

func (a *api) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, a.cache.Stats())
}

func (a *api) entries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, a.cache.Entries())
}

func (a *api) entry(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		writeError(w, r, errors.New(errors.CodeInvalidInput, "missing uri parameter"))
		return
	}
	// Peek does not count as an access, so looking does not change the eviction order
	stored, ok := a.cache.Peek(uri)
	if !ok {
		writeError(w, r, errors.Newf(errors.CodeNotFound, "%s is not cached", uri))
		return
	}
	writeJSON(w, r, http.StatusOK, describe(uri, stored))
}

func describe(uri string, stored []byte) EntryDescription {
	desc := EntryDescription{URI: uri, Size: len(stored)}
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(stored)), nil)
	if err != nil {
		desc.ParseError = err.Error()
		return desc
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		desc.ParseError = err.Error()
	}
	desc.Proto = res.Proto
	desc.Status = res.Status
	desc.StatusCode = res.StatusCode
	desc.Header = res.Header
	desc.BodyLength = len(body)
	return desc
}

func (a *api) recent(w http.ResponseWriter, r *http.Request) {
	if a.journal == nil {
		writeError(w, r, errors.New(errors.CodeNotFound, "journal is disabled"))
		return
	}
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, r, errors.Newf(errors.CodeInvalidInput, "invalid limit %q", s))
			return
		}
		limit = n
	}
	entries, err := a.journal.Recent(limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, entries)
}

func (a *api) summary(w http.ResponseWriter, r *http.Request) {
	if a.journal == nil {
		writeError(w, r, errors.New(errors.CodeNotFound, "journal is disabled"))
		return
	}
	summary, err := a.journal.Summary()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		getLogger(r).Warn().Err(err).Msg("Could not write response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch errors.GetCode(err) {
	case errors.CodeInvalidInput:
		status = http.StatusBadRequest
	case errors.CodeNotFound:
		status = http.StatusNotFound
	default:
		getLogger(r).Error().Err(err).Msg("Admin request failed")
	}
	writeJSON(w, r, status, errors.ToJSON(err))
}

// getLogger returns the logger from the request context.
// If no logger is found, it will return the default logger.
func getLogger(r *http.Request) *zerolog.Logger {
	logger := hlog.FromRequest(r)
	if logger.GetLevel() == zerolog.Disabled {
		logger = &log.Logger
	}
	return logger
}
