package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/always-cache/forward-cache/cache"
	"github.com/always-cache/forward-cache/journal"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const storedResponse = "HTTP/1.0 200 OK\r\nContent-Type: text/plain\r\nX-Origin: test\r\n\r\nhello"

func newTestRouter(t *testing.T, withJournal bool) (http.Handler, *cache.Cache, *journal.Journal) {
	t.Helper()
	c := cache.New()
	var j *journal.Journal
	if withJournal {
		var err error
		j, err = journal.Open("")
		require.NoError(t, err)
		t.Cleanup(func() { j.Close() })
	}
	logger := zerolog.Nop()
	return NewRouter(Options{Cache: c, Journal: j, Logger: &logger}), c, j
}

func serve(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", target, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestHealthz(t *testing.T) {
	h, _, _ := newTestRouter(t, false)
	rec := serve(t, h, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("Request-Id"))
}

func TestStatsReflectInserts(t *testing.T) {
	h, c, _ := newTestRouter(t, false)
	require.NoError(t, c.Insert("http://example.com/a", []byte(storedResponse)))
	require.NoError(t, c.Insert("http://example.com/b", []byte("x")))
	c.Find("http://example.com/a")

	stats := decode[cache.Stats](t, serve(t, h, "/stats"))
	require.Equal(t, 2, stats.Entries)
	require.Equal(t, len(storedResponse)+1, stats.Bytes)
	require.Equal(t, cache.MaxCacheSize, stats.Capacity)
	require.Equal(t, uint64(2), stats.Inserts)
	require.Equal(t, uint64(1), stats.Hits)
}

func TestCacheListIsInRecencyOrder(t *testing.T) {
	h, c, _ := newTestRouter(t, false)
	require.NoError(t, c.Insert("a", []byte("1")))
	require.NoError(t, c.Insert("b", []byte("22")))

	entries := decode[[]cache.EntryInfo](t, serve(t, h, "/cache"))
	require.Equal(t, []cache.EntryInfo{{Key: "b", Size: 2}, {Key: "a", Size: 1}}, entries)
}

func TestCacheEntryParsesResponse(t *testing.T) {
	h, c, _ := newTestRouter(t, false)
	require.NoError(t, c.Insert("http://example.com/a", []byte(storedResponse)))
	require.NoError(t, c.Insert("http://example.com/b", []byte("b")))

	rec := serve(t, h, "/cache/entry?uri=http%3A%2F%2Fexample.com%2Fa")
	require.Equal(t, http.StatusOK, rec.Code)
	desc := decode[EntryDescription](t, rec)
	require.Equal(t, "http://example.com/a", desc.URI)
	require.Equal(t, len(storedResponse), desc.Size)
	require.Equal(t, 200, desc.StatusCode)
	require.Equal(t, "HTTP/1.0", desc.Proto)
	require.Equal(t, "test", desc.Header.Get("X-Origin"))
	require.Equal(t, 5, desc.BodyLength)
	require.Empty(t, desc.ParseError)

	// looking at an entry does not promote it
	require.Equal(t, "http://example.com/b", c.Entries()[0].Key)
}

func TestCacheEntryNotParsable(t *testing.T) {
	h, c, _ := newTestRouter(t, false)
	require.NoError(t, c.Insert("raw", []byte("not http")))

	desc := decode[EntryDescription](t, serve(t, h, "/cache/entry?uri=raw"))
	require.Equal(t, 8, desc.Size)
	require.NotEmpty(t, desc.ParseError)
}

func TestCacheEntryErrors(t *testing.T) {
	h, _, _ := newTestRouter(t, false)
	require.Equal(t, http.StatusNotFound, serve(t, h, "/cache/entry?uri=missing").Code)
	require.Equal(t, http.StatusBadRequest, serve(t, h, "/cache/entry").Code)
}

func TestJournalDisabled(t *testing.T) {
	h, _, _ := newTestRouter(t, false)
	require.Equal(t, http.StatusNotFound, serve(t, h, "/journal").Code)
	require.Equal(t, http.StatusNotFound, serve(t, h, "/journal/summary").Code)
}

func TestJournalEndpoints(t *testing.T) {
	h, _, j := newTestRouter(t, true)
	require.NoError(t, j.Record(journal.Entry{Method: "GET", URI: "/a", CacheStatus: "fwd=uri-miss; stored", Stored: true, Bytes: 10}))
	require.NoError(t, j.Record(journal.Entry{Method: "GET", URI: "/a", CacheStatus: "hit", Bytes: 10}))
	require.NoError(t, j.Record(journal.Entry{Method: "GET", URI: "/b", CacheStatus: "hit", Bytes: 3}))

	entries := decode[[]journal.Entry](t, serve(t, h, "/journal?limit=2"))
	require.Len(t, entries, 2)
	require.Equal(t, "/b", entries[0].URI)

	summary := decode[journal.Summary](t, serve(t, h, "/journal/summary"))
	require.Equal(t, journal.Summary{Requests: 3, Hits: 2, Misses: 1, Stored: 1, Bytes: 23}, summary)

	require.Equal(t, http.StatusBadRequest, serve(t, h, "/journal?limit=zero").Code)
}
