// Package journal keeps a SQLite log of the requests handled by the proxy.
package journal

import (
	"database/sql"
	"sync"
	"time"

	"github.com/jmgilman/go/errors"

	_ "github.com/glebarez/go-sqlite"
)

// Entry is one handled client connection.
type Entry struct {
	ID          int64     `json:"id"`
	At          time.Time `json:"at"`
	Client      string    `json:"client"`
	Method      string    `json:"method"`
	URI         string    `json:"uri"`
	CacheStatus string    `json:"cacheStatus"`
	Stored      bool      `json:"stored"`
	Bytes       int64     `json:"bytes"`
	// ErrorStatus is the status of the error page sent to the client, 0 if none was sent.
	ErrorStatus int `json:"errorStatus,omitempty"`
}

// Summary aggregates all journal entries.
type Summary struct {
	Requests int64 `json:"requests"`
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Stored   int64 `json:"stored"`
	Errors   int64 `json:"errors"`
	Bytes    int64 `json:"bytes"`
}

// Journal is safe for concurrent use.
type Journal struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// Open opens (and creates if needed) the journal stored in filename.
// If filename is empty or "memory", a private in-memory db is opened.
func Open(filename string) (*Journal, error) {
	if filename == "" || filename == "memory" {
		filename = ":memory:"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeDatabase, "could not open journal %s", filename)
	}
	// a single connection keeps an in-memory db alive and serializes sqlite access
	db.SetMaxOpenConns(1)

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS journal (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at INTEGER,
			client TEXT,
			method TEXT,
			uri TEXT,
			cache_status TEXT,
			stored INTEGER,
			bytes INTEGER,
			error_status INTEGER
		)`,
		"CREATE INDEX IF NOT EXISTS at_idx ON journal (at)",
	}
	if filename != ":memory:" {
		stmts = append(stmts, "PRAGMA journal_mode=WAL")
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, errors.Wrap(err, errors.CodeDatabase, "could not initialize journal")
		}
	}
	return &Journal{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

// Record appends e to the journal. A zero At is replaced by the current time.
func (j *Journal) Record(e Entry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	j.writeMutex.Lock()
	defer j.writeMutex.Unlock()
	_, err := j.db.Exec(`INSERT INTO journal
		(at, client, method, uri, cache_status, stored, bytes, error_status) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.At.UnixNano(), e.Client, e.Method, e.URI, e.CacheStatus, e.Stored, e.Bytes, e.ErrorStatus)
	if err != nil {
		return errors.Wrapf(err, errors.CodeDatabase, "could not record request for %s", e.URI)
	}
	return nil
}

// Recent returns at most limit entries, newest first.
func (j *Journal) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	entries := make([]Entry, 0)
	rows, err := j.db.Query(`SELECT
		id, at, client, method, uri, cache_status, stored, bytes, error_status
		FROM journal ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return entries, errors.Wrap(err, errors.CodeDatabase, "could not query journal")
	}
	defer rows.Close()
	for rows.Next() {
		var e Entry
		var at int64
		if err := rows.Scan(&e.ID, &at, &e.Client, &e.Method, &e.URI, &e.CacheStatus, &e.Stored, &e.Bytes, &e.ErrorStatus); err != nil {
			return entries, errors.Wrap(err, errors.CodeDatabase, "could not read journal entry")
		}
		e.At = time.Unix(0, at)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return entries, errors.Wrap(err, errors.CodeDatabase, "could not read journal")
	}
	return entries, nil
}

// Summary counts all recorded requests.
// A request is a hit if its cache status starts with "hit", a miss if it was forwarded to an origin.
func (j *Journal) Summary() (Summary, error) {
	var s Summary
	err := j.db.QueryRow(`SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN cache_status LIKE 'hit%' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN cache_status LIKE 'fwd=uri-miss%' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(stored), 0),
		COALESCE(SUM(CASE WHEN error_status > 0 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(bytes), 0)
		FROM journal`).Scan(&s.Requests, &s.Hits, &s.Misses, &s.Stored, &s.Errors, &s.Bytes)
	if err != nil {
		return s, errors.Wrap(err, errors.CodeDatabase, "could not summarize journal")
	}
	return s, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	if err := j.db.Close(); err != nil {
		return errors.Wrap(err, errors.CodeDatabase, "could not close journal")
	}
	return nil
}
