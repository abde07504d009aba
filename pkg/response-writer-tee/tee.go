package tee

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ResponseSaver is a wrapper around an io.Writer that saves the relayed bytes to a buffer.
// Everything is written to the underlying writer, but only the first limit bytes are kept.
// Once more than limit bytes went through, the saved copy is incomplete and the response
// is no longer cacheable.
type ResponseSaver struct {
	w        io.Writer
	b        *bytes.Buffer
	limit    int
	written  int64
	overflow bool
	err      error
	// CreatedAt is the time the relay started.
	CreatedAt time.Time
}

// NewResponseSaver returns a new ResponseSaver writing to w and keeping up to limit bytes.
func NewResponseSaver(w io.Writer, limit int) *ResponseSaver {
	return &ResponseSaver{
		CreatedAt: time.Now(),
		w:         w,
		b:         &bytes.Buffer{},
		limit:     limit,
	}
}

// Implementation of io.Writer.
// After the first failed write to the underlying writer, every further write fails with the same error.
func (t *ResponseSaver) Write(p []byte) (int, error) {
	if t.err != nil {
		return 0, t.err
	}
	n, err := t.w.Write(p)
	t.written += int64(n)
	if !t.overflow {
		if t.b.Len()+n > t.limit {
			t.overflow = true
		} else {
			t.b.Write(p[:n])
		}
	}
	if t.b.Len() > t.limit {
		panic(fmt.Sprintf("tee: buffered %d bytes over limit %d", t.b.Len(), t.limit))
	}
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		t.err = err
	}
	return n, err
}

// Response returns the saved bytes and whether they are the complete, successfully relayed response.
func (t *ResponseSaver) Response() ([]byte, bool) {
	return t.b.Bytes(), !t.overflow && t.err == nil
}

// Written returns the number of bytes written to the underlying writer.
func (t *ResponseSaver) Written() int64 {
	return t.written
}

// Err returns the first error of the underlying writer.
func (t *ResponseSaver) Err() error {
	return t.err
}

// StatusCode returns the status code of the relayed response, or 0 if the saved bytes
// do not start with a complete status line.
func (t *ResponseSaver) StatusCode() int {
	return ParseStatusCode(t.b.Bytes())
}

// ParseStatusCode returns the status code from the status line at the start of a raw
// HTTP response, or 0 if there is no complete status line.
func ParseStatusCode(response []byte) int {
	line, _, found := bytes.Cut(response, []byte("\n"))
	if !found {
		return 0
	}
	fields := strings.Fields(string(line))
	if len(fields) < 2 || !strings.HasPrefix(fields[0], "HTTP/") {
		return 0
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0
	}
	return code
}
