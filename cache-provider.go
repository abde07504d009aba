package forwardcache

import (
	"context"
	"io"

	"github.com/always-cache/forward-cache/journal"
)

// CacheProvider stores raw origin responses keyed by request URI.
// Implementations must be thread-safe!
type CacheProvider interface {
	// Find returns a copy of the response stored for uri.
	Find(uri string) ([]byte, bool)
	// Insert stores response under uri. It returns an error if the response can not be admitted.
	Insert(uri string, response []byte) error
}

// ContentServer answers requests addressed to the proxy itself.
type ContentServer interface {
	// Serve writes a complete response for path to w.
	// On error nothing has been written, unless writing to w failed.
	Serve(ctx context.Context, w io.Writer, path string) error
}

// Recorder keeps a record of handled requests.
type Recorder interface {
	Record(journal.Entry) error
}

// Resolver looks up host names before connecting to an origin.
// *net.Resolver implements it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}
