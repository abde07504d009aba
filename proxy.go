package forwardcache

import (
	"net"
	"time"

	"github.com/always-cache/forward-cache/cache"
	"github.com/always-cache/forward-cache/journal"

	"github.com/rs/zerolog"
)

// chunkSize is the size of the reads from the origin, every chunk is relayed before the next read.
const chunkSize = 8192

type Config struct {
	// Storage for origin responses. Required.
	Cache CacheProvider
	// Server for requests addressed to the proxy itself.
	// Local requests are answered with 404 if nil.
	Local ContentServer
	// Optional journal of handled requests.
	Journal Recorder
	// Resolver for origin host names. net.DefaultResolver is used if nil.
	Resolver Resolver
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
	// Bounds connecting to the origin and every read from it. Zero means no limit.
	OriginTimeout time.Duration
	// Bounds the whole client connection. Zero means no limit.
	ClientTimeout time.Duration
	// Largest response that is cached. Defaults to cache.MaxObjectSize.
	MaxObjectSize int
}

// Proxy is a forwarding HTTP/1.0 proxy that caches origin responses.
type Proxy struct {
	cache         CacheProvider
	local         ContentServer
	journal       Recorder
	resolver      Resolver
	log           zerolog.Logger
	dialer        net.Dialer
	originTimeout time.Duration
	clientTimeout time.Duration
	maxObjectSize int
}

// CreateProxy initializes the proxy.
// Nothing is started until Serve or ListenAndServe is called.
func CreateProxy(config Config) *Proxy {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	p := &Proxy{
		cache:         config.Cache,
		local:         config.Local,
		journal:       config.Journal,
		resolver:      config.Resolver,
		log:           logger,
		dialer:        net.Dialer{Timeout: config.OriginTimeout},
		originTimeout: config.OriginTimeout,
		clientTimeout: config.ClientTimeout,
		maxObjectSize: config.MaxObjectSize,
	}
	if p.resolver == nil {
		p.resolver = net.DefaultResolver
	}
	if p.maxObjectSize <= 0 {
		p.maxObjectSize = cache.MaxObjectSize
	}
	return p
}

func (p *Proxy) logRequest(r *request) {
	isHit := 0
	if r.cacheStatus.IsHit() {
		isHit = 1
	}
	r.log.Debug().
		Str("method", r.line.Method).
		Str("uri", r.line.URI).
		Str("cacheStatus", r.cacheStatus.String()).
		Int64("bytes", r.client.written).
		Int("response", r.status).
		Int("hit", isHit).
		Dur("took", time.Since(r.start)).
		Msg("Sent response to client")
}

func (p *Proxy) recordRequest(r *request) {
	if p.journal == nil {
		return
	}
	err := p.journal.Record(journal.Entry{
		At:          r.start,
		Client:      r.conn.RemoteAddr().String(),
		Method:      r.line.Method,
		URI:         r.line.URI,
		CacheStatus: r.cacheStatus.Value(),
		Stored:      r.cacheStatus.Stored,
		Bytes:       r.client.written,
		ErrorStatus: r.errorStatus,
	})
	if err != nil {
		r.log.Error().Err(err).Msg("Could not record request")
	}
}
