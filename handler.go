package forwardcache

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"time"

	translator "github.com/always-cache/forward-cache/pkg/request-translator"
	tee "github.com/always-cache/forward-cache/pkg/response-writer-tee"

	"github.com/jmgilman/go/errors"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
)

// request is the state of one client connection.
type request struct {
	conn        net.Conn
	client      *clientWriter
	line        translator.RequestLine
	target      translator.Target
	cacheStatus CacheStatus
	// cause names what an error page is about
	cause string
	// status of the response sent to the client, 0 if unknown
	status int
	// errorStatus is set when an error page was sent
	errorStatus int
	start       time.Time
	log         zerolog.Logger
}

// clientWriter counts the bytes written to the client.
type clientWriter struct {
	w       io.Writer
	written int64
}

func (c *clientWriter) Write(b []byte) (int, error) {
	n, err := c.w.Write(b)
	c.written += int64(n)
	return n, err
}

// responded reports whether any part of a response reached the client.
func (c *clientWriter) responded() bool {
	return c.written > 0
}

// handle runs one request/response transaction and closes the connection.
// Every failure ends here: the client gets an error page if nothing was sent yet.
func (p *Proxy) handle(conn net.Conn) {

	r := &request{
		conn:   conn,
		client: &clientWriter{w: conn},
		start:  time.Now(),
		log: p.log.With().
			Str("conn", xid.New().String()).
			Str("client", conn.RemoteAddr().String()).
			Logger(),
	}

	ctx := context.Background()
	if p.clientTimeout > 0 {
		deadline := r.start.Add(p.clientTimeout)
		conn.SetDeadline(deadline)
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	if err := p.serve(ctx, r); err != nil {
		if r.client.responded() {
			r.log.Warn().Err(err).Msg("Request failed after response was started")
		} else {
			r.log.Debug().Err(err).Msg("Sending error page")
			status, werr := writeError(r.client, err, r.cause)
			r.status, r.errorStatus = status, status
			if werr != nil {
				r.log.Warn().Err(werr).Msg("Could not send error page")
			}
		}
	}

	// the response ends with the connection, the client must not wait for the journal
	if err := conn.Close(); err != nil {
		r.log.Trace().Err(err).Msg("Could not close client connection")
	}
	p.logRequest(r)
	p.recordRequest(r)
}

func (p *Proxy) serve(ctx context.Context, r *request) error {
	line, headers, err := translator.ReadRequestHead(bufio.NewReader(r.conn))
	if err != nil {
		r.cause = "request"
		return err
	}
	r.log.Trace().Str("line", line).Int("headers", len(headers)).Msg("Read request head")

	if r.line, err = translator.ParseRequestLine(line); err != nil {
		r.cause = line
		return err
	}
	if !r.line.IsGet() {
		r.cacheStatus.Forward(CacheStatusFwdMethod)
		r.cause = r.line.Method
		return errors.Newf(errors.CodeNotImplemented, "method %s not implemented", r.line.Method)
	}
	if r.target, err = translator.ParseTarget(r.line.URI); err != nil {
		r.cause = r.line.URI
		return err
	}

	if p.isLocal(r) {
		r.cacheStatus.Forward(CacheStatusFwdBypass)
		return p.serveLocal(ctx, r)
	}

	r.log.Trace().Str("key", r.line.URI).Msg("Looking up cache")
	if response, ok := p.cache.Find(r.line.URI); ok {
		r.cacheStatus.Hit()
		return p.sendCached(r, response)
	}
	r.cacheStatus.Forward(CacheStatusFwdUriMiss)
	return p.forward(ctx, r, headers)
}

// isLocal reports whether the request is addressed to the proxy itself:
// either it had no host at all, or it names localhost on the port the client connected to.
func (p *Proxy) isLocal(r *request) bool {
	if r.target.Local {
		return true
	}
	if !strings.EqualFold(r.target.Host, translator.LocalHost) {
		return false
	}
	_, port, err := net.SplitHostPort(r.conn.LocalAddr().String())
	return err == nil && port == r.target.Port
}

func (p *Proxy) serveLocal(ctx context.Context, r *request) error {
	r.cause = r.target.Path
	r.cacheStatus.Detail("local")
	if p.local == nil {
		return errors.Newf(errors.CodeNotFound, "no local content for %s", r.target.Path)
	}
	if err := p.local.Serve(ctx, r.client, r.target.Path); err != nil {
		return err
	}
	r.status = 200
	return nil
}

func (p *Proxy) sendCached(r *request, response []byte) error {
	r.status = tee.ParseStatusCode(response)
	if _, err := r.client.Write(response); err != nil {
		return errors.Wrap(err, errors.CodeNetwork, "could not send cached response")
	}
	return nil
}

// forward fetches the response from the origin, relays it to the client and caches it if possible.
func (p *Proxy) forward(ctx context.Context, r *request, headers []string) error {
	r.cause = r.target.Host
	addrs, err := p.resolver.LookupHost(ctx, r.target.Host)
	if err != nil {
		return errors.Wrapf(err, errors.CodeInvalidInput, "cannot resolve host %s", r.target.Host)
	}
	if len(addrs) == 0 {
		return errors.Newf(errors.CodeInvalidInput, "no address for host %s", r.target.Host)
	}

	addr := net.JoinHostPort(addrs[0], r.target.Port)
	origin, err := p.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrapf(err, errors.CodeNetwork, "cannot connect to %s", addr)
	}
	defer origin.Close()

	forwardRequest := translator.BuildForwardRequest(translator.MethodGet, r.target.Path, headers, r.target.Host, r.target.Port)
	r.log.Trace().Str("origin", addr).Bytes("request", forwardRequest).Msg("Forwarding request")
	if p.originTimeout > 0 {
		origin.SetWriteDeadline(time.Now().Add(p.originTimeout))
	}
	if _, err := origin.Write(forwardRequest); err != nil {
		return errors.Wrapf(err, errors.CodeNetwork, "cannot send request to %s", addr)
	}

	return p.relay(r, origin)
}

// relay copies the origin response to the client chunk by chunk, keeping a copy for the cache.
// The copy is stored only if the origin closed the stream, every chunk reached the client
// and the response is not larger than the object limit.
func (p *Proxy) relay(r *request, origin net.Conn) error {
	saver := tee.NewResponseSaver(r.client, p.maxObjectSize)
	buf := make([]byte, chunkSize)
	for {
		if p.originTimeout > 0 {
			origin.SetReadDeadline(time.Now().Add(p.originTimeout))
		}
		n, err := origin.Read(buf)
		if n > 0 {
			if _, werr := saver.Write(buf[:n]); werr != nil {
				return errors.Wrap(werr, errors.CodeNetwork, "could not relay response to client")
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrap(err, errors.CodeNetwork, "could not read response from origin")
		}
	}
	r.status = saver.StatusCode()
	r.log.Trace().Int64("bytes", saver.Written()).Dur("took", time.Since(saver.CreatedAt)).Msg("Relayed response")

	if saver.Written() == 0 {
		return errors.New(errors.CodeNetwork, "origin closed the connection without a response")
	}
	response, ok := saver.Response()
	if !ok {
		r.cacheStatus.Detail("too-large")
		r.log.Trace().Err(saver.Err()).Int64("bytes", saver.Written()).Msg("Response not cacheable")
		return nil
	}
	if err := p.cache.Insert(r.line.URI, response); err != nil {
		r.cacheStatus.Detail("rejected")
		r.log.Debug().Err(err).Msg("Response not cached")
		return nil
	}
	r.cacheStatus.Stored = true
	return nil
}
