package forwardcache

import (
	"context"
	"net"
	"time"

	"github.com/jmgilman/go/errors"
)

const maxAcceptDelay = time.Second

// Serve accepts connections on ln until ctx is done.
// Every connection is handled by its own goroutine, which is never waited for.
// Serve closes ln. It returns nil if it stopped because ctx was done.
func (p *Proxy) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		ln.Close()
	})
	defer stop()

	p.log.Info().Str("addr", ln.Addr().String()).Msg("Accepting connections")
	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				p.log.Info().Msg("Stopped accepting connections")
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return errors.Wrap(err, errors.CodeNetwork, "listener closed")
			}
			// back off like net/http does and keep accepting
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay *= 2
			}
			delay = min(delay, maxAcceptDelay)
			p.log.Warn().Err(err).Dur("retry", delay).Msg("Accept failed")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
			continue
		}
		delay = 0
		go p.handle(conn)
	}
}

// ListenAndServe listens on the TCP address addr and calls Serve.
func (p *Proxy) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrapf(err, errors.CodeNetwork, "cannot listen on %s", addr)
	}
	return p.Serve(ctx, ln)
}
