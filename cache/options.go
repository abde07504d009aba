package cache

import "github.com/rs/zerolog"

// Option configures a Cache created with New.
type Option func(c *Cache, capacity *int)

// WithCapacity overrides the aggregate size limit.
// Values <= 0 are ignored.
func WithCapacity(n int) Option {
	return func(c *Cache, capacity *int) {
		if n > 0 {
			*capacity = n
		}
	}
}

// WithMaxObjectSize overrides the largest admitted object size.
// Values <= 0 are ignored.
func WithMaxObjectSize(n int) Option {
	return func(c *Cache, _ *int) {
		if n > 0 {
			c.maxObjectSize = n
		}
	}
}

// WithLogger sets the logger used for cache writes and rejections.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Cache, _ *int) {
		c.log = l.With().Str("component", "cache").Logger()
	}
}
