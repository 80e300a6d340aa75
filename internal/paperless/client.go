// Package paperless is the Paperless-ngx REST client used by the
// reconciler, tag directory and sweep driver.
package paperless

import (
	"context"
	"net/url"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/agentstation/ownertag/internal/transport"
	"github.com/agentstation/ownertag/pkg/constants"
	"github.com/agentstation/ownertag/pkg/logging"
)

// Client talks to one Paperless-ngx instance.
type Client struct {
	http     *transport.Client
	logger   *zerolog.Logger
	pageSize int
	tagColor string
	timeout  time.Duration

	users   *gocache.Cache
	flights singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPageSize sets the page size requested from list endpoints.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithTagColor sets the colour of tags created by the client.
func WithTagColor(color string) Option {
	return func(c *Client) {
		if color != "" {
			c.tagColor = color
		}
	}
}

// WithTimeout bounds shared lookups, which run detached from the
// cancellation of the caller that started them.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithUserCacheTTL bounds how long a resolved username is reused.
func WithUserCacheTTL(ttl time.Duration) Option {
	return func(c *Client) {
		if ttl > 0 {
			c.users = gocache.New(ttl, 2*ttl)
		}
	}
}

// New creates a Client on top of an authenticated transport.
func New(http *transport.Client, opts ...Option) *Client {
	c := &Client{
		http:     http,
		logger:   logging.Default(),
		pageSize: constants.DefaultPageSize,
		tagColor: constants.DefaultTagColor,
		timeout:  constants.DefaultHTTPTimeout,
		users:    gocache.New(constants.DefaultUserCacheTTL, 2*constants.DefaultUserCacheTTL),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ping checks connectivity and credentials with the cheapest
// authenticated request.
func (c *Client) Ping(ctx context.Context) error {
	var page listPage[User]
	return c.http.Get(ctx, "/api/users/?page_size=1", &page)
}

// listPage is the envelope of every Paperless list endpoint.
type listPage[T any] struct {
	Count   int     `json:"count"`
	Next    *string `json:"next"`
	Results []T     `json:"results"`
}

// listAll follows next links from first and collects every result.
func listAll[T any](ctx context.Context, c *Client, first string) ([]T, error) {
	var out []T
	next := first
	for next != "" {
		var page listPage[T]
		if err := c.http.Get(ctx, next, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Results...)

		next = ""
		if page.Next != nil {
			next = *page.Next
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func query(pairs ...string) string {
	v := url.Values{}
	for i := 0; i+1 < len(pairs); i += 2 {
		v.Set(pairs[i], pairs[i+1])
	}
	return v.Encode()
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
