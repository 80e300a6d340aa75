// Package transport is the HTTP layer shared by the document service
// client: authentication, request pacing, JSON bodies and error mapping.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/agentstation/ownertag/pkg/constants"
	"github.com/agentstation/ownertag/pkg/errors"
)

// DefaultHTTPTimeout is the default timeout for HTTP requests.
var DefaultHTTPTimeout = constants.DefaultHTTPTimeout

// Client sends authenticated JSON requests to one base URL.
type Client struct {
	base      *url.URL
	token     string
	http      *http.Client
	auth      Authenticator
	limiter   *rate.Limiter
	userAgent string
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

// WithAuthenticator replaces the default token authenticator.
func WithAuthenticator(auth Authenticator) Option {
	return func(c *Client) {
		if auth != nil {
			c.auth = auth
		}
	}
}

// WithRateLimit paces requests to rps per second with the given burst.
// A non-positive rps disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// New creates a client for baseURL authenticating with token.
func New(baseURL, token string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, errors.NewValidationError("url", baseURL, err.Error())
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.NewValidationError("url", baseURL, "must be an http or https URL")
	}
	if base.Host == "" {
		return nil, errors.NewValidationError("url", baseURL, "must include a host")
	}

	c := &Client{
		base:    base,
		token:   token,
		http:    &http.Client{Timeout: DefaultHTTPTimeout},
		auth:    &TokenAuth{},
		limiter: rate.NewLimiter(rate.Limit(constants.DefaultRequestsPerSecond), constants.DefaultRequestBurst),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Resolve turns a path or an absolute URL into a URL on the base host.
// Absolute URLs keep their path and query but take the base scheme and
// host, so pagination links built behind a reverse proxy still work.
func (c *Client) Resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", errors.NewValidationError("url", ref, err.Error())
	}
	if u.IsAbs() {
		out := *c.base
		out.Path = u.Path
		out.RawPath = u.RawPath
		out.RawQuery = u.RawQuery
		return out.String(), nil
	}

	out := *c.base
	path := u.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	out.Path = strings.TrimRight(c.base.Path, "/") + path
	out.RawQuery = u.RawQuery
	return out.String(), nil
}

// Do sends a request with authentication applied. body, when non-nil, is
// sent as JSON. Network failures and deadlines are returned as
// *errors.TransientError; the caller owns the response body.
func (c *Client) Do(ctx context.Context, method, ref string, body any) (*http.Response, error) {
	target, err := c.Resolve(ref)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.WrapParse("json", "request body", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, errors.NewValidationError("request", method+" "+target, err.Error())
	}

	if c.token != "" {
		c.auth.Apply(req, c.token)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	op := method + " " + req.URL.Path
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, requestError(ctx, op, err)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, requestError(ctx, op, err)
	}
	return resp, nil
}

// requestError classifies a failed send. Cancellation is returned as is so
// callers can stop; deadlines and network failures are worth retrying.
func requestError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.WrapContext(op, ctxErr)
	}
	return errors.WrapTransient(op, err)
}

// Get fetches ref and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, ref string, out any) error {
	return c.send(ctx, http.MethodGet, ref, nil, out)
}

// Post sends in as JSON and decodes the response into out.
func (c *Client) Post(ctx context.Context, ref string, in, out any) error {
	return c.send(ctx, http.MethodPost, ref, in, out)
}

// Patch sends in as JSON and decodes the response into out.
func (c *Client) Patch(ctx context.Context, ref string, in, out any) error {
	return c.send(ctx, http.MethodPatch, ref, in, out)
}

func (c *Client) send(ctx context.Context, method, ref string, in, out any) error {
	resp, err := c.Do(ctx, method, ref, in)
	if err != nil {
		return err
	}
	return DecodeResponse(resp, out)
}
