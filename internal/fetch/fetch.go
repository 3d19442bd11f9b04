// Package fetch performs outbound HTTP retrieval on behalf of the proxy and
// the frame-compatibility probe.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultUserAgent identifies the service when the caller supplied no identity.
const DefaultUserAgent = "PageAnnotator/1.0"

// ErrUpstream marks any transport-level failure (DNS, TLS, timeout, reset).
// Callers match it with errors.Is and map it to a gateway-style response.
var ErrUpstream = errors.New("upstream unreachable")

// Config bounds each class of outbound fetch with its own budget.
type Config struct {
	PageTimeout     time.Duration
	ResourceTimeout time.Duration
	ProbeTimeout    time.Duration
	UserAgent       string
}

// Client wraps outbound HTTP retrieval. It never retries beyond the single
// HEAD-to-GET probe fallback.
type Client struct {
	cfg  Config
	page *resty.Client
	raw  *resty.Client
}

// Response is a fully-read upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// FinalURL is the URL after redirects; relative references in an HTML
	// body resolve against it, not the requested URL.
	FinalURL string
}

// New builds a Client from the given budgets, filling in defaults.
func New(cfg Config) *Client {
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 15 * time.Second
	}
	if cfg.ResourceTimeout <= 0 {
		cfg.ResourceTimeout = 20 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	return &Client{
		cfg:  cfg,
		page: resty.New().SetTimeout(cfg.PageTimeout).SetRetryCount(0),
		raw:  resty.New().SetDoNotParseResponse(true).SetRetryCount(0),
	}
}

// FetchPage retrieves the full page body, following redirects.
func (c *Client) FetchPage(ctx context.Context, rawURL, userAgent string) (*Response, error) {
	resp, err := c.page.R().
		SetContext(ctx).
		SetHeader("User-Agent", c.identity(userAgent)).
		Get(rawURL)
	if err != nil {
		return nil, upstreamErr("fetch page", rawURL, err)
	}
	return &Response{
		StatusCode: resp.StatusCode(),
		Header:     resp.Header(),
		Body:       resp.Body(),
		FinalURL:   finalURL(resp, rawURL),
	}, nil
}

// FetchResource retrieves an arbitrary resource unmodified, without response
// parsing, under the resource budget.
func (c *Client) FetchResource(ctx context.Context, rawURL, userAgent string) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ResourceTimeout)
	defer cancel()
	resp, err := c.raw.R().
		SetContext(ctx).
		SetHeader("User-Agent", c.identity(userAgent)).
		Get(rawURL)
	if err != nil {
		return nil, upstreamErr("fetch resource", rawURL, err)
	}
	body := resp.RawBody()
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, upstreamErr("read resource", rawURL, err)
	}
	return &Response{
		StatusCode: resp.StatusCode(),
		Header:     resp.Header(),
		Body:       data,
		FinalURL:   finalURL(resp, rawURL),
	}, nil
}

// ProbeHeaders retrieves only the response headers. It tries HEAD first; if
// the origin answers with method-not-supported or any client/server error
// status it retries once with GET, closing the body as soon as headers are
// available. Transport failures are not retried.
func (c *Client) ProbeHeaders(ctx context.Context, rawURL, userAgent string) (http.Header, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	resp, err := c.raw.R().
		SetContext(ctx).
		SetHeader("User-Agent", c.identity(userAgent)).
		Head(rawURL)
	if err != nil {
		return nil, upstreamErr("probe", rawURL, err)
	}
	discardBody(resp)
	if !needsGetFallback(resp.StatusCode()) {
		return resp.Header(), nil
	}

	resp, err = c.raw.R().
		SetContext(ctx).
		SetHeader("User-Agent", c.identity(userAgent)).
		Get(rawURL)
	if err != nil {
		return nil, upstreamErr("probe fallback", rawURL, err)
	}
	discardBody(resp)
	return resp.Header(), nil
}

func (c *Client) identity(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return c.cfg.UserAgent
	}
	return userAgent
}

func needsGetFallback(status int) bool {
	return status == http.StatusMethodNotAllowed ||
		status == http.StatusNotImplemented ||
		status >= http.StatusBadRequest
}

func discardBody(resp *resty.Response) {
	if body := resp.RawBody(); body != nil {
		_ = body.Close()
	}
}

func finalURL(resp *resty.Response, fallback string) string {
	if raw := resp.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		return raw.Request.URL.String()
	}
	return fallback
}

func upstreamErr(op, rawURL string, err error) error {
	return fmt.Errorf("%s %s: %w: %s", op, rawURL, ErrUpstream, err)
}
