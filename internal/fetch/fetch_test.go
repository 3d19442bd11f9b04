package fetch

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c := New(Config{
		PageTimeout:     2 * time.Second,
		ResourceTimeout: 2 * time.Second,
		ProbeTimeout:    2 * time.Second,
		UserAgent:       "TestAgent/1.0",
	})
	httpmock.ActivateNonDefault(c.page.GetClient())
	httpmock.ActivateNonDefault(c.raw.GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func TestFetchPageForwardsCallerUserAgent(t *testing.T) {
	c := newTestClient(t)
	var seen string
	httpmock.RegisterResponder(http.MethodGet, "https://example.com/page",
		func(req *http.Request) (*http.Response, error) {
			seen = req.Header.Get("User-Agent")
			return httpmock.NewStringResponse(http.StatusOK, "<html></html>"), nil
		})

	resp, err := c.FetchPage(context.Background(), "https://example.com/page", "Mozilla/5.0")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Mozilla/5.0", seen)
}

func TestFetchPageDefaultUserAgent(t *testing.T) {
	c := newTestClient(t)
	var seen string
	httpmock.RegisterResponder(http.MethodGet, "https://example.com/page",
		func(req *http.Request) (*http.Response, error) {
			seen = req.Header.Get("User-Agent")
			return httpmock.NewStringResponse(http.StatusOK, "ok"), nil
		})

	_, err := c.FetchPage(context.Background(), "https://example.com/page", "   ")
	require.NoError(t, err)
	require.Equal(t, "TestAgent/1.0", seen)
}

func TestFetchPageUpstreamError(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodGet, "https://down.example/",
		httpmock.NewErrorResponder(errors.New("connection refused")))

	_, err := c.FetchPage(context.Background(), "https://down.example/", "")
	require.ErrorIs(t, err, ErrUpstream)
}

func TestFetchPagePassesStatusThrough(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodGet, "https://example.com/missing",
		httpmock.NewStringResponder(http.StatusNotFound, "not here"))

	resp, err := c.FetchPage(context.Background(), "https://example.com/missing", "")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, []byte("not here"), resp.Body)
}

func TestFetchResource(t *testing.T) {
	c := newTestClient(t)
	responder := httpmock.NewStringResponder(http.StatusOK, "binary-bytes")
	responder = responder.HeaderSet(http.Header{"Content-Type": {"application/pdf"}})
	httpmock.RegisterResponder(http.MethodGet, "https://example.com/doc.pdf", responder)

	resp, err := c.FetchResource(context.Background(), "https://example.com/doc.pdf", "")
	require.NoError(t, err)
	require.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	require.Equal(t, []byte("binary-bytes"), resp.Body)
}

func TestProbeHeadersUsesHead(t *testing.T) {
	c := newTestClient(t)
	responder := httpmock.NewStringResponder(http.StatusOK, "")
	responder = responder.HeaderSet(http.Header{"X-Frame-Options": {"DENY"}})
	httpmock.RegisterResponder(http.MethodHead, "https://example.com/", responder)

	headers, err := c.ProbeHeaders(context.Background(), "https://example.com/", "")
	require.NoError(t, err)
	require.Equal(t, "DENY", headers.Get("X-Frame-Options"))
	require.Equal(t, 0, httpmock.GetCallCountInfo()["GET https://example.com/"])
}

func TestProbeFallsBackToGetOnce(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodHead, "https://example.com/",
		httpmock.NewStringResponder(http.StatusMethodNotAllowed, ""))
	getResponder := httpmock.NewStringResponder(http.StatusOK, "body")
	getResponder = getResponder.HeaderSet(http.Header{"Content-Security-Policy": {"frame-ancestors 'none'"}})
	httpmock.RegisterResponder(http.MethodGet, "https://example.com/", getResponder)

	headers, err := c.ProbeHeaders(context.Background(), "https://example.com/", "")
	require.NoError(t, err)
	require.Equal(t, "frame-ancestors 'none'", headers.Get("Content-Security-Policy"))
	require.Equal(t, 1, httpmock.GetCallCountInfo()["GET https://example.com/"])
}

func TestProbeNoFallbackOnTransportError(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodHead, "https://down.example/",
		httpmock.NewErrorResponder(errors.New("dial timeout")))
	httpmock.RegisterResponder(http.MethodGet, "https://down.example/",
		httpmock.NewStringResponder(http.StatusOK, ""))

	_, err := c.ProbeHeaders(context.Background(), "https://down.example/", "")
	require.ErrorIs(t, err, ErrUpstream)
	require.Equal(t, 0, httpmock.GetCallCountInfo()["GET https://down.example/"])
}
