package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-annotator/internal/app"
	"github.com/JakeFAU/page-annotator/internal/fetch"
	"github.com/JakeFAU/page-annotator/internal/telemetry"
)

type fakeFetcher struct {
	pageResp     *fetch.Response
	resourceResp *fetch.Response
	probeHeaders http.Header
	err          error

	lastURL string
	lastUA  string
}

func (f *fakeFetcher) FetchPage(_ context.Context, rawURL, userAgent string) (*fetch.Response, error) {
	f.lastURL, f.lastUA = rawURL, userAgent
	if f.err != nil {
		return nil, f.err
	}
	return f.pageResp, nil
}

func (f *fakeFetcher) FetchResource(_ context.Context, rawURL, userAgent string) (*fetch.Response, error) {
	f.lastURL, f.lastUA = rawURL, userAgent
	if f.err != nil {
		return nil, f.err
	}
	return f.resourceResp, nil
}

func (f *fakeFetcher) ProbeHeaders(_ context.Context, rawURL, userAgent string) (http.Header, error) {
	f.lastURL, f.lastUA = rawURL, userAgent
	if f.err != nil {
		return nil, f.err
	}
	return f.probeHeaders, nil
}

const testConfigTemplate = `server:
  port: 5000
data_file: data.csv
annotation_output: annotations.csv
annotator_column: annotator
%s
viewer:
  url_column: url
annotation_fields:
  - name: rating
    label: Rating
  - name: tags
    label: Tags
    separator: ","
`

func newTestServer(t *testing.T, fetcher Fetcher, filterYAML string) (*Server, string) {
	t.Helper()
	telemetry.Init()

	dir := t.TempDir()
	data := "url,annotator\nhttps://a.example/,alice\nhttps://b.example/,bob\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.csv"), []byte(data), 0o600))
	configPath := filepath.Join(dir, "annotator.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(fmt.Sprintf(testConfigTemplate, filterYAML)), 0o600))

	application, err := app.New(configPath, zap.NewNop())
	require.NoError(t, err)
	return NewServer(application, fetcher, zap.NewNop()), dir
}

func doRequest(s *Server, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	s, _ := newTestServer(t, &fakeFetcher{}, "")
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := doRequest(s, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
	rec := doRequest(s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGetState(t *testing.T) {
	s, _ := newTestServer(t, &fakeFetcher{}, "")
	rec := doRequest(s, http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Config      map[string]any    `json:"config"`
		Entries     []map[string]any  `json:"entries"`
		Annotations map[string]any    `json:"annotations"`
		Annotators  map[string]string `json:"annotators"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Entries, 2)
	require.Contains(t, payload.Config, "annotationFields")
	require.Equal(t, "alice", payload.Annotators["0"])
}

func TestGetStateFiltered(t *testing.T) {
	s, _ := newTestServer(t, &fakeFetcher{}, "annotator_filter: [bob]")
	rec := doRequest(s, http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Entries []map[string]any `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Entries, 1)
	require.Equal(t, float64(1), payload.Entries[0]["id"])
}

func TestGetAnnotation(t *testing.T) {
	s, _ := newTestServer(t, &fakeFetcher{}, "")
	rec := doRequest(s, http.MethodGet, "/api/annotation/0", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Values    map[string]string `json:"values"`
		Annotator string            `json:"annotator"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, "alice", payload.Annotator)
}

func TestGetAnnotationUnknownEntry(t *testing.T) {
	s, _ := newTestServer(t, &fakeFetcher{}, "")
	for _, id := range []string{"99", "abc", "-1"} {
		rec := doRequest(s, http.MethodGet, "/api/annotation/"+id, "")
		require.Equal(t, http.StatusNotFound, rec.Code, "id %s", id)
	}
}

func TestSaveAnnotation(t *testing.T) {
	s, dir := newTestServer(t, &fakeFetcher{}, "")
	body := `{"values":{"rating":"good","tags":["a","b"]},"annotator":" carol "}`
	rec := doRequest(s, http.MethodPost, "/api/annotation/1", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Values    map[string]string `json:"values"`
		Annotator string            `json:"annotator"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, "good", payload.Values["rating"])
	require.Equal(t, "a,b", payload.Values["tags"])
	require.Equal(t, "carol", payload.Annotator)
	require.FileExists(t, filepath.Join(dir, "annotations.csv"))
}

func TestSaveAnnotationMissingValues(t *testing.T) {
	s, _ := newTestServer(t, &fakeFetcher{}, "")
	for _, body := range []string{"", "{}", `{"annotator":"x"}`, "not-json"} {
		rec := doRequest(s, http.MethodPost, "/api/annotation/0", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
	}
}

func TestSaveAnnotationInvisibleEntry(t *testing.T) {
	s, _ := newTestServer(t, &fakeFetcher{}, "annotator_filter: [alice]")
	body := `{"values":{"rating":"good"}}`
	rec := doRequest(s, http.MethodPost, "/api/annotation/1", body)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProxyEntryRewritesHTML(t *testing.T) {
	fetcher := &fakeFetcher{pageResp: &fetch.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:       []byte(`<html><head></head><body><img src="pic.png"></body></html>`),
		FinalURL:   "https://a.example/landed/",
	}}
	s, _ := newTestServer(t, fetcher, "")

	req := httptest.NewRequest(http.MethodGet, "/api/proxy/0", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "https://a.example/", fetcher.lastURL)
	require.Equal(t, "Mozilla/5.0", fetcher.lastUA)
	require.Equal(t, "SAMEORIGIN", rec.Header().Get("X-Frame-Options"))
	// Relative references resolve against the redirected URL.
	require.Contains(t, rec.Body.String(), "https://a.example/landed/pic.png")
}

func TestProxyEntryNonHTMLPassthrough(t *testing.T) {
	raw := []byte{0x25, 0x50, 0x44, 0x46}
	fetcher := &fakeFetcher{pageResp: &fetch.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"application/pdf"}},
		Body:       raw,
		FinalURL:   "https://a.example/",
	}}
	s, _ := newTestServer(t, fetcher, "")
	rec := doRequest(s, http.MethodGet, "/api/proxy/0", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	require.Equal(t, raw, rec.Body.Bytes())
}

func TestProxyEntryUpstreamFailure(t *testing.T) {
	s, _ := newTestServer(t, &fakeFetcher{err: fetch.ErrUpstream}, "")
	rec := doRequest(s, http.MethodGet, "/api/proxy/0", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestProxyEntryPassesUpstreamStatus(t *testing.T) {
	fetcher := &fakeFetcher{pageResp: &fetch.Response{
		StatusCode: http.StatusNotFound,
		Header:     http.Header{"Content-Type": {"text/html"}},
		Body:       []byte("<html><body>not found</body></html>"),
		FinalURL:   "https://a.example/",
	}}
	s, _ := newTestServer(t, fetcher, "")
	rec := doRequest(s, http.MethodGet, "/api/proxy/0", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProxyEntryInvisible(t *testing.T) {
	s, _ := newTestServer(t, &fakeFetcher{}, "annotator_filter: [alice]")
	rec := doRequest(s, http.MethodGet, "/api/proxy/1", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProxyResource(t *testing.T) {
	fetcher := &fakeFetcher{resourceResp: &fetch.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"application/pdf"}},
		Body:       []byte("pdf-bytes"),
	}}
	s, _ := newTestServer(t, fetcher, "")
	rec := doRequest(s, http.MethodGet, "/api/proxy/resource?url=https%3A%2F%2Fa.example%2Fdoc.pdf", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "https://a.example/doc.pdf", fetcher.lastURL)
	require.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	require.Equal(t, "pdf-bytes", rec.Body.String())
}

func TestProxyResourceRejectsBadInput(t *testing.T) {
	s, _ := newTestServer(t, &fakeFetcher{}, "")
	for _, target := range []string{
		"/api/proxy/resource",
		"/api/proxy/resource?url=ftp%3A%2F%2Fa.example%2Fx",
		"/api/proxy/resource?url=javascript%3Aalert(1)",
	} {
		rec := doRequest(s, http.MethodGet, target, "")
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestProxyResourceDefaultsContentType(t *testing.T) {
	fetcher := &fakeFetcher{resourceResp: &fetch.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       []byte("x"),
	}}
	s, _ := newTestServer(t, fetcher, "")
	rec := doRequest(s, http.MethodGet, "/api/proxy/resource?url=https%3A%2F%2Fa.example%2Fblob", "")
	require.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
}

func TestFrameCheck(t *testing.T) {
	fetcher := &fakeFetcher{probeHeaders: http.Header{"X-Frame-Options": {"DENY"}}}
	s, _ := newTestServer(t, fetcher, "")
	rec := doRequest(s, http.MethodGet, "/api/frame-check/0", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var decision struct {
		Blocked bool   `json:"blocked"`
		Reason  string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	require.True(t, decision.Blocked)
	require.Equal(t, "xfo:deny", decision.Reason)
}

func TestFrameCheckProbeFailure(t *testing.T) {
	s, _ := newTestServer(t, &fakeFetcher{err: fetch.ErrUpstream}, "")
	rec := doRequest(s, http.MethodGet, "/api/frame-check/0", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestReload(t *testing.T) {
	s, dir := newTestServer(t, &fakeFetcher{}, "")

	// Grow the dataset on disk, then reload.
	data := "url,annotator\nhttps://a.example/,alice\nhttps://b.example/,bob\nhttps://c.example/,carol\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.csv"), []byte(data), 0o600))

	rec := doRequest(s, http.MethodPost, "/api/reload", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(s, http.MethodGet, "/api/state", "")
	var payload struct {
		Entries []map[string]any `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Entries, 3)
}

func TestReloadKeepsStateOnFailure(t *testing.T) {
	s, dir := newTestServer(t, &fakeFetcher{}, "")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.csv"), []byte("url\n"), 0o600))

	rec := doRequest(s, http.MethodPost, "/api/reload", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = doRequest(s, http.MethodGet, "/api/state", "")
	var payload struct {
		Entries []map[string]any `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Entries, 2)
}

func TestRequestIDHeader(t *testing.T) {
	s, _ := newTestServer(t, &fakeFetcher{}, "")
	rec := doRequest(s, http.MethodGet, "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
