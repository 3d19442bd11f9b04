package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-annotator/internal/annotation"
	"github.com/JakeFAU/page-annotator/internal/frame"
	"github.com/JakeFAU/page-annotator/internal/rewrite"
	"github.com/JakeFAU/page-annotator/internal/telemetry"
)

func (s *Server) getState(w http.ResponseWriter, _ *http.Request) {
	cfg := s.app.Config()
	store := s.app.Store()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"config":      cfg.ClientView(),
		"entries":     store.FormattedEntries(),
		"annotations": store.AnnotationsForClient(),
		"annotators":  store.AnnotatorsForClient(),
	})
}

func (s *Server) getAnnotation(w http.ResponseWriter, r *http.Request) {
	store := s.app.Store()
	id, ok := s.resolveEntryID(w, r)
	if !ok {
		return
	}
	if _, err := store.Entry(id); err != nil || !store.Visible(id) {
		s.writeError(w, http.StatusNotFound, "unknown entry")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"values":    store.Annotation(id),
		"annotator": store.Annotator(id),
	})
}

type annotationPayload struct {
	Values    map[string]annotation.FieldValue `json:"values"`
	Annotator string                           `json:"annotator"`
}

func (s *Server) saveAnnotation(w http.ResponseWriter, r *http.Request) {
	store := s.app.Store()
	id, ok := s.resolveEntryID(w, r)
	if !ok {
		return
	}
	var payload annotationPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Values == nil {
		telemetry.ObserveSave("bad_request")
		s.writeError(w, http.StatusBadRequest, "missing annotation values")
		return
	}
	annotator := strings.TrimSpace(payload.Annotator)
	saved, err := store.Save(id, payload.Values, annotator)
	switch {
	case errors.Is(err, annotation.ErrEntryNotFound), errors.Is(err, annotation.ErrEntryNotVisible):
		telemetry.ObserveSave("not_found")
		s.writeError(w, http.StatusNotFound, "invalid entry id")
		return
	case err != nil:
		telemetry.ObserveSave("error")
		s.logger.Error("save annotation failed", zap.Int("entry_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to persist annotation")
		return
	}
	telemetry.ObserveSave("ok")
	s.writeJSON(w, http.StatusOK, map[string]any{
		"values":    saved,
		"annotator": annotator,
	})
}

func (s *Server) proxyEntry(w http.ResponseWriter, r *http.Request) {
	store := s.app.Store()
	id, ok := s.resolveEntryID(w, r)
	if !ok {
		return
	}
	entry, err := store.Entry(id)
	if err != nil || !store.Visible(id) {
		s.writeError(w, http.StatusNotFound, "unknown entry")
		return
	}

	start := time.Now()
	resp, err := s.fetcher.FetchPage(r.Context(), entry.URL, r.UserAgent())
	telemetry.ObserveUpstream("page", time.Since(start))
	if err != nil {
		telemetry.ObserveProxyPage(entry.URL, "upstream_error")
		s.logger.Warn("proxy fetch failed", zap.String("url", entry.URL), zap.Error(err))
		s.writeError(w, http.StatusBadGateway, "unable to load proxied content")
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/html"
	}
	body := resp.Body
	if strings.Contains(contentType, "text/html") {
		result := rewrite.Rewrite(resp.FinalURL, body, contentType)
		if !result.Rewritten {
			s.logger.Debug("serving unrewritten body", zap.String("url", resp.FinalURL))
		}
		body = result.Body
	}
	telemetry.ObserveProxyPage(entry.URL, "ok")

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Frame-Options", "SAMEORIGIN")
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(body); err != nil {
		s.logger.Debug("write proxied body failed", zap.Error(err))
	}
}

func (s *Server) proxyResource(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		s.writeError(w, http.StatusBadRequest, "missing 'url' parameter")
		return
	}
	if !allowedScheme(target) {
		s.writeError(w, http.StatusBadRequest, "unsupported URL scheme")
		return
	}

	start := time.Now()
	resp, err := s.fetcher.FetchResource(r.Context(), target, r.UserAgent())
	telemetry.ObserveUpstream("resource", time.Since(start))
	if err != nil {
		s.logger.Warn("resource fetch failed", zap.String("url", target), zap.Error(err))
		s.writeError(w, http.StatusBadGateway, "unable to load resource")
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(resp.Body); err != nil {
		s.logger.Debug("write resource body failed", zap.Error(err))
	}
}

func (s *Server) frameCheck(w http.ResponseWriter, r *http.Request) {
	store := s.app.Store()
	id, ok := s.resolveEntryID(w, r)
	if !ok {
		return
	}
	entry, err := store.Entry(id)
	if err != nil || !store.Visible(id) {
		s.writeError(w, http.StatusNotFound, "unknown entry")
		return
	}

	start := time.Now()
	headers, err := s.fetcher.ProbeHeaders(r.Context(), entry.URL, r.UserAgent())
	telemetry.ObserveUpstream("probe", time.Since(start))
	if err != nil {
		s.logger.Warn("header probe failed", zap.String("url", entry.URL), zap.Error(err))
		s.writeError(w, http.StatusBadGateway, "failed to inspect headers")
		return
	}
	s.writeJSON(w, http.StatusOK, frame.Check(headers))
}

func (s *Server) reload(w http.ResponseWriter, _ *http.Request) {
	if err := s.app.Reload(); err != nil {
		s.logger.Error("reload failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "reload failed: "+err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

// resolveEntryID parses the id route parameter. A non-numeric id is reported
// the same way as an unknown one.
func (s *Server) resolveEntryID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "unknown entry")
		return 0, false
	}
	return id, true
}

func allowedScheme(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return parsed.Scheme == "http" || parsed.Scheme == "https"
}
