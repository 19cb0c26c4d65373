package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"phishguard/internal/engine"
)

const (
	maxURLLength = 8 << 10
	maxBodyBytes = 64 << 10
)

// DetectResponse is the /detect-url payload. Label is 1 for SAFE and 0 for
// PHISHING; Prob is the model's probability that the URL is safe.
type DetectResponse struct {
	URL        string  `json:"url"`
	Result     string  `json:"result"`
	Confidence float64 `json:"confidence"`
	Label      int     `json:"label"`
	Prob       float64 `json:"prob"`
	Source     string  `json:"source"`
}

type detectRequest struct {
	URL       string   `json:"url"`
	Threshold *float64 `json:"threshold"`
}

func (s *Server) hello(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Hello from phishguard!"})
}

func (s *Server) detectURL(w http.ResponseWriter, r *http.Request) {
	req, err := parseDetectRequest(w, r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	res := s.deps.Engine.Classify(ctx, req.URL, engine.Options{Threshold: req.Threshold})
	if res.Failed() {
		status := http.StatusInternalServerError
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		writeJSON(w, status, res)
		return
	}

	writeJSON(w, http.StatusOK, toDetectResponse(res))
}

func toDetectResponse(res engine.Result) DetectResponse {
	label := 0
	if res.Label == engine.Safe {
		label = 1
	}
	return DetectResponse{
		URL:        res.URL,
		Result:     string(res.Label),
		Confidence: res.Confidence,
		Label:      label,
		Prob:       res.Score,
		Source:     res.Source,
	}
}

// parseDetectRequest reads url and threshold from the query string, falling
// back to a JSON body for POST requests.
func parseDetectRequest(w http.ResponseWriter, r *http.Request) (detectRequest, error) {
	var req detectRequest
	q := r.URL.Query()
	req.URL = q.Get("url")

	if raw := q.Get("threshold"); raw != "" {
		t, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return req, fmt.Errorf("invalid threshold %q", raw)
		}
		req.Threshold = &t
	}

	if isBlank(req.URL) && r.Method == http.MethodPost && r.ContentLength != 0 {
		var body detectRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err := dec.Decode(&body); err != nil {
			return req, fmt.Errorf("invalid request body: %v", err)
		}
		req.URL = body.URL
		if req.Threshold == nil {
			req.Threshold = body.Threshold
		}
	}

	// The URL is classified exactly as sent; surrounding spaces are
	// lexical features.
	switch {
	case isBlank(req.URL):
		return req, errors.New("missing url")
	case len(req.URL) > maxURLLength:
		return req, fmt.Errorf("url longer than %d bytes", maxURLLength)
	case req.Threshold != nil && !engine.ValidThreshold(*req.Threshold):
		return req, fmt.Errorf("threshold %v outside [0, 1]", *req.Threshold)
	}
	return req, nil
}

func isBlank(s string) bool { return strings.TrimSpace(s) == "" }

func (s *Server) blackList(w http.ResponseWriter, r *http.Request) {
	if s.deps.Blacklist == nil {
		writeJSON(w, http.StatusServiceUnavailable, failure("blacklist is disabled"))
		return
	}
	docs, err := s.deps.Blacklist.ListBlacklist(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("listing blacklist failed")
		writeJSON(w, http.StatusInternalServerError, failure(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": docs})
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	if s.deps.Documents == nil {
		writeJSON(w, http.StatusServiceUnavailable, failure("document store is not configured"))
		return
	}
	collection := chi.URLParam(r, "collection")
	id := chi.URLParam(r, "docID")

	doc, err := s.deps.Documents.GetDocument(r.Context(), collection, id)
	if err != nil {
		log.Error().Err(err).Str("collection", collection).Str("id", id).Msg("document lookup failed")
		writeJSON(w, http.StatusInternalServerError, failure(err.Error()))
		return
	}
	if doc == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"success": false,
			"message": fmt.Sprintf("document %s not found in collection %s", id, collection),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": doc})
}

func (s *Server) clearCache(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		writeJSON(w, http.StatusServiceUnavailable, failure("score cache is disabled"))
		return
	}
	n, err := s.deps.Cache.Clear(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("clearing score cache failed")
		writeJSON(w, http.StatusInternalServerError, failure(err.Error()))
		return
	}
	log.Info().Int("deleted", n).Msg("score cache cleared")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": n})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := make(map[string]string, len(s.deps.Checks))
	for name, check := range s.deps.Checks {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := check(ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": state, "checks": checks})
}

func failure(msg string) map[string]any {
	return map[string]any{"success": false, "error": msg}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("writing response failed")
	}
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
