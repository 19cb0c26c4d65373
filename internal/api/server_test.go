package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"phishguard/internal/config"
	"phishguard/internal/engine"
	"phishguard/internal/repository"
)

type fakeEngine struct {
	mu    sync.Mutex
	calls []string
	opts  []engine.Options
	fn    func(url string, opts engine.Options) engine.Result
}

func (f *fakeEngine) Classify(ctx context.Context, rawURL string, opts engine.Options) engine.Result {
	f.mu.Lock()
	f.calls = append(f.calls, rawURL)
	f.opts = append(f.opts, opts)
	f.mu.Unlock()
	return f.fn(rawURL, opts)
}

func scoring(score float64) func(string, engine.Options) engine.Result {
	return func(url string, opts engine.Options) engine.Result {
		threshold, _ := engine.Policy{Threshold: engine.DefaultThreshold}.Resolve(opts.Threshold)
		label, conf := engine.Decide(score, threshold)
		return engine.Result{URL: url, Label: label, Score: score, Confidence: conf, Source: engine.SourceModel}
	}
}

type fakeStore struct {
	docs map[string]repository.Document
	err  error
}

func (f fakeStore) ListBlacklist(ctx context.Context) ([]repository.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := []repository.Document{}
	for _, d := range f.docs {
		out = append(out, d)
	}
	return out, nil
}

func (f fakeStore) GetDocument(ctx context.Context, collection, id string) (repository.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.docs[collection+"/"+id], nil
}

type fakeCache struct{ n int }

func (f *fakeCache) Clear(ctx context.Context) (int, error) { return f.n, nil }

func newTestServer(t *testing.T, deps Deps, cfg config.APIConfig) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewRouter(deps, cfg))
	t.Cleanup(srv.Close)
	return srv
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHello(t *testing.T) {
	srv := newTestServer(t, Deps{Engine: &fakeEngine{fn: scoring(1)}}, config.APIConfig{})

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	var body map[string]string
	decode(t, resp, &body)
	if resp.StatusCode != http.StatusOK || body["message"] == "" {
		t.Errorf("got %d %v", resp.StatusCode, body)
	}
}

func TestDetectURL(t *testing.T) {
	tests := []struct {
		name      string
		method    string
		query     string
		body      string
		score     float64
		wantCode  int
		wantLabel int
		wantRes   string
		wantConf  float64
	}{
		{"safe via POST query", http.MethodPost, "?url=https://www.google.com", "", 0.9, 200, 1, "SAFE", 0.9},
		{"phishing via GET", http.MethodGet, "?url=http://paypa1-login.xyz/verify", "", 0.1, 200, 0, "PHISHING", 0.9},
		{"score equal to threshold is safe", http.MethodGet, "?url=https://a.example", "", 0.3, 200, 1, "SAFE", 0.3},
		{"threshold override", http.MethodGet, "?url=https://a.example&threshold=0.95", "", 0.9, 200, 0, "PHISHING", 0.1},
		{"json body", http.MethodPost, "", `{"url":"https://b.example","threshold":0.5}`, 0.6, 200, 1, "SAFE", 0.6},
		{"missing url", http.MethodGet, "", "", 0.5, 400, 0, "", 0},
		{"blank url", http.MethodGet, "?url=%20%09", "", 0.5, 400, 0, "", 0},
		{"blank url in body", http.MethodPost, "", `{"url":"  "}`, 0.5, 400, 0, "", 0},
		{"threshold above one", http.MethodGet, "?url=https://a.example&threshold=1.5", "", 0.5, 400, 0, "", 0},
		{"threshold not a number", http.MethodGet, "?url=https://a.example&threshold=high", "", 0.5, 400, 0, "", 0},
		{"malformed body", http.MethodPost, "", `{"url":`, 0.5, 400, 0, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &fakeEngine{fn: scoring(tt.score)}
			srv := newTestServer(t, Deps{Engine: eng}, config.APIConfig{})

			req, _ := http.NewRequest(tt.method, srv.URL+"/detect-url"+tt.query, strings.NewReader(tt.body))
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}

			if resp.StatusCode != tt.wantCode {
				resp.Body.Close()
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				var e map[string]string
				decode(t, resp, &e)
				if e["error"] == "" {
					t.Error("error response without message")
				}
				if len(eng.calls) != 0 {
					t.Error("engine should not run for rejected requests")
				}
				return
			}

			var got DetectResponse
			decode(t, resp, &got)
			if got.Result != tt.wantRes || got.Label != tt.wantLabel {
				t.Errorf("got %s/%d, want %s/%d", got.Result, got.Label, tt.wantRes, tt.wantLabel)
			}
			if diff := got.Confidence - tt.wantConf; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("confidence = %v, want %v", got.Confidence, tt.wantConf)
			}
			if got.Prob != tt.score || got.Source != engine.SourceModel || got.URL == "" {
				t.Errorf("unexpected response %+v", got)
			}
		})
	}
}

func TestDetectURL_ClassifiesURLAsSent(t *testing.T) {
	eng := &fakeEngine{fn: scoring(0.9)}
	srv := newTestServer(t, Deps{Engine: eng}, config.APIConfig{})

	resp, err := http.Get(srv.URL + "/detect-url?url=%20https://a.example/%20")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	resp, err = http.Post(srv.URL+"/detect-url", "application/json", strings.NewReader(`{"url":"https://b.example\t"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	want := []string{" https://a.example/ ", "https://b.example\t"}
	if len(eng.calls) != len(want) {
		t.Fatalf("engine calls = %q", eng.calls)
	}
	for i := range want {
		if eng.calls[i] != want[i] {
			t.Errorf("engine got %q, want %q", eng.calls[i], want[i])
		}
	}
}

func TestDetectURL_EngineFailure(t *testing.T) {
	eng := &fakeEngine{fn: func(url string, _ engine.Options) engine.Result {
		return engine.Result{URL: url, Error: "model failed"}
	}}
	srv := newTestServer(t, Deps{Engine: eng}, config.APIConfig{})

	resp, err := http.Post(srv.URL+"/detect-url?url=https://x.example", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	var body map[string]any
	decode(t, resp, &body)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if body["error"] != "model failed" || body["url"] != "https://x.example" {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["label"]; ok {
		t.Error("failed results must not carry a label")
	}
}

func TestBlackList(t *testing.T) {
	store := fakeStore{docs: map[string]repository.Document{
		"a": {"id": "evil.example", "url": "evil.example"},
	}}
	srv := newTestServer(t, Deps{Engine: &fakeEngine{fn: scoring(1)}, Blacklist: store}, config.APIConfig{})

	resp, err := http.Get(srv.URL + "/black-list")
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		Success bool                  `json:"success"`
		Data    []repository.Document `json:"data"`
	}
	decode(t, resp, &body)
	if !body.Success || len(body.Data) != 1 || body.Data[0]["id"] != "evil.example" {
		t.Errorf("body = %+v", body)
	}

	failing := newTestServer(t, Deps{Engine: &fakeEngine{fn: scoring(1)}, Blacklist: fakeStore{err: errors.New("down")}}, config.APIConfig{})
	resp, err = http.Get(failing.URL + "/black-list")
	if err != nil {
		t.Fatal(err)
	}
	var fail map[string]any
	decode(t, resp, &fail)
	if resp.StatusCode != http.StatusInternalServerError || fail["success"] != false || fail["error"] != "down" {
		t.Errorf("got %d %v", resp.StatusCode, fail)
	}
}

func TestGetDocument(t *testing.T) {
	store := fakeStore{docs: map[string]repository.Document{
		"users/u1": {"id": "u1", "name": "test"},
	}}
	srv := newTestServer(t, Deps{Engine: &fakeEngine{fn: scoring(1)}, Documents: store}, config.APIConfig{})

	resp, err := http.Get(srv.URL + "/document/users/u1")
	if err != nil {
		t.Fatal(err)
	}
	var found map[string]any
	decode(t, resp, &found)
	if resp.StatusCode != http.StatusOK || found["success"] != true {
		t.Errorf("got %d %v", resp.StatusCode, found)
	}

	resp, err = http.Get(srv.URL + "/document/users/missing")
	if err != nil {
		t.Fatal(err)
	}
	var missing map[string]any
	decode(t, resp, &missing)
	if resp.StatusCode != http.StatusNotFound || missing["success"] != false || missing["message"] == nil {
		t.Errorf("got %d %v", resp.StatusCode, missing)
	}
}

func TestOptionalRoutesWithoutBackends(t *testing.T) {
	srv := newTestServer(t, Deps{Engine: &fakeEngine{fn: scoring(1)}}, config.APIConfig{})

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/black-list"},
		{http.MethodGet, "/document/users/u1"},
		{http.MethodPost, "/cache/clear"},
	} {
		req, _ := http.NewRequest(tc.method, srv.URL+tc.path, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("%s %s = %d, want 503", tc.method, tc.path, resp.StatusCode)
		}
	}
}

func TestClearCache(t *testing.T) {
	srv := newTestServer(t, Deps{Engine: &fakeEngine{fn: scoring(1)}, Cache: &fakeCache{n: 7}}, config.APIConfig{})

	resp, err := http.Post(srv.URL+"/cache/clear", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	var body map[string]any
	decode(t, resp, &body)
	if body["success"] != true || body["deleted"] != float64(7) {
		t.Errorf("body = %v", body)
	}
}

func TestHealth(t *testing.T) {
	deps := Deps{
		Engine: &fakeEngine{fn: scoring(1)},
		Checks: map[string]func(context.Context) error{
			"redis":  func(context.Context) error { return nil },
			"sqlite": func(context.Context) error { return errors.New("locked") },
		},
	}
	srv := newTestServer(t, deps, config.APIConfig{})

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	decode(t, resp, &body)
	if resp.StatusCode != http.StatusServiceUnavailable || body.Status != "degraded" {
		t.Errorf("got %d %+v", resp.StatusCode, body)
	}
	if body.Checks["redis"] != "ok" || body.Checks["sqlite"] != "locked" {
		t.Errorf("checks = %v", body.Checks)
	}
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(t, Deps{Engine: &fakeEngine{fn: scoring(1)}}, config.APIConfig{RatePerSecond: 0.001, Burst: 2})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := http.Get(srv.URL + "/detect-url?url=https://a.example")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v", codes)
	}

	// The hello route is not limited.
	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET / = %d", resp.StatusCode)
	}
}

func TestIPLimiter_EvictsIdleClients(t *testing.T) {
	now := time.Unix(0, 0)
	l := newIPLimiter(1, 1)
	l.now = func() time.Time { return now }

	l.get("10.0.0.1")
	now = now.Add(idleLimiterTTL + 2*time.Minute)
	l.get("10.0.0.2")

	if _, ok := l.visitors["10.0.0.1"]; ok {
		t.Error("idle client should have been evicted")
	}
	if len(l.visitors) != 1 {
		t.Errorf("visitors = %d", len(l.visitors))
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, Deps{Engine: &fakeEngine{fn: scoring(1)}}, config.APIConfig{})

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/detect-url", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight = %d %v", resp.StatusCode, resp.Header)
	}
}
