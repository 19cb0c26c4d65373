package main

import (
	"bytes"
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"

	"phishguard/internal/engine"
)

type countingClassifier struct {
	inFlight, peak atomic.Int32
}

func (c *countingClassifier) Classify(ctx context.Context, rawURL string, opts engine.Options) engine.Result {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if strings.Contains(rawURL, "broken") {
		return engine.Result{URL: rawURL, Error: "scan failed"}
	}
	threshold := engine.DefaultThreshold
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}
	label, conf := engine.Decide(0.5, threshold)
	return engine.Result{URL: rawURL, Label: label, Score: 0.5, Confidence: conf, Source: engine.SourceModel}
}

func TestParseCheckFlags(t *testing.T) {
	opts, err := parseCheckFlags([]string{"-threshold", "0.7", "-workers", "2", "https://a.example", "https://b.example"})
	if err != nil {
		t.Fatal(err)
	}
	if opts.threshold == nil || *opts.threshold != 0.7 {
		t.Errorf("threshold = %v", opts.threshold)
	}
	if opts.workers != 2 || len(opts.urls) != 2 {
		t.Errorf("opts = %+v", opts)
	}

	opts, err = parseCheckFlags([]string{"https://a.example"})
	if err != nil {
		t.Fatal(err)
	}
	if opts.threshold != nil {
		t.Error("threshold should be unset when the flag is absent")
	}

	if _, err := parseCheckFlags([]string{"-threshold", "2", "x"}); err == nil {
		t.Error("expected error for threshold above 1")
	}
}

func TestReadURLs(t *testing.T) {
	input := "https://a.example\n\n# comment\n  https://b.example  \n"
	urls, err := readURLs(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	if len(urls) != 2 || urls[0] != "https://a.example" || urls[1] != "https://b.example" {
		t.Errorf("urls = %q", urls)
	}
}

func TestClassifyAll(t *testing.T) {
	urls := []string{"https://a.example", "https://broken.example", "https://c.example", "https://d.example", "https://e.example"}
	high := 0.9
	c := &countingClassifier{}
	var out bytes.Buffer

	failed, err := classifyAll(context.Background(), c, checkOptions{urls: urls, workers: 2, threshold: &high}, &out)
	if err != nil {
		t.Fatal(err)
	}
	if !failed {
		t.Error("a failed URL should be reported")
	}
	if p := c.peak.Load(); p > 2 {
		t.Errorf("%d classifications ran at once, limit is 2", p)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != len(urls) {
		t.Fatalf("got %d lines, want %d", len(lines), len(urls))
	}
	for i, line := range lines {
		var got map[string]any
		if err := json.Unmarshal([]byte(line), &got); err != nil {
			t.Fatalf("line %d: %v", i, err)
		}
		if got["url"] != urls[i] {
			t.Errorf("line %d is %v, want %s (input order)", i, got["url"], urls[i])
		}
		if i == 1 {
			if got["error"] != "scan failed" {
				t.Errorf("failed line = %v", got)
			}
			continue
		}
		if got["label"] != string(engine.Phishing) {
			t.Errorf("threshold override ignored: %v", got)
		}
	}
}
