package analysis

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"phishguard/internal/features"
	"phishguard/internal/inference"
)

// Analysis is the model's view of one URL.
type Analysis struct {
	Score      float64
	StatusCode int  // 0 when no page was retrieved
	Fetched    bool // false means every page feature defaulted to 0
}

// Features is one URL ready for the model. Predict only reads it, so
// concurrent callers may score the same Features.
type Features struct {
	Tokens     []int32
	Scaled     []float64
	StatusCode int
	Fetched    bool
}

// Scanner runs the scoring pipeline: fetch and page features in parallel
// with URL features and tokenization, then vector assembly, scaling and
// the model.
type Scanner struct {
	bundle  *inference.Bundle
	fetcher PageFetcher
}

func NewScanner(bundle *inference.Bundle, fetcher PageFetcher) *Scanner {
	return &Scanner{bundle: bundle, fetcher: fetcher}
}

// Scan is Extract followed by Score. A context that ends during the fetch
// fails the scan before the model runs.
func (s *Scanner) Scan(ctx context.Context, rawURL string) (Analysis, error) {
	f, err := s.Extract(ctx, rawURL)
	if err != nil {
		return Analysis{}, err
	}
	if err := ctx.Err(); err != nil {
		return Analysis{}, fmt.Errorf("deadline passed before scoring: %w", err)
	}
	return s.Score(f)
}

// Extract fetches the page and builds the model inputs for rawURL.
func (s *Scanner) Extract(ctx context.Context, rawURL string) (*Features, error) {
	var (
		f          Features
		lexical    features.Partial
		structural features.Partial
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(guard(func() {
		page := s.fetcher.Fetch(gctx, rawURL)
		if page == nil {
			return
		}
		f.Fetched = true
		f.StatusCode = page.StatusCode
		structural = features.ExtractStructural(page.HTML, rawURL)
	}))
	g.Go(guard(func() {
		lexical = features.ExtractLexical(rawURL)
		f.Tokens = s.bundle.Tokenizer.Encode(rawURL)
	}))
	if err := g.Wait(); err != nil {
		return nil, err
	}

	vec := s.bundle.Schema.Build(lexical, structural)
	scaled, err := s.bundle.Scaler.Transform(vec)
	if err != nil {
		return nil, fmt.Errorf("scale features: %w", err)
	}
	f.Scaled = scaled
	return &f, nil
}

// Score runs the model on extracted features.
func (s *Scanner) Score(f *Features) (Analysis, error) {
	score, err := s.bundle.Model.Predict(f.Tokens, f.Scaled)
	if err != nil {
		return Analysis{}, fmt.Errorf("predict: %w", err)
	}
	if math.IsNaN(score) || score < 0 || score > 1 {
		return Analysis{}, fmt.Errorf("model returned invalid score %v", score)
	}
	return Analysis{Score: score, StatusCode: f.StatusCode, Fetched: f.Fetched}, nil
}

// guard turns a panic in an errgroup task into an error; recover in the
// caller cannot see other goroutines.
func guard(fn func()) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("analysis task panicked: %v", r)
			}
		}()
		fn()
		return nil
	}
}
