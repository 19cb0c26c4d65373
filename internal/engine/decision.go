package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"phishguard/internal/analysis"
	"phishguard/internal/urlkey"
)

var ErrUninitialized = errors.New("engine uninitialized")

// Result sources.
const (
	SourceModel     = "model"
	SourceBlacklist = "blacklist"
	SourceCache     = "cache"
)

// Scorer runs the model pipeline for one URL in two steps so a caller's
// deadline can be checked between the fetch and the model.
type Scorer interface {
	Extract(ctx context.Context, rawURL string) (*analysis.Features, error)
	Score(f *analysis.Features) (analysis.Analysis, error)
}

// RuleSource supplies the blocked hosts and URLs.
type RuleSource interface {
	GetBlocklist(ctx context.Context) ([]string, error)
}

// ScoreCache stores model scores by the exact URL string the model saw.
// Labels are not cached so per-call thresholds still apply to cached scores.
type ScoreCache interface {
	Get(ctx context.Context, key string) (float64, bool, error)
	Set(ctx context.Context, key string, score float64) error
}

type Options struct {
	// Threshold overrides the policy threshold for this call. Invalid
	// values are ignored.
	Threshold *float64
}

type Result struct {
	URL        string  `json:"url"`
	Label      Label   `json:"label"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
	StatusCode int     `json:"status_code,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// MarshalJSON emits only {url, error} for failed classifications.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Error != "" {
		return json.Marshal(struct {
			URL   string `json:"url"`
			Error string `json:"error"`
		}{r.URL, r.Error})
	}
	type plain Result
	return json.Marshal(plain(r))
}

func (r Result) Failed() bool { return r.Error != "" }

type Engine struct {
	blacklist *Blacklist
	rules     RuleSource
	scanner   Scorer
	policy    Policy
	cache     ScoreCache

	// Concurrent requests for the same URL share one fetch.
	pendingScans singleflight.Group
}

// Init loads the blacklist from rules (nil disables it) and wires the
// scanner.
func (e *Engine) Init(ctx context.Context, rules RuleSource, scanner Scorer, policy Policy) error {
	if scanner == nil {
		return fmt.Errorf("%w: no scanner", ErrUninitialized)
	}
	e.blacklist = NewBlacklist()
	e.rules = rules
	e.scanner = scanner
	e.policy = policy

	return e.Reload(ctx)
}

// UseCache enables the score cache.
func (e *Engine) UseCache(c ScoreCache) {
	e.cache = c
}

// Reload replaces the in-memory blacklist with the rule source's contents.
func (e *Engine) Reload(ctx context.Context) error {
	if e.blacklist == nil {
		return ErrUninitialized
	}
	if e.rules == nil {
		return nil
	}
	targets, err := e.rules.GetBlocklist(ctx)
	if err != nil {
		log.Error().Err(err).Msg("loading blacklist failed")
		return err
	}
	e.blacklist.Replace(targets)
	log.Info().Int("entries", e.blacklist.Len()).Msg("blacklist loaded")
	return nil
}

func (e *Engine) AddRule(target string) {
	if e.blacklist != nil {
		e.blacklist.Add(target)
	}
}

func (e *Engine) Policy() Policy { return e.policy }

// Classify never panics: every internal failure becomes a Result with Error
// set.
func (e *Engine) Classify(ctx context.Context, rawURL string, opts Options) (res Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("url", rawURL).Interface("panic", r).Msg("classification panicked")
			res = Result{URL: rawURL, Error: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	res, err := e.classify(ctx, rawURL, opts)
	if err != nil {
		log.Warn().Err(err).Str("url", rawURL).Msg("classification failed")
		return Result{URL: rawURL, Error: err.Error()}
	}

	log.Debug().
		Str("url", rawURL).
		Str("domain", urlkey.Registrable(urlkey.Host(rawURL))).
		Str("label", string(res.Label)).
		Float64("score", res.Score).
		Str("source", res.Source).
		Dur("duration", time.Since(start)).
		Msg("classified")
	return res
}

func (e *Engine) classify(ctx context.Context, rawURL string, opts Options) (Result, error) {
	if e.scanner == nil || e.blacklist == nil {
		return Result{}, ErrUninitialized
	}

	threshold, ok := e.policy.Resolve(opts.Threshold)
	if !ok {
		log.Warn().Float64("threshold", *opts.Threshold).Msg("ignoring invalid threshold override")
	}

	// 1. Check RAM (Fast Path)
	if e.blacklist.Blocked(rawURL) {
		return Result{URL: rawURL, Label: Phishing, Score: 0, Confidence: 1, Source: SourceBlacklist}, nil
	}

	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("request abandoned before scoring: %w", err)
	}

	// The model scores the raw string, so two spellings of one page are
	// different inputs and get their own cache entries.
	key := rawURL

	// 2. Previously scored
	if e.cache != nil {
		score, hit, err := e.cache.Get(ctx, key)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("score cache read failed")
		} else if hit {
			return decided(rawURL, score, threshold, SourceCache, 0), nil
		}
	}

	// 3. Model (Slow Path)
	// The fetch outlives any one caller; each caller gives up on its own
	// deadline and never reaches the model after it.
	pending := e.pendingScans.DoChan(key, func() (v any, err error) {
		defer func() {
			// DoChan re-panics on a fresh goroutine, out of Classify's reach.
			if r := recover(); r != nil {
				err = fmt.Errorf("scan panicked: %v", r)
			}
		}()
		return e.scanner.Extract(context.WithoutCancel(ctx), rawURL)
	})
	var extracted singleflight.Result
	select {
	case extracted = <-pending:
	case <-ctx.Done():
		return Result{}, fmt.Errorf("request deadline passed before scoring: %w", ctx.Err())
	}
	if extracted.Err != nil {
		return Result{}, extracted.Err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("request deadline passed before scoring: %w", err)
	}
	a, err := e.scanner.Score(extracted.Val.(*analysis.Features))
	if err != nil {
		return Result{}, err
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, key, a.Score); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("score cache write failed")
		}
	}

	return decided(rawURL, a.Score, threshold, SourceModel, a.StatusCode), nil
}

func decided(rawURL string, score, threshold float64, source string, status int) Result {
	label, confidence := Decide(score, threshold)
	return Result{
		URL:        rawURL,
		Label:      label,
		Score:      score,
		Confidence: confidence,
		Source:     source,
		StatusCode: status,
	}
}
