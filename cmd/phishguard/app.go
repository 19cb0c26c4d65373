package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"phishguard/internal/analysis"
	"phishguard/internal/api"
	"phishguard/internal/cache"
	"phishguard/internal/config"
	"phishguard/internal/engine"
	"phishguard/internal/inference"
	"phishguard/internal/repository"
	"phishguard/internal/updater"
)

// app owns everything main starts and must shut down.
type app struct {
	bundle    *inference.Bundle
	engine    *engine.Engine
	rules     *repository.BlacklistDB
	documents *repository.DocumentStore
	cache     *cache.ScoreCache
	onnx      bool
}

// newApp loads the model and connects the stores. Feeds are synced before
// the blacklist is loaded when syncFeeds is set.
func newApp(ctx context.Context, cfg *config.Config, syncFeeds bool) (*app, error) {
	a := &app{}

	if cfg.Model.Backend == inference.BackendONNX {
		if err := inference.InitONNX(cfg.Model.ONNXLibrary); err != nil {
			return nil, fmt.Errorf("onnx runtime init failed: %w", err)
		}
		a.onnx = true
	}

	bundle, err := inference.LoadBundle(cfg.Model.Dir, inference.BundleConfig{
		Backend: cfg.Model.Backend,
		MaxLen:  cfg.Model.MaxLen,
		Names: inference.ONNXNames{
			URLInput: cfg.Model.URLInput,
			NumInput: cfg.Model.NumInput,
			Output:   cfg.Model.Output,
		},
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("loading model bundle from %s: %w", cfg.Model.Dir, err)
	}
	a.bundle = bundle
	log.Info().
		Str("dir", cfg.Model.Dir).
		Str("backend", cfg.Model.Backend).
		Int("features", bundle.Schema.Len()).
		Int("vocab", bundle.Tokenizer.VocabSize()).
		Msg("model bundle loaded")
	if unknown := bundle.Schema.Unknown(); len(unknown) > 0 {
		log.Warn().Strs("features", unknown).Msg("schema lists features no extractor produces; they will be 0")
	}

	fetcher := analysis.NewFetcher(analysis.FetcherConfig{
		Timeout:              cfg.Fetch.Timeout,
		MaxBodyBytes:         cfg.Fetch.MaxBodyBytes,
		UserAgent:            cfg.Fetch.UserAgent,
		BlockPrivateNetworks: cfg.Fetch.BlockPrivateNetworks,
	})
	scanner := analysis.NewScanner(bundle, fetcher)

	policy, err := engine.NewPolicy(cfg.Model.Threshold)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Mongo.URI != "" {
		store, err := repository.NewDocumentStore(cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.Collection)
		switch {
		case err == nil:
			a.documents = store
			log.Info().Str("database", cfg.Mongo.Database).Msg("document store connected")
		case cfg.Blocking.Enabled && cfg.Blocking.Backend == "mongo":
			a.Close()
			return nil, err
		default:
			log.Warn().Err(err).Msg("document store unavailable, /document is disabled")
		}
	}

	var rules engine.RuleSource
	if cfg.Blocking.Enabled {
		switch cfg.Blocking.Backend {
		case "sqlite":
			db, err := openBlacklistDB(cfg.Blocking.DBPath)
			if err != nil {
				a.Close()
				return nil, err
			}
			a.rules = db
			rules = db
			if syncFeeds {
				log.Info().Msg("checking for updates")
				updater.Sync(ctx, db, cfg.Blocking)
			}
		case "mongo":
			rules = a.documents
		}
	}

	a.engine = &engine.Engine{}
	if err := a.engine.Init(ctx, rules, scanner, policy); err != nil {
		a.Close()
		return nil, fmt.Errorf("could not initialize engine: %w", err)
	}
	log.Info().Float64("threshold", policy.Threshold).Msg("engine initialized")

	if cfg.Cache.RedisAddr != "" {
		c, err := cache.NewScoreCache(cfg.Cache)
		if err != nil {
			log.Warn().Err(err).Msg("score cache unavailable, continuing without it")
		} else {
			a.cache = c
			a.engine.UseCache(c)
		}
	}

	return a, nil
}

func openBlacklistDB(path string) (*repository.BlacklistDB, error) {
	db := &repository.BlacklistDB{}
	if err := db.InitDB(path); err != nil {
		return nil, fmt.Errorf("could not initialize database: %w", err)
	}
	log.Info().Str("path", path).Msg("database initialized")
	return db, nil
}

// apiDeps only sets the optional dependencies that exist.
func (a *app) apiDeps() api.Deps {
	deps := api.Deps{
		Engine: a.engine,
		Checks: map[string]func(context.Context) error{},
	}
	if a.rules != nil {
		deps.Blacklist = a.rules
		deps.Checks["sqlite"] = a.rules.Ping
	}
	if a.documents != nil {
		if deps.Blacklist == nil {
			deps.Blacklist = a.documents
		}
		deps.Documents = a.documents
		deps.Checks["mongodb"] = a.documents.Ping
	}
	if a.cache != nil {
		deps.Cache = a.cache
		deps.Checks["redis"] = a.cache.Ping
	}
	return deps
}

func (a *app) Close() {
	if a.cache != nil {
		a.cache.Close()
	}
	if a.documents != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.documents.Close(ctx); err != nil {
			log.Warn().Err(err).Msg("closing document store failed")
		}
		cancel()
	}
	if a.rules != nil {
		a.rules.Close()
	}
	if a.bundle != nil {
		a.bundle.Close()
	}
	if a.onnx {
		inference.CleanupONNX()
	}
}
