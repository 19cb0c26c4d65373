package updater

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"phishguard/internal/config"
	"phishguard/internal/repository"
)

// Store is where feeds are merged.
type Store interface {
	GetETag(source string) string
	UpdateETag(source, etag string) error
	StreamSync(dataStream <-chan repository.Rule, source string) (int, error)
	SyncUserRules(whitelist []string, blacklist []string) error
}

var client = &http.Client{Timeout: 2 * time.Minute}

// Sync applies the user's blacklist/whitelist and refreshes every feed.
// It reports whether anything changed.
func Sync(ctx context.Context, db Store, cfg config.BlockingConfig) bool {
	if err := db.SyncUserRules(cfg.Whitelist, cfg.Blacklist); err != nil {
		log.Error().Err(err).Msg("failed to sync user rules")
	}
	return Run(ctx, db, cfg.Sources) > 0
}

// Run downloads all sources concurrently and returns how many were
// re-imported. Sources answering 304 Not Modified are skipped.
func Run(ctx context.Context, db Store, sources []config.SourceConfig) int {
	var wg sync.WaitGroup
	var updated atomic.Int32

	for _, src := range sources {
		wg.Add(1)
		// Pass the whole SourceConfig object
		go func(s config.SourceConfig) {
			defer wg.Done()
			if processSource(ctx, db, s) {
				updated.Add(1)
			}
		}(src)
	}

	wg.Wait()
	return int(updated.Load())
}

// Loop runs Sync every interval until ctx is cancelled, calling onUpdate
// after passes that changed the store.
func Loop(ctx context.Context, db Store, cfg config.BlockingConfig, onUpdate func(context.Context) error) {
	if cfg.UpdateInterval <= 0 {
		return
	}
	ticker := time.NewTicker(cfg.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !Sync(ctx, db, cfg) || onUpdate == nil {
				continue
			}
			if err := onUpdate(ctx); err != nil {
				log.Error().Err(err).Msg("reload after feed update failed")
			}
		}
	}
}

func processSource(ctx context.Context, db Store, src config.SourceConfig) bool {
	logger := log.With().Str("source", src.Name).Str("format", src.Format).Logger()
	logger.Info().Msg("checking source")

	// Use Name + URL to ensure unique ETag storage keys
	etagKey := src.Name + "_" + src.URL
	currentETag := db.GetETag(etagKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		logger.Error().Err(err).Msg("invalid source URL")
		return false
	}
	if currentETag != "" {
		req.Header.Set("If-None-Match", currentETag)
	}

	resp, err := client.Do(req)
	if err != nil {
		logger.Error().Err(err).Msg("error fetching source")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		logger.Info().Msg("up to date")
		return false
	}

	if resp.StatusCode != http.StatusOK {
		logger.Error().Int("status", resp.StatusCode).Msg("source fetch failed")
		return false
	}

	// Prepare pipeline
	ruleChan := make(chan repository.Rule, 2000)
	doneChan := make(chan error, 1)
	var count int

	// DB Consumer: src.Name scopes the mark-and-sweep to this feed
	go func() {
		var err error
		count, err = db.StreamSync(ruleChan, src.Name)
		// A store that gave up early must not leave the parser blocked.
		for range ruleChan {
		}
		doneChan <- err
	}()

	// Producer: Pass the full 'src' config so Parser knows how to read it
	repository.ParseAndStream(resp.Body, ruleChan, src)

	if err := <-doneChan; err != nil {
		logger.Error().Err(err).Msg("db error")
		return false
	}
	logger.Info().Int("rules", count).Msg("updated")

	if newETag := resp.Header.Get("ETag"); newETag != "" {
		if err := db.UpdateETag(etagKey, newETag); err != nil {
			logger.Warn().Err(err).Msg("failed to store ETag")
		}
	}
	return true
}
