package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"phishguard/internal/api"
	"phishguard/internal/config"
	"phishguard/internal/updater"
)

const usage = `usage: phishguard [command] [flags]

commands:
  serve                            run the detection API (default)
  check [-threshold t] [-f file] [-workers n] url...
                                   classify URLs and print one JSON result per line
  sync                             refresh blacklist feeds once and exit
`

func main() {
	setupLogger("info", "console")

	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	log.Info().Str("log_level", cfg.App.LogLevel).Msg("configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "serve":
		err = runServe(ctx, cfg)
	case "check":
		var failed bool
		failed, err = runCheck(ctx, cfg, args, os.Stdout)
		if err == nil && failed {
			stop()
			os.Exit(1)
		}
	case "sync":
		err = runSync(ctx, cfg)
	case "help", "-h", "--help":
		fmt.Fprint(os.Stderr, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		stop()
		log.Fatal().Err(err).Str("command", cmd).Msg("phishguard failed")
	}
}

func setupLogger(level, format string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	if format == "console" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func runServe(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.rules != nil && cfg.Blocking.Enabled {
		go updater.Loop(ctx, a.rules, cfg.Blocking, a.engine.Reload)
	} else if a.documents != nil && cfg.Blocking.Enabled && cfg.Blocking.Backend == "mongo" {
		go reloadLoop(ctx, cfg.Blocking.UpdateInterval, a.engine.Reload)
	}

	srv := api.NewHTTPServer(cfg.App.ListenAddr, api.NewRouter(a.apiDeps(), cfg.API))

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown failed")
		}
	}()

	log.Info().Str("addr", cfg.App.ListenAddr).Msg("phishguard is running")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	log.Info().Msg("server stopped")
	return nil
}

func runSync(ctx context.Context, cfg *config.Config) error {
	if cfg.Blocking.Backend != "sqlite" {
		return fmt.Errorf("feed sync needs the sqlite backend, configured backend is %q", cfg.Blocking.Backend)
	}
	db, err := openBlacklistDB(cfg.Blocking.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	log.Info().Int("sources", len(cfg.Blocking.Sources)).Msg("checking for updates")
	changed := updater.Sync(ctx, db, cfg.Blocking)
	log.Info().Bool("changed", changed).Msg("sync finished")
	return nil
}

// reloadLoop refreshes the in-memory blacklist from a remote store on a
// fixed interval.
func reloadLoop(ctx context.Context, interval time.Duration, reload func(context.Context) error) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := reload(ctx); err != nil {
				log.Error().Err(err).Msg("periodic blacklist reload failed")
			}
		}
	}
}
