package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"phishguard/internal/config"
	"phishguard/internal/engine"
)

// classifier is the engine as the check command sees it.
type classifier interface {
	Classify(ctx context.Context, rawURL string, opts engine.Options) engine.Result
}

type checkOptions struct {
	threshold *float64
	file      string
	workers   int
	urls      []string
}

func parseCheckFlags(args []string) (checkOptions, error) {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	threshold := fs.Float64("threshold", -1, "minimum safe probability for a SAFE verdict (default from config)")
	file := fs.String("f", "", "read URLs from `file`, one per line")
	workers := fs.Int("workers", 4, "URLs classified concurrently")
	if err := fs.Parse(args); err != nil {
		return checkOptions{}, err
	}

	opts := checkOptions{file: *file, workers: *workers, urls: fs.Args()}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "threshold" {
			opts.threshold = threshold
		}
	})
	if opts.threshold != nil && !engine.ValidThreshold(*opts.threshold) {
		return opts, fmt.Errorf("threshold %v outside [0, 1]", *opts.threshold)
	}
	if opts.workers < 1 {
		opts.workers = 1
	}
	return opts, nil
}

// readURLs returns the non-blank, non-comment lines of r.
func readURLs(r io.Reader) ([]string, error) {
	var urls []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}

// runCheck classifies the given URLs and writes one JSON result per line to
// out, in input order. failed reports whether any URL could not be scored.
func runCheck(ctx context.Context, cfg *config.Config, args []string, out io.Writer) (failed bool, err error) {
	opts, err := parseCheckFlags(args)
	if err != nil {
		return false, err
	}
	if opts.file != "" {
		f, err := os.Open(opts.file)
		if err != nil {
			return false, err
		}
		fromFile, err := readURLs(f)
		f.Close()
		if err != nil {
			return false, fmt.Errorf("reading %s: %w", opts.file, err)
		}
		opts.urls = append(opts.urls, fromFile...)
	}
	if len(opts.urls) == 0 {
		return false, fmt.Errorf("no URLs given\n\n%s", usage)
	}

	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return false, err
	}
	defer a.Close()

	return classifyAll(ctx, a.engine, opts, out)
}

func classifyAll(ctx context.Context, c classifier, opts checkOptions, out io.Writer) (bool, error) {
	results := make([]engine.Result, len(opts.urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.workers)
	for i, u := range opts.urls {
		i, u := i, u
		g.Go(func() error {
			results[i] = c.Classify(gctx, u, engine.Options{Threshold: opts.threshold})
			return nil
		})
	}
	g.Wait()

	failed := false
	enc := json.NewEncoder(out)
	for _, res := range results {
		if res.Failed() {
			failed = true
		}
		if err := enc.Encode(res); err != nil {
			return failed, err
		}
	}
	return failed, nil
}
