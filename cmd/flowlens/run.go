package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/flowlens/flowlens/pkg/browser"
	"github.com/flowlens/flowlens/pkg/cache"
	"github.com/flowlens/flowlens/pkg/config"
	"github.com/flowlens/flowlens/pkg/flow"
	"github.com/flowlens/flowlens/pkg/logging"
	"github.com/flowlens/flowlens/pkg/runner"
	"github.com/flowlens/flowlens/pkg/vision"
)

const shutdownGrace = 30 * time.Second

func cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path")
	dbPath := fs.String("db", "", "override the SQLite database path")
	outDir := fs.String("out", "", "override the artifacts directory")
	mock := fs.Bool("mock", false, "use the mock vision verifier (no model calls)")
	noVision := fs.Bool("no-vision", false, "capture screenshots without vision verification")
	noCache := fs.Bool("no-cache", false, "bypass the vision verdict cache")
	concurrency := fs.Int("concurrency", 1, "flows to execute in parallel")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, 2)
	}
	if fs.NArg() == 0 {
		return withExitCode(fmt.Errorf("run requires at least one flow file"), 2)
	}
	if *concurrency < 1 {
		return withExitCode(fmt.Errorf("concurrency must be at least 1"), 2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	// Parse every flow before touching any session so a typo fails fast.
	flows := make([]*flow.Flow, 0, fs.NArg())
	for _, path := range fs.Args() {
		f, err := flow.ParseFile(path)
		if err != nil {
			return withExitCode(err, 2)
		}
		flows = append(flows, f)
	}

	invocationID := ulid.Make().String()
	logger, err := logging.NewLogger(cfg.Logging.Dir, invocationID)
	if err != nil {
		return withExitCode(err, 2)
	}
	defer logger.Close()
	logger.SetMinLevel(logging.Level(cfg.Logging.Level))

	store, err := openStore(cfg, *dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider := browser.NewHTTPProvider(cfg.Browser.ProviderURL, cfg.Browser.APIKey)
	pool, err := browser.NewSessionPool(poolConfig(cfg), provider, logger)
	if err != nil {
		return withExitCode(err, 2)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := pool.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "warning: pool shutdown: %v\n", err)
		}
	}()

	var analyzer vision.Analyzer
	if *mock {
		analyzer = vision.NewMockVerifier()
	} else {
		analyzer = vision.NewVerifier(vision.Config{
			APIKey:        cfg.Vision.APIKey,
			BaseURL:       cfg.Vision.BaseURL,
			Model:         cfg.Vision.Model,
			PromptVersion: cfg.Vision.PromptVersion,
			MaxTokens:     cfg.Vision.MaxTokens,
			Timeout:       cfg.Vision.Timeout.Std(),
		}, logger)
	}

	var visionCache *cache.Cache
	if cfg.Cache.Enabled && !*noCache {
		visionCache = cache.New(store, cfg.Cache.TTL.Std(), logger)
	}

	artifactsDir := cfg.Output.Dir
	if *outDir != "" {
		artifactsDir = *outDir
	}

	r := runner.NewRunner(pool, browser.Connect, analyzer, visionCache, logger, runner.Config{
		ArtifactsDir:      artifactsDir,
		VisionEnabled:     cfg.Vision.Enabled && !*noVision,
		DefaultConfidence: runner.DefaultConfidence,
	})

	results := make([]*runner.FlowRunResult, len(flows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*concurrency)
	for i, f := range flows {
		i, f := i, f
		g.Go(func() error {
			result := r.Execute(gctx, f)
			results[i] = result
			if err := store.SaveRunResult(gctx, result); err != nil {
				fmt.Fprintf(os.Stderr, "warning: persist run %s: %v\n", result.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return printRunSummary(results)
}

func poolConfig(cfg *config.Config) browser.PoolConfig {
	pc := browser.DefaultPoolConfig()
	pc.MinSessions = cfg.Pool.MinSessions
	pc.MaxSessions = cfg.Pool.MaxSessions
	if d := cfg.Pool.SessionLifetime.Std(); d > 0 {
		pc.SessionLifetime = d
	}
	if d := cfg.Pool.IdleTimeout.Std(); d > 0 {
		pc.IdleTimeout = d
	}
	if d := cfg.Pool.AcquireTimeout.Std(); d > 0 {
		pc.AcquireTimeout = d
	}
	return pc
}

func printRunSummary(results []*runner.FlowRunResult) error {
	failed := 0
	for _, result := range results {
		if result == nil {
			failed++
			continue
		}
		line := fmt.Sprintf("%-24s %-5s confidence=%-3d steps=%-2d %6.1fs",
			result.FlowName, result.Verdict, result.Confidence,
			len(result.Steps), float64(result.DurationMS)/1000)
		if result.Error != "" {
			line += "  " + result.Error
		}
		fmt.Println(line)
		if result.Verdict != runner.VerdictPass {
			failed++
		}
	}
	if failed > 0 {
		return withExitCode(fmt.Errorf("%d of %d flows did not pass", failed, len(results)), 1)
	}
	return nil
}
