package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alejandrodnm/polyarb/config"
	"github.com/alejandrodnm/polyarb/internal/adapters/feed"
	"github.com/alejandrodnm/polyarb/internal/adapters/notify"
	"github.com/alejandrodnm/polyarb/internal/adapters/storage"
	"github.com/alejandrodnm/polyarb/internal/domain"
	"github.com/alejandrodnm/polyarb/internal/scanner"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one scan cycle and exit")
	discover := flag.Bool("discover", false, "propose cross-venue matches and exit")
	matches := flag.Bool("matches", false, "list stored matches and exit")
	ecosystems := flag.Bool("ecosystems", false, "list stored ecosystems and exit")
	approve := flag.String("approve", "", "approve the match or ecosystem with this id and exit")
	reject := flag.String("reject", "", "reject the match or ecosystem with this id and exit")
	history := flag.Duration("history", 0, "print opportunities seen in the last window (e.g. 24h) and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print full table + portfolio (default: compact 1-line)")
	validate := flag.Bool("validate", false, "print step-by-step calculation for top 3 opportunities")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("polyarb starting",
		"config", *configPath,
		"feeds", len(cfg.Feeds),
		"once", *once,
		"discover", *discover,
	)

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	notifier := notify.NewConsole(cfg.Scanner.StakeUSDC, *table, *validate)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch {
	case *matches:
		exitOnErr(listMatches(ctx, store, os.Stdout))
		return
	case *ecosystems:
		exitOnErr(listEcosystems(ctx, store, os.Stdout))
		return
	case *approve != "":
		exitOnErr(setStatus(ctx, store, *approve, domain.StatusApproved))
		return
	case *reject != "":
		exitOnErr(setStatus(ctx, store, *reject, domain.StatusRejected))
		return
	case *history > 0:
		exitOnErr(printHistory(ctx, store, notifier, *history))
		return
	}

	venues, err := buildVenues(cfg.Feeds)
	if err != nil {
		slog.Error("invalid feed config", "err", err)
		os.Exit(1)
	}

	scanCfg := scanner.DefaultConfig()
	scanCfg.DefaultInterval = cfg.ScanInterval()
	scanCfg.MinSimilarity = cfg.Scanner.MinSimilarity
	scanCfg.AutoApproveSimilarity = cfg.Scanner.AutoApproveSimilarity
	scanCfg.AnalysisWorkers = cfg.Scanner.AnalysisWorkers
	scanCfg.DryRun = *once
	scanCfg.Filter = scanner.FilterConfig{
		MinAnnualizedReturn: cfg.Scanner.MinAnnualizedReturn,
		MinEdgeBps:          cfg.Scanner.MinEdgeBps,
		MaxDaysUntilClose:   cfg.Scanner.MaxDaysUntilClose,
	}

	s := scanner.New(scanCfg, venues, store, store, notifier)

	if *discover {
		found, err := s.Discover(ctx)
		if err != nil {
			slog.Error("discovery failed", "err", err)
			os.Exit(1)
		}
		notifier.PrintCandidates(found.Candidates)
		notifier.PrintEcosystems(found.Ecosystems)
		return
	}

	if err := s.Run(ctx); err != nil {
		slog.Error("scanner exited with error", "err", err)
		os.Exit(1)
	}

	slog.Info("polyarb stopped cleanly")
}

// buildVenues crea un feed por entrada de configuración.
func buildVenues(feeds []config.FeedConfig) ([]scanner.Venue, error) {
	venues := make([]scanner.Venue, 0, len(feeds))
	for _, f := range feeds {
		p := domain.Platform(f.Platform)
		if !p.Valid() {
			return nil, &domain.ValidationError{Field: "feeds.platform", Value: f.Platform, Err: domain.ErrInvalidMarket}
		}
		venues = append(venues, scanner.Venue{
			Feed: feed.New(p, f.Source, feed.HTTPConfig{
				RatePerSec: f.RatePerSec,
				Timeout:    f.Timeout(),
			}),
			Interval: f.Interval(),
		})
	}
	return venues, nil
}

func exitOnErr(err error) {
	if err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
