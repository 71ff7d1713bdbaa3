// Command magpie scrapes people search listing pages into a profile store.
//
// Usage:
//
//	magpie [flags] run      start a fresh scrape of the configured listing url
//	magpie [flags] resume   continue a scrape left in the session store
//	magpie [flags] export   write all stored profiles to a dated json file
//	magpie [flags] import F load profiles from a json file into the store
//	magpie [flags] count    print the number of stored profiles
//	magpie [flags] clear    delete all stored profiles
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/FranksOps/magpie/internal/config"
	"github.com/FranksOps/magpie/internal/control"
	"github.com/FranksOps/magpie/internal/fingerprint"
	"github.com/FranksOps/magpie/internal/metrics"
	"github.com/FranksOps/magpie/internal/profile"
	"github.com/FranksOps/magpie/internal/profile/jsonfile"
	"github.com/FranksOps/magpie/internal/profile/memory"
	"github.com/FranksOps/magpie/internal/profile/postgres"
	"github.com/FranksOps/magpie/internal/profile/sqlite"
	"github.com/FranksOps/magpie/internal/scraper"
	"github.com/FranksOps/magpie/internal/selector"
	"github.com/FranksOps/magpie/internal/session"
	"github.com/FranksOps/magpie/pkg/proxy"
	"github.com/FranksOps/magpie/pkg/useragent"
)

func main() {
	configPath := flag.String("config", "", "path to the JSON configuration file")
	listingURL := flag.String("url", "", "listing url, overrides the configured one")
	flag.Parse()

	if err := run(*configPath, *listingURL, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "magpie:", err)
		os.Exit(1)
	}
}

func run(configPath, urlOverride string, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if urlOverride != "" {
		cfg.ListingURL = urlOverride
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	command := "run"
	if len(args) > 0 {
		command = args[0]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	switch command {
	case "run", "resume":
		return runScrape(ctx, cfg, store, logger, command == "resume")
	case "export":
		path, err := jsonfile.Export(ctx, store, cfg.ExportDir, time.Now())
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	case "import":
		if len(args) < 2 {
			return errors.New("import needs a file argument")
		}
		stats, err := jsonfile.Import(ctx, store, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("imported %d profiles, %d total\n", stats.Saved, stats.Total)
		return nil
	case "count":
		n, err := store.Count(ctx)
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	case "clear":
		return store.Clear(ctx)
	}

	return fmt.Errorf("unknown command %q", command)
}

func runScrape(ctx context.Context, cfg *config.Config, store profile.Store, logger *slog.Logger, resume bool) error {
	if cfg.ListingURL == "" {
		return errors.New("no listing url configured, set listing_url or pass -url")
	}

	sessions, err := session.NewFileStore(cfg.SessionFile)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}

	uaPool := useragent.NewPool(cfg.Fetch.UserAgents)

	var proxies *proxy.Pool
	if cfg.Fetch.ProxyFile != "" {
		proxies = proxy.NewPool(proxy.Config{})
		if err := proxies.LoadFile(cfg.Fetch.ProxyFile); err != nil {
			return fmt.Errorf("load proxies: %w", err)
		}
	}

	table := selector.Default()
	if cfg.SelectorsFile != "" {
		override, err := selector.LoadFile(cfg.SelectorsFile)
		if err != nil {
			return err
		}
		table = override.Merge(table)
	}

	if cfg.Fetch.RespectRobots {
		auditor := scraper.NewRobotsAuditor(cfg.FetchTimeout(), logger)
		allowed, err := auditor.Allowed(ctx, cfg.ListingURL, uaPool.GetSequential())
		if err != nil {
			return fmt.Errorf("robots check: %w", err)
		}
		if !allowed {
			return errors.New("robots.txt disallows the listing url")
		}
	}

	fetcher, err := scraper.NewFetcher(scraper.FetchConfig{
		Timeout:      cfg.FetchTimeout(),
		MaxRedirects: cfg.Fetch.MaxRedirects,
		UseCookieJar: cfg.Fetch.UseCookieJar,
		ProxyPool:    proxies,
		UAPool:       uaPool,
		Fingerprint:  fingerprint.Profile(cfg.Fetch.Fingerprint),
	})
	if err != nil {
		return err
	}

	reports := make(chan scraper.RunReport, 1)
	newRunner := func() (*scraper.Runner, error) {
		return scraper.NewRunner(scraper.RunConfig{
			ListingURL:         cfg.ListingURL,
			Table:              table,
			Loader:             fetcher,
			Store:              store,
			Sessions:           sessions,
			Logger:             logger,
			Notify:             func(r scraper.RunReport) { reports <- r },
			SettleDelay:        cfg.SettleDelay(),
			MinPageDelay:       cfg.MinPageDelay(),
			MaxPageDelay:       cfg.MaxPageDelay(),
			PollAttempts:       cfg.Pacing.PollAttempts,
			PollBackoff:        cfg.PollBackoff(),
			EmptyPageThreshold: cfg.Pacing.EmptyPageThreshold,
		})
	}

	var metricsSrv *metrics.Server
	if cfg.MetricsPort > 0 {
		metricsSrv = metrics.Start(cfg.MetricsPort)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metricsSrv.Stop(shutdownCtx)
		}()
	}

	if resume {
		runner, err := newRunner()
		if err != nil {
			return err
		}
		report, resumed, err := runner.Resume(ctx)
		if err != nil {
			return err
		}
		if !resumed {
			logger.Info("nothing to resume")
			return nil
		}
		return finish(cfg, logger, report)
	}

	busCtx, cancelBus := context.WithCancel(ctx)
	defer cancelBus()

	bus := control.NewBus(newRunner, store, sessions, logger)

	g, gctx := errgroup.WithContext(busCtx)
	g.Go(func() error {
		if err := bus.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	resp, err := bus.Send(gctx, control.Message{Type: control.TypeStartScraping})
	if err != nil {
		cancelBus()
		g.Wait()
		return err
	}
	if !resp.OK {
		cancelBus()
		g.Wait()
		return fmt.Errorf("start rejected: %s", resp.Error)
	}

	var report scraper.RunReport
	select {
	case report = <-reports:
	case <-gctx.Done():
		// Interrupt: the bus stops the run through the session store.
	}

	cancelBus()
	if err := g.Wait(); err != nil {
		return err
	}
	if report.Outcome == "" {
		if last := bus.LastReport(); last != nil {
			report = *last
		}
	}

	return finish(cfg, logger, report)
}

func finish(cfg *config.Config, logger *slog.Logger, report scraper.RunReport) error {
	fmt.Printf("%s: %d pages, %d profiles saved\n",
		report.Outcome, report.PagesVisited, report.RecordsSaved)

	if path, err := jsonfile.WriteSummary(cfg.ExportDir, jsonfile.Summary{
		Outcome:      string(report.Outcome),
		PagesVisited: report.PagesVisited,
		RecordsSaved: report.RecordsSaved,
		Rejected:     report.Rejected,
		Diagnostic:   report.Diagnostic,
	}, time.Now()); err != nil {
		logger.Warn("could not write run summary", "error", err)
	} else {
		logger.Info("run summary written", "path", path)
	}

	if report.Outcome == scraper.OutcomeFailed {
		return errors.New(report.Diagnostic)
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (profile.Store, error) {
	switch cfg.Store.Backend {
	case "sqlite":
		return sqlite.New("file:" + cfg.Store.Path)
	case "postgres":
		return postgres.New(ctx, cfg.Store.DSN)
	case "memory":
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
