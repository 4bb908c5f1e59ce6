package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/notionops/worklog/internal/archive"
	"github.com/notionops/worklog/internal/config"
	"github.com/notionops/worklog/internal/daylog"
	"github.com/notionops/worklog/internal/ledger"
	"github.com/notionops/worklog/internal/notion"
	"github.com/notionops/worklog/internal/ratelimit"
	"github.com/notionops/worklog/internal/replicate"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cmd := &cli.Command{
		Name:  "worklog",
		Usage: "Create, replicate and archive daily work-log pages in a Notion database",
		Commands: []*cli.Command{
			{
				Name:   "daily",
				Usage:  "Create the work logs for today and the next business day",
				Action: runDaily,
			},
			{
				Name:   "archive",
				Usage:  "Move stale work logs under the archive page",
				Action: runArchive,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "policy",
						Usage:   "Selection policy: last-week or before-last-friday",
						Sources: cli.EnvVars("ARCHIVE_POLICY"),
					},
					&cli.IntFlag{
						Name:    "workers",
						Usage:   "Parallel worker count",
						Sources: cli.EnvVars("ARCHIVE_WORKERS"),
					},
					&cli.BoolFlag{
						Name:    "parallel",
						Usage:   "Archive candidates concurrently",
						Sources: cli.EnvVars("ARCHIVE_PARALLEL"),
					},
				},
			},
			{
				Name:   "archive-page",
				Usage:  "Archive a single page selected by id or exact title",
				Action: runArchivePage,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "page-id",
						Usage:   "Page id to archive",
						Sources: cli.EnvVars("PAGE_ID"),
					},
					&cli.StringFlag{
						Name:    "page-title",
						Usage:   "Exact page title to archive",
						Sources: cli.EnvVars("PAGE_TITLE"),
					},
				},
			},
			{
				Name:   "check",
				Usage:  "Validate the configuration and API reachability",
				Action: runCheck,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("command failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("read configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newClient(cfg *config.Config) *notion.Client {
	pacer := ratelimit.NewGovernor(ratelimit.GovernorOptions{
		MinInterval: cfg.Notion.MinInterval,
	})
	return notion.NewClient(notion.ClientOptions{
		Token:     cfg.Notion.APIKey,
		UserAgent: "worklog/1.0",
		Pacer:     pacer,
	})
}

func runDaily(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Daily.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger := slog.Default()
	client := newClient(cfg)
	engine := daylog.NewEngine(daylog.EngineOptions{
		API:            client,
		Copier:         replicate.New(client, logger),
		TemplatePageID: cfg.Daily.TemplatePageID,
		DatabaseID:     cfg.Notion.DataSourceID,
		Strategy:       cfg.Daily.Strategy,
		Logger:         logger,
	})

	results, err := engine.CreateDailyLogs(ctx)
	runLedger, ledgerErr := ledger.NewFromDSN(cfg.Ledger.DSN)
	if ledgerErr != nil {
		logger.Warn("ledger unavailable", slog.String("error", ledgerErr.Error()))
	} else if runLedger != nil {
		defer runLedger.Close()
		recordDailyResults(ctx, runLedger, logger, results)
	}
	for _, result := range results {
		logger.Info("daily result",
			slog.String("date", result.Date.ISODate),
			slog.String("outcome", string(result.Outcome)),
			slog.String("page_id", result.PageID))
	}
	return err
}

func recordDailyResults(ctx context.Context, runLedger ledger.Ledger, logger *slog.Logger, results []daylog.Result) {
	runID := daylog.NowKST().UTC().Format("20060102T150405")
	for _, result := range results {
		detail := ""
		if result.Err != nil {
			detail = result.Err.Error()
		}
		err := runLedger.Append(ctx, ledger.Record{
			RunID:   runID,
			Kind:    "daily",
			PageID:  result.PageID,
			Title:   result.Date.Title,
			Outcome: string(result.Outcome),
			Detail:  detail,
		})
		if err != nil {
			logger.Warn("ledger append failed", slog.String("error", err.Error()))
		}
	}
}

func newOrchestrator(cfg *config.Config) (*archive.Orchestrator, ledger.Ledger, error) {
	logger := slog.Default()
	client := newClient(cfg)
	runLedger, err := ledger.NewFromDSN(cfg.Ledger.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open ledger: %w", err)
	}
	orchestrator := archive.New(archive.Options{
		Client: client,
		WorkerClient: func(callerID string) archive.Client {
			return client.WithCaller(callerID)
		},
		DatabaseID:    cfg.Notion.DataSourceID,
		ArchivePageID: cfg.Archive.PageID,
		Policy:        archive.Policy(cfg.Archive.Policy),
		Workers:       cfg.Archive.Workers,
		Parallel:      cfg.Archive.Parallel,
		Ledger:        runLedger,
		Logger:        logger,
	})
	return orchestrator, runLedger, nil
}

func runArchive(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if policy := cmd.String("policy"); policy != "" {
		cfg.Archive.Policy = policy
	}
	if workers := int(cmd.Int("workers")); workers > 0 {
		cfg.Archive.Workers = workers
	}
	if cmd.Bool("parallel") {
		cfg.Archive.Parallel = true
	}
	if err := cfg.Archive.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	orchestrator, runLedger, err := newOrchestrator(cfg)
	if err != nil {
		return err
	}
	if runLedger != nil {
		defer runLedger.Close()
	}
	summary, err := orchestrator.Run(ctx)
	slog.Info("archive run finished",
		slog.Int("total", summary.Total),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("failed", summary.Failed))
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d pages failed to archive", summary.Failed, summary.Total)
	}
	return nil
}

func runArchivePage(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	orchestrator, runLedger, err := newOrchestrator(cfg)
	if err != nil {
		return err
	}
	if runLedger != nil {
		defer runLedger.Close()
	}
	return orchestrator.ArchiveOne(ctx, cmd.String("page-id"), cmd.String("page-title"))
}

func runCheck(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client := newClient(cfg)
	if _, err := client.QueryDatabase(ctx, cfg.Notion.DataSourceID, nil, ""); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	if _, err := client.GetPage(ctx, cfg.Archive.PageID); err != nil {
		return fmt.Errorf("archive page unreachable: %w", err)
	}
	slog.Info("configuration and API access verified",
		slog.String("database_id", cfg.Notion.DataSourceID),
		slog.String("archive_page_id", cfg.Archive.PageID))
	return nil
}
