package daylog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/notionops/worklog/internal/notion"
)

type Outcome string

const (
	OutcomeCreated        Outcome = "created"
	OutcomeSkippedWeekend Outcome = "skipped_weekend"
	OutcomeSkippedExists  Outcome = "skipped_exists"
	OutcomeFailed         Outcome = "failed"
)

const (
	// StrategyReplicate rebuilds the template's block tree into a fresh
	// database page.
	StrategyReplicate = "replicate"
	// StrategyDuplicate uses the native duplicate endpoint and re-stamps
	// the copy. Not every integration has access to that endpoint.
	StrategyDuplicate = "duplicate"
)

// API is the slice of the client the engine consumes.
type API interface {
	QueryDatabase(ctx context.Context, databaseID string, filter *notion.QueryFilter, startCursor string) (notion.QueryResult, error)
	CreatePage(ctx context.Context, parent notion.ParentRef, properties map[string]notion.PropertyValue) (notion.Page, error)
	UpdatePageProperties(ctx context.Context, pageID string, properties map[string]notion.PropertyValue) error
	DuplicatePage(ctx context.Context, pageID string) (notion.Page, error)
	AllBlockChildren(ctx context.Context, blockID string) ([]notion.Block, error)
}

// BlockCopier copies a block list into a target page, preserving order.
type BlockCopier interface {
	CopyBlocks(ctx context.Context, targetID string, blocks []notion.Block) error
}

type EngineOptions struct {
	API            API
	Copier         BlockCopier
	TemplatePageID string
	DatabaseID     string
	TitleProperty  string // defaults to "이름"
	DateProperty   string // defaults to "작성일"
	Strategy       string // defaults to StrategyReplicate
	Logger         *slog.Logger
	Now            func() time.Time
}

type Engine struct {
	api            API
	copier         BlockCopier
	templatePageID string
	databaseID     string
	titleProperty  string
	dateProperty   string
	strategy       string
	logger         *slog.Logger
	now            func() time.Time
}

func NewEngine(opts EngineOptions) *Engine {
	titleProperty := strings.TrimSpace(opts.TitleProperty)
	if titleProperty == "" {
		titleProperty = "이름"
	}
	dateProperty := strings.TrimSpace(opts.DateProperty)
	if dateProperty == "" {
		dateProperty = "작성일"
	}
	strategy := strings.TrimSpace(opts.Strategy)
	if strategy == "" {
		strategy = StrategyReplicate
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = NowKST
	}
	return &Engine{
		api:            opts.API,
		copier:         opts.Copier,
		templatePageID: opts.TemplatePageID,
		databaseID:     opts.DatabaseID,
		titleProperty:  titleProperty,
		dateProperty:   dateProperty,
		strategy:       strategy,
		logger:         logger,
		now:            now,
	}
}

// Exists reports whether a log page with the exact title for info already
// exists in the database.
func (e *Engine) Exists(ctx context.Context, info DateInfo) (bool, error) {
	result, err := e.api.QueryDatabase(ctx, e.databaseID, notion.TitleEquals(e.titleProperty, info.Title), "")
	if err != nil {
		return false, err
	}
	return len(result.Results) > 0, nil
}

// Result is the terminal state reached for one target date within a run.
type Result struct {
	Date    DateInfo
	Outcome Outcome
	PageID  string
	Err     error
}

// CreateFor drives one target date to its terminal state: skipped for
// weekends and already-existing titles, otherwise a fresh page stamped with
// the date's title and date properties.
func (e *Engine) CreateFor(ctx context.Context, t time.Time) Result {
	info := Resolve(t)
	if info.IsWeekend {
		e.logger.Info("weekend, skipping log creation", slog.String("title", info.Title))
		return Result{Date: info, Outcome: OutcomeSkippedWeekend}
	}

	exists, err := e.Exists(ctx, info)
	if err != nil {
		// A failed lookup must not block the run; proceed as if absent.
		e.logger.Warn("existence check failed, proceeding",
			slog.String("title", info.Title),
			slog.String("error", err.Error()))
	}
	if exists {
		e.logger.Info("log already exists, skipping", slog.String("title", info.Title))
		return Result{Date: info, Outcome: OutcomeSkippedExists}
	}

	e.logger.Info("creating work log",
		slog.String("title", info.Title),
		slog.String("strategy", e.strategy))

	var pageID string
	switch e.strategy {
	case StrategyDuplicate:
		pageID, err = e.createByDuplicate(ctx, info)
	default:
		pageID, err = e.createByReplicate(ctx, info)
	}
	if err != nil {
		e.logger.Error("work log creation failed",
			slog.String("title", info.Title),
			slog.String("error", err.Error()))
		return Result{Date: info, Outcome: OutcomeFailed, PageID: pageID, Err: err}
	}

	e.logger.Info("work log created",
		slog.String("title", info.Title),
		slog.String("page_id", pageID),
		slog.String("url", pageURL(pageID)))
	return Result{Date: info, Outcome: OutcomeCreated, PageID: pageID}
}

// CreateDailyLogs creates the log for today and for the next business day.
func (e *Engine) CreateDailyLogs(ctx context.Context) ([]Result, error) {
	today := e.now()
	results := []Result{
		e.CreateFor(ctx, today),
		e.CreateFor(ctx, NextBusinessDay(today)),
	}
	var errs []error
	for _, result := range results {
		if result.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", result.Date.Title, result.Err))
		}
	}
	return results, errors.Join(errs...)
}

func (e *Engine) createByReplicate(ctx context.Context, info DateInfo) (string, error) {
	blocks, err := e.api.AllBlockChildren(ctx, e.templatePageID)
	if err != nil {
		return "", fmt.Errorf("read template blocks: %w", err)
	}
	page, err := e.api.CreatePage(ctx, notion.DatabaseParent(e.databaseID), e.stampProperties(info))
	if err != nil {
		return "", fmt.Errorf("create log page: %w", err)
	}
	if err := e.copier.CopyBlocks(ctx, page.ID, blocks); err != nil {
		return page.ID, err
	}
	return page.ID, nil
}

func (e *Engine) createByDuplicate(ctx context.Context, info DateInfo) (string, error) {
	page, err := e.api.DuplicatePage(ctx, e.templatePageID)
	if err != nil {
		return "", fmt.Errorf("duplicate template: %w", err)
	}
	if err := e.api.UpdatePageProperties(ctx, page.ID, e.stampProperties(info)); err != nil {
		return page.ID, fmt.Errorf("stamp duplicated page: %w", err)
	}
	return page.ID, nil
}

func (e *Engine) stampProperties(info DateInfo) map[string]notion.PropertyValue {
	return map[string]notion.PropertyValue{
		e.titleProperty: notion.TitleProperty(info.Title),
		e.dateProperty:  notion.DateProperty(info.ISODate),
	}
}

func pageURL(pageID string) string {
	return "https://www.notion.so/" + strings.ReplaceAll(pageID, "-", "")
}
