// Package archive moves aged work-log pages out of the active database:
// each candidate is replicated under a long-term archive page first and
// archived in place only after the copy fully succeeds.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/notionops/worklog/internal/daylog"
	"github.com/notionops/worklog/internal/ledger"
	"github.com/notionops/worklog/internal/notion"
	"github.com/notionops/worklog/internal/replicate"
)

// Policy selects which pages a run considers stale.
type Policy string

const (
	// PolicyLastWeek targets exactly the seven days of the previous
	// calendar week, looked up by title.
	PolicyLastWeek Policy = "last-week"
	// PolicyBeforeLastFriday targets every page dated strictly before
	// the most recent past Friday.
	PolicyBeforeLastFriday Policy = "before-last-friday"
)

// Client is the slice of the API the orchestrator and its workers consume.
type Client interface {
	QueryAllPages(ctx context.Context, databaseID string, filter *notion.QueryFilter) ([]notion.Page, error)
	ArchivePage(ctx context.Context, pageID string) error
	AllBlockChildren(ctx context.Context, blockID string) ([]notion.Block, error)
	AppendBlockChildren(ctx context.Context, parentID string, blocks []notion.CleanBlock) ([]notion.Block, error)
	CreateChildPage(ctx context.Context, parentPageID, title string) (notion.Page, error)
	GetPage(ctx context.Context, pageID string) (notion.Page, error)
}

// Candidate is one page selected for archival.
type Candidate struct {
	ID    string
	Title string
	Date  string // ISO date from the date property, may be empty
}

// Summary is the outcome of one archive run.
type Summary struct {
	Succeeded int
	Failed    int
	Total     int
}

type Options struct {
	Client Client
	// WorkerClient yields the client a named worker calls through, so
	// each worker is paced under its own identity. Defaults to Client.
	WorkerClient  func(callerID string) Client
	DatabaseID    string
	ArchivePageID string
	TitleProperty string // defaults to "이름"
	DateProperty  string // defaults to "작성일"
	Policy        Policy // defaults to PolicyBeforeLastFriday
	Workers       int    // defaults to 3 when parallel
	Parallel      bool
	Ledger        ledger.Ledger // nil disables run recording
	Logger        *slog.Logger
	Now           func() time.Time
}

type Orchestrator struct {
	client        Client
	workerClient  func(callerID string) Client
	databaseID    string
	archivePageID string
	titleProperty string
	dateProperty  string
	policy        Policy
	workers       int
	parallel      bool
	ledger        ledger.Ledger
	logger        *slog.Logger
	now           func() time.Time
}

// workLogTitle matches the titles the daily engine stamps. The guard keeps
// runs from archiving hand-made pages that merely share the database.
var workLogTitle = regexp.MustCompile(`^\d{4}년 \d{1,2}월 \d{1,2}일 \([월화수목금토일]\)$`)

func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = daylog.NowKST
	}
	titleProperty := opts.TitleProperty
	if titleProperty == "" {
		titleProperty = "이름"
	}
	dateProperty := opts.DateProperty
	if dateProperty == "" {
		dateProperty = "작성일"
	}
	policy := opts.Policy
	if policy == "" {
		policy = PolicyBeforeLastFriday
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 3
	}
	workerClient := opts.WorkerClient
	if workerClient == nil {
		workerClient = func(string) Client { return opts.Client }
	}
	return &Orchestrator{
		client:        opts.Client,
		workerClient:  workerClient,
		databaseID:    opts.DatabaseID,
		archivePageID: opts.ArchivePageID,
		titleProperty: titleProperty,
		dateProperty:  dateProperty,
		policy:        policy,
		workers:       workers,
		parallel:      opts.Parallel,
		ledger:        opts.Ledger,
		logger:        logger,
		now:           now,
	}
}

// Candidates selects the pages the given policy considers stale, newest
// first. Pages whose title does not look like a stamped work log are
// excluded regardless of policy.
func (o *Orchestrator) Candidates(ctx context.Context, policy Policy) ([]Candidate, error) {
	today := dateOnly(o.now())
	var candidates []Candidate
	switch policy {
	case PolicyBeforeLastFriday:
		cutoff := lastFriday(today).Format("2006-01-02")
		pages, err := o.client.QueryAllPages(ctx, o.databaseID, notion.DateBefore(o.dateProperty, cutoff))
		if err != nil {
			return nil, fmt.Errorf("query stale pages: %w", err)
		}
		for _, page := range pages {
			title := page.TitleText()
			if !workLogTitle.MatchString(title) {
				continue
			}
			date := page.DateText(o.dateProperty)
			if date != "" && date >= cutoff {
				continue
			}
			candidates = append(candidates, Candidate{ID: page.ID, Title: title, Date: date})
		}
	case PolicyLastWeek:
		monday := lastMonday(today)
		for day := 0; day < 7; day++ {
			target := daylog.Resolve(monday.AddDate(0, 0, day))
			pages, err := o.client.QueryAllPages(ctx, o.databaseID, notion.TitleEquals(o.titleProperty, target.Title))
			if err != nil {
				return nil, fmt.Errorf("query %s: %w", target.Title, err)
			}
			for _, page := range pages {
				candidates = append(candidates, Candidate{ID: page.ID, Title: target.Title, Date: target.ISODate})
			}
		}
	default:
		return nil, fmt.Errorf("unknown archive policy: %s", policy)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Date != candidates[j].Date {
			return candidates[i].Date > candidates[j].Date
		}
		return candidates[i].Title > candidates[j].Title
	})
	return candidates, nil
}

// Run archives every candidate the configured policy selects. Each page is
// replicated under the archive page first; a page whose copy fails is left
// untouched in the source database.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	candidates, err := o.Candidates(ctx, o.policy)
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{Total: len(candidates)}
	if len(candidates) == 0 {
		o.logger.Info("no pages to archive", slog.String("policy", string(o.policy)))
		return summary, nil
	}
	runID := o.now().UTC().Format("20060102T150405")
	o.logger.Info("archive run starting",
		slog.String("run_id", runID),
		slog.String("policy", string(o.policy)),
		slog.Int("candidates", len(candidates)),
		slog.Bool("parallel", o.parallel))

	var mu sync.Mutex
	record := func(outcome bool) {
		mu.Lock()
		defer mu.Unlock()
		if outcome {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}

	if !o.parallel || o.workers <= 1 {
		client := o.client
		replicator := replicate.New(client, o.logger)
		for _, candidate := range candidates {
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			record(o.archiveCandidate(ctx, client, replicator, runID, candidate) == nil)
		}
		return summary, nil
	}

	jobs := make(chan Candidate)
	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < o.workers; i++ {
		worker := fmt.Sprintf("worker-%d", i+1)
		client := o.workerClient(worker)
		replicator := replicate.New(client, o.logger.With(slog.String("worker", worker)))
		group.Go(func() error {
			for candidate := range jobs {
				if err := groupCtx.Err(); err != nil {
					return err
				}
				record(o.archiveCandidate(groupCtx, client, replicator, runID, candidate) == nil)
			}
			return nil
		})
	}
	group.Go(func() error {
		defer close(jobs)
		for _, candidate := range candidates {
			select {
			case jobs <- candidate:
			case <-groupCtx.Done():
				return groupCtx.Err()
			}
		}
		return nil
	})
	if err := group.Wait(); err != nil {
		return summary, err
	}
	return summary, nil
}

// ArchiveOne archives a single page selected by id or by exact title.
func (o *Orchestrator) ArchiveOne(ctx context.Context, pageID, pageTitle string) error {
	candidate, err := o.resolveSelector(ctx, pageID, pageTitle)
	if err != nil {
		return err
	}
	replicator := replicate.New(o.client, o.logger)
	runID := o.now().UTC().Format("20060102T150405")
	return o.archiveCandidate(ctx, o.client, replicator, runID, candidate)
}

func (o *Orchestrator) resolveSelector(ctx context.Context, pageID, pageTitle string) (Candidate, error) {
	pageID = strings.TrimSpace(pageID)
	pageTitle = strings.TrimSpace(pageTitle)
	switch {
	case pageID != "":
		page, err := o.client.GetPage(ctx, pageID)
		if err != nil {
			return Candidate{}, fmt.Errorf("resolve page %s: %w", pageID, err)
		}
		title := page.TitleText()
		if title == "" {
			title = "Untitled"
		}
		return Candidate{ID: page.ID, Title: title, Date: page.DateText(o.dateProperty)}, nil
	case pageTitle != "":
		pages, err := o.client.QueryAllPages(ctx, o.databaseID, notion.TitleEquals(o.titleProperty, pageTitle))
		if err != nil {
			return Candidate{}, fmt.Errorf("resolve title %q: %w", pageTitle, err)
		}
		if len(pages) == 0 {
			return Candidate{}, fmt.Errorf("no page titled %q", pageTitle)
		}
		page := pages[0]
		return Candidate{ID: page.ID, Title: pageTitle, Date: page.DateText(o.dateProperty)}, nil
	default:
		return Candidate{}, fmt.Errorf("a page id or a page title is required")
	}
}

func (o *Orchestrator) archiveCandidate(ctx context.Context, client Client, replicator *replicate.Replicator, runID string, candidate Candidate) error {
	newID, err := replicator.ReplicateTree(ctx, candidate.ID, o.archivePageID, candidate.Title)
	if err != nil {
		// The source stays live whenever the copy is incomplete.
		o.logger.Error("archive copy failed, source left in place",
			slog.String("title", candidate.Title),
			slog.String("page_id", candidate.ID),
			slog.String("error", err.Error()))
		o.appendLedger(ctx, runID, candidate, "copy_failed", err.Error())
		return err
	}
	if err := client.ArchivePage(ctx, candidate.ID); err != nil {
		o.logger.Error("archive flag update failed",
			slog.String("title", candidate.Title),
			slog.String("page_id", candidate.ID),
			slog.String("error", err.Error()))
		o.appendLedger(ctx, runID, candidate, "archive_failed", err.Error())
		return err
	}
	o.logger.Info("page archived",
		slog.String("title", candidate.Title),
		slog.String("page_id", candidate.ID),
		slog.String("copy_id", newID))
	o.appendLedger(ctx, runID, candidate, "archived", "copy="+newID)
	return nil
}

func (o *Orchestrator) appendLedger(ctx context.Context, runID string, candidate Candidate, outcome, detail string) {
	if o.ledger == nil {
		return
	}
	err := o.ledger.Append(ctx, ledger.Record{
		RunID:   runID,
		Kind:    "archive",
		PageID:  candidate.ID,
		Title:   candidate.Title,
		Outcome: outcome,
		Detail:  detail,
		At:      time.Now().UTC(),
	})
	if err != nil {
		o.logger.Warn("ledger append failed", slog.String("error", err.Error()))
	}
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// lastFriday returns the most recent Friday strictly before today.
func lastFriday(today time.Time) time.Time {
	days := (int(today.Weekday()) - int(time.Friday) + 7) % 7
	if days == 0 {
		days = 7
	}
	return today.AddDate(0, 0, -days)
}

// lastMonday returns the Monday of the previous calendar week.
func lastMonday(today time.Time) time.Time {
	days := (int(today.Weekday()) - int(time.Monday) + 7) % 7
	return today.AddDate(0, 0, -days-7)
}
