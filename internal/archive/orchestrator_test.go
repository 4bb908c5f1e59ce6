package archive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/notionops/worklog/internal/ledger"
	"github.com/notionops/worklog/internal/notion"
)

type fakePage struct {
	id    string
	title string
	date  string
}

type fakeClient struct {
	pages       []fakePage
	blocks      map[string][]notion.Block
	failListFor map[string]bool

	archived     []string
	createdUnder map[string][]string // parent id -> created page titles
	nextPage     int
}

func newFakeClient(pages ...fakePage) *fakeClient {
	return &fakeClient{
		pages:        pages,
		blocks:       map[string][]notion.Block{},
		failListFor:  map[string]bool{},
		createdUnder: map[string][]string{},
	}
}

func (f *fakeClient) page(p fakePage) notion.Page {
	return notion.Page{
		ID: p.id,
		Properties: map[string]notion.PropertyValue{
			"이름":  notion.TitleProperty(p.title),
			"작성일": notion.DateProperty(p.date),
		},
	}
}

func (f *fakeClient) QueryAllPages(ctx context.Context, databaseID string, filter *notion.QueryFilter) ([]notion.Page, error) {
	var out []notion.Page
	for _, p := range f.pages {
		switch {
		case filter == nil:
			out = append(out, f.page(p))
		case len(filter.And) > 0 && filter.And[0].Date != nil:
			if p.date < filter.And[0].Date.Before {
				out = append(out, f.page(p))
			}
		case filter.Title != nil:
			if p.title == filter.Title.Equals {
				out = append(out, f.page(p))
			}
		}
	}
	return out, nil
}

func (f *fakeClient) ArchivePage(ctx context.Context, pageID string) error {
	f.archived = append(f.archived, pageID)
	return nil
}

func (f *fakeClient) AllBlockChildren(ctx context.Context, blockID string) ([]notion.Block, error) {
	if f.failListFor[blockID] {
		return nil, fmt.Errorf("source unreadable")
	}
	return f.blocks[blockID], nil
}

func (f *fakeClient) AppendBlockChildren(ctx context.Context, parentID string, blocks []notion.CleanBlock) ([]notion.Block, error) {
	created := make([]notion.Block, 0, len(blocks))
	for _, b := range blocks {
		created = append(created, notion.Block{ID: "new_" + b.Type, Type: b.Type})
	}
	return created, nil
}

func (f *fakeClient) CreateChildPage(ctx context.Context, parentPageID, title string) (notion.Page, error) {
	f.nextPage++
	f.createdUnder[parentPageID] = append(f.createdUnder[parentPageID], title)
	return notion.Page{ID: fmt.Sprintf("copy_%d", f.nextPage)}, nil
}

func (f *fakeClient) GetPage(ctx context.Context, pageID string) (notion.Page, error) {
	for _, p := range f.pages {
		if p.id == pageID {
			return f.page(p), nil
		}
	}
	return notion.Page{}, fmt.Errorf("no such page")
}

func newTestOrchestrator(client *fakeClient, opts Options) *Orchestrator {
	opts.Client = client
	opts.DatabaseID = "db"
	opts.ArchivePageID = "archive_root"
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.Now == nil {
		// Wednesday; the preceding Friday is 2025-11-07.
		opts.Now = func() time.Time { return time.Date(2025, time.November, 12, 9, 0, 0, 0, time.UTC) }
	}
	return New(opts)
}

func TestCandidatesBeforeLastFridayBoundary(t *testing.T) {
	client := newFakeClient(
		fakePage{"p_old", "2025년 11월 6일 (목)", "2025-11-06"},
		fakePage{"p_friday", "2025년 11월 7일 (금)", "2025-11-07"},
		fakePage{"p_older", "2025년 11월 3일 (월)", "2025-11-03"},
	)
	o := newTestOrchestrator(client, Options{})

	candidates, err := o.Candidates(context.Background(), PolicyBeforeLastFriday)
	if err != nil {
		t.Fatalf("candidates failed: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %+v", candidates)
	}
	if candidates[0].ID != "p_old" || candidates[1].ID != "p_older" {
		t.Fatalf("expected newest-first order excluding the friday itself, got %+v", candidates)
	}
}

func TestCandidatesSkipUnstampedTitles(t *testing.T) {
	client := newFakeClient(
		fakePage{"p_log", "2025년 11월 4일 (화)", "2025-11-04"},
		fakePage{"p_note", "팀 회의 메모", "2025-11-04"},
	)
	o := newTestOrchestrator(client, Options{})

	candidates, err := o.Candidates(context.Background(), PolicyBeforeLastFriday)
	if err != nil {
		t.Fatalf("candidates failed: %v", err)
	}
	if len(candidates) != 1 || candidates[0].ID != "p_log" {
		t.Fatalf("hand-made page must be excluded, got %+v", candidates)
	}
}

func TestCandidatesLastWeekByTitle(t *testing.T) {
	client := newFakeClient(
		fakePage{"p_mon", "2025년 11월 3일 (월)", "2025-11-03"},
		fakePage{"p_wed", "2025년 11월 5일 (수)", "2025-11-05"},
		fakePage{"p_this_week", "2025년 11월 10일 (월)", "2025-11-10"},
	)
	o := newTestOrchestrator(client, Options{})

	candidates, err := o.Candidates(context.Background(), PolicyLastWeek)
	if err != nil {
		t.Fatalf("candidates failed: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected last week's pages only, got %+v", candidates)
	}
	if candidates[0].ID != "p_wed" || candidates[1].ID != "p_mon" {
		t.Fatalf("expected newest-first order, got %+v", candidates)
	}
}

func TestRunArchivesCopiedPagesOnly(t *testing.T) {
	client := newFakeClient(
		fakePage{"p_1", "2025년 11월 6일 (목)", "2025-11-06"},
		fakePage{"p_2", "2025년 11월 5일 (수)", "2025-11-05"},
		fakePage{"p_3", "2025년 11월 4일 (화)", "2025-11-04"},
	)
	client.failListFor["p_2"] = true
	mem := ledger.NewMemory(16)
	o := newTestOrchestrator(client, Options{Ledger: mem})

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if summary.Total != 3 || summary.Succeeded != 2 || summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(client.archived) != 2 {
		t.Fatalf("expected 2 archived pages, got %v", client.archived)
	}
	for _, id := range client.archived {
		if id == "p_2" {
			t.Fatalf("page with a failed copy must stay live")
		}
	}
	if len(client.createdUnder["archive_root"]) != 2 {
		t.Fatalf("expected 2 copies under the archive page, got %v", client.createdUnder["archive_root"])
	}
	records, err := mem.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("ledger read failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected one ledger record per candidate, got %d", len(records))
	}
}

func TestRunParallelUsesDistinctWorkerIdentities(t *testing.T) {
	client := newFakeClient(
		fakePage{"p_1", "2025년 11월 6일 (목)", "2025-11-06"},
		fakePage{"p_2", "2025년 11월 5일 (수)", "2025-11-05"},
		fakePage{"p_3", "2025년 11월 4일 (화)", "2025-11-04"},
		fakePage{"p_4", "2025년 11월 3일 (월)", "2025-11-03"},
	)
	var callers []string
	o := newTestOrchestrator(client, Options{
		Parallel: true,
		Workers:  2,
		WorkerClient: func(callerID string) Client {
			callers = append(callers, callerID)
			return client
		},
	})

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if summary.Succeeded != 4 || summary.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(callers) != 2 || callers[0] == callers[1] {
		t.Fatalf("expected two distinct worker identities, got %v", callers)
	}
}

func TestArchiveOneByTitle(t *testing.T) {
	client := newFakeClient(
		fakePage{"p_1", "2025년 11월 6일 (목)", "2025-11-06"},
	)
	o := newTestOrchestrator(client, Options{})

	if err := o.ArchiveOne(context.Background(), "", "2025년 11월 6일 (목)"); err != nil {
		t.Fatalf("archive-one failed: %v", err)
	}
	if len(client.archived) != 1 || client.archived[0] != "p_1" {
		t.Fatalf("expected p_1 archived, got %v", client.archived)
	}
}

func TestArchiveOneRequiresSelector(t *testing.T) {
	o := newTestOrchestrator(newFakeClient(), Options{})
	if err := o.ArchiveOne(context.Background(), "", ""); err == nil {
		t.Fatalf("expected selector error")
	}
}
