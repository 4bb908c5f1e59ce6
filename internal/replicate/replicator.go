// Package replicate reconstructs a page's block subtree under a new parent
// using only the shallow, paginated block API. The walk is depth-first and
// strictly sequential so that sibling order in the destination matches the
// source exactly.
package replicate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/notionops/worklog/internal/notion"
)

// API is the slice of the client the replicator consumes.
type API interface {
	AllBlockChildren(ctx context.Context, blockID string) ([]notion.Block, error)
	AppendBlockChildren(ctx context.Context, parentID string, blocks []notion.CleanBlock) ([]notion.Block, error)
	CreateChildPage(ctx context.Context, parentPageID, title string) (notion.Page, error)
	GetPage(ctx context.Context, pageID string) (notion.Page, error)
}

type Replicator struct {
	api       API
	sanitizer *notion.Sanitizer
	logger    *slog.Logger
}

func New(api API, logger *slog.Logger) *Replicator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Replicator{
		api:       api,
		sanitizer: notion.NewSanitizer(logger),
		logger:    logger,
	}
}

// ReplicateTree copies the full subtree of sourcePageID into a new page
// titled title under targetParentID and returns the new page's id.
//
// Failure to read the source or to create the destination aborts the
// subtree. Every failure below that point is isolated to the failing
// sibling: it is logged and the walk continues.
func (r *Replicator) ReplicateTree(ctx context.Context, sourcePageID, targetParentID, title string) (string, error) {
	blocks, err := r.api.AllBlockChildren(ctx, sourcePageID)
	if err != nil {
		return "", fmt.Errorf("read source blocks: %w", err)
	}
	page, err := r.api.CreateChildPage(ctx, targetParentID, title)
	if err != nil {
		return "", fmt.Errorf("create destination page: %w", err)
	}
	r.logger.Info("replicating page",
		slog.String("title", title),
		slog.String("source_id", sourcePageID),
		slog.String("new_id", page.ID),
		slog.Int("blocks", len(blocks)))
	if err := r.CopyBlocks(ctx, page.ID, blocks); err != nil {
		return page.ID, err
	}
	return page.ID, nil
}

// CopyBlocks appends the given blocks under targetID in order, recursing
// into nested child pages and nested block children. Each append is awaited
// before the next sibling is touched, which is what preserves ordering.
// The only error it returns is context cancellation.
func (r *Replicator) CopyBlocks(ctx context.Context, targetID string, blocks []notion.Block) error {
	for _, block := range blocks {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch block.Type {
		case "child_page":
			title := r.childPageTitle(ctx, block)
			if _, err := r.ReplicateTree(ctx, block.ID, targetID, title); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.logger.Error("child page replication failed",
					slog.String("title", title),
					slog.String("source_id", block.ID),
					slog.String("error", err.Error()))
			}
		case "child_database":
			r.logger.Warn("child database blocks are not replicated", slog.String("block_id", block.ID))
		default:
			clean, ok := r.sanitizer.Sanitize(block)
			if !ok {
				continue
			}
			if err := notion.ValidateWrite(clean); err != nil {
				r.logger.Error("sanitized block rejected by write schema",
					slog.String("type", block.Type),
					slog.String("error", err.Error()))
				continue
			}
			created, err := r.api.AppendBlockChildren(ctx, targetID, []notion.CleanBlock{clean})
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.logger.Error("block append failed",
					slog.String("type", block.Type),
					slog.String("source_id", block.ID),
					slog.String("error", err.Error()))
				continue
			}
			if block.HasChildren && len(created) > 0 {
				if err := r.copyNestedChildren(ctx, block.ID, created[0].ID); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (r *Replicator) copyNestedChildren(ctx context.Context, sourceBlockID, targetBlockID string) error {
	children, err := r.api.AllBlockChildren(ctx, sourceBlockID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logger.Error("nested children fetch failed",
			slog.String("source_id", sourceBlockID),
			slog.String("error", err.Error()))
		return nil
	}
	return r.CopyBlocks(ctx, targetBlockID, children)
}

func (r *Replicator) childPageTitle(ctx context.Context, block notion.Block) string {
	if title := block.ChildPageTitle(); title != "" {
		return title
	}
	if page, err := r.api.GetPage(ctx, block.ID); err == nil {
		if title := page.TitleText(); title != "" {
			return title
		}
	}
	return "Untitled"
}
