package mutation

import (
	"collab-script-editor/internal/domain"
	apperrors "collab-script-editor/internal/errors"
	"collab-script-editor/internal/permission"
	"context"
	"fmt"
	"time"
)

// PartialUpdate carries only the fields the caller actually changed. Nil
// pointers and nil slices are omitted from the write entirely, so concurrent
// saves touching different fields never clobber each other.
type PartialUpdate struct {
	Title       *string                  `json:"title,omitempty"`
	Content     *string                  `json:"content,omitempty"`
	EditorState []byte                   `json:"editor_state,omitempty"`
	Components  []domain.ScriptComponent `json:"components,omitempty"`
}

// Empty reports whether the update carries no fields at all.
func (p PartialUpdate) Empty() bool {
	return p.Title == nil && p.Content == nil && p.EditorState == nil && p.Components == nil
}

// DocumentSaver is the write boundary to the authoritative store.
type DocumentSaver interface {
	SavePartial(ctx context.Context, docID uint64, partial PartialUpdate) error
	UpdateWorkflowStatus(ctx context.Context, docID uint64, status string) (*domain.Document, error)
}

// Cache is the subset of the server-truth cache the coordinator touches.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

func documentCacheKey(docID uint64) string {
	return fmt.Sprintf("document:%d", docID)
}

// Coordinator routes document mutations through the save boundary while
// keeping the local status store and the server-truth cache consistent.
// Content saves invalidate; workflow status changes apply optimistically and
// roll back on failure.
type Coordinator struct {
	saver    DocumentSaver
	cache    Cache
	statuses *StatusStore
	cacheTTL time.Duration
}

func NewCoordinator(saver DocumentSaver, cache Cache, statuses *StatusStore, cacheTTL time.Duration) *Coordinator {
	return &Coordinator{
		saver:    saver,
		cache:    cache,
		statuses: statuses,
		cacheTTL: cacheTTL,
	}
}

// Save dispatches a sparse update. On failure the status goes to error with a
// message and nothing is retried automatically; lastSavedAt keeps its old
// value so the surface can show when the document was last known good.
func (c *Coordinator) Save(ctx context.Context, docID uint64, caps permission.Capabilities, partial PartialUpdate) error {
	if !caps.CanEdit {
		return apperrors.Forbidden("You don't have permission to edit this document!", nil)
	}
	if partial.Empty() {
		return apperrors.BadRequest("Nothing to save", nil)
	}

	c.statuses.set(docID, func(st *SaveStatus) {
		st.State = StateSaving
		st.Message = ""
	})

	if err := c.saver.SavePartial(ctx, docID, partial); err != nil {
		c.statuses.set(docID, func(st *SaveStatus) {
			st.State = StateError
			st.Message = err.Error()
		})
		return err
	}

	now := time.Now().UTC()
	c.statuses.set(docID, func(st *SaveStatus) {
		st.State = StateSaved
		st.LastSavedAt = &now
		st.Message = ""
	})

	// The cached entry is stale now. Drop it rather than patching it locally;
	// the next read refetches the merged server record.
	if err := c.cache.Invalidate(ctx, documentCacheKey(docID)); err != nil {
		return err
	}
	return nil
}

// ChangeStatus applies a workflow status change optimistically: the local
// status store and the cached document both show the new value immediately,
// and both are restored to their exact prior state if the write fails.
func (c *Coordinator) ChangeStatus(ctx context.Context, docID uint64, caps permission.Capabilities, newStatus string) (*domain.Document, error) {
	if !caps.CanChangeStatus {
		return nil, apperrors.Forbidden("You don't have permission to change document status!", nil)
	}

	key := documentCacheKey(docID)

	// Snapshot both sides before touching anything.
	prevStatus := c.statuses.Get(docID)

	var prevDoc domain.Document
	hadCached, err := c.cache.Get(ctx, key, &prevDoc)
	if err != nil {
		return nil, err
	}

	// Speculative apply.
	c.statuses.set(docID, func(st *SaveStatus) {
		st.Workflow = newStatus
	})
	if hadCached {
		speculative := prevDoc
		speculative.Status = newStatus
		if err := c.cache.Set(ctx, key, speculative, c.cacheTTL); err != nil {
			c.statuses.set(docID, func(st *SaveStatus) { *st = prevStatus })
			return nil, err
		}
	}

	doc, err := c.saver.UpdateWorkflowStatus(ctx, docID, newStatus)
	if err != nil {
		// Restore both snapshots exactly.
		c.statuses.set(docID, func(st *SaveStatus) { *st = prevStatus })
		if hadCached {
			if cacheErr := c.cache.Set(ctx, key, prevDoc, c.cacheTTL); cacheErr != nil {
				_ = c.cache.Invalidate(ctx, key)
			}
		} else {
			_ = c.cache.Invalidate(ctx, key)
		}
		return nil, err
	}

	// Server truth wins over the speculative entry.
	c.statuses.set(docID, func(st *SaveStatus) {
		st.Workflow = doc.Status
	})
	if err := c.cache.Set(ctx, key, doc, c.cacheTTL); err != nil {
		return doc, err
	}
	return doc, nil
}

// Status exposes the local save status for a document.
func (c *Coordinator) Status(docID uint64) SaveStatus {
	return c.statuses.Get(docID)
}

// MarkUnsaved records undispatched local edits.
func (c *Coordinator) MarkUnsaved(docID uint64) {
	c.statuses.MarkUnsaved(docID)
}
