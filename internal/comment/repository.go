package comment

import (
	"collab-script-editor/internal/anchor"
	"collab-script-editor/internal/domain"
	"context"
	"time"

	"gorm.io/gorm"
)

type CommentRepository interface {
	Create(ctx context.Context, comment *domain.Comment) error
	FindByID(ctx context.Context, id uint64) (*domain.Comment, error)
	ListByDocument(ctx context.Context, docID uint64) ([]domain.Comment, error)
	UpdateContent(ctx context.Context, id uint64, content string) error
	SetResolved(ctx context.Context, id uint64, resolvedBy *uint64, resolvedAt *time.Time) error
	SoftDelete(ctx context.Context, id uint64) error
	UpdatePositions(ctx context.Context, updates []anchor.PositionUpdate) error
}

type CommentRepositoryImpl struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) CommentRepository {
	return &CommentRepositoryImpl{db: db}
}

func (r *CommentRepositoryImpl) Create(ctx context.Context, comment *domain.Comment) error {
	comment.CreatedAt = time.Now().UTC() // Use UTC for consistency
	comment.UpdatedAt = comment.CreatedAt
	return r.db.WithContext(ctx).Create(comment).Error
}

func (r *CommentRepositoryImpl) FindByID(ctx context.Context, id uint64) (*domain.Comment, error) {
	var comment domain.Comment
	err := r.db.WithContext(ctx).
		Where("deleted_at IS NULL").
		First(&comment, id).Error
	return &comment, err
}

// ListByDocument returns the document's live comments ordered by position,
// replies after their parents.
func (r *CommentRepositoryImpl) ListByDocument(ctx context.Context, docID uint64) ([]domain.Comment, error) {
	var comments []domain.Comment
	err := r.db.WithContext(ctx).
		Where("document_id = ? AND deleted_at IS NULL", docID).
		Order("start_position ASC, created_at ASC").
		Find(&comments).Error
	return comments, err
}

func (r *CommentRepositoryImpl) UpdateContent(ctx context.Context, id uint64, content string) error {
	res := r.db.WithContext(ctx).Model(&domain.Comment{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Updates(map[string]any{
			"content":    content,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *CommentRepositoryImpl) SetResolved(ctx context.Context, id uint64, resolvedBy *uint64, resolvedAt *time.Time) error {
	res := r.db.WithContext(ctx).Model(&domain.Comment{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Updates(map[string]any{
			"resolved_by": resolvedBy,
			"resolved_at": resolvedAt,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SoftDelete hides the comment (and its replies) without losing history.
func (r *CommentRepositoryImpl) SoftDelete(ctx context.Context, id uint64) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Comment{}).
			Where("id = ? AND deleted_at IS NULL", id).
			Update("deleted_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		return tx.Model(&domain.Comment{}).
			Where("parent_id = ? AND deleted_at IS NULL", id).
			Update("deleted_at", now).Error
	})
}

// UpdatePositions writes a batch of recovered anchor positions in one
// transaction. HighlightedText stays as the original snapshot; only the
// offsets move.
func (r *CommentRepositoryImpl) UpdatePositions(ctx context.Context, updates []anchor.PositionUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		for _, u := range updates {
			if err := tx.Model(&domain.Comment{}).
				Where("id = ? AND deleted_at IS NULL", u.CommentID).
				Updates(map[string]any{
					"start_position": u.Start,
					"end_position":   u.End,
					"updated_at":     now,
				}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
