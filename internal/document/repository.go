package document

import (
	"collab-script-editor/internal/domain"
	"collab-script-editor/internal/mutation"
	"context"
	"time"

	"gorm.io/gorm"
)

type DocumentRepository interface {
	Create(ctx context.Context, ownerID uint64, document *domain.Document) error
	FindByID(ctx context.Context, id uint64) (*domain.Document, error)
	ListByProject(ctx context.Context, projectID uint64, page, pageSize int) ([]domain.Document, DocumentsMeta, error)
	UpdateColumns(ctx context.Context, docID uint64, columns map[string]any) error
	ReplaceComponents(ctx context.Context, docID uint64, components []domain.ScriptComponent, content *string) error
	UpdateStatus(ctx context.Context, docID uint64, status string) (*domain.Document, error)
	Delete(ctx context.Context, docID uint64) error
}

type DocumentRepositoryImpl struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) DocumentRepository {
	return &DocumentRepositoryImpl{db: db}
}

func (r *DocumentRepositoryImpl) Create(ctx context.Context, ownerID uint64, document *domain.Document) error {
	document.OwnerID = ownerID
	document.CreatedAt = time.Now().UTC() // Use UTC for consistency
	document.UpdatedAt = time.Now().UTC()
	if document.Status == "" {
		document.Status = "draft"
	}
	return r.db.WithContext(ctx).Create(document).Error
}

type DocumentsMeta struct {
	Total       int64 `json:"total"`
	CurrentPage int   `json:"current_page"`
	PerPage     int   `json:"per_page"`
	TotalPage   int   `json:"total_page"`
}

func (r *DocumentRepositoryImpl) FindByID(ctx context.Context, id uint64) (*domain.Document, error) {
	var doc domain.Document
	err := r.db.WithContext(ctx).
		Preload("Components", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		First(&doc, id).Error
	return &doc, err
}

func (r *DocumentRepositoryImpl) ListByProject(ctx context.Context, projectID uint64, page, pageSize int) ([]domain.Document, DocumentsMeta, error) {
	var documents []domain.Document
	var totalRecords int64

	if err := r.db.WithContext(ctx).Model(&domain.Document{}).
		Where("project_id = ?", projectID).
		Count(&totalRecords).Error; err != nil {
		return documents, DocumentsMeta{}, err
	}

	offset := (page - 1) * pageSize
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("updated_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&documents).Error

	totalPages := int((totalRecords + int64(pageSize) - 1) / int64(pageSize))

	return documents, DocumentsMeta{
		Total:       totalRecords,
		PerPage:     pageSize,
		TotalPage:   totalPages,
		CurrentPage: page,
	}, err
}

// updateColumns maps a sparse update onto the columns it actually carries.
// Fields the caller left nil never appear in the map, so the generated UPDATE
// leaves them untouched and concurrent saves of different fields compose.
func updateColumns(partial mutation.PartialUpdate) map[string]any {
	columns := make(map[string]any)
	if partial.Title != nil {
		columns["title"] = *partial.Title
	}
	if partial.Content != nil {
		columns["content"] = *partial.Content
	}
	if partial.EditorState != nil {
		columns["editor_state"] = partial.EditorState
	}
	if len(columns) > 0 {
		columns["updated_at"] = time.Now().UTC()
	}
	return columns
}

func (r *DocumentRepositoryImpl) UpdateColumns(ctx context.Context, docID uint64, columns map[string]any) error {
	res := r.db.WithContext(ctx).Model(&domain.Document{}).
		Where("id = ?", docID).
		Updates(columns)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ReplaceComponents swaps the document's structured component rows and, when
// the plain script text changed with them, writes both in one transaction so
// readers never observe components from one revision next to text from
// another.
func (r *DocumentRepositoryImpl) ReplaceComponents(ctx context.Context, docID uint64, components []domain.ScriptComponent, content *string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		if err := tx.Where("document_id = ?", docID).
			Delete(&domain.ScriptComponent{}).Error; err != nil {
			return err
		}

		for i := range components {
			components[i].ID = 0
			components[i].DocumentID = docID
			components[i].Position = i
			components[i].CreatedAt = now
			components[i].UpdatedAt = now
		}
		if len(components) > 0 {
			if err := tx.Create(&components).Error; err != nil {
				return err
			}
		}

		columns := map[string]any{"updated_at": now}
		if content != nil {
			columns["content"] = *content
		}
		res := tx.Model(&domain.Document{}).
			Where("id = ?", docID).
			Updates(columns)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

func (r *DocumentRepositoryImpl) UpdateStatus(ctx context.Context, docID uint64, status string) (*domain.Document, error) {
	res := r.db.WithContext(ctx).Model(&domain.Document{}).
		Where("id = ?", docID).
		Updates(map[string]any{
			"status":     status,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}

	return r.FindByID(ctx, docID)
}

func (r *DocumentRepositoryImpl) Delete(ctx context.Context, docID uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", docID).
			Delete(&domain.ScriptComponent{}).Error; err != nil {
			return err
		}
		if err := tx.Where("document_id = ?", docID).
			Delete(&domain.Comment{}).Error; err != nil {
			return err
		}
		return tx.Delete(&domain.Document{}, docID).Error
	})
}
