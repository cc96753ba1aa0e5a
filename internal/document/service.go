package document

import (
	"collab-script-editor/internal/domain"
	"collab-script-editor/internal/errors"
	"collab-script-editor/internal/mutation"
	"collab-script-editor/redis"
	"context"
	defError "errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Workflow statuses a script moves through. Order matters for display only;
// any transition between them is allowed.
var workflowStatuses = map[string]bool{
	"draft":     true,
	"in_review": true,
	"approved":  true,
	"final":     true,
}

type Service interface {
	CreateDocument(ctx context.Context, ownerID uint64, document *domain.Document) error
	GetDocumentByID(ctx context.Context, docID uint64) (*domain.Document, error)
	GetProjectDocuments(ctx context.Context, projectID uint64, page, pageSize int) (*PaginatedDocuments, error)
	DeleteDocument(ctx context.Context, docID uint64, userID uint64, isAdmin bool) error

	// the document save boundary used by the mutation coordinator
	SavePartial(ctx context.Context, docID uint64, partial mutation.PartialUpdate) error
	UpdateWorkflowStatus(ctx context.Context, docID uint64, status string) (*domain.Document, error)
}

type DefaultService struct {
	repository DocumentRepository
	cache      *redis.Cache
	cacheTTL   time.Duration
}

func NewService(repository DocumentRepository, cache *redis.Cache, cacheTTL time.Duration) Service {
	return &DefaultService{
		repository: repository,
		cache:      cache,
		cacheTTL:   cacheTTL,
	}
}

func documentKey(docID uint64) string {
	return fmt.Sprintf("document:%d", docID)
}

func projectVersionKey(projectID uint64) string {
	return fmt.Sprintf("project:%d:docs:version", projectID)
}

func (s *DefaultService) CreateDocument(ctx context.Context, ownerID uint64, document *domain.Document) error {
	err := s.repository.Create(ctx, ownerID, document)
	if err == nil {
		// increase cache key, so any new fetch will get new version
		s.cache.IncrementVersion(ctx, projectVersionKey(document.ProjectID))
	}
	return err
}

func (s *DefaultService) GetDocumentByID(ctx context.Context, docID uint64) (*domain.Document, error) {
	var doc domain.Document
	found, _ := s.cache.Get(ctx, documentKey(docID), &doc)
	if found {
		return &doc, nil
	}

	fresh, err := s.repository.FindByID(ctx, docID)
	if err != nil {
		if defError.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound("Document not found", err)
		}
		return nil, err
	}

	// set value to cache
	go s.cache.Set(context.Background(), documentKey(docID), fresh, s.cacheTTL)

	return fresh, nil
}

type PaginatedDocuments struct {
	Data []domain.Document `json:"data"`
	Meta DocumentsMeta     `json:"meta"`
}

func (s *DefaultService) GetProjectDocuments(ctx context.Context, projectID uint64, page, pageSize int) (*PaginatedDocuments, error) {
	// Get the current data version for this project's documents
	v := s.cache.GetVersion(ctx, projectVersionKey(projectID))
	cacheKey := fmt.Sprintf("docs:pr:%d:v:%d:p:%d:ps:%d", projectID, v, page, pageSize)

	var result PaginatedDocuments
	found, _ := s.cache.Get(ctx, cacheKey, &result)
	if found {
		return &result, nil
	}

	documents, meta, err := s.repository.ListByProject(ctx, projectID, page, pageSize)
	if err != nil {
		return nil, err
	}
	result = PaginatedDocuments{Data: documents, Meta: meta}
	go s.cache.Set(context.Background(), cacheKey, result, 24*time.Hour)

	return &result, nil
}

// SavePartial writes only the fields the update carries. Updates that include
// a component list go through the atomic replace so component rows and script
// text always land together.
func (s *DefaultService) SavePartial(ctx context.Context, docID uint64, partial mutation.PartialUpdate) error {
	if partial.Components != nil {
		if err := s.repository.ReplaceComponents(ctx, docID, partial.Components, partial.Content); err != nil {
			if defError.Is(err, gorm.ErrRecordNotFound) {
				return errors.NotFound("Document not found", err)
			}
			return err
		}

		// remaining sparse fields, minus the ones the replace already wrote
		rest := partial
		rest.Components = nil
		rest.Content = nil
		if rest.Empty() {
			s.invalidateAfterWrite(ctx, docID)
			return nil
		}
		if err := s.repository.UpdateColumns(ctx, docID, updateColumns(rest)); err != nil {
			return err
		}
		s.invalidateAfterWrite(ctx, docID)
		return nil
	}

	columns := updateColumns(partial)
	if len(columns) == 0 {
		return errors.BadRequest("Nothing to save", nil)
	}
	if err := s.repository.UpdateColumns(ctx, docID, columns); err != nil {
		if defError.Is(err, gorm.ErrRecordNotFound) {
			return errors.NotFound("Document not found", err)
		}
		return err
	}

	s.invalidateAfterWrite(ctx, docID)
	return nil
}

func (s *DefaultService) UpdateWorkflowStatus(ctx context.Context, docID uint64, status string) (*domain.Document, error) {
	if !workflowStatuses[status] {
		return nil, errors.UnprocessableEntity("Unknown workflow status", nil)
	}

	doc, err := s.repository.UpdateStatus(ctx, docID, status)
	if err != nil {
		if defError.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound("Document not found", err)
		}
		return nil, err
	}

	s.invalidateAfterWrite(ctx, docID)
	return doc, nil
}

func (s *DefaultService) DeleteDocument(ctx context.Context, docID uint64, userID uint64, isAdmin bool) error {
	doc, err := s.repository.FindByID(ctx, docID)
	if err != nil {
		if defError.Is(err, gorm.ErrRecordNotFound) {
			return errors.NotFound("Document not found", err)
		}
		return err
	}

	if doc.OwnerID != userID && !isAdmin {
		return errors.Forbidden("Only the owner can delete a document", nil)
	}

	if err := s.repository.Delete(ctx, docID); err != nil {
		return err
	}

	s.cache.Invalidate(ctx, documentKey(docID))
	s.cache.IncrementVersion(ctx, projectVersionKey(doc.ProjectID))
	return nil
}

func (s *DefaultService) invalidateAfterWrite(ctx context.Context, docID uint64) {
	s.cache.Invalidate(ctx, documentKey(docID))
}
