package comment

import (
	"collab-script-editor/internal/anchor"
	"collab-script-editor/internal/domain"
	"collab-script-editor/internal/errors"
	"collab-script-editor/internal/permission"
	"collab-script-editor/internal/worker"
	"context"
	defError "errors"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"
)

type DocumentProvider interface {
	GetDocumentByID(ctx context.Context, docID uint64) (*domain.Document, error)
}

type CreateCommentInput struct {
	DocumentID      uint64
	ParentID        *uint64
	Content         string
	StartPosition   int
	EndPosition     int
	HighlightedText string
}

// CommentView is a comment with its recovered anchor position. Start/End are
// the offsets the caller should render at; AnchorStatus says how much to
// trust them.
type CommentView struct {
	domain.Comment
	Start        int           `json:"start"`
	End          int           `json:"end"`
	AnchorStatus anchor.Status `json:"anchor_status"`
}

type Service interface {
	CreateComment(ctx context.Context, actorID uint64, caps permission.Capabilities, input CreateCommentInput) (*domain.Comment, error)
	ListComments(ctx context.Context, docID uint64) ([]CommentView, error)
	UpdateComment(ctx context.Context, commentID, actorID uint64, caps permission.Capabilities, content string) (*domain.Comment, error)
	SetResolved(ctx context.Context, commentID, actorID uint64, caps permission.Capabilities, resolved bool) (*domain.Comment, error)
	DeleteComment(ctx context.Context, commentID, actorID uint64, caps permission.Capabilities) error
	Shutdown()
}

type DefaultService struct {
	repository CommentRepository
	documents  DocumentProvider
	publisher  Publisher
	pool       *worker.WorkerPool
	quiet      time.Duration

	mu         sync.Mutex
	debouncers map[uint64]*anchor.Debouncer
}

func NewService(
	repository CommentRepository,
	documents DocumentProvider,
	publisher Publisher,
	pool *worker.WorkerPool,
	quiet time.Duration,
) *DefaultService {
	return &DefaultService{
		repository: repository,
		documents:  documents,
		publisher:  publisher,
		pool:       pool,
		quiet:      quiet,
		debouncers: make(map[uint64]*anchor.Debouncer),
	}
}

func (s *DefaultService) CreateComment(ctx context.Context, actorID uint64, caps permission.Capabilities, input CreateCommentInput) (*domain.Comment, error) {
	if !caps.CanComment {
		return nil, errors.Forbidden("Your role can't comment!", nil)
	}
	if input.Content == "" {
		return nil, errors.BadRequest("Comment content cannot be empty", nil)
	}

	comment := &domain.Comment{
		DocumentID: input.DocumentID,
		AuthorID:   actorID,
		Content:    input.Content,
	}

	if input.ParentID != nil {
		// reply: inherits the thread's anchor, carries none of its own
		parent, err := s.repository.FindByID(ctx, *input.ParentID)
		if err != nil {
			return nil, errors.UnprocessableEntity("Parent comment not found", err)
		}
		if parent.DocumentID != input.DocumentID {
			return nil, errors.UnprocessableEntity("Parent comment belongs to another document", nil)
		}
		if parent.ParentID != nil {
			return nil, errors.UnprocessableEntity("Replies can't be nested", nil)
		}
		comment.ParentID = input.ParentID
	} else {
		if input.StartPosition < 0 || input.EndPosition < input.StartPosition {
			return nil, errors.UnprocessableEntity("Invalid anchor range", nil)
		}
		comment.StartPosition = input.StartPosition
		comment.EndPosition = input.EndPosition
		comment.HighlightedText = input.HighlightedText
	}

	if err := s.repository.Create(ctx, comment); err != nil {
		return nil, err
	}

	s.publish(Event{
		Type:       EventCreated,
		DocumentID: comment.DocumentID,
		CommentID:  comment.ID,
		ActorID:    actorID,
	})
	return comment, nil
}

// ListComments returns the document's comments with their anchors re-resolved
// against the current script text. Recovered positions that moved are written
// back in the background after a quiet period; the response never waits on
// that write.
func (s *DefaultService) ListComments(ctx context.Context, docID uint64) ([]CommentView, error) {
	doc, err := s.documents.GetDocumentByID(ctx, docID)
	if err != nil {
		return nil, err
	}

	var body string
	if doc.Content != nil {
		body = *doc.Content
	}

	comments, err := s.repository.ListByDocument(ctx, docID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	views := make([]CommentView, 0, len(comments))
	var moved []anchor.PositionUpdate

	for _, c := range comments {
		if c.ParentID != nil {
			// replies render under their parent, no anchor of their own
			views = append(views, CommentView{Comment: c, AnchorStatus: anchor.StatusFallback})
			continue
		}

		rec := anchor.RecoverPosition(c.HighlightedText, c.StartPosition, c.EndPosition, c.CreatedAt, body, now)
		views = append(views, CommentView{
			Comment:      c,
			Start:        rec.Start,
			End:          rec.End,
			AnchorStatus: rec.Status,
		})

		adopted := rec.Status == anchor.StatusRelocated || rec.Status == anchor.StatusUncertain
		if adopted && (rec.Start != c.StartPosition || rec.End != c.EndPosition) {
			moved = append(moved, anchor.PositionUpdate{
				CommentID: c.ID,
				Start:     rec.Start,
				End:       rec.End,
			})
		}
	}

	if len(moved) > 0 {
		s.debouncer(docID).Notify(moved)
	}
	return views, nil
}

func (s *DefaultService) UpdateComment(ctx context.Context, commentID, actorID uint64, caps permission.Capabilities, content string) (*domain.Comment, error) {
	if content == "" {
		return nil, errors.BadRequest("Comment content cannot be empty", nil)
	}

	comment, err := s.ownedComment(ctx, commentID, actorID, caps.CanEditOwnComments, "edit")
	if err != nil {
		return nil, err
	}

	if err := s.repository.UpdateContent(ctx, commentID, content); err != nil {
		return nil, err
	}
	comment.Content = content

	s.publish(Event{
		Type:       EventUpdated,
		DocumentID: comment.DocumentID,
		CommentID:  comment.ID,
		ActorID:    actorID,
	})
	return comment, nil
}

func (s *DefaultService) SetResolved(ctx context.Context, commentID, actorID uint64, caps permission.Capabilities, resolved bool) (*domain.Comment, error) {
	if !caps.CanResolveComments {
		return nil, errors.Forbidden("Your role can't resolve comments!", nil)
	}

	comment, err := s.repository.FindByID(ctx, commentID)
	if err != nil {
		if defError.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound("Comment not found", err)
		}
		return nil, err
	}

	// Without full edit rights the resolve right only covers the caller's
	// own comments; staff may resolve anyone's.
	if !caps.CanEdit && comment.AuthorID != actorID {
		return nil, errors.Forbidden("You can only resolve your own comments!", nil)
	}

	var resolvedBy *uint64
	var resolvedAt *time.Time
	if resolved {
		now := time.Now().UTC()
		resolvedBy = &actorID
		resolvedAt = &now
	}

	if err := s.repository.SetResolved(ctx, commentID, resolvedBy, resolvedAt); err != nil {
		return nil, err
	}
	comment.ResolvedBy = resolvedBy
	comment.ResolvedAt = resolvedAt

	s.publish(Event{
		Type:       EventResolved,
		DocumentID: comment.DocumentID,
		CommentID:  comment.ID,
		ActorID:    actorID,
	})
	return comment, nil
}

func (s *DefaultService) DeleteComment(ctx context.Context, commentID, actorID uint64, caps permission.Capabilities) error {
	comment, err := s.ownedComment(ctx, commentID, actorID, caps.CanDeleteOwnComments, "delete")
	if err != nil {
		return err
	}

	if err := s.repository.SoftDelete(ctx, commentID); err != nil {
		return err
	}

	s.publish(Event{
		Type:       EventDeleted,
		DocumentID: comment.DocumentID,
		CommentID:  comment.ID,
		ActorID:    actorID,
	})
	return nil
}

// Shutdown flushes nothing: a pending debounce is simply dropped, the next
// listing recomputes the same positions.
func (s *DefaultService) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.debouncers {
		d.Stop()
	}
	s.debouncers = make(map[uint64]*anchor.Debouncer)
}

func (s *DefaultService) ownedComment(ctx context.Context, commentID, actorID uint64, allowed bool, verb string) (*domain.Comment, error) {
	comment, err := s.repository.FindByID(ctx, commentID)
	if err != nil {
		if defError.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound("Comment not found", err)
		}
		return nil, err
	}

	if !allowed || comment.AuthorID != actorID {
		return nil, errors.Forbidden("You can only "+verb+" your own comments!", nil)
	}
	return comment, nil
}

func (s *DefaultService) debouncer(docID uint64) *anchor.Debouncer {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.debouncers[docID]
	if !ok {
		d = anchor.NewDebouncer(s.quiet, func(updates []anchor.PositionUpdate) {
			s.pool.Submit(func(ctx context.Context) error {
				return s.repository.UpdatePositions(ctx, updates)
			})
		})
		s.debouncers[docID] = d
	}
	return d
}

func (s *DefaultService) publish(ev Event) {
	if s.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.publisher.PublishComment(ctx, ev); err != nil {
		log.Printf("[COMMENT] failed to publish %s for comment %d: %v", ev.Type, ev.CommentID, err)
	}
}
