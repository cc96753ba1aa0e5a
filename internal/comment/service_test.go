package comment

import (
	"collab-script-editor/internal/anchor"
	"collab-script-editor/internal/domain"
	"collab-script-editor/internal/permission"
	"collab-script-editor/internal/worker"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Create(ctx context.Context, comment *domain.Comment) error {
	args := m.Called(ctx, comment)
	return args.Error(0)
}

func (m *MockRepository) FindByID(ctx context.Context, id uint64) (*domain.Comment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Comment), args.Error(1)
}

func (m *MockRepository) ListByDocument(ctx context.Context, docID uint64) ([]domain.Comment, error) {
	args := m.Called(ctx, docID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Comment), args.Error(1)
}

func (m *MockRepository) UpdateContent(ctx context.Context, id uint64, content string) error {
	args := m.Called(ctx, id, content)
	return args.Error(0)
}

func (m *MockRepository) SetResolved(ctx context.Context, id uint64, resolvedBy *uint64, resolvedAt *time.Time) error {
	args := m.Called(ctx, id, resolvedBy, resolvedAt)
	return args.Error(0)
}

func (m *MockRepository) SoftDelete(ctx context.Context, id uint64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRepository) UpdatePositions(ctx context.Context, updates []anchor.PositionUpdate) error {
	args := m.Called(ctx, updates)
	return args.Error(0)
}

type fakeDocuments struct {
	doc *domain.Document
}

func (f *fakeDocuments) GetDocumentByID(ctx context.Context, docID uint64) (*domain.Document, error) {
	return f.doc, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) PublishComment(ctx context.Context, ev Event) error {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) last(t *testing.T) Event {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.events)
	return p.events[len(p.events)-1]
}

func docWithBody(body string) *domain.Document {
	return &domain.Document{ID: 1, Title: "Episode 1", Content: &body}
}

func newTestService(repo CommentRepository, docs DocumentProvider, pub Publisher) (*DefaultService, *worker.WorkerPool) {
	pool := worker.NewWorkerPool(1, 10)
	svc := NewService(repo, docs, pub, pool, 10*time.Millisecond)
	return svc, pool
}

func staffCaps() permission.Capabilities {
	return permission.ForRole(permission.RoleEmployee)
}

func clientCaps() permission.Capabilities {
	return permission.ForRole(permission.RoleClient)
}

// old enough that the freshness guard does not skip recovery
var anchorAge = time.Now().UTC().Add(-time.Minute)

func TestListCommentsRelocatesMovedAnchor(t *testing.T) {
	repo := new(MockRepository)
	// "THE HOST SMILES" used to start at offset 0; an insertion pushed it to 9
	docs := &fakeDocuments{doc: docWithBody("FADE IN. THE HOST SMILES.")}
	svc, pool := newTestService(repo, docs, &recordingPublisher{})
	defer pool.Shutdown()
	defer svc.Shutdown()

	comments := []domain.Comment{{
		ID:              5,
		DocumentID:      1,
		AuthorID:        2,
		Content:         "too cheerful",
		StartPosition:   0,
		EndPosition:     15,
		HighlightedText: "THE HOST SMILES",
		CreatedAt:       anchorAge,
	}}
	repo.On("ListByDocument", mock.Anything, uint64(1)).Return(comments, nil)

	done := make(chan []anchor.PositionUpdate, 1)
	repo.On("UpdatePositions", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		done <- args.Get(1).([]anchor.PositionUpdate)
	}).Return(nil)

	views, err := svc.ListComments(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, views, 1)

	assert.Equal(t, anchor.StatusRelocated, views[0].AnchorStatus)
	assert.Equal(t, 9, views[0].Start)
	assert.Equal(t, 24, views[0].End)
	// the stored record still shows the old offsets until the write-back lands
	assert.Equal(t, 0, views[0].StartPosition)

	select {
	case updates := <-done:
		require.Len(t, updates, 1)
		assert.Equal(t, uint64(5), updates[0].CommentID)
		assert.Equal(t, 9, updates[0].Start)
		assert.Equal(t, 24, updates[0].End)
	case <-time.After(time.Second):
		t.Fatal("position write-back never dispatched")
	}
}

func TestListCommentsUnchangedAnchorSkipsWriteBack(t *testing.T) {
	repo := new(MockRepository)
	docs := &fakeDocuments{doc: docWithBody("FADE IN. THE HOST SMILES.")}
	svc, pool := newTestService(repo, docs, &recordingPublisher{})
	defer pool.Shutdown()
	defer svc.Shutdown()

	comments := []domain.Comment{{
		ID:              5,
		DocumentID:      1,
		StartPosition:   9,
		EndPosition:     24,
		HighlightedText: "THE HOST SMILES",
		CreatedAt:       anchorAge,
	}}
	repo.On("ListByDocument", mock.Anything, uint64(1)).Return(comments, nil)

	views, err := svc.ListComments(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, anchor.StatusRelocated, views[0].AnchorStatus)

	time.Sleep(50 * time.Millisecond)
	repo.AssertNotCalled(t, "UpdatePositions", mock.Anything, mock.Anything)
}

func TestListCommentsOrphanedAnchorKeepsStoredPosition(t *testing.T) {
	repo := new(MockRepository)
	docs := &fakeDocuments{doc: docWithBody("an entirely rewritten script")}
	svc, pool := newTestService(repo, docs, &recordingPublisher{})
	defer pool.Shutdown()
	defer svc.Shutdown()

	comments := []domain.Comment{{
		ID:              5,
		DocumentID:      1,
		StartPosition:   4,
		EndPosition:     19,
		HighlightedText: "THE HOST SMILES",
		CreatedAt:       anchorAge,
	}}
	repo.On("ListByDocument", mock.Anything, uint64(1)).Return(comments, nil)

	views, err := svc.ListComments(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, anchor.StatusOrphaned, views[0].AnchorStatus)
	assert.Equal(t, 4, views[0].Start)
	assert.Equal(t, 19, views[0].End)

	time.Sleep(50 * time.Millisecond)
	repo.AssertNotCalled(t, "UpdatePositions", mock.Anything, mock.Anything)
}

func TestListCommentsRepliesCarryNoAnchor(t *testing.T) {
	repo := new(MockRepository)
	docs := &fakeDocuments{doc: docWithBody("FADE IN.")}
	svc, pool := newTestService(repo, docs, &recordingPublisher{})
	defer pool.Shutdown()
	defer svc.Shutdown()

	parentID := uint64(5)
	comments := []domain.Comment{{
		ID:         6,
		DocumentID: 1,
		ParentID:   &parentID,
		Content:    "agreed",
		CreatedAt:  anchorAge,
	}}
	repo.On("ListByDocument", mock.Anything, uint64(1)).Return(comments, nil)

	views, err := svc.ListComments(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, anchor.StatusFallback, views[0].AnchorStatus)
}

func TestCreateCommentRequiresCapability(t *testing.T) {
	repo := new(MockRepository)
	svc, pool := newTestService(repo, &fakeDocuments{}, &recordingPublisher{})
	defer pool.Shutdown()
	defer svc.Shutdown()

	none := permission.ForRole(permission.RoleNone)
	_, err := svc.CreateComment(context.Background(), 2, none, CreateCommentInput{
		DocumentID: 1,
		Content:    "hello",
	})
	require.Error(t, err)
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestCreateReplyValidatesParent(t *testing.T) {
	repo := new(MockRepository)
	pub := &recordingPublisher{}
	svc, pool := newTestService(repo, &fakeDocuments{}, pub)
	defer pool.Shutdown()
	defer svc.Shutdown()

	parentID := uint64(5)

	// parent on another document
	repo.On("FindByID", mock.Anything, parentID).
		Return(&domain.Comment{ID: parentID, DocumentID: 99}, nil).Once()
	_, err := svc.CreateComment(context.Background(), 2, clientCaps(), CreateCommentInput{
		DocumentID: 1,
		ParentID:   &parentID,
		Content:    "reply",
	})
	require.Error(t, err)

	// valid parent
	repo.On("FindByID", mock.Anything, parentID).
		Return(&domain.Comment{ID: parentID, DocumentID: 1}, nil).Once()
	repo.On("Create", mock.Anything, mock.MatchedBy(func(c *domain.Comment) bool {
		return c.ParentID != nil && *c.ParentID == parentID && c.HighlightedText == ""
	})).Return(nil).Once()

	comment, err := svc.CreateComment(context.Background(), 2, clientCaps(), CreateCommentInput{
		DocumentID: 1,
		ParentID:   &parentID,
		Content:    "reply",
	})
	require.NoError(t, err)
	assert.Equal(t, parentID, *comment.ParentID)
	assert.Equal(t, EventCreated, pub.last(t).Type)
}

func TestUpdateCommentOwnershipGuard(t *testing.T) {
	repo := new(MockRepository)
	svc, pool := newTestService(repo, &fakeDocuments{}, &recordingPublisher{})
	defer pool.Shutdown()
	defer svc.Shutdown()

	repo.On("FindByID", mock.Anything, uint64(5)).
		Return(&domain.Comment{ID: 5, DocumentID: 1, AuthorID: 2}, nil)

	// another author, even with the capability
	_, err := svc.UpdateComment(context.Background(), 5, 3, staffCaps(), "edited")
	require.Error(t, err)
	repo.AssertNotCalled(t, "UpdateContent", mock.Anything, mock.Anything, mock.Anything)

	// the author
	repo.On("UpdateContent", mock.Anything, uint64(5), "edited").Return(nil)
	comment, err := svc.UpdateComment(context.Background(), 5, 2, staffCaps(), "edited")
	require.NoError(t, err)
	assert.Equal(t, "edited", comment.Content)
}

func TestResolveComment(t *testing.T) {
	repo := new(MockRepository)
	pub := &recordingPublisher{}
	svc, pool := newTestService(repo, &fakeDocuments{}, pub)
	defer pool.Shutdown()
	defer svc.Shutdown()

	repo.On("FindByID", mock.Anything, uint64(5)).
		Return(&domain.Comment{ID: 5, DocumentID: 1, AuthorID: 2}, nil)

	// a client may not resolve someone else's comment
	_, err := svc.SetResolved(context.Background(), 5, 3, clientCaps(), true)
	require.Error(t, err)
	repo.AssertNotCalled(t, "SetResolved", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	repo.On("SetResolved", mock.Anything, uint64(5), mock.Anything, mock.Anything).Return(nil)

	// but may resolve their own
	comment, err := svc.SetResolved(context.Background(), 5, 2, clientCaps(), true)
	require.NoError(t, err)
	require.NotNil(t, comment.ResolvedBy)
	assert.Equal(t, uint64(2), *comment.ResolvedBy)

	// staff resolve anyone's
	comment, err = svc.SetResolved(context.Background(), 5, 3, staffCaps(), true)
	require.NoError(t, err)
	require.NotNil(t, comment.ResolvedBy)
	assert.Equal(t, uint64(3), *comment.ResolvedBy)
	assert.NotNil(t, comment.ResolvedAt)
	assert.Equal(t, EventResolved, pub.last(t).Type)

	// unresolve clears both fields
	comment, err = svc.SetResolved(context.Background(), 5, 3, staffCaps(), false)
	require.NoError(t, err)
	assert.Nil(t, comment.ResolvedBy)
	assert.Nil(t, comment.ResolvedAt)
}

func TestDeleteCommentOwnershipGuard(t *testing.T) {
	repo := new(MockRepository)
	pub := &recordingPublisher{}
	svc, pool := newTestService(repo, &fakeDocuments{}, pub)
	defer pool.Shutdown()
	defer svc.Shutdown()

	repo.On("FindByID", mock.Anything, uint64(5)).
		Return(&domain.Comment{ID: 5, DocumentID: 1, AuthorID: 2}, nil)

	err := svc.DeleteComment(context.Background(), 5, 3, staffCaps())
	require.Error(t, err)
	repo.AssertNotCalled(t, "SoftDelete", mock.Anything, mock.Anything)

	repo.On("SoftDelete", mock.Anything, uint64(5)).Return(nil)
	require.NoError(t, svc.DeleteComment(context.Background(), 5, 2, staffCaps()))
	assert.Equal(t, EventDeleted, pub.last(t).Type)
}

func TestFindByIDNotFound(t *testing.T) {
	repo := new(MockRepository)
	svc, pool := newTestService(repo, &fakeDocuments{}, &recordingPublisher{})
	defer pool.Shutdown()
	defer svc.Shutdown()

	repo.On("FindByID", mock.Anything, uint64(404)).Return(nil, gorm.ErrRecordNotFound)

	_, err := svc.SetResolved(context.Background(), 404, 3, staffCaps(), true)
	require.Error(t, err)
}
