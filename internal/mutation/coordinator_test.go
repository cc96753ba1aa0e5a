package mutation

import (
	"collab-script-editor/internal/domain"
	"collab-script-editor/internal/permission"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSaver struct {
	mock.Mock
}

func (m *MockSaver) SavePartial(ctx context.Context, docID uint64, partial PartialUpdate) error {
	args := m.Called(ctx, docID, partial)
	return args.Error(0)
}

func (m *MockSaver) UpdateWorkflowStatus(ctx context.Context, docID uint64, status string) (*domain.Document, error) {
	args := m.Called(ctx, docID, status)
	if doc := args.Get(0); doc != nil {
		return doc.(*domain.Document), args.Error(1)
	}
	return nil, args.Error(1)
}

// fakeCache stores JSON round-tripped entries like the real one does.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]byte)}
}

func (c *fakeCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (c *fakeCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.entries[key] = raw
	c.mu.Unlock()
	return nil
}

func (c *fakeCache) Invalidate(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

func (c *fakeCache) document(t *testing.T, key string) (*domain.Document, bool) {
	t.Helper()
	var doc domain.Document
	ok, err := c.Get(context.Background(), key, &doc)
	require.NoError(t, err)
	if !ok {
		return nil, false
	}
	return &doc, true
}

func strPtr(s string) *string { return &s }

func editorCaps() permission.Capabilities {
	return permission.ForRole(permission.RoleEmployee)
}

func newTestCoordinator(saver DocumentSaver, cache Cache) (*Coordinator, *StatusStore) {
	statuses := NewStatusStore()
	return NewCoordinator(saver, cache, statuses, time.Hour), statuses
}

func TestSaveSuccess(t *testing.T) {
	saver := new(MockSaver)
	cache := newFakeCache()
	coord, _ := newTestCoordinator(saver, cache)

	// a cached entry exists and must be invalidated, not patched
	require.NoError(t, cache.Set(context.Background(), "document:7", domain.Document{ID: 7, Title: "old"}, time.Hour))

	partial := PartialUpdate{Content: strPtr("FADE IN.")}
	saver.On("SavePartial", mock.Anything, uint64(7), partial).Return(nil)

	err := coord.Save(context.Background(), 7, editorCaps(), partial)
	require.NoError(t, err)

	status := coord.Status(7)
	assert.Equal(t, StateSaved, status.State)
	require.NotNil(t, status.LastSavedAt)
	assert.WithinDuration(t, time.Now(), *status.LastSavedAt, time.Second)

	_, cached := cache.document(t, "document:7")
	assert.False(t, cached, "save must invalidate the cached document")
	saver.AssertExpectations(t)
}

func TestSaveFailureKeepsLastSavedAt(t *testing.T) {
	saver := new(MockSaver)
	cache := newFakeCache()
	coord, _ := newTestCoordinator(saver, cache)

	first := PartialUpdate{Title: strPtr("Episode 1")}
	saver.On("SavePartial", mock.Anything, uint64(7), first).Return(nil).Once()
	require.NoError(t, coord.Save(context.Background(), 7, editorCaps(), first))
	savedAt := coord.Status(7).LastSavedAt
	require.NotNil(t, savedAt)

	second := PartialUpdate{Content: strPtr("broken")}
	saver.On("SavePartial", mock.Anything, uint64(7), second).Return(assert.AnError).Once()
	err := coord.Save(context.Background(), 7, editorCaps(), second)
	require.Error(t, err)

	status := coord.Status(7)
	assert.Equal(t, StateError, status.State)
	assert.NotEmpty(t, status.Message)
	assert.Equal(t, savedAt, status.LastSavedAt, "a failed save must not touch the last known good timestamp")
}

func TestSaveRefusedWithoutEditCapability(t *testing.T) {
	saver := new(MockSaver)
	coord, _ := newTestCoordinator(saver, newFakeCache())

	caps := permission.ForRole(permission.RoleClient)
	err := coord.Save(context.Background(), 7, caps, PartialUpdate{Content: strPtr("x")})

	require.Error(t, err)
	saver.AssertNotCalled(t, "SavePartial", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, StateSaved, coord.Status(7).State, "a refused save must not enter saving")
}

func TestSaveRefusesEmptyUpdate(t *testing.T) {
	saver := new(MockSaver)
	coord, _ := newTestCoordinator(saver, newFakeCache())

	err := coord.Save(context.Background(), 7, editorCaps(), PartialUpdate{})
	require.Error(t, err)
	saver.AssertNotCalled(t, "SavePartial", mock.Anything, mock.Anything, mock.Anything)
}

func TestChangeStatusOptimisticSuccess(t *testing.T) {
	saver := new(MockSaver)
	cache := newFakeCache()
	coord, _ := newTestCoordinator(saver, cache)

	require.NoError(t, cache.Set(context.Background(), "document:7",
		domain.Document{ID: 7, Title: "Episode 1", Status: "draft"}, time.Hour))

	confirmed := &domain.Document{ID: 7, Title: "Episode 1", Status: "in_review", UpdatedAt: time.Now().UTC()}
	saver.On("UpdateWorkflowStatus", mock.Anything, uint64(7), "in_review").Return(confirmed, nil)

	doc, err := coord.ChangeStatus(context.Background(), 7, editorCaps(), "in_review")
	require.NoError(t, err)
	assert.Equal(t, "in_review", doc.Status)
	assert.Equal(t, "in_review", coord.Status(7).Workflow)

	cachedDoc, ok := cache.document(t, "document:7")
	require.True(t, ok)
	assert.Equal(t, "in_review", cachedDoc.Status, "cache must hold the server-confirmed record")
	assert.Equal(t, confirmed.UpdatedAt.Unix(), cachedDoc.UpdatedAt.Unix())
}

func TestChangeStatusRollsBackBothSnapshots(t *testing.T) {
	saver := new(MockSaver)
	cache := newFakeCache()
	coord, statuses := newTestCoordinator(saver, cache)

	prior := domain.Document{ID: 7, Title: "Episode 1", Status: "draft"}
	require.NoError(t, cache.Set(context.Background(), "document:7", prior, time.Hour))
	statuses.set(7, func(st *SaveStatus) { st.Workflow = "draft" })

	saver.On("UpdateWorkflowStatus", mock.Anything, uint64(7), "approved").Return(nil, assert.AnError)

	_, err := coord.ChangeStatus(context.Background(), 7, editorCaps(), "approved")
	require.Error(t, err)

	assert.Equal(t, "draft", coord.Status(7).Workflow, "local status must be restored")
	cachedDoc, ok := cache.document(t, "document:7")
	require.True(t, ok)
	assert.Equal(t, "draft", cachedDoc.Status, "cache entry must be restored to the prior record")
	assert.Equal(t, prior.Title, cachedDoc.Title)
}

func TestChangeStatusRollbackWithoutPriorCacheEntry(t *testing.T) {
	saver := new(MockSaver)
	cache := newFakeCache()
	coord, _ := newTestCoordinator(saver, cache)

	saver.On("UpdateWorkflowStatus", mock.Anything, uint64(7), "approved").Return(nil, assert.AnError)

	_, err := coord.ChangeStatus(context.Background(), 7, editorCaps(), "approved")
	require.Error(t, err)

	_, ok := cache.document(t, "document:7")
	assert.False(t, ok, "no speculative entry may survive when there was none before")
}

func TestChangeStatusRefusedWithoutCapability(t *testing.T) {
	saver := new(MockSaver)
	coord, _ := newTestCoordinator(saver, newFakeCache())

	caps := permission.ForRole(permission.RoleClient)
	_, err := coord.ChangeStatus(context.Background(), 7, caps, "approved")

	require.Error(t, err)
	saver.AssertNotCalled(t, "UpdateWorkflowStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestMarkUnsavedDoesNotInterruptSaving(t *testing.T) {
	coord, statuses := newTestCoordinator(new(MockSaver), newFakeCache())

	statuses.set(7, func(st *SaveStatus) { st.State = StateSaving })
	coord.MarkUnsaved(7)
	assert.Equal(t, StateSaving, coord.Status(7).State)

	statuses.set(7, func(st *SaveStatus) { st.State = StateSaved })
	coord.MarkUnsaved(7)
	assert.Equal(t, StateUnsaved, coord.Status(7).State)
}
