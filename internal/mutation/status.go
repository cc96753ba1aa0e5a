// Package mutation coordinates document writes: sparse content saves and
// optimistic workflow status changes, tracking local save state alongside.
package mutation

import (
	"sync"
	"time"
)

// SaveState is the local lifecycle of one document's pending writes.
type SaveState string

const (
	StateSaved   SaveState = "saved"
	StateSaving  SaveState = "saving"
	StateUnsaved SaveState = "unsaved"
	StateError   SaveState = "error"
)

// SaveStatus is what the editor surface reads to render "Saving…",
// "All changes saved" or an error banner.
type SaveStatus struct {
	State       SaveState  `json:"state"`
	LastSavedAt *time.Time `json:"last_saved_at,omitempty"`
	Message     string     `json:"message,omitempty"`
	// Workflow mirrors the document's workflow status, including any
	// optimistic value not yet confirmed by the server.
	Workflow string `json:"workflow,omitempty"`
}

// StatusStore holds per-document save status. Only the Coordinator mutates
// it; everyone else reads.
type StatusStore struct {
	mu       sync.Mutex
	statuses map[uint64]SaveStatus
}

func NewStatusStore() *StatusStore {
	return &StatusStore{statuses: make(map[uint64]SaveStatus)}
}

// Get returns the document's save status, defaulting to saved for documents
// with no write history this session.
func (s *StatusStore) Get(docID uint64) SaveStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.statuses[docID]
	if !ok {
		return SaveStatus{State: StateSaved}
	}
	return st
}

// MarkUnsaved records that local edits exist which have not been dispatched.
// A save already in flight is left alone.
func (s *StatusStore) MarkUnsaved(docID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.statuses[docID]
	if st.State == StateSaving {
		return
	}
	st.State = StateUnsaved
	st.Message = ""
	s.statuses[docID] = st
}

func (s *StatusStore) set(docID uint64, mutate func(*SaveStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.statuses[docID]
	if !ok {
		st = SaveStatus{State: StateSaved}
	}
	mutate(&st)
	s.statuses[docID] = st
}
