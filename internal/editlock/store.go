package editlock

import (
	"collab-script-editor/internal/domain"
	"context"
	"errors"
	"log"
	"time"

	"gorm.io/gorm"
)

var (
	ErrLockNotFound = errors.New("edit lock not found")
	ErrNotLockOwner = errors.New("lock not held by this user")
)

// AcquireResult is what the atomic acquire round trip reports: either the
// caller now holds the lock, or the identity of whoever does.
type AcquireResult struct {
	Acquired   bool      `json:"acquired"`
	OwnerID    uint64    `json:"owner_id"`
	OwnerName  string    `json:"owner_name"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// LockStore is the persistent lock record boundary. Acquire must be a single
// atomic server-side operation; a separate check-then-insert from the client
// would race.
type LockStore interface {
	Acquire(ctx context.Context, docID, ownerID uint64) (*AcquireResult, error)
	Get(ctx context.Context, docID uint64) (*domain.EditLock, error)
	Heartbeat(ctx context.Context, docID, ownerID uint64, at time.Time) error
	Release(ctx context.Context, docID, ownerID uint64) error
	ForceDelete(ctx context.Context, docID uint64) error
}

// GormStore implements LockStore on Postgres and publishes a realtime event
// after every successful write, mirroring what a managed backend's change
// feed would deliver.
type GormStore struct {
	db       *gorm.DB
	realtime Realtime
}

func NewGormStore(db *gorm.DB, realtime Realtime) *GormStore {
	return &GormStore{db: db, realtime: realtime}
}

// Acquire inserts the lock record if and only if no live lock exists, in one
// atomic statement. A record already owned by the caller is re-claimed (the
// acquisition protocol re-runs after heartbeat hiccups); a record owned by
// anyone else leaves the row untouched and the current holder is read back.
func (s *GormStore) Acquire(ctx context.Context, docID, ownerID uint64) (*AcquireResult, error) {
	now := time.Now().UTC()

	var inserted struct{ OwnerID uint64 }
	res := s.db.WithContext(ctx).Raw(`
		INSERT INTO edit_locks (document_id, owner_id, acquired_at, last_heartbeat_at, is_manual_release)
		VALUES (?, ?, ?, ?, false)
		ON CONFLICT (document_id) DO UPDATE
			SET last_heartbeat_at = EXCLUDED.last_heartbeat_at
			WHERE edit_locks.owner_id = EXCLUDED.owner_id
		RETURNING owner_id
	`, docID, ownerID, now, now).Scan(&inserted)
	if res.Error != nil {
		return nil, res.Error
	}

	if res.RowsAffected == 0 {
		// Lost the race: report the current holder.
		holder, err := s.holderInfo(ctx, docID)
		if err != nil {
			return nil, err
		}
		return holder, nil
	}

	s.publish(ctx, Event{Type: EventInsert, DocumentID: docID, OwnerID: ownerID})
	return &AcquireResult{Acquired: true, OwnerID: ownerID, AcquiredAt: now}, nil
}

func (s *GormStore) holderInfo(ctx context.Context, docID uint64) (*AcquireResult, error) {
	var row struct {
		OwnerID    uint64
		Name       string
		AcquiredAt time.Time
	}
	err := s.db.WithContext(ctx).Raw(`
		SELECT el.owner_id, COALESCE(u.name, '') AS name, el.acquired_at
		FROM edit_locks el
		LEFT JOIN users u ON u.id = el.owner_id
		WHERE el.document_id = ?
	`, docID).Scan(&row).Error
	if err != nil {
		return nil, err
	}

	if row.OwnerID == 0 {
		// The conflicting lock vanished between statements; let the caller's
		// verification loop sort it out.
		return &AcquireResult{Acquired: false}, nil
	}
	return &AcquireResult{
		Acquired:   false,
		OwnerID:    row.OwnerID,
		OwnerName:  row.Name,
		AcquiredAt: row.AcquiredAt,
	}, nil
}

func (s *GormStore) Get(ctx context.Context, docID uint64) (*domain.EditLock, error) {
	var lock domain.EditLock
	err := s.db.WithContext(ctx).First(&lock, "document_id = ?", docID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrLockNotFound
	}
	if err != nil {
		return nil, err
	}
	return &lock, nil
}

func (s *GormStore) Heartbeat(ctx context.Context, docID, ownerID uint64, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&domain.EditLock{}).
		Where("document_id = ? AND owner_id = ?", docID, ownerID).
		Update("last_heartbeat_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotLockOwner
	}

	s.publish(ctx, Event{Type: EventUpdate, DocumentID: docID, OwnerID: ownerID})
	return nil
}

// Release deletes the caller's lock record, flagging the deletion as an
// explicit release so subscribers can tell it apart from heartbeat loss.
func (s *GormStore) Release(ctx context.Context, docID, ownerID uint64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.EditLock{}).
			Where("document_id = ? AND owner_id = ?", docID, ownerID).
			Update("is_manual_release", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotLockOwner
		}
		return tx.Delete(&domain.EditLock{}, "document_id = ?", docID).Error
	})
	if err != nil {
		return err
	}

	s.publish(ctx, Event{Type: EventDelete, DocumentID: docID, OwnerID: ownerID, ManualRelease: true})
	return nil
}

// ForceDelete removes whatever lock exists, unconditionally. Privileged.
func (s *GormStore) ForceDelete(ctx context.Context, docID uint64) error {
	lock, err := s.Get(ctx, docID)
	if errors.Is(err, ErrLockNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Delete(&domain.EditLock{}, "document_id = ?", docID).Error; err != nil {
		return err
	}

	s.publish(ctx, Event{Type: EventDelete, DocumentID: docID, OwnerID: lock.OwnerID})
	return nil
}

func (s *GormStore) publish(ctx context.Context, ev Event) {
	if s.realtime == nil {
		return
	}
	if err := s.realtime.Publish(ctx, ev); err != nil {
		log.Printf("[EDITLOCK] failed to publish %s for doc %d: %v", ev.Type, ev.DocumentID, err)
	}
}
