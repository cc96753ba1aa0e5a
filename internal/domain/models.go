package domain

import (
	"time"
)

// User represents an account in the system
type User struct {
	ID           uint64
	Name         string
	Email        string `gorm:"uniqueIndex"`
	Password     string `gorm:"-"` // input only, not stored in db
	PasswordHash string
	Role         string `gorm:"default:client"` // client | employee | admin
	IsActive     bool   `gorm:"default:true"`
	TokenVersion uint64 `gorm:"default:0"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SafeUser represents a user without sensitive information
type SafeUser struct {
	ID       uint64 `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	IsActive bool   `json:"is_active"`
}

// ToSafeUser converts a User to a SafeUser
func (u *User) ToSafeUser() SafeUser {
	return SafeUser{
		ID:       u.ID,
		Name:     u.Name,
		Email:    u.Email,
		Role:     u.Role,
		IsActive: u.IsActive,
	}
}

// Document is one production script. Content holds the plain script text,
// EditorState the serialized rich-editor blob. Status is the workflow status
// (draft, in_review, approved, final).
type Document struct {
	ID          uint64            `json:"id"`
	Title       string            `json:"title"`
	Content     *string           `json:"content"`
	EditorState []byte            `json:"editor_state"`
	Status      string            `json:"status" gorm:"default:draft"`
	OwnerID     uint64            `json:"owner_id"`
	ProjectID   uint64            `json:"project_id" gorm:"index"`
	Components  []ScriptComponent `json:"components,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// ScriptComponent is one structured row of a script (scene heading, action,
// dialogue, voiceover). Position orders components within their document.
type ScriptComponent struct {
	ID         uint64    `json:"id"`
	DocumentID uint64    `json:"document_id" gorm:"index"`
	Position   int       `json:"position"`
	Kind       string    `json:"kind"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Comment is an inline annotation anchored to a span of script text.
// StartPosition/EndPosition are character offsets (half-open range) and
// HighlightedText is the verbatim snapshot of the anchored text at creation
// time. Offsets drift when the script is edited; the anchor package resolves
// the drift, the stored offsets are never silently trusted.
type Comment struct {
	ID              uint64     `json:"id"`
	DocumentID      uint64     `json:"document_id" gorm:"index"`
	AuthorID        uint64     `json:"author_id"`
	ParentID        *uint64    `json:"parent_id"` // set on threaded replies
	Content         string     `json:"content"`
	StartPosition   int        `json:"start_position"`
	EndPosition     int        `json:"end_position"`
	HighlightedText string     `json:"highlighted_text"`
	ResolvedAt      *time.Time `json:"resolved_at"`
	ResolvedBy      *uint64    `json:"resolved_by"`
	DeletedAt       *time.Time `json:"-"` // soft delete, never purged here
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// EditLock is the authoritative lock record: at most one row per document,
// enforced by the primary key. IsManualRelease distinguishes an explicit
// release from heartbeat loss when the record is deleted.
type EditLock struct {
	DocumentID      uint64    `json:"document_id" gorm:"primaryKey;autoIncrement:false"`
	OwnerID         uint64    `json:"owner_id"`
	AcquiredAt      time.Time `json:"acquired_at"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
	IsManualRelease bool      `json:"is_manual_release" gorm:"default:false"`
}
