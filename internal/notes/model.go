package notes

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidNoteID indicates that a note identifier is empty or exceeds storage bounds.
	ErrInvalidNoteID = errors.New("notes: invalid note id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("notes: invalid user id")
)

// NoteID represents a validated note identifier.
type NoteID string

// NewNoteID validates raw input and returns a NoteID.
func NewNoteID(rawInput string) (NoteID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidNoteID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidNoteID, maxIdentifierLength)
	}
	return NoteID(trimmed), nil
}

// String returns the underlying string identifier.
func (id NoteID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// Note models a persisted note. Ordering reads use (pinned DESC, position DESC),
// so a larger position sorts earlier within its partition.
type Note struct {
	NoteID           string  `gorm:"column:note_id;primaryKey;size:190;not null"`
	OwnerID          string  `gorm:"column:owner_id;size:190;not null;index:idx_notes_owner"`
	Title            string  `gorm:"column:title;size:512;not null;default:''"`
	Body             string  `gorm:"column:body;type:text;not null;default:''"`
	Position         float64 `gorm:"column:position;not null;default:0"`
	Pinned           bool    `gorm:"column:pinned;not null;default:false"`
	Archived         bool    `gorm:"column:archived;not null;default:false"`
	CreatedAtSeconds int64   `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64   `gorm:"column:updated_at_s;not null"`
	LastModifiedBy   string  `gorm:"column:last_modified_by;size:320;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}

// CollaboratorGrant authorizes a non-owner principal to read and write one note.
// The composite primary key enforces at most one grant per (note, collaborator) pair.
type CollaboratorGrant struct {
	NoteID           string `gorm:"column:note_id;primaryKey;size:190;not null"`
	CollaboratorID   string `gorm:"column:collaborator_id;primaryKey;size:190;not null;index:idx_grants_collaborator"`
	GrantedBy        string `gorm:"column:granted_by;size:190;not null"`
	GrantedAtSeconds int64  `gorm:"column:granted_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (CollaboratorGrant) TableName() string {
	return "collaborator_grants"
}

// NoteParams carries the writable fields of a note for create and full update.
type NoteParams struct {
	Title  string
	Body   string
	Pinned bool
}

// NotePatch carries optional field overwrites for a partial update. Only
// non-nil fields are applied; each supplied field replaces the stored value
// outright (field-level last writer wins).
type NotePatch struct {
	Title  *string
	Body   *string
	Pinned *bool
}

// IsEmpty reports whether the patch carries no field at all.
func (p NotePatch) IsEmpty() bool {
	return p.Title == nil && p.Body == nil && p.Pinned == nil
}
