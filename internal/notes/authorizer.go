package notes

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// Authorizer answers read/write questions for (principal, note) pairs. It is
// a pure function over stored state: the answer is recomputed from the notes
// and grants tables on every call, never cached.
type Authorizer struct {
	db *gorm.DB
}

// NewAuthorizer constructs an Authorizer over the provided database handle.
func NewAuthorizer(db *gorm.DB) *Authorizer {
	return &Authorizer{db: db}
}

// CanRead reports whether the principal may read the note: they are its owner
// or hold a collaborator grant for it.
func (a *Authorizer) CanRead(ctx context.Context, principalID UserID, noteID NoteID) (bool, error) {
	return a.hasAccess(ctx, a.db, principalID, noteID)
}

// CanWrite reports whether the principal may mutate the note. Read and write
// access coincide for owners and collaborators; deletion is further restricted
// by the service to owners.
func (a *Authorizer) CanWrite(ctx context.Context, principalID UserID, noteID NoteID) (bool, error) {
	return a.hasAccess(ctx, a.db, principalID, noteID)
}

func (a *Authorizer) hasAccess(ctx context.Context, db *gorm.DB, principalID UserID, noteID NoteID) (bool, error) {
	var note Note
	err := db.WithContext(ctx).
		Select("note_id", "owner_id").
		Where("note_id = ?", noteID.String()).
		Take(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, ErrNoteNotFound
	}
	if err != nil {
		return false, err
	}
	if note.OwnerID == principalID.String() {
		return true, nil
	}

	var grantCount int64
	err = db.WithContext(ctx).
		Model(&CollaboratorGrant{}).
		Where("note_id = ? AND collaborator_id = ?", noteID.String(), principalID.String()).
		Count(&grantCount).Error
	if err != nil {
		return false, err
	}
	return grantCount > 0, nil
}
