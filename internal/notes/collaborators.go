package notes

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AddCollaborator grants the target principal read/write access to the note.
// Preconditions: the actor owns the note, the target exists, the target is
// not the owner, and no grant exists for the pair yet. A duplicate grant is
// reported as ErrAlreadyCollaborator so callers can treat it as satisfied.
func (s *Service) AddCollaborator(ctx context.Context, actor Actor, noteID NoteID, collaboratorID UserID) (CollaboratorGrant, error) {
	note, err := s.loadNote(ctx, s.db, noteID, opAddGrant)
	if err != nil {
		return CollaboratorGrant{}, err
	}
	if note.OwnerID != actor.ID.String() {
		return CollaboratorGrant{}, ErrOwnerRequired
	}
	if collaboratorID.String() == note.OwnerID {
		return CollaboratorGrant{}, ErrOwnerAsCollaborator
	}

	if s.directory != nil {
		exists, err := s.directory.Exists(ctx, collaboratorID.String())
		if err != nil {
			s.logError(opAddGrant, "directory_lookup_failed", err,
				zap.String("note_id", noteID.String()),
				zap.String("collaborator_id", collaboratorID.String()))
			return CollaboratorGrant{}, newServiceError(opAddGrant, "directory_lookup_failed", err)
		}
		if !exists {
			return CollaboratorGrant{}, ErrPrincipalNotFound
		}
	}

	grant := CollaboratorGrant{
		NoteID:           noteID.String(),
		CollaboratorID:   collaboratorID.String(),
		GrantedBy:        actor.ID.String(),
		GrantedAtSeconds: s.clock().UTC().Unix(),
	}

	// The composite primary key is the authority on duplicates. Inserting
	// first and mapping the constraint failure stays correct even when two
	// connections race on the same pair.
	insertErr := s.db.WithContext(ctx).Create(&grant).Error
	if errors.Is(insertErr, gorm.ErrDuplicatedKey) {
		return CollaboratorGrant{}, ErrAlreadyCollaborator
	}
	if insertErr != nil {
		s.logError(opAddGrant, "grant_insert_failed", insertErr,
			zap.String("note_id", noteID.String()),
			zap.String("collaborator_id", collaboratorID.String()))
		return CollaboratorGrant{}, newServiceError(opAddGrant, "grant_insert_failed", insertErr)
	}
	return grant, nil
}

// RemoveCollaborator revokes an existing grant. Owner only.
func (s *Service) RemoveCollaborator(ctx context.Context, actor Actor, noteID NoteID, collaboratorID UserID) error {
	note, err := s.loadNote(ctx, s.db, noteID, opRemoveGrant)
	if err != nil {
		return err
	}
	if note.OwnerID != actor.ID.String() {
		return ErrOwnerRequired
	}

	result := s.db.WithContext(ctx).
		Where("note_id = ? AND collaborator_id = ?", noteID.String(), collaboratorID.String()).
		Delete(&CollaboratorGrant{})
	if result.Error != nil {
		s.logError(opRemoveGrant, "grant_delete_failed", result.Error,
			zap.String("note_id", noteID.String()),
			zap.String("collaborator_id", collaboratorID.String()))
		return newServiceError(opRemoveGrant, "grant_delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrGrantNotFound
	}
	return nil
}

// ListCollaborators returns the note's grants. Readable by the owner or any
// current collaborator.
func (s *Service) ListCollaborators(ctx context.Context, principalID UserID, noteID NoteID) ([]CollaboratorGrant, error) {
	if err := s.requireRead(ctx, principalID, noteID); err != nil {
		return nil, err
	}

	var grants []CollaboratorGrant
	if err := s.db.WithContext(ctx).
		Where("note_id = ?", noteID.String()).
		Order("granted_at_s ASC").
		Find(&grants).Error; err != nil {
		s.logError(opListGrants, "query_failed", err, zap.String("note_id", noteID.String()))
		return nil, newServiceError(opListGrants, "query_failed", err)
	}
	return grants, nil
}
