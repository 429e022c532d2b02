package notes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries a dotted operation code alongside the underlying cause.
// HTTP handlers surface the code as the JSON "code" field on failures.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew  = "notes.service.new"
	opCreateNote  = "notes.create_note"
	opGetNote     = "notes.get_note"
	opListNotes   = "notes.list_notes"
	opUpdateNote  = "notes.update_note"
	opPatchNote   = "notes.patch_note"
	opSetArchived = "notes.set_archived"
	opDeleteNote  = "notes.delete_note"
	opRecipients  = "notes.recipients"
	opAddGrant    = "notes.add_collaborator"
	opRemoveGrant = "notes.remove_collaborator"
	opListGrants  = "notes.list_collaborators"
	opReorder     = "notes.reorder"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// Actor identifies the principal performing a mutation; the display name is
// stamped into last_modified_by on every write.
type Actor struct {
	ID          UserID
	DisplayName string
}

// IDProvider issues identifiers for newly created notes.
type IDProvider interface {
	NewID() (string, error)
}

// PrincipalDirectory answers whether a principal id names a known account.
// Implemented by the users service; kept as an interface so the notes package
// does not depend on identity storage.
type PrincipalDirectory interface {
	Exists(ctx context.Context, userID string) (bool, error)
}

// ServiceConfig describes the dependencies of the notes service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Directory  PrincipalDirectory
	Logger     *zap.Logger
}

// Service owns every read and write against the notes and grants tables,
// authorizing through the Authorizer before mutating.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	directory  PrincipalDirectory
	authorizer *Authorizer
	logger     *zap.Logger
}

// NewService constructs the notes service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		directory:  cfg.Directory,
		authorizer: NewAuthorizer(cfg.Database),
		logger:     logger,
	}, nil
}

// Authorizer exposes the read/write oracle the service authorizes with.
func (s *Service) Authorizer() *Authorizer {
	return s.authorizer
}

// Create stores a new note owned by the actor. The position is seeded from
// the clock so newly created notes sort before older ones.
func (s *Service) Create(ctx context.Context, actor Actor, params NoteParams) (Note, error) {
	noteID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateNote, "id_generation_failed", err, zap.String("owner_id", actor.ID.String()))
		return Note{}, newServiceError(opCreateNote, "id_generation_failed", err)
	}

	now := s.clock().UTC()
	note := Note{
		NoteID:           noteID,
		OwnerID:          actor.ID.String(),
		Title:            params.Title,
		Body:             params.Body,
		Position:         float64(now.UnixMilli()),
		Pinned:           params.Pinned,
		Archived:         false,
		CreatedAtSeconds: now.Unix(),
		UpdatedAtSeconds: now.Unix(),
		LastModifiedBy:   actor.DisplayName,
	}
	if err := s.db.WithContext(ctx).Create(&note).Error; err != nil {
		s.logError(opCreateNote, "note_insert_failed", err, zap.String("owner_id", actor.ID.String()))
		return Note{}, newServiceError(opCreateNote, "note_insert_failed", err)
	}
	return note, nil
}

// Get returns one note after a read-authorization check.
func (s *Service) Get(ctx context.Context, principalID UserID, noteID NoteID) (Note, error) {
	if err := s.requireRead(ctx, principalID, noteID); err != nil {
		return Note{}, err
	}
	return s.loadNote(ctx, s.db, noteID, opGetNote)
}

// List returns every note the principal owns or collaborates on, ordered for
// display: pinned partition first, then by descending position within each
// partition. Archived notes are excluded unless requested.
func (s *Service) List(ctx context.Context, principalID UserID, includeArchived bool) ([]Note, error) {
	query := s.db.WithContext(ctx).
		Where("owner_id = ? OR note_id IN (?)",
			principalID.String(),
			s.db.Model(&CollaboratorGrant{}).
				Select("note_id").
				Where("collaborator_id = ?", principalID.String()),
		)
	if !includeArchived {
		query = query.Where("archived = ?", false)
	}

	var results []Note
	if err := query.Order("pinned DESC, position DESC").Find(&results).Error; err != nil {
		s.logError(opListNotes, "query_failed", err, zap.String("principal_id", principalID.String()))
		return nil, newServiceError(opListNotes, "query_failed", err)
	}
	return results, nil
}

// Update overwrites every writable field of the note (last writer wins).
func (s *Service) Update(ctx context.Context, actor Actor, noteID NoteID, params NoteParams) (Note, error) {
	if err := s.requireWrite(ctx, actor.ID, noteID); err != nil {
		return Note{}, err
	}

	now := s.clock().UTC()
	updates := map[string]interface{}{
		"title":            params.Title,
		"body":             params.Body,
		"pinned":           params.Pinned,
		"updated_at_s":     now.Unix(),
		"last_modified_by": actor.DisplayName,
	}
	if err := s.applyUpdates(ctx, noteID, updates, opUpdateNote); err != nil {
		return Note{}, err
	}
	return s.loadNote(ctx, s.db, noteID, opUpdateNote)
}

// Patch overwrites only the supplied fields (field-level last writer wins).
func (s *Service) Patch(ctx context.Context, actor Actor, noteID NoteID, patch NotePatch) (Note, error) {
	if err := s.requireWrite(ctx, actor.ID, noteID); err != nil {
		return Note{}, err
	}
	if patch.IsEmpty() {
		return s.loadNote(ctx, s.db, noteID, opPatchNote)
	}

	now := s.clock().UTC()
	updates := map[string]interface{}{
		"updated_at_s":     now.Unix(),
		"last_modified_by": actor.DisplayName,
	}
	if patch.Title != nil {
		updates["title"] = *patch.Title
	}
	if patch.Body != nil {
		updates["body"] = *patch.Body
	}
	if patch.Pinned != nil {
		updates["pinned"] = *patch.Pinned
	}
	if err := s.applyUpdates(ctx, noteID, updates, opPatchNote); err != nil {
		return Note{}, err
	}
	return s.loadNote(ctx, s.db, noteID, opPatchNote)
}

// SetArchived toggles the archive flag.
func (s *Service) SetArchived(ctx context.Context, actor Actor, noteID NoteID, archived bool) (Note, error) {
	if err := s.requireWrite(ctx, actor.ID, noteID); err != nil {
		return Note{}, err
	}

	now := s.clock().UTC()
	updates := map[string]interface{}{
		"archived":         archived,
		"updated_at_s":     now.Unix(),
		"last_modified_by": actor.DisplayName,
	}
	if err := s.applyUpdates(ctx, noteID, updates, opSetArchived); err != nil {
		return Note{}, err
	}
	return s.loadNote(ctx, s.db, noteID, opSetArchived)
}

// Delete removes the note and all of its grants in one transaction. Only the
// owner may delete; collaborators are rejected.
func (s *Service) Delete(ctx context.Context, actor Actor, noteID NoteID) error {
	note, err := s.loadNote(ctx, s.db, noteID, opDeleteNote)
	if err != nil {
		return err
	}
	if note.OwnerID != actor.ID.String() {
		return ErrOwnerRequired
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("note_id = ?", noteID.String()).Delete(&CollaboratorGrant{}).Error; err != nil {
			return err
		}
		return tx.Where("note_id = ?", noteID.String()).Delete(&Note{}).Error
	})
	if txErr != nil {
		s.logError(opDeleteNote, "delete_failed", txErr, zap.String("note_id", noteID.String()))
		return newServiceError(opDeleteNote, "delete_failed", txErr)
	}
	return nil
}

// Recipients returns the note's owner plus every current collaborator. The
// set is recomputed from storage on each call so a broadcast never observes a
// stale grant list.
func (s *Service) Recipients(ctx context.Context, noteID string) ([]string, error) {
	validated, err := NewNoteID(noteID)
	if err != nil {
		return nil, err
	}

	note, err := s.loadNote(ctx, s.db, validated, opRecipients)
	if err != nil {
		return nil, err
	}

	var grants []CollaboratorGrant
	if err := s.db.WithContext(ctx).
		Where("note_id = ?", validated.String()).
		Find(&grants).Error; err != nil {
		s.logError(opRecipients, "grant_query_failed", err, zap.String("note_id", validated.String()))
		return nil, newServiceError(opRecipients, "grant_query_failed", err)
	}

	recipients := make([]string, 0, len(grants)+1)
	recipients = append(recipients, note.OwnerID)
	for _, grant := range grants {
		recipients = append(recipients, grant.CollaboratorID)
	}
	return recipients, nil
}

func (s *Service) requireRead(ctx context.Context, principalID UserID, noteID NoteID) error {
	allowed, err := s.authorizer.CanRead(ctx, principalID, noteID)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrNotAuthorized
	}
	return nil
}

func (s *Service) requireWrite(ctx context.Context, principalID UserID, noteID NoteID) error {
	allowed, err := s.authorizer.CanWrite(ctx, principalID, noteID)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrNotAuthorized
	}
	return nil
}

func (s *Service) applyUpdates(ctx context.Context, noteID NoteID, updates map[string]interface{}, operation string) error {
	result := s.db.WithContext(ctx).
		Model(&Note{}).
		Where("note_id = ?", noteID.String()).
		Updates(updates)
	if result.Error != nil {
		s.logError(operation, "note_update_failed", result.Error, zap.String("note_id", noteID.String()))
		return newServiceError(operation, "note_update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNoteNotFound
	}
	return nil
}

func (s *Service) loadNote(ctx context.Context, db *gorm.DB, noteID NoteID, operation string) (Note, error) {
	var note Note
	err := db.WithContext(ctx).
		Where("note_id = ?", noteID.String()).
		Take(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Note{}, ErrNoteNotFound
	}
	if err != nil {
		s.logError(operation, "note_select_failed", err, zap.String("note_id", noteID.String()))
		return Note{}, newServiceError(operation, "note_select_failed", err)
	}
	return note, nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("notes service error", attrs...)
}
