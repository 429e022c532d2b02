package notes

import "errors"

var (
	// ErrNoteNotFound indicates the note id does not name a stored note.
	ErrNoteNotFound = errors.New("notes: note not found")
	// ErrNotAuthorized indicates the acting principal may not read or write the note.
	ErrNotAuthorized = errors.New("notes: principal not authorized for note")
	// ErrOwnerRequired indicates an operation reserved for the note's owner.
	ErrOwnerRequired = errors.New("notes: note owner required")
	// ErrPrincipalNotFound indicates a referenced principal does not exist.
	ErrPrincipalNotFound = errors.New("notes: principal not found")
	// ErrOwnerAsCollaborator indicates an attempt to grant the owner collaboration on their own note.
	ErrOwnerAsCollaborator = errors.New("notes: owner cannot be a collaborator on their own note")
	// ErrAlreadyCollaborator indicates a duplicate grant for the same (note, collaborator) pair.
	// Callers may treat it as already satisfied.
	ErrAlreadyCollaborator = errors.New("notes: principal is already a collaborator")
	// ErrGrantNotFound indicates no grant exists for the (note, collaborator) pair.
	ErrGrantNotFound = errors.New("notes: collaborator grant not found")
	// ErrForeignNote indicates a reorder batch referenced a note the acting
	// principal does not own. The whole batch is rejected.
	ErrForeignNote = errors.New("notes: note not owned by acting principal")
)
