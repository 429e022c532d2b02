package push

import (
	"context"

	"go.uber.org/zap"
)

// RecipientSource resolves the principals entitled to a note's change
// notifications: the owner plus every collaborator holding a current grant.
// Implemented by the notes service, recomputed from storage per call.
type RecipientSource interface {
	Recipients(ctx context.Context, noteID string) ([]string, error)
}

// Broadcaster fans a note change out to every recipient's open channels.
// Callers invoke it strictly after the underlying write has committed, so a
// notified client's re-fetch always observes the change.
type Broadcaster struct {
	recipients RecipientSource
	registry   *Registry
	logger     *zap.Logger
}

// NewBroadcaster constructs a broadcaster over the registry.
func NewBroadcaster(recipients RecipientSource, registry *Registry, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		recipients: recipients,
		registry:   registry,
		logger:     logger,
	}
}

// NoteChanged sends one note_updated event to each recipient of the note.
// Fan-out carries no ordering or atomicity guarantee across recipients, and
// a recipient with no open channel simply receives nothing. Lookup failures
// are logged and swallowed: the mutation already succeeded and its caller
// must never see a delivery problem.
func (b *Broadcaster) NoteChanged(ctx context.Context, noteID string) {
	if b == nil || b.recipients == nil || b.registry == nil {
		return
	}
	recipientIDs, err := b.recipients.Recipients(ctx, noteID)
	if err != nil {
		b.logger.Warn("change broadcast recipient lookup failed",
			zap.String("note_id", noteID),
			zap.Error(err))
		return
	}

	b.NoteChangedFor(recipientIDs, noteID)
}

// NotesChanged fans a batch of note changes out with at most one event per
// recipient. A recipient entitled to several notes in the batch receives a
// single note_updated naming the first of them; one re-fetch of the list
// covers the whole batch. Per-note lookup failures are logged and swallowed,
// as with NoteChanged.
func (b *Broadcaster) NotesChanged(ctx context.Context, noteIDs []string) {
	if b == nil || b.recipients == nil || b.registry == nil {
		return
	}
	notified := make(map[string]struct{})
	for _, noteID := range noteIDs {
		recipientIDs, err := b.recipients.Recipients(ctx, noteID)
		if err != nil {
			b.logger.Warn("change broadcast recipient lookup failed",
				zap.String("note_id", noteID),
				zap.Error(err))
			continue
		}
		event := NewNoteUpdatedEvent(noteID)
		for _, recipientID := range recipientIDs {
			if _, done := notified[recipientID]; done {
				continue
			}
			notified[recipientID] = struct{}{}
			b.registry.Send(recipientID, event)
		}
	}
}

// NoteChangedFor sends the note_updated event to an explicit recipient set.
// Used when the recipients were captured before the write destroyed them,
// such as a note deletion.
func (b *Broadcaster) NoteChangedFor(recipientIDs []string, noteID string) {
	if b == nil || b.registry == nil {
		return
	}
	event := NewNoteUpdatedEvent(noteID)
	seen := make(map[string]struct{}, len(recipientIDs))
	for _, recipientID := range recipientIDs {
		if _, duplicate := seen[recipientID]; duplicate {
			continue
		}
		seen[recipientID] = struct{}{}
		b.registry.Send(recipientID, event)
	}
}
