package notes

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// reorderPositionStep separates successive positions inside one reorder
// batch. Large enough that later batches (anchored at a newer clock reading)
// never collide with earlier ones.
const reorderPositionStep = 1000.0

// Reorder assigns fresh positions to the actor's own notes so that a read
// ordered by (pinned DESC, position DESC) yields exactly the pinned list
// followed by the unpinned list, in the supplied orders. Positions descend
// from a shared base anchored at the current clock, so every pinned note
// lands above every unpinned note. The pinned flag is persisted along with
// the position so a drag across the partition boundary sticks.
//
// The whole batch is one transaction: any id that is unknown or owned by
// someone else aborts with ErrForeignNote and no note moves.
func (s *Service) Reorder(ctx context.Context, actor Actor, pinnedIDs, unpinnedIDs []NoteID) error {
	total := len(pinnedIDs) + len(unpinnedIDs)
	if total == 0 {
		return nil
	}

	now := s.clock().UTC()
	base := float64(now.UnixMilli())

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		index := 0
		apply := func(noteID NoteID, pinned bool) error {
			position := base + reorderPositionStep*float64(total-index)
			index++

			result := tx.Model(&Note{}).
				Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("note_id = ? AND owner_id = ?", noteID.String(), actor.ID.String()).
				Updates(map[string]interface{}{
					"position":         position,
					"pinned":           pinned,
					"updated_at_s":     now.Unix(),
					"last_modified_by": actor.DisplayName,
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return ErrForeignNote
			}
			return nil
		}

		for _, noteID := range pinnedIDs {
			if err := apply(noteID, true); err != nil {
				return err
			}
		}
		for _, noteID := range unpinnedIDs {
			if err := apply(noteID, false); err != nil {
				return err
			}
		}
		return nil
	})

	if txErr == nil {
		return nil
	}
	if errors.Is(txErr, ErrForeignNote) {
		return ErrForeignNote
	}
	s.logError(opReorder, "batch_failed", txErr,
		zap.String("principal_id", actor.ID.String()),
		zap.Int("batch_size", total))
	return newServiceError(opReorder, "batch_failed", txErr)
}
