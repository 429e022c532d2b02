package push

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type staticRecipients map[string][]string

func (s staticRecipients) Recipients(_ context.Context, noteID string) ([]string, error) {
	recipients, ok := s[noteID]
	if !ok {
		return nil, errors.New("unknown note")
	}
	return recipients, nil
}

func TestBroadcasterReachesExactlyTheRecipientSet(t *testing.T) {
	registry := NewRegistry()
	ownerFirst := mustChannel(t, "owner-1")
	ownerSecond := mustChannel(t, "owner-1")
	collaborator := mustChannel(t, "collab-1")
	bystander := mustChannel(t, "bystander-1")
	registry.Register("owner-1", ownerFirst)
	registry.Register("owner-1", ownerSecond)
	registry.Register("collab-1", collaborator)
	registry.Register("bystander-1", bystander)

	broadcaster := NewBroadcaster(staticRecipients{
		"note-1": {"owner-1", "collab-1", "offline-user"},
	}, registry, zap.NewNop())

	broadcaster.NoteChanged(context.Background(), "note-1")

	// Every channel of each recipient gets the event, including both of the
	// owner's; "offline-user" has no channel and is silently skipped.
	for _, ch := range []*Channel{ownerFirst, ownerSecond, collaborator} {
		event := expectEvent(t, ch, EventNoteUpdated)
		if event.NoteID != "note-1" {
			t.Fatalf("unexpected note id %s", event.NoteID)
		}
	}
	expectNoEvent(t, bystander)
}

func TestBroadcasterDeduplicatesRecipients(t *testing.T) {
	registry := NewRegistry()
	ch := mustChannel(t, "owner-1")
	registry.Register("owner-1", ch)

	broadcaster := NewBroadcaster(staticRecipients{
		"note-1": {"owner-1", "owner-1"},
	}, registry, zap.NewNop())

	broadcaster.NoteChanged(context.Background(), "note-1")

	expectEvent(t, ch, EventNoteUpdated)
	expectNoEventBuffered(t, ch)
}

func TestBatchBroadcastSendsOneEventPerRecipient(t *testing.T) {
	registry := NewRegistry()
	shared := mustChannel(t, "collab-1")
	ownerFirst := mustChannel(t, "owner-1")
	ownerSecond := mustChannel(t, "owner-2")
	registry.Register("collab-1", shared)
	registry.Register("owner-1", ownerFirst)
	registry.Register("owner-2", ownerSecond)

	broadcaster := NewBroadcaster(staticRecipients{
		"note-1": {"owner-1", "collab-1"},
		"note-2": {"owner-2", "collab-1"},
	}, registry, zap.NewNop())

	broadcaster.NotesChanged(context.Background(), []string{"note-1", "note-2"})

	// The collaborator spans both notes yet hears about the batch once; a
	// single re-fetch covers it.
	if event := expectEvent(t, shared, EventNoteUpdated); event.NoteID != "note-1" {
		t.Fatalf("unexpected note id %s", event.NoteID)
	}
	expectNoEventBuffered(t, shared)

	if event := expectEvent(t, ownerFirst, EventNoteUpdated); event.NoteID != "note-1" {
		t.Fatalf("unexpected note id %s", event.NoteID)
	}
	if event := expectEvent(t, ownerSecond, EventNoteUpdated); event.NoteID != "note-2" {
		t.Fatalf("unexpected note id %s", event.NoteID)
	}
	expectNoEventBuffered(t, ownerFirst)
	expectNoEventBuffered(t, ownerSecond)
}

func TestBatchBroadcastSkipsFailedLookupAndContinues(t *testing.T) {
	core, observed := observer.New(zap.WarnLevel)
	registry := NewRegistry()
	ch := mustChannel(t, "owner-1")
	registry.Register("owner-1", ch)

	broadcaster := NewBroadcaster(staticRecipients{
		"note-2": {"owner-1"},
	}, registry, zap.New(core))

	broadcaster.NotesChanged(context.Background(), []string{"unknown-note", "note-2"})

	if event := expectEvent(t, ch, EventNoteUpdated); event.NoteID != "note-2" {
		t.Fatalf("unexpected note id %s", event.NoteID)
	}
	if entries := observed.FilterMessage("change broadcast recipient lookup failed").Len(); entries != 1 {
		t.Fatalf("expected one lookup warning, got %d", entries)
	}
}

func expectNoEventBuffered(t *testing.T, ch *Channel) {
	t.Helper()
	select {
	case event := <-ch.Events():
		t.Fatalf("expected single delivery, got extra %s event", event.Kind)
	default:
	}
}

func TestBroadcasterLogsAndSwallowsLookupFailure(t *testing.T) {
	core, observed := observer.New(zap.WarnLevel)
	registry := NewRegistry()
	broadcaster := NewBroadcaster(staticRecipients{}, registry, zap.New(core))

	// Must not panic or surface anything to the caller.
	broadcaster.NoteChanged(context.Background(), "unknown-note")

	entries := observed.FilterMessage("change broadcast recipient lookup failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one warn entry, got %d", len(entries))
	}
}

func TestBroadcasterIsolatesFailingChannel(t *testing.T) {
	registry := NewRegistry()
	dead := mustChannel(t, "owner-1")
	alive := mustChannel(t, "collab-1")
	registry.Register("owner-1", dead)
	registry.Register("collab-1", alive)
	dead.Close()

	broadcaster := NewBroadcaster(staticRecipients{
		"note-1": {"owner-1", "collab-1"},
	}, registry, zap.NewNop())

	broadcaster.NoteChanged(context.Background(), "note-1")

	expectEvent(t, alive, EventNoteUpdated)
	if count := registry.ChannelCount("owner-1"); count != 0 {
		t.Fatalf("expected dead channel removed, channel count %d", count)
	}
}
