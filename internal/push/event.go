// Package push implements the server side of note change delivery: a
// per-principal subscription registry, a broadcaster that fans a change out
// to the note's owner and collaborators, and the per-connection stream state
// machine that writes events to an open push connection.
package push

import "encoding/json"

// EventKind discriminates the closed set of event variants a push channel
// carries. New kinds are additive; consumers switch exhaustively on the kind.
type EventKind string

const (
	// EventConnected is the handshake acknowledgement sent once when a
	// stream opens.
	EventConnected EventKind = "connected"
	// EventPing is the periodic liveness pulse that keeps intermediaries
	// from timing out an idle connection. It carries no payload.
	EventPing EventKind = "ping"
	// EventNoteUpdated announces that a note changed and the recipient
	// should re-fetch its state. Delivered at most once per channel per
	// emission; there is no replay log.
	EventNoteUpdated EventKind = "note_updated"
)

// Event is one tagged variant on a push channel. Only the fields belonging
// to the kind are populated.
type Event struct {
	Kind      EventKind `json:"-"`
	ChannelID string    `json:"channel_id,omitempty"`
	NoteID    string    `json:"note_id,omitempty"`
}

// NewConnectedEvent builds the stream handshake acknowledgement.
func NewConnectedEvent(channelID string) Event {
	return Event{Kind: EventConnected, ChannelID: channelID}
}

// NewPingEvent builds a liveness pulse.
func NewPingEvent() Event {
	return Event{Kind: EventPing}
}

// NewNoteUpdatedEvent builds the change notification for one note.
func NewNoteUpdatedEvent(noteID string) Event {
	return Event{Kind: EventNoteUpdated, NoteID: noteID}
}

// MarshalData renders the event payload as the JSON carried on the wire.
func (e Event) MarshalData() ([]byte, error) {
	return json.Marshal(e)
}
