package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Stream event kinds, matching the server's closed variant set.
const (
	EventConnected   = "connected"
	EventPing        = "ping"
	EventNoteUpdated = "note_updated"
)

// StreamEvent is one parsed server-sent event.
type StreamEvent struct {
	Kind      string
	ChannelID string
	NoteID    string
}

// Stream is one open push connection. Next blocks until the server emits an
// event; cancelling the context passed to OpenStream unblocks it.
type Stream struct {
	body   io.ReadCloser
	reader *bufio.Reader
}

// OpenStream subscribes to the push stream with the client's bearer token.
// The server rejects the request before streaming begins when the credential
// is missing or invalid.
func (c *Client) OpenStream(ctx context.Context) (*Stream, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/notes/stream", http.NoBody)
	if err != nil {
		return nil, err
	}
	if token := c.Token(); token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	request.Header.Set("Accept", "text/event-stream")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, err
	}
	if response.StatusCode != http.StatusOK {
		defer response.Body.Close()
		return nil, statusError(response)
	}
	if contentType := response.Header.Get("Content-Type"); !strings.HasPrefix(contentType, "text/event-stream") {
		_ = response.Body.Close()
		return nil, fmt.Errorf("client: unexpected stream content type %q", contentType)
	}

	return &Stream{
		body:   response.Body,
		reader: bufio.NewReader(response.Body),
	}, nil
}

// Next reads frames until one complete event has arrived and returns it.
func (s *Stream) Next() (StreamEvent, error) {
	event := StreamEvent{}
	dataSeen := false

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return StreamEvent{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if event.Kind != "" || dataSeen {
				return event, nil
			}
		case strings.HasPrefix(line, "event:"):
			event.Kind = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataSeen = true
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" || data == "{}" {
				continue
			}
			var payload struct {
				ChannelID string `json:"channel_id"`
				NoteID    string `json:"note_id"`
			}
			if err := json.Unmarshal([]byte(data), &payload); err != nil {
				return StreamEvent{}, fmt.Errorf("client: decode stream event: %w", err)
			}
			event.ChannelID = payload.ChannelID
			event.NoteID = payload.NoteID
		}
	}
}

// Close releases the underlying connection.
func (s *Stream) Close() error {
	return s.body.Close()
}

// IsStreamEnd reports whether the error marks a normally closed stream.
func IsStreamEnd(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
