// Package client is the importable Go client for the Inkling API: a typed
// HTTP client mirroring every server operation, a server-sent-events stream
// reader, and a sync controller that keeps a local note list live across
// network interruption with a polling safety net.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

var (
	// ErrUnauthorized indicates the credential was rejected. Fatal: the
	// caller must obtain a fresh token, no retry is attempted here.
	ErrUnauthorized = errors.New("client: unauthorized")
	// ErrForbidden indicates the principal lacks access to the note.
	ErrForbidden = errors.New("client: forbidden")
	// ErrNotFound indicates the note, grant, or principal does not exist.
	ErrNotFound = errors.New("client: not found")
	// ErrConflict indicates a named conflict condition (duplicate grant,
	// reorder touching a foreign note).
	ErrConflict = errors.New("client: conflict")
	// ErrAlreadyCollaborator is the duplicate-grant conflict; callers may
	// treat it as already satisfied.
	ErrAlreadyCollaborator = fmt.Errorf("%w: already a collaborator", ErrConflict)
	// ErrRateLimited indicates the server throttled the request.
	ErrRateLimited = errors.New("client: rate limited")
)

// Note mirrors the server's note payload.
type Note struct {
	NoteID           string  `json:"note_id"`
	OwnerID          string  `json:"owner_id"`
	Title            string  `json:"title"`
	Body             string  `json:"body"`
	Position         float64 `json:"position"`
	Pinned           bool    `json:"pinned"`
	Archived         bool    `json:"archived"`
	CreatedAtSeconds int64   `json:"created_at_s"`
	UpdatedAtSeconds int64   `json:"updated_at_s"`
	LastModifiedBy   string  `json:"last_modified_by"`
}

// Collaborator mirrors the server's grant payload.
type Collaborator struct {
	NoteID           string `json:"note_id"`
	CollaboratorID   string `json:"collaborator_id"`
	GrantedBy        string `json:"granted_by"`
	GrantedAtSeconds int64  `json:"granted_at_s"`
}

// NoteDraft carries the writable note fields for create and full update.
type NoteDraft struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	Pinned bool   `json:"pinned"`
}

// NotePatch carries optional field overwrites; nil fields are left unchanged.
type NotePatch struct {
	Title  *string `json:"title,omitempty"`
	Body   *string `json:"body,omitempty"`
	Pinned *bool   `json:"pinned,omitempty"`
}

// TokenGrant is the result of exchanging an external credential.
type TokenGrant struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// Config describes a Client's connection parameters.
type Config struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// Client talks to one Inkling server on behalf of one principal.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// New constructs a Client. The token may be empty until ExchangeToken runs.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("client: base url is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      strings.TrimSpace(cfg.Token),
	}, nil
}

// Token returns the bearer token currently in use.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken replaces the bearer token for subsequent requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = strings.TrimSpace(token)
	c.mu.Unlock()
}

// ExchangeToken trades an external identity credential for a backend bearer
// token and adopts it for subsequent requests.
func (c *Client) ExchangeToken(ctx context.Context, credential string) (TokenGrant, error) {
	var grant TokenGrant
	payload := map[string]string{"credential": credential}
	if err := c.doJSON(ctx, http.MethodPost, "/auth/token", payload, &grant); err != nil {
		return TokenGrant{}, err
	}
	c.SetToken(grant.AccessToken)
	return grant, nil
}

// ListNotes fetches every note the principal owns or collaborates on, in
// display order (pinned first, then by descending position).
func (c *Client) ListNotes(ctx context.Context, includeArchived bool) ([]Note, error) {
	path := "/notes"
	if includeArchived {
		path += "?include_archived=true"
	}
	var response struct {
		Notes []Note `json:"notes"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &response); err != nil {
		return nil, err
	}
	return response.Notes, nil
}

// CreateNote stores a new note owned by the principal.
func (c *Client) CreateNote(ctx context.Context, draft NoteDraft) (Note, error) {
	var note Note
	if err := c.doJSON(ctx, http.MethodPost, "/notes", draft, &note); err != nil {
		return Note{}, err
	}
	return note, nil
}

// GetNote fetches one note.
func (c *Client) GetNote(ctx context.Context, noteID string) (Note, error) {
	var note Note
	if err := c.doJSON(ctx, http.MethodGet, "/notes/"+noteID, nil, &note); err != nil {
		return Note{}, err
	}
	return note, nil
}

// UpdateNote overwrites every writable field of the note.
func (c *Client) UpdateNote(ctx context.Context, noteID string, draft NoteDraft) (Note, error) {
	var note Note
	if err := c.doJSON(ctx, http.MethodPut, "/notes/"+noteID, draft, &note); err != nil {
		return Note{}, err
	}
	return note, nil
}

// PatchNote overwrites only the supplied fields.
func (c *Client) PatchNote(ctx context.Context, noteID string, patch NotePatch) (Note, error) {
	var note Note
	if err := c.doJSON(ctx, http.MethodPatch, "/notes/"+noteID, patch, &note); err != nil {
		return Note{}, err
	}
	return note, nil
}

// DeleteNote removes the note. Owner only.
func (c *Client) DeleteNote(ctx context.Context, noteID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/notes/"+noteID, nil, nil)
}

// SetArchived toggles the archive flag.
func (c *Client) SetArchived(ctx context.Context, noteID string, archived bool) (Note, error) {
	payload := map[string]bool{"archived": archived}
	var note Note
	if err := c.doJSON(ctx, http.MethodPost, "/notes/"+noteID+"/archive", payload, &note); err != nil {
		return Note{}, err
	}
	return note, nil
}

// Reorder submits the principal's pinned and unpinned note orders as one
// atomic batch; on any failure the server keeps the previous order and the
// caller should reload rather than trust local state.
func (c *Client) Reorder(ctx context.Context, pinnedIDs, unpinnedIDs []string) error {
	payload := map[string][]string{
		"pinned":   pinnedIDs,
		"unpinned": unpinnedIDs,
	}
	return c.doJSON(ctx, http.MethodPost, "/notes/reorder", payload, nil)
}

// AddCollaborator grants the user access to the note. Owner only; a
// duplicate grant returns ErrAlreadyCollaborator.
func (c *Client) AddCollaborator(ctx context.Context, noteID, userID string) (Collaborator, error) {
	payload := map[string]string{"user_id": userID}
	var grant Collaborator
	if err := c.doJSON(ctx, http.MethodPost, "/notes/"+noteID+"/collaborators", payload, &grant); err != nil {
		return Collaborator{}, err
	}
	return grant, nil
}

// RemoveCollaborator revokes the user's grant. Owner only.
func (c *Client) RemoveCollaborator(ctx context.Context, noteID, userID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/notes/"+noteID+"/collaborators/"+userID, nil, nil)
}

// ListCollaborators fetches the note's grants.
func (c *Client) ListCollaborators(ctx context.Context, noteID string) ([]Collaborator, error) {
	var response struct {
		Collaborators []Collaborator `json:"collaborators"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/notes/"+noteID+"/collaborators", nil, &response); err != nil {
		return nil, err
	}
	return response.Collaborators, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode >= 400 {
		return statusError(response)
	}
	if out == nil || response.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}

func statusError(response *http.Response) error {
	var payload struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	_ = json.NewDecoder(response.Body).Decode(&payload)

	switch response.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrForbidden, payload.Error)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, payload.Error)
	case http.StatusConflict:
		if payload.Error == "already_collaborator" {
			return ErrAlreadyCollaborator
		}
		return fmt.Errorf("%w: %s", ErrConflict, payload.Error)
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		if payload.Code != "" {
			return fmt.Errorf("client: server error %d (%s)", response.StatusCode, payload.Code)
		}
		return fmt.Errorf("client: server error %d (%s)", response.StatusCode, payload.Error)
	}
}
