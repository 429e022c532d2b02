package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/inklingapp/inkling-server/internal/auth"
	"github.com/inklingapp/inkling-server/internal/notes"
	"github.com/inklingapp/inkling-server/internal/push"
	"github.com/inklingapp/inkling-server/internal/ratelimit"
	"github.com/inklingapp/inkling-server/internal/users"
)

const principalContextKey = "inkling_principal"

var (
	errMissingVerifier     = errors.New("identity verifier dependency required")
	errMissingTokenManager = errors.New("token manager dependency required")
	errMissingNotesService = errors.New("notes service dependency required")
	errMissingUsersService = errors.New("users service dependency required")
	errMissingRegistry     = errors.New("push registry dependency required")
)

// IdentityVerifier validates an external identity credential and returns the
// verified claims. Credential issuance itself lives outside this service.
type IdentityVerifier interface {
	Verify(ctx context.Context, credential string) (auth.IdentityClaims, error)
}

// TokenManager issues and validates the backend bearer tokens.
type TokenManager interface {
	IssueToken(ctx context.Context, claims auth.IdentityClaims) (string, int64, error)
	ValidateToken(token string) (auth.Principal, error)
}

// Dependencies wires the HTTP layer to the rest of the system.
type Dependencies struct {
	Verifier      IdentityVerifier
	TokenManager  TokenManager
	UsersService  *users.Service
	NotesService  *notes.Service
	Registry      *push.Registry
	Broadcaster   *push.Broadcaster
	AuthLimiter   *ratelimit.KeyedLimiter
	StreamLimiter *ratelimit.KeyedLimiter
	PulseInterval time.Duration
	Logger        *zap.Logger
}

// NewHTTPHandler assembles the gin router for the API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Verifier == nil {
		return nil, errMissingVerifier
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.NotesService == nil {
		return nil, errMissingNotesService
	}
	if deps.UsersService == nil {
		return nil, errMissingUsersService
	}
	if deps.Registry == nil {
		return nil, errMissingRegistry
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		verifier:      deps.Verifier,
		tokens:        deps.TokenManager,
		usersService:  deps.UsersService,
		notesService:  deps.NotesService,
		registry:      deps.Registry,
		broadcaster:   deps.Broadcaster,
		authLimiter:   deps.AuthLimiter,
		streamLimiter: deps.StreamLimiter,
		pulseInterval: deps.PulseInterval,
		logger:        logger,
	}

	router.POST("/auth/token", handler.handleTokenExchange)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/notes", handler.handleListNotes)
	protected.POST("/notes", handler.handleCreateNote)
	protected.POST("/notes/reorder", handler.handleReorder)
	protected.GET("/notes/stream", handler.handleStream)
	protected.GET("/notes/:id", handler.handleGetNote)
	protected.PUT("/notes/:id", handler.handleUpdateNote)
	protected.PATCH("/notes/:id", handler.handlePatchNote)
	protected.DELETE("/notes/:id", handler.handleDeleteNote)
	protected.POST("/notes/:id/archive", handler.handleArchiveNote)
	protected.POST("/notes/:id/collaborators", handler.handleAddCollaborator)
	protected.GET("/notes/:id/collaborators", handler.handleListCollaborators)
	protected.DELETE("/notes/:id/collaborators/:user_id", handler.handleRemoveCollaborator)

	return router, nil
}

type httpHandler struct {
	verifier      IdentityVerifier
	tokens        TokenManager
	usersService  *users.Service
	notesService  *notes.Service
	registry      *push.Registry
	broadcaster   *push.Broadcaster
	authLimiter   *ratelimit.KeyedLimiter
	streamLimiter *ratelimit.KeyedLimiter
	pulseInterval time.Duration
	logger        *zap.Logger
}

type tokenRequestPayload struct {
	Credential string `json:"credential"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

func (h *httpHandler) handleTokenExchange(c *gin.Context) {
	if h.authLimiter != nil && !h.authLimiter.Allow(c.ClientIP()) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
		return
	}

	var request tokenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Credential) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	claims, err := h.verifier.Verify(c.Request.Context(), request.Credential)
	if err != nil {
		h.logger.Warn("identity credential verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	identity, err := h.usersService.Register(c.Request.Context(), claims)
	if err != nil {
		h.logger.Error("failed to register principal", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration_failed"})
		return
	}

	claims.DisplayName = identity.DisplayName
	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), claims)
	if err != nil {
		h.logger.Error("failed to issue backend token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		UserID:      identity.UserID,
		DisplayName: identity.DisplayName,
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token, ok := auth.BearerFromRequest(c.Request)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization missing or invalid"})
		return
	}
	principal, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("expired token rejected")
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(principalContextKey, principal)
	c.Next()
}

func requestPrincipal(c *gin.Context) (auth.Principal, bool) {
	value, ok := c.Get(principalContextKey)
	if !ok {
		return auth.Principal{}, false
	}
	principal, ok := value.(auth.Principal)
	if !ok || principal.ID == "" {
		return auth.Principal{}, false
	}
	return principal, true
}

func (h *httpHandler) requireActor(c *gin.Context) (notes.Actor, bool) {
	principal, ok := requestPrincipal(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return notes.Actor{}, false
	}
	principalID, err := notes.NewUserID(principal.ID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return notes.Actor{}, false
	}
	return notes.Actor{ID: principalID, DisplayName: principal.DisplayName}, true
}

func pathNoteID(c *gin.Context) (notes.NoteID, bool) {
	noteID, err := notes.NewNoteID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_note_id"})
		return "", false
	}
	return noteID, true
}

type notePayload struct {
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

func renderNote(note notes.Note) notePayload {
	return notePayload{
		NoteID:           note.NoteID,
		OwnerID:          note.OwnerID,
		Title:            note.Title,
		Body:             note.Body,
		Position:         note.Position,
		Pinned:           note.Pinned,
		Archived:         note.Archived,
		CreatedAtSeconds: note.CreatedAtSeconds,
		UpdatedAtSeconds: note.UpdatedAtSeconds,
		LastModifiedBy:   note.LastModifiedBy,
	}
}

type noteRequestPayload struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	Pinned bool   `json:"pinned"`
}

type notePatchPayload struct {
	Title  *string `json:"title"`
	Body   *string `json:"body"`
	Pinned *bool   `json:"pinned"`
}

type archiveRequestPayload struct {
	Archived bool `json:"archived"`
}

type reorderRequestPayload struct {
	Pinned   []string `json:"pinned"`
	Unpinned []string `json:"unpinned"`
}

type collaboratorRequestPayload struct {
	UserID string `json:"user_id"`
}

type collaboratorPayload struct {
	NoteID           string `json:"note_id"`
	CollaboratorID   string `json:"collaborator_id"`
	GrantedBy        string `json:"granted_by"`
	GrantedAtSeconds int64  `json:"granted_at_s"`
}

func renderGrant(grant notes.CollaboratorGrant) collaboratorPayload {
	return collaboratorPayload{
		NoteID:           grant.NoteID,
		CollaboratorID:   grant.CollaboratorID,
		GrantedBy:        grant.GrantedBy,
		GrantedAtSeconds: grant.GrantedAtSeconds,
	}
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	includeArchived := c.Query("include_archived") == "true"
	results, err := h.notesService.List(c.Request.Context(), actor.ID, includeArchived)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := make([]notePayload, 0, len(results))
	for _, note := range results {
		payload = append(payload, renderNote(note))
	}
	c.JSON(http.StatusOK, gin.H{"notes": payload})
}

func (h *httpHandler) handleCreateNote(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	var request noteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	note, err := h.notesService.Create(c.Request.Context(), actor, notes.NoteParams{
		Title:  request.Title,
		Body:   request.Body,
		Pinned: request.Pinned,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	// No broadcast: a brand-new note is visible only to its creator.
	c.JSON(http.StatusCreated, renderNote(note))
}

func (h *httpHandler) handleGetNote(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	noteID, ok := pathNoteID(c)
	if !ok {
		return
	}
	note, err := h.notesService.Get(c.Request.Context(), actor.ID, noteID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, renderNote(note))
}

func (h *httpHandler) handleUpdateNote(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	noteID, ok := pathNoteID(c)
	if !ok {
		return
	}
	var request noteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	note, err := h.notesService.Update(c.Request.Context(), actor, noteID, notes.NoteParams{
		Title:  request.Title,
		Body:   request.Body,
		Pinned: request.Pinned,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.broadcastNoteChanged(c.Request.Context(), noteID.String())
	c.JSON(http.StatusOK, renderNote(note))
}

func (h *httpHandler) handlePatchNote(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	noteID, ok := pathNoteID(c)
	if !ok {
		return
	}
	var request notePatchPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	note, err := h.notesService.Patch(c.Request.Context(), actor, noteID, notes.NotePatch{
		Title:  request.Title,
		Body:   request.Body,
		Pinned: request.Pinned,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.broadcastNoteChanged(c.Request.Context(), noteID.String())
	c.JSON(http.StatusOK, renderNote(note))
}

func (h *httpHandler) handleArchiveNote(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	noteID, ok := pathNoteID(c)
	if !ok {
		return
	}
	var request archiveRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	note, err := h.notesService.SetArchived(c.Request.Context(), actor, noteID, request.Archived)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.broadcastNoteChanged(c.Request.Context(), noteID.String())
	c.JSON(http.StatusOK, renderNote(note))
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	noteID, ok := pathNoteID(c)
	if !ok {
		return
	}
	// The recipient set is gone once the delete commits, so capture it first.
	recipients, recipientsErr := h.notesService.Recipients(c.Request.Context(), noteID.String())
	if err := h.notesService.Delete(c.Request.Context(), actor, noteID); err != nil {
		h.respondError(c, err)
		return
	}
	if recipientsErr == nil && h.broadcaster != nil {
		h.broadcaster.NoteChangedFor(recipients, noteID.String())
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleReorder(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	var request reorderRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	pinnedIDs, err := parseNoteIDs(request.Pinned)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_note_id"})
		return
	}
	unpinnedIDs, err := parseNoteIDs(request.Unpinned)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_note_id"})
		return
	}

	if err := h.notesService.Reorder(c.Request.Context(), actor, pinnedIDs, unpinnedIDs); err != nil {
		h.respondError(c, err)
		return
	}
	reorderedIDs := make([]string, 0, len(pinnedIDs)+len(unpinnedIDs))
	for _, noteID := range pinnedIDs {
		reorderedIDs = append(reorderedIDs, noteID.String())
	}
	for _, noteID := range unpinnedIDs {
		reorderedIDs = append(reorderedIDs, noteID.String())
	}
	h.broadcastNotesChanged(c.Request.Context(), reorderedIDs)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleAddCollaborator(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	noteID, ok := pathNoteID(c)
	if !ok {
		return
	}
	var request collaboratorRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	collaboratorID, err := notes.NewUserID(request.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_user_id"})
		return
	}

	grant, err := h.notesService.AddCollaborator(c.Request.Context(), actor, noteID, collaboratorID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.broadcastNoteChanged(c.Request.Context(), noteID.String())
	c.JSON(http.StatusCreated, renderGrant(grant))
}

func (h *httpHandler) handleListCollaborators(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	noteID, ok := pathNoteID(c)
	if !ok {
		return
	}
	grants, err := h.notesService.ListCollaborators(c.Request.Context(), actor.ID, noteID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := make([]collaboratorPayload, 0, len(grants))
	for _, grant := range grants {
		payload = append(payload, renderGrant(grant))
	}
	c.JSON(http.StatusOK, gin.H{"collaborators": payload})
}

func (h *httpHandler) handleRemoveCollaborator(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	noteID, ok := pathNoteID(c)
	if !ok {
		return
	}
	collaboratorID, err := notes.NewUserID(c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_user_id"})
		return
	}
	if err := h.notesService.RemoveCollaborator(c.Request.Context(), actor, noteID, collaboratorID); err != nil {
		h.respondError(c, err)
		return
	}
	// The removed collaborator is already out of the recipient set; the
	// remaining set still learns about the change.
	h.broadcastNoteChanged(c.Request.Context(), noteID.String())
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) broadcastNoteChanged(ctx context.Context, noteID string) {
	if h.broadcaster == nil {
		return
	}
	h.broadcaster.NoteChanged(ctx, noteID)
}

func (h *httpHandler) broadcastNotesChanged(ctx context.Context, noteIDs []string) {
	if h.broadcaster == nil {
		return
	}
	h.broadcaster.NotesChanged(ctx, noteIDs)
}

func parseNoteIDs(raw []string) ([]notes.NoteID, error) {
	parsed := make([]notes.NoteID, 0, len(raw))
	for _, value := range raw {
		noteID, err := notes.NewNoteID(value)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, noteID)
	}
	return parsed, nil
}

func (h *httpHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, notes.ErrNoteNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "note_not_found"})
	case errors.Is(err, notes.ErrGrantNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "grant_not_found"})
	case errors.Is(err, notes.ErrPrincipalNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "principal_not_found"})
	case errors.Is(err, notes.ErrNotAuthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "not_authorized"})
	case errors.Is(err, notes.ErrOwnerRequired):
		c.JSON(http.StatusForbidden, gin.H{"error": "owner_required"})
	case errors.Is(err, notes.ErrAlreadyCollaborator):
		c.JSON(http.StatusConflict, gin.H{"error": "already_collaborator"})
	case errors.Is(err, notes.ErrOwnerAsCollaborator):
		c.JSON(http.StatusConflict, gin.H{"error": "owner_cannot_collaborate"})
	case errors.Is(err, notes.ErrForeignNote):
		c.JSON(http.StatusConflict, gin.H{"error": "not_note_owner"})
	case errors.Is(err, notes.ErrInvalidNoteID), errors.Is(err, notes.ErrInvalidUserID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	default:
		var serviceErr *notes.ServiceError
		if errors.As(err, &serviceErr) {
			h.logger.Error("notes service failure", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "code": serviceErr.Code()})
			return
		}
		h.logger.Error("unexpected handler failure", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
