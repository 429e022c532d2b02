package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/inklingapp/inkling-server/internal/auth"
	"github.com/inklingapp/inkling-server/internal/notes"
	"github.com/inklingapp/inkling-server/internal/push"
	"github.com/inklingapp/inkling-server/internal/users"
)

const testSigningSecret = "test-signing-secret"

var testDatabaseSequence atomic.Int64

// stubVerifier accepts any credential of the form "user:<id>:<name>".
type stubVerifier struct{}

func (stubVerifier) Verify(_ context.Context, credential string) (auth.IdentityClaims, error) {
	var id, name string
	if _, err := fmt.Sscanf(credential, "user:%s", &id); err != nil {
		return auth.IdentityClaims{}, errors.New("unknown credential")
	}
	name = "User " + id
	return auth.IdentityClaims{Subject: id, DisplayName: name}, nil
}

type testEnvironment struct {
	handler      http.Handler
	db           *gorm.DB
	tokens       *auth.TokenIssuer
	usersService *users.Service
	notesService *notes.Service
	registry     *push.Registry
}

func newTestEnvironment(t *testing.T) *testEnvironment {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", testDatabaseSequence.Add(1))
	db, err := gorm.Open(sqlite.Open(name), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&notes.Note{}, &notes.CollaboratorGrant{}, &users.Identity{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	usersService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build users service: %v", err)
	}
	notesService, err := notes.NewService(notes.ServiceConfig{
		Database:   db,
		IDProvider: notes.NewUUIDProvider(),
		Directory:  usersService,
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build notes service: %v", err)
	}

	tokens := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        "inkling-auth",
		Audience:      "inkling-api",
		TokenTTL:      time.Minute,
	})

	registry := push.NewRegistry()
	t.Cleanup(registry.CloseAll)
	broadcaster := push.NewBroadcaster(notesService, registry, zap.NewNop())

	handler, err := NewHTTPHandler(Dependencies{
		Verifier:      stubVerifier{},
		TokenManager:  tokens,
		UsersService:  usersService,
		NotesService:  notesService,
		Registry:      registry,
		Broadcaster:   broadcaster,
		PulseInterval: time.Hour,
		Logger:        zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	return &testEnvironment{
		handler:      handler,
		db:           db,
		tokens:       tokens,
		usersService: usersService,
		notesService: notesService,
		registry:     registry,
	}
}

// registerPrincipal stores the identity and returns a bearer token for it.
func (env *testEnvironment) registerPrincipal(t *testing.T, userID, displayName string) string {
	t.Helper()
	if _, err := env.usersService.Register(context.Background(), auth.IdentityClaims{
		Subject:     userID,
		DisplayName: displayName,
	}); err != nil {
		t.Fatalf("failed to register principal %s: %v", userID, err)
	}
	token, _, err := env.tokens.IssueToken(context.Background(), auth.IdentityClaims{
		Subject:     userID,
		DisplayName: displayName,
	})
	if err != nil {
		t.Fatalf("failed to issue token for %s: %v", userID, err)
	}
	return token
}

func (env *testEnvironment) createNote(t *testing.T, userID, displayName, title string) notes.Note {
	t.Helper()
	principalID, err := notes.NewUserID(userID)
	if err != nil {
		t.Fatalf("invalid user id: %v", err)
	}
	note, err := env.notesService.Create(context.Background(), notes.Actor{ID: principalID, DisplayName: displayName}, notes.NoteParams{Title: title})
	if err != nil {
		t.Fatalf("failed to create note: %v", err)
	}
	return note
}
