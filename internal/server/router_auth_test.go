package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/inklingapp/inkling-server/internal/auth"
	"github.com/inklingapp/inkling-server/internal/ratelimit"
)

func TestTokenExchangeIssuesBearerToken(t *testing.T) {
	env := newTestEnvironment(t)
	server := httptest.NewServer(env.handler)
	t.Cleanup(server.Close)

	body := bytes.NewBufferString(`{"credential":"user:alice"}`)
	response, err := http.Post(server.URL+"/auth/token", "application/json", body)
	if err != nil {
		t.Fatalf("token exchange request failed: %v", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", response.StatusCode)
	}
	var payload struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		UserID      string `json:"user_id"`
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.AccessToken == "" || payload.TokenType != "Bearer" {
		t.Fatalf("unexpected token payload: %#v", payload)
	}
	if payload.UserID != "alice" || payload.DisplayName != "User alice" {
		t.Fatalf("unexpected identity fields: %#v", payload)
	}

	principal, err := env.tokens.ValidateToken(payload.AccessToken)
	if err != nil {
		t.Fatalf("issued token failed validation: %v", err)
	}
	if principal.ID != "alice" {
		t.Fatalf("unexpected principal %s", principal.ID)
	}
}

func TestTokenExchangeRejectsInvalidCredential(t *testing.T) {
	env := newTestEnvironment(t)
	server := httptest.NewServer(env.handler)
	t.Cleanup(server.Close)

	body := bytes.NewBufferString(`{"credential":"garbage"}`)
	response, err := http.Post(server.URL+"/auth/token", "application/json", body)
	if err != nil {
		t.Fatalf("token exchange request failed: %v", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad credential, got %d", response.StatusCode)
	}
}

func TestTokenExchangeIsRateLimited(t *testing.T) {
	env := newTestEnvironment(t)

	// Rebuild the handler with a tight limiter; one request allowed.
	limited, err := NewHTTPHandler(Dependencies{
		Verifier:     stubVerifier{},
		TokenManager: env.tokens,
		UsersService: env.usersService,
		NotesService: env.notesService,
		Registry:     env.registry,
		AuthLimiter:  ratelimit.NewKeyedLimiter(0.0001, 1),
		Logger:       zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	server := httptest.NewServer(limited)
	t.Cleanup(server.Close)

	first, err := http.Post(server.URL+"/auth/token", "application/json", bytes.NewBufferString(`{"credential":"user:alice"}`))
	if err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	first.Body.Close()
	if first.StatusCode != http.StatusOK {
		t.Fatalf("expected first request allowed, got %d", first.StatusCode)
	}

	second, err := http.Post(server.URL+"/auth/token", "application/json", bytes.NewBufferString(`{"credential":"user:alice"}`))
	if err != nil {
		t.Fatalf("second request failed: %v", err)
	}
	second.Body.Close()
	if second.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for throttled request, got %d", second.StatusCode)
	}
}

func TestAuthorizeRequestRejectsMissingBearer(t *testing.T) {
	env := newTestEnvironment(t)
	server := httptest.NewServer(env.handler)
	t.Cleanup(server.Close)

	response, err := http.Get(server.URL + "/notes")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer, got %d", response.StatusCode)
	}
}

func TestAuthorizeRequestLogsExpiredTokenAtInfoLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/notes", http.NoBody)
	request.Header.Set("Authorization", "Bearer expired-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		tokens: stubTokenManager{validateErr: jwt.ErrTokenExpired},
		logger: zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entries[0].Level)
	}
}

func TestAuthorizeRequestLogsOtherFailuresAtWarnLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/notes", http.NoBody)
	request.Header.Set("Authorization", "Bearer forged-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		tokens: stubTokenManager{validateErr: jwt.ErrSignatureInvalid},
		logger: zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for invalid token, got %s", entries[0].Level)
	}
}

func TestAuthorizeRequestAcceptsQueryParameterToken(t *testing.T) {
	env := newTestEnvironment(t)
	server := httptest.NewServer(env.handler)
	t.Cleanup(server.Close)

	token := env.registerPrincipal(t, "alice", "Alice")
	response, err := http.Get(server.URL + "/notes?access_token=" + token)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected query-parameter credential accepted, got %d", response.StatusCode)
	}
}

type stubTokenManager struct {
	principal   auth.Principal
	validateErr error
}

func (s stubTokenManager) IssueToken(context.Context, auth.IdentityClaims) (string, int64, error) {
	return "stub-token", int64(time.Minute.Seconds()), nil
}

func (s stubTokenManager) ValidateToken(string) (auth.Principal, error) {
	if s.validateErr != nil {
		return auth.Principal{}, s.validateErr
	}
	return s.principal, nil
}
