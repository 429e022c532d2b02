package auth

import (
	"net/http/httptest"
	"testing"
)

func TestBearerFromRequestPrefersHeader(t *testing.T) {
	request := httptest.NewRequest("GET", "/notes/stream?access_token=query-token", nil)
	request.Header.Set("Authorization", "Bearer header-token")

	token, ok := BearerFromRequest(request)
	if !ok || token != "header-token" {
		t.Fatalf("expected header token, got %q (ok=%v)", token, ok)
	}
}

func TestBearerFromRequestFallsBackToQueryParameter(t *testing.T) {
	request := httptest.NewRequest("GET", "/notes/stream?access_token=query-token", nil)

	token, ok := BearerFromRequest(request)
	if !ok || token != "query-token" {
		t.Fatalf("expected query token, got %q (ok=%v)", token, ok)
	}
}

func TestBearerFromRequestRejectsMissingCredential(t *testing.T) {
	request := httptest.NewRequest("GET", "/notes", nil)
	if _, ok := BearerFromRequest(request); ok {
		t.Fatal("expected no credential")
	}

	empty := httptest.NewRequest("GET", "/notes", nil)
	empty.Header.Set("Authorization", "Bearer   ")
	if _, ok := BearerFromRequest(empty); ok {
		t.Fatal("expected blank bearer rejected")
	}
}
