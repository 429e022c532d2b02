package auth

import (
	"net/http"
	"strings"
)

// TokenQueryParam names the query parameter carrying the bearer credential on
// streaming subscriptions, where browser EventSource clients cannot set an
// Authorization header.
const TokenQueryParam = "access_token"

// BearerFromRequest extracts the bearer credential from the Authorization
// header, falling back to the access_token query parameter.
func BearerFromRequest(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token != "" {
			return token, true
		}
	}
	token := strings.TrimSpace(r.URL.Query().Get(TokenQueryParam))
	if token != "" {
		return token, true
	}
	return "", false
}
