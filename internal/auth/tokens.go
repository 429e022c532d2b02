package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL = 30 * time.Minute
)

var (
	errMissingSigningSecret = errors.New("auth: signing secret must be provided")
	errMissingSubjectClaim  = errors.New("auth: subject claim must be provided")
)

// IdentityClaims carries the externally verified identity a client exchanges
// for a backend token. How the external credential was verified is outside
// this package.
type IdentityClaims struct {
	Subject     string
	DisplayName string
	Email       string
}

// Principal is the authenticated identity attached to a request.
type Principal struct {
	ID          string
	DisplayName string
}

// TokenIssuerConfig configures the backend JWT issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenIssuer issues and validates the backend bearer tokens used on every
// API call and push subscription.
type TokenIssuer struct {
	config TokenIssuerConfig
	clock  func() time.Time
}

type tokenClaims struct {
	DisplayName string `json:"display_name,omitempty"`
	jwt.RegisteredClaims
}

// NewTokenIssuer constructs a TokenIssuer with sane defaults.
func NewTokenIssuer(cfg TokenIssuerConfig) *TokenIssuer {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		config: TokenIssuerConfig{
			SigningSecret: cfg.SigningSecret,
			Issuer:        cfg.Issuer,
			Audience:      cfg.Audience,
			TokenTTL:      ttl,
			Clock:         clock,
		},
		clock: clock,
	}
}

// IssueToken produces a signed JWT and its expiry (seconds) for the verified identity.
func (i *TokenIssuer) IssueToken(_ context.Context, claims IdentityClaims) (string, int64, error) {
	if len(i.config.SigningSecret) == 0 {
		return "", 0, errMissingSigningSecret
	}
	if claims.Subject == "" {
		return "", 0, errMissingSubjectClaim
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.config.TokenTTL).UTC()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		DisplayName: claims.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.Subject,
			Issuer:    i.config.Issuer,
			Audience:  []string{i.config.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(i.config.SigningSecret)
	if err != nil {
		return "", 0, err
	}

	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// ValidateToken ensures the backend JWT is well formed and returns the principal it names.
func (i *TokenIssuer) ValidateToken(tokenString string) (Principal, error) {
	if len(i.config.SigningSecret) == 0 {
		return Principal{}, errMissingSigningSecret
	}

	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.config.SigningSecret, nil
		},
		jwt.WithAudience(i.config.Audience),
		jwt.WithIssuer(i.config.Issuer),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		return Principal{}, err
	}
	if claims.Subject == "" {
		return Principal{}, errMissingSubjectClaim
	}
	return Principal{ID: claims.Subject, DisplayName: claims.DisplayName}, nil
}
