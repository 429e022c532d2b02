package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var errMissingIdentitySecret = errors.New("auth: identity secret must be provided")

// IdentityTokenVerifierConfig configures verification of the identity tokens
// minted by the external login service.
type IdentityTokenVerifierConfig struct {
	Secret []byte
	Issuer string
	Clock  func() time.Time
}

// IdentityTokenVerifier checks the HS256 identity token presented at
// /auth/token. Issuing these tokens (the login flow itself) happens outside
// this service; only the shared-secret verification boundary lives here.
type IdentityTokenVerifier struct {
	secret []byte
	issuer string
	clock  func() time.Time
}

type identityTokenClaims struct {
	DisplayName string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// NewIdentityTokenVerifier constructs the verifier.
func NewIdentityTokenVerifier(cfg IdentityTokenVerifierConfig) *IdentityTokenVerifier {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &IdentityTokenVerifier{
		secret: cfg.Secret,
		issuer: cfg.Issuer,
		clock:  clock,
	}
}

// Verify validates the credential and returns the identity it names.
func (v *IdentityTokenVerifier) Verify(_ context.Context, credential string) (IdentityClaims, error) {
	if len(v.secret) == 0 {
		return IdentityClaims{}, errMissingIdentitySecret
	}

	claims := &identityTokenClaims{}
	options := []jwt.ParserOption{jwt.WithTimeFunc(v.clock)}
	if v.issuer != "" {
		options = append(options, jwt.WithIssuer(v.issuer))
	}
	_, err := jwt.ParseWithClaims(
		credential,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return v.secret, nil
		},
		options...,
	)
	if err != nil {
		return IdentityClaims{}, err
	}
	if claims.Subject == "" {
		return IdentityClaims{}, errMissingSubjectClaim
	}
	return IdentityClaims{
		Subject:     claims.Subject,
		DisplayName: claims.DisplayName,
		Email:       claims.Email,
	}, nil
}
