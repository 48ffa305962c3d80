// Package auth checks bearer tokens for permissions on mutating routes.
package auth

import (
	"fmt"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/victornm/trivia/internal/errors"
)

const (
	PermissionCreateQuestions = "post:questions"
	PermissionUpdateQuestions = "put:questions"
	PermissionDeleteQuestions = "delete:questions"
)

type Config struct {
	// Secret is the HS256 signing key. An empty secret disables verification.
	Secret   string
	Issuer   string
	Audience string
}

type Claims struct {
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewVerifier(c Config) *Verifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if c.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.Issuer))
	}
	if c.Audience != "" {
		opts = append(opts, jwt.WithAudience(c.Audience))
	}

	return &Verifier{
		secret: []byte(c.Secret),
		parser: jwt.NewParser(opts...),
	}
}

func (v *Verifier) Enabled() bool {
	return len(v.secret) > 0
}

// Verify parses the Authorization header value and checks that the token grants permission.
func (v *Verifier) Verify(header, permission string) (*Claims, error) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return nil, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("authorization header must be a bearer token"))
	}

	var claims Claims
	_, err := v.parser.ParseWithClaims(strings.TrimSpace(token), &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("invalid token"),
			errors.WithCause(fmt.Errorf("parse token: %w", err)))
	}

	if !slices.Contains(claims.Permissions, permission) {
		return nil, errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("permission %q not granted", permission))
	}

	return &claims, nil
}

// Sign issues a token for the given permissions. Used by tooling and tests.
func (v *Verifier) Sign(claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
