package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/trivia/internal/auth"
	"github.com/victornm/trivia/internal/errors"
)

func TestVerifier_Verify(t *testing.T) {
	v := auth.NewVerifier(auth.Config{Secret: "secret", Issuer: "trivia"})
	other := auth.NewVerifier(auth.Config{Secret: "other"})

	sign := func(v *auth.Verifier, perms []string, exp time.Duration) string {
		tok, err := v.Sign(auth.Claims{
			Permissions: perms,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "trivia",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(exp)),
			},
		})
		require.NoError(t, err)
		return "Bearer " + tok
	}

	tests := map[string]struct {
		header   string
		wantCode errors.Code
	}{
		"granted": {
			header: sign(v, []string{auth.PermissionCreateQuestions, auth.PermissionDeleteQuestions}, time.Hour),
		},
		"missing header": {
			header:   "",
			wantCode: errors.CodeUnauthenticated,
		},
		"not a bearer token": {
			header:   "Basic dXNlcjpwYXNz",
			wantCode: errors.CodeUnauthenticated,
		},
		"expired": {
			header:   sign(v, []string{auth.PermissionCreateQuestions}, -time.Hour),
			wantCode: errors.CodeUnauthenticated,
		},
		"wrong key": {
			header:   sign(other, []string{auth.PermissionCreateQuestions}, time.Hour),
			wantCode: errors.CodeUnauthenticated,
		},
		"missing permission": {
			header:   sign(v, []string{auth.PermissionDeleteQuestions}, time.Hour),
			wantCode: errors.CodePermissionDenied,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			claims, err := v.Verify(tt.header, auth.PermissionCreateQuestions)
			if tt.wantCode == 0 {
				require.NoError(t, err)
				assert.Contains(t, claims.Permissions, auth.PermissionCreateQuestions)
				return
			}

			require.Error(t, err)
			assert.Equal(t, tt.wantCode, errors.Convert(err).Code)
		})
	}

	assert.True(t, v.Enabled())
	assert.False(t, auth.NewVerifier(auth.Config{}).Enabled())
}
