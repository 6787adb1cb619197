package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/scry-feedback-api/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret  = "test-jwt-secret-that-is-32-chars-long"
	wrongSecret = "wrong-secret-that-is-long-enough-for-testing"
)

var fixedTime = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func sign(t *testing.T, secret string, method jwt.SigningMethod, claims jwtCustomClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func accessClaims(userID uuid.UUID, issued time.Time, lifetime time.Duration) jwtCustomClaims {
	return jwtCustomClaims{
		UserID:    userID,
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(lifetime)),
			ID:        uuid.NewString(),
		},
	}
}

func TestNewJWTService(t *testing.T) {
	t.Parallel()

	_, err := NewJWTService(config.AuthConfig{JWTSecret: "short"})
	assert.Error(t, err)

	svc, err := NewJWTService(config.AuthConfig{Enabled: true, JWTSecret: testSecret})
	require.NoError(t, err)
	assert.NotNil(t, svc)
}

func TestValidateToken(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	svc, err := newJWTService(testSecret, func() time.Time { return fixedTime })
	require.NoError(t, err)

	t.Run("valid token", func(t *testing.T) {
		t.Parallel()
		claims := accessClaims(userID, fixedTime, time.Hour)
		token := sign(t, testSecret, jwt.SigningMethodHS256, claims)

		got, err := svc.ValidateToken(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, userID, got.UserID)
		assert.Equal(t, userID.String(), got.Subject)
		assert.Equal(t, claims.ID, got.ID)
		assert.Equal(t, fixedTime.Unix(), got.IssuedAt.Unix())
		assert.Equal(t, fixedTime.Add(time.Hour).Unix(), got.ExpiresAt.Unix())
	})

	tests := []struct {
		name    string
		token   func(t *testing.T) string
		wantErr error
	}{
		{
			name:    "missing token",
			token:   func(*testing.T) string { return "" },
			wantErr: ErrMissingToken,
		},
		{
			name:    "malformed token",
			token:   func(*testing.T) string { return "not.a.jwt" },
			wantErr: ErrInvalidToken,
		},
		{
			name: "expired token",
			token: func(t *testing.T) string {
				return sign(t, testSecret, jwt.SigningMethodHS256,
					accessClaims(userID, fixedTime.Add(-2*time.Hour), time.Hour))
			},
			wantErr: ErrExpiredToken,
		},
		{
			name: "expired within clock skew",
			token: func(t *testing.T) string {
				return sign(t, testSecret, jwt.SigningMethodHS256,
					accessClaims(userID, fixedTime.Add(-61*time.Minute), time.Hour))
			},
			wantErr: nil,
		},
		{
			name: "not yet valid",
			token: func(t *testing.T) string {
				claims := accessClaims(userID, fixedTime, time.Hour)
				claims.NotBefore = jwt.NewNumericDate(fixedTime.Add(10 * time.Minute))
				return sign(t, testSecret, jwt.SigningMethodHS256, claims)
			},
			wantErr: ErrTokenNotYetValid,
		},
		{
			name: "wrong secret",
			token: func(t *testing.T) string {
				return sign(t, wrongSecret, jwt.SigningMethodHS256, accessClaims(userID, fixedTime, time.Hour))
			},
			wantErr: ErrInvalidToken,
		},
		{
			name: "wrong signing method",
			token: func(t *testing.T) string {
				return sign(t, testSecret, jwt.SigningMethodHS512, accessClaims(userID, fixedTime, time.Hour))
			},
			wantErr: ErrInvalidToken,
		},
		{
			name: "refresh token",
			token: func(t *testing.T) string {
				claims := accessClaims(userID, fixedTime, time.Hour)
				claims.TokenType = "refresh"
				return sign(t, testSecret, jwt.SigningMethodHS256, claims)
			},
			wantErr: ErrWrongTokenType,
		},
		{
			name: "no expiry",
			token: func(t *testing.T) string {
				claims := accessClaims(userID, fixedTime, time.Hour)
				claims.ExpiresAt = nil
				return sign(t, testSecret, jwt.SigningMethodHS256, claims)
			},
			wantErr: ErrInvalidToken,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := svc.ValidateToken(context.Background(), tc.token(t))
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}
