package auth

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/aditya/towbid/internal/errors"
	"github.com/aditya/towbid/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	p := NewJWTProvider("test-secret", "towbid")

	token, err := p.Issue("0b6f3c1e-1111-4b9a-8d2f-5f1a2b3c4d5e", models.RoleDriver, time.Hour)
	require.NoError(t, err)

	actor, err := p.ResolveToken(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, "0b6f3c1e-1111-4b9a-8d2f-5f1a2b3c4d5e", actor.UserID)
	require.Equal(t, models.RoleDriver, actor.Role)
}

func TestJWTRejects(t *testing.T) {
	p := NewJWTProvider("test-secret", "towbid")
	ctx := context.Background()

	expired, err := p.Issue("u1", models.RoleClient, -time.Minute)
	require.NoError(t, err)

	otherKey, err := NewJWTProvider("another-secret", "towbid").Issue("u1", models.RoleClient, time.Hour)
	require.NoError(t, err)

	otherIssuer, err := NewJWTProvider("test-secret", "someone-else").Issue("u1", models.RoleClient, time.Hour)
	require.NoError(t, err)

	badRole, err := p.Issue("u1", "superuser", time.Hour)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:             models.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1", Issuer: "towbid"},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.jwt"},
		{"expired", expired},
		{"wrong key", otherKey},
		{"wrong issuer", otherIssuer},
		{"unknown role", badRole},
		{"no expiry", noExpiry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.ResolveToken(ctx, tt.token)
			require.Error(t, err)
			require.Equal(t, apperrors.KindUnauthorized, apperrors.KindOf(err))
		})
	}
}
