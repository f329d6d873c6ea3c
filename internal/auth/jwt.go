package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/aditya/towbid/internal/errors"
	"github.com/aditya/towbid/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

// IdentityProvider resolves a bearer token to the calling user and role.
type IdentityProvider interface {
	ResolveToken(ctx context.Context, token string) (*models.Actor, error)
}

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTProvider verifies and issues HS256 tokens carrying the user id as subject.
type JWTProvider struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewJWTProvider(secret, issuer string) *JWTProvider {
	return &JWTProvider{secret: []byte(secret), issuer: issuer, now: time.Now}
}

func (p *JWTProvider) ResolveToken(ctx context.Context, token string) (*models.Actor, error) {
	if token == "" {
		return nil, apperrors.Unauthorized("missing bearer token")
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.Unauthorized("token expired")
		}
		return nil, apperrors.Unauthorized("invalid token")
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, apperrors.Unauthorized("invalid token")
	}

	switch claims.Role {
	case models.RoleClient, models.RoleDriver, models.RolePartner, models.RoleAdmin:
	default:
		return nil, apperrors.Unauthorized(fmt.Sprintf("unknown role %q", claims.Role))
	}
	return &models.Actor{UserID: claims.Subject, Role: claims.Role}, nil
}

// Issue signs a token for userID. Used by the seed script and tests.
func (p *JWTProvider) Issue(userID, role string, ttl time.Duration) (string, error) {
	now := p.now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}
