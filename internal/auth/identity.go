// Package auth resolves who is calling and which marketplace roles they hold.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"design-marketplace/internal/apperr"

	"github.com/golang-jwt/jwt/v5"
)

// Role is a marketplace role
type Role string

const (
	RoleDesigner Role = "designer"
	RoleBuyer    Role = "buyer"
	RoleAdmin    Role = "admin"
)

// Identity is an authenticated caller
type Identity struct {
	ID    string
	Roles []Role
}

// HasRole reports whether the caller holds role
func (i *Identity) HasRole(role Role) bool {
	if i == nil {
		return false
	}
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// RoleSource looks up the roles granted to a user
type RoleSource interface {
	GetUserRoles(ctx context.Context, userID string) ([]string, error)
}

// Provider verifies bearer tokens and attaches roles to the caller
type Provider struct {
	secret []byte
	roles  RoleSource
}

// NewProvider creates a provider for HS256 tokens signed with secret
func NewProvider(secret string, roles RoleSource) *Provider {
	return &Provider{secret: []byte(secret), roles: roles}
}

// Identify resolves the caller from an Authorization header value
func (p *Provider) Identify(ctx context.Context, authorization string) (*Identity, error) {
	if len(p.secret) == 0 {
		return nil, fmt.Errorf("%w: token verification is not configured", apperr.ErrUnauthenticated)
	}

	scheme, token, ok := strings.Cut(strings.TrimSpace(authorization), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return nil, fmt.Errorf("%w: missing bearer token", apperr.ErrUnauthenticated)
	}

	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(strings.TrimSpace(token), &claims, func(*jwt.Token) (interface{}, error) {
		return p.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: invalid token", apperr.ErrUnauthenticated)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", apperr.ErrUnauthenticated)
	}

	names, err := p.roles.GetUserRoles(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load roles: %v", apperr.ErrUpstream, err)
	}

	identity := &Identity{ID: claims.Subject}
	for _, name := range names {
		identity.Roles = append(identity.Roles, Role(name))
	}
	return identity, nil
}

// IssueToken signs a token for userID, used by tooling and tests
func IssueToken(secret, userID string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("empty signing secret")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
