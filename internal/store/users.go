package store

import (
	"context"
	"fmt"

	"design-marketplace/internal/apperr"
	"design-marketplace/internal/models"
)

// GetProfile retrieves a user's public profile
func (s *Store) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	var profile models.Profile
	err := s.db.GetContext(ctx, &profile, "SELECT * FROM profiles WHERE id = $1", userID)
	if isMissing(err) {
		return nil, fmt.Errorf("%w: profile %s", apperr.ErrNotFound, userID)
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// GetUserRoles lists the roles held by a user
func (s *Store) GetUserRoles(ctx context.Context, userID string) ([]string, error) {
	var roles []string
	err := s.db.SelectContext(ctx, &roles,
		"SELECT role FROM user_roles WHERE user_id = $1 ORDER BY role", userID)
	return roles, err
}
