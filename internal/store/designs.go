package store

import (
	"context"
	"fmt"

	"design-marketplace/internal/apperr"
	"design-marketplace/internal/models"
)

// CreateDesign inserts a new available design
func (s *Store) CreateDesign(ctx context.Context, design *models.Design) error {
	query := `
		INSERT INTO designs (id, designer_id, title, description, price, image_url, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	return s.db.GetContext(ctx, &design.CreatedAt, query,
		design.ID, design.DesignerID, design.Title, design.Description,
		design.Price, design.ImageURL, design.Status)
}

// GetDesignByID retrieves a design by ID
func (s *Store) GetDesignByID(ctx context.Context, id string) (*models.Design, error) {
	var design models.Design
	err := s.db.GetContext(ctx, &design, "SELECT * FROM designs WHERE id = $1", id)
	if isMissing(err) {
		return nil, fmt.Errorf("%w: design %s", apperr.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &design, nil
}
