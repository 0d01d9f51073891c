package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"design-marketplace/internal/apperr"
	"design-marketplace/internal/auth"
	"design-marketplace/internal/models"
	"design-marketplace/internal/pricing"
	"design-marketplace/internal/util"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Upload limits
const (
	MaxTitleLength       = 100
	MaxDescriptionLength = 1000
	MaxDesignFileSize    = 10 << 20
)

var allowedDesignTypes = []string{"image/jpeg", "image/png", "image/webp", "image/svg+xml"}

// DesignService manages the design catalog
type DesignService struct {
	designs DesignRepository
	blobs   BlobStore
	logger  *zap.Logger
}

// NewDesignService creates a new design service
func NewDesignService(designs DesignRepository, blobs BlobStore) *DesignService {
	return &DesignService{
		designs: designs,
		blobs:   blobs,
		logger:  util.GetLogger(),
	}
}

// UploadDesignInput is a designer's new listing
type UploadDesignInput struct {
	Title       string
	Description string
	Price       string
	FileName    string
	Data        []byte
}

// UploadDesign stores the artwork and lists it as available
func (s *DesignService) UploadDesign(ctx context.Context, caller *auth.Identity, in UploadDesignInput) (*models.Design, error) {
	ctx, span := util.StartSpan(ctx, "DesignService.UploadDesign")
	defer span.End()

	design, err := s.uploadDesign(ctx, caller, in)
	if err != nil {
		util.DesignUploadsTotal.WithLabelValues(failureReason(err)).Inc()
		util.RecordError(span, err)
		return nil, err
	}
	util.DesignUploadsTotal.WithLabelValues("created").Inc()
	return design, nil
}

func (s *DesignService) uploadDesign(ctx context.Context, caller *auth.Identity, in UploadDesignInput) (*models.Design, error) {
	if caller == nil {
		return nil, apperr.ErrUnauthenticated
	}
	if !caller.HasRole(auth.RoleDesigner) {
		return nil, fmt.Errorf("%w: only designers can upload designs", apperr.ErrForbidden)
	}

	title := strings.TrimSpace(in.Title)
	description := strings.TrimSpace(in.Description)
	price, err := validateListing(title, description, in.Price)
	if err != nil {
		return nil, err
	}

	if len(in.Data) == 0 {
		return nil, fmt.Errorf("%w: file is required", apperr.ErrInvalidOperation)
	}
	if len(in.Data) > MaxDesignFileSize {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", apperr.ErrInvalidOperation, MaxDesignFileSize)
	}
	mtype := mimetype.Detect(in.Data)
	if !mimetype.EqualsAny(mtype.String(), allowedDesignTypes...) {
		return nil, fmt.Errorf("%w: unsupported file type %s", apperr.ErrInvalidOperation, mtype.String())
	}

	designID := uuid.New().String()
	path := fmt.Sprintf("%s/%s%s", caller.ID, uuid.New().String(), mtype.Extension())

	url, err := s.blobs.Put(ctx, path, in.Data, mtype.String())
	if err != nil {
		return nil, fmt.Errorf("%w: failed to store design file: %v", apperr.ErrUpstream, err)
	}

	design := &models.Design{
		ID:         designID,
		DesignerID: caller.ID,
		Title:      title,
		Price:      price,
		ImageURL:   url,
		Status:     models.DesignStatusAvailable,
	}
	if description != "" {
		design.Description = &description
	}

	if err := s.designs.CreateDesign(ctx, design); err != nil {
		if delErr := s.blobs.Delete(ctx, path); delErr != nil {
			s.logger.Error("Failed to remove orphaned design file", zap.String("path", path), zap.Error(delErr))
		}
		return nil, fmt.Errorf("failed to create design: %w", err)
	}

	s.logger.Info("Design uploaded",
		zap.String("design_id", design.ID),
		zap.String("designer_id", caller.ID),
		zap.String("content_type", mtype.String()))

	return design, nil
}

func validateListing(title, description, rawPrice string) (decimal.Decimal, error) {
	if title == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: title is required", apperr.ErrInvalidOperation)
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return decimal.Decimal{}, fmt.Errorf("%w: title exceeds %d characters", apperr.ErrInvalidOperation, MaxTitleLength)
	}
	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		return decimal.Decimal{}, fmt.Errorf("%w: description exceeds %d characters", apperr.ErrInvalidOperation, MaxDescriptionLength)
	}

	price, err := decimal.NewFromString(strings.TrimSpace(rawPrice))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: invalid price %q", apperr.ErrInvalidOperation, rawPrice)
	}
	if price.LessThan(pricing.MinPrice) || price.GreaterThan(pricing.MaxPrice) {
		return decimal.Decimal{}, fmt.Errorf("%w: price must be between %s and %s", apperr.ErrInvalidOperation,
			pricing.MinPrice.StringFixed(2), pricing.MaxPrice.StringFixed(2))
	}
	if !price.Equal(price.Round(2)) {
		return decimal.Decimal{}, fmt.Errorf("%w: price has more than two decimal places", apperr.ErrInvalidOperation)
	}
	return price, nil
}

// GetDesign returns a catalog entry
func (s *DesignService) GetDesign(ctx context.Context, id string) (*models.Design, error) {
	ctx, span := util.StartSpan(ctx, "DesignService.GetDesign")
	defer span.End()

	design, err := s.designs.GetDesignByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, fmt.Errorf("%w: design not found", apperr.ErrNotFound)
		}
		return nil, err
	}
	return design, nil
}
