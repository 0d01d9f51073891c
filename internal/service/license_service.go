package service

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"time"

	"design-marketplace/internal/apperr"
	"design-marketplace/internal/models"
	"design-marketplace/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

//go:embed templates/license.html
var licenseHTML string

var licenseTemplate = template.Must(template.New("license").Parse(licenseHTML))

const (
	confirmationCodeLength = 20
	licenseLockTTL         = 30 * time.Second
	licenseContentType     = "text/html; charset=utf-8"
)

// LicenseService renders the license agreement of a paid transaction
type LicenseService struct {
	transactions   TransactionRepository
	designs        DesignReader
	profiles       ProfileReader
	blobs          BlobStore
	locker         Locker
	eventPublisher EventPublisher
	logger         *zap.Logger
}

// NewLicenseService creates a new license service. locker may be nil.
func NewLicenseService(
	transactions TransactionRepository,
	designs DesignReader,
	profiles ProfileReader,
	blobs BlobStore,
	locker Locker,
	eventPublisher EventPublisher,
) *LicenseService {
	return &LicenseService{
		transactions:   transactions,
		designs:        designs,
		profiles:       profiles,
		blobs:          blobs,
		locker:         locker,
		eventPublisher: eventPublisher,
		logger:         util.GetLogger(),
	}
}

// LicenseDocumentPath is where the document of a transaction is stored
func LicenseDocumentPath(transactionID string) string {
	return fmt.Sprintf("legal-docs/legal-%s.html", transactionID)
}

// ConfirmationCode derives the code printed on the license from the payment session
func ConfirmationCode(sessionID string) string {
	if len(sessionID) > confirmationCodeLength {
		return sessionID[:confirmationCodeLength]
	}
	return sessionID
}

// GenerateLicenseDocument renders, stores and attaches the license of a transaction.
// Documents are generated once: a transaction that already has one fails with ErrAlreadyGenerated.
func (s *LicenseService) GenerateLicenseDocument(ctx context.Context, transactionID string) (string, error) {
	ctx, span := util.StartSpan(ctx, "LicenseService.GenerateLicenseDocument",
		attribute.String("transaction.id", transactionID))
	defer span.End()

	url, err := s.generate(ctx, transactionID)
	if err != nil {
		if !errors.Is(err, apperr.ErrAlreadyGenerated) {
			util.LicenseDocumentsFailedTotal.WithLabelValues(failureReason(err)).Inc()
			util.RecordError(span, err)
		}
		return "", err
	}

	util.LicenseDocumentsGeneratedTotal.Inc()
	return url, nil
}

func (s *LicenseService) generate(ctx context.Context, transactionID string) (string, error) {
	if transactionID == "" {
		return "", fmt.Errorf("%w: transaction_id is required", apperr.ErrInvalidOperation)
	}

	tx, err := s.loadPaidTransaction(ctx, transactionID)
	if err != nil {
		return "", err
	}

	if s.locker != nil {
		token, err := s.locker.AcquireLock(ctx, "license:"+tx.ID, licenseLockTTL)
		switch {
		case err != nil:
			s.logger.Warn("License lock unavailable, relying on conditional update",
				zap.String("transaction_id", tx.ID), zap.Error(err))
		case token == "":
			return "", fmt.Errorf("%w: license generation for %s already in progress", apperr.ErrUpstream, tx.ID)
		default:
			defer func() {
				if err := s.locker.ReleaseLock(context.Background(), "license:"+tx.ID, token); err != nil {
					s.logger.Warn("Failed to release license lock", zap.String("transaction_id", tx.ID), zap.Error(err))
				}
			}()
			// Another generator may have finished between the first read and the lock.
			if tx, err = s.loadPaidTransaction(ctx, transactionID); err != nil {
				return "", err
			}
		}
	}

	design, err := s.designs.GetDesignByID(ctx, tx.DesignID)
	if err != nil {
		return "", fmt.Errorf("%w: failed to load design %s: %v", apperr.ErrUpstream, tx.DesignID, err)
	}
	buyer, err := s.party(ctx, tx.BuyerID)
	if err != nil {
		return "", err
	}
	designer, err := s.party(ctx, tx.DesignerID)
	if err != nil {
		return "", err
	}

	content, err := RenderLicense(tx, design, buyer, designer)
	if err != nil {
		return "", fmt.Errorf("failed to render license: %w", err)
	}

	url, err := s.blobs.Put(ctx, LicenseDocumentPath(tx.ID), content, licenseContentType)
	if err != nil {
		return "", fmt.Errorf("%w: failed to store license: %v", apperr.ErrUpstream, err)
	}

	attached, err := s.transactions.AttachLegalDocument(ctx, tx.ID, url)
	if err != nil {
		return "", fmt.Errorf("%w: failed to attach license: %v", apperr.ErrUpstream, err)
	}
	if !attached {
		return "", fmt.Errorf("%w: transaction %s", apperr.ErrAlreadyGenerated, tx.ID)
	}

	s.logger.Info("License document generated",
		zap.String("transaction_id", tx.ID),
		zap.String("url", url))

	event := &models.LicenseGeneratedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeLicenseGenerated,
			Timestamp: time.Now(),
		},
		TransactionID: tx.ID,
		DocumentURL:   url,
	}
	if err := s.eventPublisher.PublishLicenseGenerated(ctx, event); err != nil {
		s.logger.Error("Failed to publish LicenseGenerated event", zap.Error(err))
	}

	return url, nil
}

func (s *LicenseService) loadPaidTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	tx, err := s.transactions.GetTransactionByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: failed to load transaction %s: %v", apperr.ErrUpstream, id, err)
	}
	if tx.Status != models.TransactionStatusPaid {
		return nil, fmt.Errorf("%w: no paid transaction %s", apperr.ErrNotFound, id)
	}
	if tx.HasLegalDocument() {
		return nil, fmt.Errorf("%w: transaction %s", apperr.ErrAlreadyGenerated, id)
	}
	return tx, nil
}

// party loads a profile. A user without a profile is named by id.
func (s *LicenseService) party(ctx context.Context, userID string) (*models.Profile, error) {
	p, err := s.profiles.GetProfile(ctx, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		s.logger.Warn("Profile missing for license party", zap.String("user_id", userID))
		return &models.Profile{ID: userID, Name: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load profile %s: %v", apperr.ErrUpstream, userID, err)
	}
	return p, nil
}

type licenseView struct {
	TransactionID     string
	Date              string
	Status            string
	ConfirmationCode  string
	DesignID          string
	DesignTitle       string
	DesignDescription string
	DesignerName      string
	DesignerEmail     string
	BuyerName         string
	BuyerEmail        string
	Amount            string
	PlatformFee       string
	DesignerEarnings  string
}

// RenderLicense renders the license HTML. The output depends only on its arguments.
func RenderLicense(tx *models.Transaction, design *models.Design, buyer, designer *models.Profile) ([]byte, error) {
	view := licenseView{
		TransactionID:     tx.ID,
		Date:              tx.CreatedAt.UTC().Format(time.RFC1123),
		Status:            tx.Status,
		ConfirmationCode:  ConfirmationCode(tx.StripeSessionID),
		DesignID:          design.ID,
		DesignTitle:       design.Title,
		DesignDescription: design.DescriptionOrEmpty(),
		DesignerName:      designer.Name,
		DesignerEmail:     designer.Email,
		BuyerName:         buyer.Name,
		BuyerEmail:        buyer.Email,
		Amount:            tx.Amount.StringFixed(2),
		PlatformFee:       tx.PlatformFee.StringFixed(2),
		DesignerEarnings:  tx.DesignerEarnings.StringFixed(2),
	}

	var buf bytes.Buffer
	if err := licenseTemplate.Execute(&buf, view); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
