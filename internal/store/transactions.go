package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"design-marketplace/internal/apperr"
	"design-marketplace/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const onePaidPerDesignIndex = "transactions_one_paid_per_design"

// RecordPurchase inserts a paid transaction and marks its design sold in one database transaction.
//
// The design row is locked first, so concurrent deliveries for the same design are serialized:
// a redelivery of an already recorded session returns PurchaseDuplicate with tx filled from the
// stored row, and any other session for a sold design fails with apperr.ErrConflict.
func (s *Store) RecordPurchase(ctx context.Context, tx *models.Transaction) (models.PurchaseOutcome, error) {
	outcome, err := s.recordPurchaseTx(ctx, tx)
	if err != nil && isUniqueViolation(err) {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Constraint == onePaidPerDesignIndex {
			return 0, fmt.Errorf("%w: design %s already sold", apperr.ErrConflict, tx.DesignID)
		}
		// Lost an insert race on the session id, i.e. a concurrent duplicate delivery.
		existing, lookupErr := s.GetTransactionBySessionID(ctx, tx.StripeSessionID)
		if lookupErr != nil {
			return 0, fmt.Errorf("failed to load duplicate transaction: %w", lookupErr)
		}
		*tx = *existing
		return models.PurchaseDuplicate, nil
	}
	if err != nil && hasCode(err, foreignKeyViolation) {
		return 0, fmt.Errorf("%w: unknown buyer or designer: %v", apperr.ErrInvalidOperation, err)
	}
	if err != nil && hasCode(err, invalidTextRepr) {
		return 0, fmt.Errorf("%w: malformed buyer or designer id: %v", apperr.ErrInvalidOperation, err)
	}
	return outcome, err
}

func (s *Store) recordPurchaseTx(ctx context.Context, tx *models.Transaction) (models.PurchaseOutcome, error) {
	dbTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer dbTx.Rollback()

	var design struct {
		DesignerID string `db:"designer_id"`
		Status     string `db:"status"`
	}
	err = dbTx.GetContext(ctx, &design,
		"SELECT designer_id, status FROM designs WHERE id = $1 FOR UPDATE", tx.DesignID)
	if isMissing(err) {
		return 0, fmt.Errorf("%w: design %s", apperr.ErrNotFound, tx.DesignID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to lock design: %w", err)
	}

	existing, err := getTransactionBySessionID(ctx, dbTx, tx.StripeSessionID)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		*tx = *existing
		return models.PurchaseDuplicate, nil
	}

	if design.Status == models.DesignStatusSold {
		return 0, fmt.Errorf("%w: design %s already sold", apperr.ErrConflict, tx.DesignID)
	}
	if design.DesignerID != tx.DesignerID {
		return 0, fmt.Errorf("%w: design %s is not owned by %s", apperr.ErrInvalidOperation, tx.DesignID, tx.DesignerID)
	}

	query := `
		INSERT INTO transactions (id, design_id, designer_id, buyer_id, amount, platform_fee,
			designer_earnings, stripe_session_id, stripe_payment_intent_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`
	err = dbTx.GetContext(ctx, &tx.CreatedAt, query,
		tx.ID, tx.DesignID, tx.DesignerID, tx.BuyerID, tx.Amount, tx.PlatformFee,
		tx.DesignerEarnings, tx.StripeSessionID, tx.StripePaymentIntentID, tx.Status)
	if err != nil {
		return 0, fmt.Errorf("failed to insert transaction: %w", err)
	}

	res, err := dbTx.ExecContext(ctx,
		"UPDATE designs SET status = $1 WHERE id = $2 AND status = $3",
		models.DesignStatusSold, tx.DesignID, models.DesignStatusAvailable)
	if err != nil {
		return 0, fmt.Errorf("failed to mark design sold: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return 0, fmt.Errorf("%w: design %s changed while locked", apperr.ErrConflict, tx.DesignID)
	}

	if err := dbTx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit purchase: %w", err)
	}
	return models.PurchaseRecorded, nil
}

// GetTransactionByID retrieves a transaction by ID
func (s *Store) GetTransactionByID(ctx context.Context, id string) (*models.Transaction, error) {
	var tx models.Transaction
	err := s.db.GetContext(ctx, &tx, "SELECT * FROM transactions WHERE id = $1", id)
	if isMissing(err) {
		return nil, fmt.Errorf("%w: transaction %s", apperr.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// GetTransactionBySessionID retrieves the transaction recorded for a checkout session
func (s *Store) GetTransactionBySessionID(ctx context.Context, sessionID string) (*models.Transaction, error) {
	tx, err := getTransactionBySessionID(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, fmt.Errorf("%w: transaction for session %s", apperr.ErrNotFound, sessionID)
	}
	return tx, nil
}

func getTransactionBySessionID(ctx context.Context, q sqlx.QueryerContext, sessionID string) (*models.Transaction, error) {
	var tx models.Transaction
	err := sqlx.GetContext(ctx, q, &tx, "SELECT * FROM transactions WHERE stripe_session_id = $1", sessionID)
	if isMissing(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up session %s: %w", sessionID, err)
	}
	return &tx, nil
}

// AttachLegalDocument sets the document URL once. It returns false when a document was already attached.
func (s *Store) AttachLegalDocument(ctx context.Context, transactionID, url string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE transactions SET legal_doc_url = $1 WHERE id = $2 AND legal_doc_url IS NULL",
		url, transactionID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListUnlicensedTransactions returns ids of paid transactions created before the cutoff that still have no document
func (s *Store) ListUnlicensedTransactions(ctx context.Context, before time.Time, limit int) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
		SELECT id FROM transactions
		WHERE status = $1 AND legal_doc_url IS NULL AND created_at < $2
		ORDER BY created_at
		LIMIT $3`,
		models.TransactionStatusPaid, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unlicensed transactions: %w", err)
	}
	return ids, nil
}

// RecordPaymentConflict keeps a durable trace of a payment that lost the race for a design.
// It returns false when the session was already recorded as a conflict.
func (s *Store) RecordPaymentConflict(ctx context.Context, conflict *models.PaymentConflict) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_conflicts (stripe_session_id, design_id, buyer_id, amount, reason)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (stripe_session_id) DO NOTHING`,
		conflict.StripeSessionID, conflict.DesignID, conflict.BuyerID, conflict.Amount, conflict.Reason)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
