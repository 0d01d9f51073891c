package service

import (
	"context"
	"fmt"

	"design-marketplace/internal/apperr"
	"design-marketplace/internal/auth"
	"design-marketplace/internal/models"
	"design-marketplace/internal/util"
)

// TransactionService exposes purchase records to the parties involved
type TransactionService struct {
	transactions TransactionRepository
}

// NewTransactionService creates a new transaction service
func NewTransactionService(transactions TransactionRepository) *TransactionService {
	return &TransactionService{transactions: transactions}
}

// GetTransaction returns a transaction to its buyer, its designer or an admin
func (s *TransactionService) GetTransaction(ctx context.Context, caller *auth.Identity, id string) (*models.Transaction, error) {
	ctx, span := util.StartSpan(ctx, "TransactionService.GetTransaction")
	defer span.End()

	if caller == nil {
		return nil, apperr.ErrUnauthenticated
	}

	tx, err := s.transactions.GetTransactionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !tx.IsParty(caller.ID) && !caller.HasRole(auth.RoleAdmin) {
		// Not revealing that the transaction exists.
		return nil, fmt.Errorf("%w: transaction %s", apperr.ErrNotFound, id)
	}
	return tx, nil
}
