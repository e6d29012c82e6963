package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"merchant-actions-api/internal/database"
	"merchant-actions-api/internal/eligibility"
	"merchant-actions-api/internal/events"
	"merchant-actions-api/internal/models"
	"merchant-actions-api/internal/tracing"
	"merchant-actions-api/internal/validation"
)

// maxBatchSize caps a single ingest request.
const maxBatchSize = 1000

// Service provides the transaction-facing business logic: record ingest and
// action-eligibility evaluation.
type Service struct {
	db     *database.DB
	engine *eligibility.Engine
	events *events.Manager
	logger *zap.Logger
}

// NewService creates a new service instance.
func NewService(db *database.DB, engine *eligibility.Engine, ev *events.Manager, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, engine: engine, events: ev, logger: logger}
}

// IngestTransactions validates and stores a batch of transaction records.
func (s *Service) IngestTransactions(ctx context.Context, transactions []models.Transaction) (int, error) {
	if len(transactions) == 0 {
		return 0, fmt.Errorf("no transactions provided")
	}

	if len(transactions) > maxBatchSize {
		return 0, fmt.Errorf("cannot process more than %d transactions per request", maxBatchSize)
	}

	// Validate all transactions before inserting
	for i, txn := range transactions {
		if err := validation.ValidateTransaction(txn); err != nil {
			return 0, fmt.Errorf("invalid transaction at index %d: %w", i, err)
		}
	}

	inserted, err := s.db.InsertTransactions(ctx, transactions)
	if err != nil {
		return 0, err
	}

	s.logger.Debug("transactions ingested", zap.Int("count", inserted))
	if s.events != nil {
		s.events.PublishTransactionIngested(ctx, inserted)
	}
	return inserted, nil
}

// TransactionActions evaluates which actions may be offered for the stored
// transaction at the given instant.
func (s *Service) TransactionActions(ctx context.Context, id string, now time.Time) (models.TransactionActions, error) {
	ctx, span := tracing.GetTracer().StartSpan(ctx, "service.TransactionActions")
	defer span.End()

	if err := validation.ValidateID(id, "transaction_id"); err != nil {
		return models.TransactionActions{}, err
	}

	txn, err := s.db.GetTransaction(ctx, id)
	if err != nil {
		return models.TransactionActions{}, err
	}

	actions := models.TransactionActions{
		TransactionID: id,
		Void:          s.engine.VoidAvailableAt(txn, now),
		Capture:       s.engine.CaptureAvailableAt(txn, now),
		EvaluatedAt:   now,
	}
	span.SetAttributes(
		attribute.Bool("actions.void", actions.Void),
		attribute.Bool("actions.capture", actions.Capture),
	)

	if s.events != nil {
		s.events.PublishActionsEvaluated(ctx, actions)
	}
	return actions, nil
}

// MerchantTransactions lists a merchant's stored transactions with their
// current action decisions attached.
func (s *Service) MerchantTransactions(ctx context.Context, merchantID string, now time.Time, limit int) ([]models.TransactionActions, error) {
	if err := validation.ValidateID(merchantID, "merchant_id"); err != nil {
		return nil, err
	}

	txns, err := s.db.ListTransactionsByMerchant(ctx, merchantID, limit)
	if err != nil {
		return nil, err
	}

	result := make([]models.TransactionActions, 0, len(txns))
	for i := range txns {
		txn := txns[i]
		result = append(result, models.TransactionActions{
			TransactionID: txn.ID,
			Void:          s.engine.VoidAvailableAt(&txn, now),
			Capture:       s.engine.CaptureAvailableAt(&txn, now),
			EvaluatedAt:   now,
		})
	}
	return result, nil
}
