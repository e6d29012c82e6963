package service

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"merchant-actions-api/internal/bankwindow"
	"merchant-actions-api/internal/database"
	"merchant-actions-api/internal/eligibility"
	"merchant-actions-api/internal/models"
)

func setupTestDB(t *testing.T) (*database.DB, func()) {
	dbPath := "./test_" + time.Now().Format("20060102150405.000000000") + ".db"
	db, err := database.NewDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.Remove(dbPath)
	}

	return db, cleanup
}

func testEngine() *eligibility.Engine {
	windows := bankwindow.Table{
		"bank_muscat": {Hour: 22, Minute: 0},
	}
	return eligibility.New(bankwindow.NewCalculator(windows))
}

func newTestService(db *database.DB) *Service {
	return NewService(db, testEngine(), nil, zap.NewNop())
}

func rfsDays(n int) *int {
	return &n
}

func TestIngestAndEvaluate_VoidAvailable(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	svc := newTestService(db)
	ctx := context.Background()
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	txnID := uuid.New().String()
	merchantID := uuid.New().String()

	inserted, err := svc.IngestTransactions(ctx, []models.Transaction{
		{
			ID:         txnID,
			MerchantID: merchantID,
			Date:       "2024-03-10T09:00:00Z",
			Provider:   "MPGS",
			TrxType:    "payment",
			Status:     "Approved",
			Amount:     decimal.NewFromInt(250),
			Currency:   "OMR",
			PCC: &models.PCC{
				RFSDueAfter:          rfsDays(1),
				FinancialInstitution: "bank_muscat",
			},
		},
	})
	if err != nil {
		t.Fatalf("Failed to ingest transactions: %v", err)
	}
	if inserted != 1 {
		t.Fatalf("Expected 1 inserted, got %d", inserted)
	}

	actions, err := svc.TransactionActions(ctx, txnID, now)
	if err != nil {
		t.Fatalf("Failed to evaluate actions: %v", err)
	}

	if !actions.Void {
		t.Errorf("Expected void to be available")
	}
	if actions.Capture {
		t.Errorf("Expected capture to be unavailable for a payment")
	}
}

func TestIngestAndEvaluate_CaptureAvailable(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	svc := newTestService(db)
	ctx := context.Background()
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	txnID := uuid.New().String()

	_, err := svc.IngestTransactions(ctx, []models.Transaction{
		{
			ID:         txnID,
			MerchantID: uuid.New().String(),
			Date:       "2024-03-10T09:00:00Z",
			Provider:   "mpgs",
			Type:       "authorize",
			Status:     "authorized",
			Amount:     decimal.NewFromInt(80),
			Operations: []models.Operation{{Operation: "authorize"}},
		},
	})
	if err != nil {
		t.Fatalf("Failed to ingest transactions: %v", err)
	}

	actions, err := svc.TransactionActions(ctx, txnID, now)
	if err != nil {
		t.Fatalf("Failed to evaluate actions: %v", err)
	}

	if !actions.Capture {
		t.Errorf("Expected capture to be available")
	}
	if actions.Void {
		t.Errorf("Expected void to be unavailable without a bank window")
	}
}

func TestTransactionActions_RecordSurvivesRoundTrip(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	svc := newTestService(db)
	ctx := context.Background()

	txnID := uuid.New().String()
	_, err := svc.IngestTransactions(ctx, []models.Transaction{
		{
			ID:                  txnID,
			MerchantID:          uuid.New().String(),
			Date:                "2024-03-10T09:00:00Z",
			Provider:            "mpgs",
			TrxType:             "payment",
			Status:              "approved",
			Amount:              decimal.RequireFromString("10.500"),
			TotalRefundedAmount: decimal.RequireFromString("10.500"),
			PCC: &models.PCC{
				RFSDueAfter:          rfsDays(2),
				FinancialInstitution: "bank_muscat",
			},
		},
	})
	if err != nil {
		t.Fatalf("Failed to ingest transactions: %v", err)
	}

	// The refunded amount must survive storage exactly: a refunded
	// transaction is never voidable.
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	actions, err := svc.TransactionActions(ctx, txnID, now)
	if err != nil {
		t.Fatalf("Failed to evaluate actions: %v", err)
	}
	if actions.Void {
		t.Errorf("Expected void to be blocked by the refund")
	}
}

func TestTransactionActions_NotFound(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	svc := newTestService(db)

	_, err := svc.TransactionActions(context.Background(), uuid.New().String(), time.Now())
	if !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestIngestTransactions_RejectsInvalid(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	svc := newTestService(db)
	ctx := context.Background()

	_, err := svc.IngestTransactions(ctx, []models.Transaction{
		{
			ID:         uuid.New().String(),
			MerchantID: uuid.New().String(),
			Date:       "not-a-timestamp",
			Provider:   "mpgs",
			Status:     "approved",
		},
	})
	if err == nil {
		t.Fatal("Expected an error for an unparseable date")
	}

	_, err = svc.IngestTransactions(ctx, nil)
	if err == nil {
		t.Fatal("Expected an error for an empty batch")
	}
}

func TestMerchantTransactions_ListsDecisions(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	svc := newTestService(db)
	ctx := context.Background()
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	merchantID := uuid.New().String()
	_, err := svc.IngestTransactions(ctx, []models.Transaction{
		{
			ID:         uuid.New().String(),
			MerchantID: merchantID,
			Date:       "2024-03-10T09:00:00Z",
			Provider:   "mpgs",
			TrxType:    "payment",
			Status:     "approved",
			PCC: &models.PCC{
				RFSDueAfter:          rfsDays(1),
				FinancialInstitution: "bank_muscat",
			},
		},
		{
			ID:         uuid.New().String(),
			MerchantID: merchantID,
			Date:       "2024-03-09T15:00:00Z",
			Provider:   "mpgs",
			TrxType:    "refund",
			Status:     "approved",
		},
	})
	if err != nil {
		t.Fatalf("Failed to ingest transactions: %v", err)
	}

	decisions, err := svc.MerchantTransactions(ctx, merchantID, now, 10)
	if err != nil {
		t.Fatalf("Failed to list merchant transactions: %v", err)
	}

	if len(decisions) != 2 {
		t.Fatalf("Expected 2 decisions, got %d", len(decisions))
	}
	if !decisions[0].Void {
		t.Errorf("Expected the newest transaction to be voidable")
	}
	if decisions[1].Void || decisions[1].Capture {
		t.Errorf("Expected the refund to have no actions")
	}
}
