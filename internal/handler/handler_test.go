package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"
	"time"

	"merchant-actions-api/internal/auth"
	"merchant-actions-api/internal/bankwindow"
	"merchant-actions-api/internal/cache"
	"merchant-actions-api/internal/database"
	"merchant-actions-api/internal/deeplink"
	"merchant-actions-api/internal/eligibility"
	"merchant-actions-api/internal/features"
	"merchant-actions-api/internal/models"
	"merchant-actions-api/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	testKeyHex = "0123456789abcdef0123456789abcdef"
	testIVHex  = "abcdef0123456789abcdef0123456789"
)

type handlerFixture struct {
	handler  *Handler
	sessions *auth.Store
	cipher   *deeplink.Cipher
	flags    *features.Manager
}

func setupTestHandler(t *testing.T) (*handlerFixture, func()) {
	dbPath := "./test_handler_" + time.Now().Format("20060102150405.000000000") + ".db"
	db, err := database.NewDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	windows := bankwindow.Table{"bank_muscat": {Hour: 22, Minute: 0}}
	engine := eligibility.New(bankwindow.NewCalculator(windows))
	svc := service.NewService(db, engine, nil, zap.NewNop())

	cipher, err := deeplink.NewCipher(testKeyHex, testIVHex)
	if err != nil {
		t.Fatalf("Failed to create cipher: %v", err)
	}

	sessions := auth.NewStore(cache.NewMemoryCache(), time.Hour, zap.NewNop())

	flags := features.NewManager()
	flags.Register(features.FlagDeepLinkV2, false, "")
	flags.Register(features.FlagLinkMinting, true, "")

	flow := service.NewAuthFlow(service.AuthFlowOptions{
		Cipher:   cipher,
		Sessions: sessions,
		Flags:    flags,
		LinkBase: "merchantapp://auth",
		Logger:   zap.NewNop(),
	})

	fixture := &handlerFixture{
		handler:  NewHandler(svc, flow),
		sessions: sessions,
		cipher:   cipher,
		flags:    flags,
	}

	cleanup := func() {
		db.Close()
		os.Remove(dbPath)
	}

	return fixture, cleanup
}

func setupRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Post("/transactions", h.CreateTransactions)
	r.Get("/transactions/{transaction_id}/actions", h.GetTransactionActions)
	r.Get("/merchants/{merchant_id}/transactions", h.GetMerchantTransactions)
	r.Post("/auth/handoff", h.Handoff)
	r.Post("/auth/links", h.MintLink)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return r
}

func postJSON(t *testing.T, r *chi.Mux, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest("POST", path, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func approvedPayment(id, merchantID string) models.Transaction {
	return models.Transaction{
		ID:         id,
		MerchantID: merchantID,
		Date:       "2024-03-10T09:00:00Z",
		Provider:   "MPGS",
		TrxType:    "payment",
		Status:     "Approved",
		Amount:     decimal.NewFromInt(100),
		Currency:   "OMR",
		PCC: &models.PCC{
			RFSDueAfter:          intPtr(1),
			FinancialInstitution: "bank_muscat",
		},
	}
}

func intPtr(n int) *int {
	return &n
}

func TestHealthCheck(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}

	if rr.Body.String() != "OK" {
		t.Errorf("Expected body 'OK', got '%s'", rr.Body.String())
	}
}

func TestCreateTransactions_Success(t *testing.T) {
	f, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(f.handler)

	req := models.CreateTransactionsRequest{
		Transactions: []models.Transaction{
			approvedPayment(uuid.New().String(), uuid.New().String()),
			approvedPayment(uuid.New().String(), uuid.New().String()),
		},
	}

	rr := postJSON(t, r, "/transactions", req)

	if rr.Code != http.StatusCreated {
		t.Errorf("Expected status 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	var response models.CreateTransactionsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}

	if response.Inserted != 2 {
		t.Errorf("Expected 2 inserted, got %d", response.Inserted)
	}
}

func TestCreateTransactions_InvalidJSON(t *testing.T) {
	f, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(f.handler)

	req := httptest.NewRequest("POST", "/transactions", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
}

func TestCreateTransactions_EmptyBody(t *testing.T) {
	f, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(f.handler)

	req := httptest.NewRequest("POST", "/transactions", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
}

func TestCreateTransactions_ValidationFailure(t *testing.T) {
	f, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(f.handler)

	bad := approvedPayment(uuid.New().String(), uuid.New().String())
	bad.Date = "not-a-date"

	rr := postJSON(t, r, "/transactions", models.CreateTransactionsRequest{
		Transactions: []models.Transaction{bad},
	})

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d. Body: %s", rr.Code, rr.Body.String())
	}
}

func TestGetTransactionActions_VoidAvailable(t *testing.T) {
	f, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(f.handler)

	txnID := uuid.New().String()
	rr := postJSON(t, r, "/transactions", models.CreateTransactionsRequest{
		Transactions: []models.Transaction{approvedPayment(txnID, uuid.New().String())},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Failed to ingest: %d %s", rr.Code, rr.Body.String())
	}

	// Evaluate before the bank's cut-off on the same day the payment was made.
	req := httptest.NewRequest("GET", "/transactions/"+txnID+"/actions?now=2024-03-10T12:00:00Z", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rec.Code, rec.Body.String())
	}

	var actions models.TransactionActions
	if err := json.Unmarshal(rec.Body.Bytes(), &actions); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}

	if actions.TransactionID != txnID {
		t.Errorf("Expected transaction ID %s, got %s", txnID, actions.TransactionID)
	}
	if !actions.Void {
		t.Errorf("Expected void to be available")
	}
	if actions.Capture {
		t.Errorf("Expected capture to be unavailable for a payment")
	}
}

func TestGetTransactionActions_AfterCutoff(t *testing.T) {
	f, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(f.handler)

	txnID := uuid.New().String()
	postJSON(t, r, "/transactions", models.CreateTransactionsRequest{
		Transactions: []models.Transaction{approvedPayment(txnID, uuid.New().String())},
	})

	// Two days later the settlement window has long closed.
	req := httptest.NewRequest("GET", "/transactions/"+txnID+"/actions?now=2024-03-12T12:00:00Z", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var actions models.TransactionActions
	if err := json.Unmarshal(rec.Body.Bytes(), &actions); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}

	if actions.Void {
		t.Errorf("Expected void to be unavailable after the cut-off")
	}
}

func TestGetTransactionActions_NotFound(t *testing.T) {
	f, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(f.handler)

	req := httptest.NewRequest("GET", "/transactions/"+uuid.New().String()+"/actions", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rec.Code)
	}
}

func TestGetTransactionActions_InvalidNowParam(t *testing.T) {
	f, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(f.handler)

	req := httptest.NewRequest("GET", "/transactions/abc/actions?now=yesterday", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
}

func TestGetMerchantTransactions(t *testing.T) {
	f, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(f.handler)

	merchantID := uuid.New().String()
	postJSON(t, r, "/transactions", models.CreateTransactionsRequest{
		Transactions: []models.Transaction{
			approvedPayment(uuid.New().String(), merchantID),
			approvedPayment(uuid.New().String(), merchantID),
			approvedPayment(uuid.New().String(), uuid.New().String()),
		},
	})

	req := httptest.NewRequest("GET", "/merchants/"+merchantID+"/transactions?now=2024-03-10T12:00:00Z", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rec.Code, rec.Body.String())
	}

	var actions []models.TransactionActions
	if err := json.Unmarshal(rec.Body.Bytes(), &actions); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}

	if len(actions) != 2 {
		t.Errorf("Expected 2 decisions for the merchant, got %d", len(actions))
	}
}

func TestHandoff_Success(t *testing.T) {
	f, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(f.handler)

	encrypted, err := f.cipher.Encrypt("bearer-token")
	if err != nil {
		t.Fatalf("Failed to encrypt token: %v", err)
	}

	rr := postJSON(t, r, "/auth/handoff", map[string]interface{}{
		"params": map[string]string{
			"accessToken":                  encrypted,
			"currentMerchantPayformanceId": "merchant-1",
			"refreshToken":                 "refresh-1",
		},
	})

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	var result service.HandoffResult
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}

	if result.Redirect != deeplink.DestinationHandoff {
		t.Errorf("Expected handoff redirect, got %q", result.Redirect)
	}
	if result.Session == nil || result.Session.ID == "" {
		t.Fatal("Expected an established session")
	}
	if result.Session.AccessToken != "bearer-token" {
		t.Errorf("Expected decrypted token, got %q", result.Session.AccessToken)
	}
}

func TestHandoff_LaunchURLFallback(t *testing.T) {
	f, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(f.handler)

	encrypted, err := f.cipher.Encrypt("fallback-token")
	if err != nil {
		t.Fatalf("Failed to encrypt token: %v", err)
	}

	launch := "merchantapp://auth?accessToken=" + url.QueryEscape(encrypted) +
		"&currentMerchantPayformanceId=merchant-2"

	rr := postJSON(t, r, "/auth/handoff", map[string]string{"launchUrl": launch})

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	var result service.HandoffResult
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}

	if result.Session == nil || result.Session.MerchantID != "merchant-2" {
		t.Errorf("Expected session for merchant-2, got %+v", result.Session)
	}
}

func TestHandoff_MissingParams(t *testing.T) {
	f, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(f.handler)

	rr := postJSON(t, r, "/auth/handoff", map[string]interface{}{})

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected status 422, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	var result service.HandoffResult
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}

	if result.Redirect != deeplink.DestinationLogin {
		t.Errorf("Expected login redirect, got %q", result.Redirect)
	}
}

func TestHandoff_BadToken(t *testing.T) {
	f, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(f.handler)

	rr := postJSON(t, r, "/auth/handoff", map[string]interface{}{
		"params": map[string]string{
			"accessToken":                  "deadbeef",
			"currentMerchantPayformanceId": "merchant-3",
		},
	})

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d. Body: %s", rr.Code, rr.Body.String())
	}
}

func TestHandoff_AuthenticatedSessionGoesHome(t *testing.T) {
	f, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(f.handler)

	sess, err := f.sessions.Establish(context.Background(), "token", "merchant", "")
	if err != nil {
		t.Fatalf("Failed to establish session: %v", err)
	}

	body, _ := json.Marshal(map[string]interface{}{})
	req := httptest.NewRequest("POST", "/auth/handoff", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Session-Id", sess.ID)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	var result service.HandoffResult
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}

	if result.Redirect != deeplink.DestinationHome {
		t.Errorf("Expected home redirect, got %q", result.Redirect)
	}
}

func TestMintLink_Success(t *testing.T) {
	f, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(f.handler)

	rr := postJSON(t, r, "/auth/links", map[string]string{
		"accessToken":                  "portal-token",
		"currentMerchantPayformanceId": "merchant-4",
	})

	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	var response struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}

	parsed, err := url.Parse(response.URL)
	if err != nil {
		t.Fatalf("Minted link does not parse: %v", err)
	}
	if parsed.Scheme != "merchantapp" {
		t.Errorf("Expected merchantapp scheme, got %q", parsed.Scheme)
	}
	if token := parsed.Query().Get("accessToken"); token == "" || token == "portal-token" {
		t.Errorf("Expected an encrypted token in the link, got %q", token)
	}
}

func TestMintLink_FlagDisabled(t *testing.T) {
	f, cleanup := setupTestHandler(t)
	defer cleanup()

	f.flags.Disable(features.FlagLinkMinting)
	r := setupRouter(f.handler)

	rr := postJSON(t, r, "/auth/links", map[string]string{
		"accessToken":                  "t",
		"currentMerchantPayformanceId": "m",
	})

	if rr.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", rr.Code)
	}
}
