package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fraudgate/internal/auth"
	"fraudgate/internal/config"
	"fraudgate/internal/fraud"
	"fraudgate/internal/storage"
	"fraudgate/internal/transfer"
)

const testJWTSecret = "test-secret"

type memoryStore struct {
	velocity int
	income   decimal.Decimal

	transactions []storage.Transaction
	events       []storage.FraudEvent
	audit        []storage.AuditEntry
}

func (m *memoryStore) CountTransactionsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	return m.velocity, nil
}

func (m *memoryStore) AverageTransactionAmount(ctx context.Context, userID string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (m *memoryStore) SumReceivedSince(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error) {
	return m.income, nil
}

func (m *memoryStore) GetBeneficiary(ctx context.Context, id string) (*storage.Beneficiary, error) {
	return nil, nil
}

func (m *memoryStore) BeneficiaryFlagged(ctx context.Context, beneficiaryID string) (bool, error) {
	return false, nil
}

func (m *memoryStore) InsertTransaction(ctx context.Context, tx storage.Transaction) (storage.Transaction, error) {
	tx.CreatedAt = time.Now().UTC()
	m.transactions = append(m.transactions, tx)
	return tx, nil
}

func (m *memoryStore) InsertBeneficiary(ctx context.Context, ben storage.Beneficiary) (storage.Beneficiary, error) {
	return ben, nil
}

func (m *memoryStore) InsertFraudEvent(ctx context.Context, event storage.FraudEvent) error {
	m.events = append(m.events, event)
	return nil
}

func (m *memoryStore) InsertAudit(ctx context.Context, entry storage.AuditEntry) error {
	m.audit = append(m.audit, entry)
	return nil
}

type okPinger struct{}

func (okPinger) Ping(ctx context.Context) error { return nil }

type downPinger struct{}

func (downPinger) Ping(ctx context.Context) error { return errors.New("connection refused") }

func newTestHandler(store *memoryStore, authCfg config.AuthConfig, pinger Pinger) http.Handler {
	logger := zerolog.Nop()
	collector := fraud.NewCollector(store, logger)
	evaluator := fraud.NewEvaluator(collector, nil, logger)
	authorizer := transfer.NewAuthorizer(evaluator, store, store, store, store, nil, logger)
	resolver := auth.NewResolver(authCfg, logger)
	return NewServer(evaluator, authorizer, resolver, pinger, authCfg, logger).Routes()
}

func signToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   userID,
		"email": "user@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}

func postJSON(t *testing.T, handler http.Handler, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestFraudCheckRequiresUserAndAmount(t *testing.T) {
	handler := newTestHandler(&memoryStore{}, config.AuthConfig{}, okPinger{})

	cases := []map[string]interface{}{
		{},
		{"userId": "u1"},
		{"amount": 100.0},
	}
	for _, body := range cases {
		rec := postJSON(t, handler, "/api/fraud/check", body, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var res map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.Equal(t, "userId and amount are required", res["error"])
	}
}

func TestFraudCheckReturnsVerdict(t *testing.T) {
	store := &memoryStore{velocity: 6, income: decimal.NewFromInt(50000)}
	handler := newTestHandler(store, config.AuthConfig{}, okPinger{})

	rec := postJSON(t, handler, "/api/fraud/check", map[string]interface{}{
		"userId": "u1",
		"amount": 200.0,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var res fraud.CheckResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Safe)
	assert.Equal(t, 0.3, res.RiskScore)
	assert.Equal(t, []string{fraud.FlagHighVelocity}, res.Flags)
	assert.Nil(t, res.AI)
}

func TestFraudCheckUserFromToken(t *testing.T) {
	store := &memoryStore{income: decimal.NewFromInt(50000)}
	handler := newTestHandler(store, config.AuthConfig{JWTSecret: testJWTSecret}, okPinger{})

	rec := postJSON(t, handler, "/api/fraud/check", map[string]interface{}{
		"amount": 200.0,
	}, map[string]string{"Authorization": "Bearer " + signToken(t, "u-token")})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTransferRejectsNonPositiveAmount(t *testing.T) {
	handler := newTestHandler(&memoryStore{}, config.AuthConfig{}, okPinger{})

	for _, amount := range []interface{}{nil, 0.0, -10.0} {
		body := map[string]interface{}{}
		if amount != nil {
			body["amount"] = amount
		}
		rec := postJSON(t, handler, "/api/transactions/transfer", body, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var res map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.Equal(t, "Amount must be positive", res["error"])
	}
}

func TestTransferAuthenticatedPersists(t *testing.T) {
	store := &memoryStore{income: decimal.NewFromInt(50000)}
	handler := newTestHandler(store, config.AuthConfig{JWTSecret: testJWTSecret}, okPinger{})

	rec := postJSON(t, handler, "/api/transactions/transfer", map[string]interface{}{
		"amount":      500.0,
		"description": "rent",
	}, map[string]string{"Authorization": "Bearer " + signToken(t, "u1")})
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		Status        string            `json:"status"`
		Flagged       bool              `json:"flagged"`
		RiskScore     float64           `json:"riskScore"`
		TransactionID string            `json:"transactionId"`
		Fraud         fraud.CheckResult `json:"fraud"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))

	assert.Equal(t, storage.StatusCompleted, res.Status)
	assert.False(t, res.Flagged)
	assert.NotEmpty(t, res.TransactionID)
	assert.True(t, res.Fraud.Safe)

	require.Len(t, store.transactions, 1)
	assert.Equal(t, "u1", store.transactions[0].UserID)
	require.Len(t, store.audit, 1)
}

func TestTransferUnauthenticatedSimulates(t *testing.T) {
	store := &memoryStore{income: decimal.NewFromInt(50000)}
	handler := newTestHandler(store, config.AuthConfig{}, okPinger{})

	rec := postJSON(t, handler, "/api/transactions/transfer", map[string]interface{}{
		"amount": 500.0,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var res map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, storage.StatusCompleted, res["status"])
	_, hasTransaction := res["transactionId"]
	assert.False(t, hasTransaction, "simulated transfer must not report a transaction id")
	assert.Empty(t, store.transactions)
}

func TestTransferDemoIdentitySimulates(t *testing.T) {
	store := &memoryStore{income: decimal.NewFromInt(50000)}
	authCfg := config.AuthConfig{DummyEnabled: true, DummyUserID: "demo-user", DummyEmail: "demo@example.com"}
	handler := newTestHandler(store, authCfg, okPinger{})

	rec := postJSON(t, handler, "/api/transactions/transfer", map[string]interface{}{
		"amount": 500.0,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, store.transactions)
}

func TestTransferFlaggedResponse(t *testing.T) {
	// Low income forces the capacity rule, prior-flag is off, so 0.4 alone
	// stays safe; velocity pushes it over.
	store := &memoryStore{velocity: 6, income: decimal.NewFromInt(100)}
	handler := newTestHandler(store, config.AuthConfig{JWTSecret: testJWTSecret}, okPinger{})

	rec := postJSON(t, handler, "/api/transactions/transfer", map[string]interface{}{
		"amount": 500.0,
	}, map[string]string{"Authorization": "Bearer " + signToken(t, "u1")})
	require.Equal(t, http.StatusOK, rec.Code)

	var res map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, storage.StatusFlagged, res["status"])
	assert.Equal(t, true, res["flagged"])

	require.Len(t, store.transactions, 1)
	assert.Equal(t, storage.StatusFlagged, store.transactions[0].Status)
	require.Len(t, store.events, 1)
	assert.Equal(t, "flagged_transfer", store.events[0].EventType)
}

// newDegradedHandler wires the stack the way Serve does when database.dsn
// is unset: nil stores everywhere, evaluation running the fallback policy.
func newDegradedHandler(authCfg config.AuthConfig) http.Handler {
	logger := zerolog.Nop()
	collector := fraud.NewCollector(nil, logger)
	evaluator := fraud.NewEvaluator(collector, nil, logger)
	authorizer := transfer.NewAuthorizer(evaluator, nil, nil, nil, nil, nil, logger)
	resolver := auth.NewResolver(authCfg, logger)
	return NewServer(evaluator, authorizer, resolver, nil, authCfg, logger).Routes()
}

func TestTransferWithoutDatabaseIsNotReady(t *testing.T) {
	handler := newDegradedHandler(config.AuthConfig{JWTSecret: testJWTSecret})

	rec := postJSON(t, handler, "/api/transactions/transfer", map[string]interface{}{
		"amount": 500.0,
	}, map[string]string{"Authorization": "Bearer " + signToken(t, "u1")})
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var res map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "Server not ready", res["error"])
}

func TestTransferWithoutDatabaseStillSimulates(t *testing.T) {
	handler := newDegradedHandler(config.AuthConfig{})

	rec := postJSON(t, handler, "/api/transactions/transfer", map[string]interface{}{
		"amount": 500.0,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var res map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, storage.StatusCompleted, res["status"])
}

func TestMalformedJSONIsServerError(t *testing.T) {
	handler := newTestHandler(&memoryStore{}, config.AuthConfig{}, okPinger{})

	for _, path := range []string{"/api/fraud/check", "/api/transactions/transfer"} {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte("{not json")))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusInternalServerError, rec.Code, path)

		var res map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.Equal(t, "Internal server error", res["error"], path)
	}
}

func TestHealthz(t *testing.T) {
	handler := newTestHandler(&memoryStore{}, config.AuthConfig{}, okPinger{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var res map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "ok", res["status"])
	assert.Equal(t, "up", res["database"])
}

func TestHealthzDatabaseDown(t *testing.T) {
	handler := newTestHandler(&memoryStore{}, config.AuthConfig{}, downPinger{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var res map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "down", res["database"])
}
