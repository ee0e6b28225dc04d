package withdrawal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vendora/payouts/internal/middleware"
	"github.com/vendora/payouts/pkg/models"
)

const testSecret = "test-secret"

func setupTestRouter(t *testing.T) (*gin.Engine, *fixture) {
	gin.SetMode(gin.TestMode)
	f := setupTestFixture(t, 10)
	handler := NewHandler(f.svc, f.ledger, f.vault, nil, zap.NewNop())
	router := gin.New()
	v1 := router.Group("/v1")
	Routes(v1, handler, testSecret)
	return router, f
}

func token(t *testing.T, subject, role string) string {
	claims := middleware.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func doJSON(router *gin.Engine, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateWithdrawalEndpoint(t *testing.T) {
	router, f := setupTestRouter(t)
	owner := f.newOwner(t, 500)
	bearer := token(t, owner.String(), "owner")

	w := doJSON(router, http.MethodPost, "/v1/payouts/withdrawals", bearer,
		map[string]string{"amount": "300"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var request models.WithdrawalRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &request))
	assert.Equal(t, models.WithdrawalPending, request.Status)
	assert.Equal(t, owner, request.OwnerID)
	assert.True(t, request.Amount.Equal(decimal.NewFromInt(300)))

	// Second request over the remaining balance maps to 422
	w = doJSON(router, http.MethodPost, "/v1/payouts/withdrawals", bearer,
		map[string]string{"amount": "300"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var errBody map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errBody))
	assert.Equal(t, "INSUFFICIENT_BALANCE", errBody["error"])
	assert.NotEmpty(t, errBody["trace_id"])
}

func TestCreateWithdrawalRequiresAuth(t *testing.T) {
	router, _ := setupTestRouter(t)
	w := doJSON(router, http.MethodPost, "/v1/payouts/withdrawals", "",
		map[string]string{"amount": "300"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTransitionEndpointRequiresAdmin(t *testing.T) {
	router, f := setupTestRouter(t)
	owner := f.newOwner(t, 500)
	request, err := f.svc.CreateRequest(context.Background(), owner, decimal.NewFromInt(200))
	require.NoError(t, err)

	path := fmt.Sprintf("/v1/admin/withdrawals/%s/status", request.ID)
	body := map[string]string{"status": "approved"}

	// Owner role is refused
	w := doJSON(router, http.MethodPut, path, token(t, owner.String(), "owner"), body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Admin goes through
	w = doJSON(router, http.MethodPut, path, token(t, "admin-1", "admin"), body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var updated models.WithdrawalRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, models.WithdrawalApproved, updated.Status)
	assert.Equal(t, "admin-1", updated.ReviewedBy)
}

func TestTransitionEndpointIllegalEdge(t *testing.T) {
	router, f := setupTestRouter(t)
	owner := f.newOwner(t, 500)
	request, err := f.svc.CreateRequest(context.Background(), owner, decimal.NewFromInt(200))
	require.NoError(t, err)

	path := fmt.Sprintf("/v1/admin/withdrawals/%s/status", request.ID)
	w := doJSON(router, http.MethodPut, path, token(t, "admin-1", "admin"),
		map[string]string{"status": "completed"})
	assert.Equal(t, http.StatusConflict, w.Code)

	var errBody map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errBody))
	assert.Equal(t, "INVALID_TRANSITION", errBody["error"])
}

func TestBulkTransitionEndpoint(t *testing.T) {
	router, f := setupTestRouter(t)
	ctx := context.Background()
	owner := f.newOwner(t, 10000)

	ids := make([]uuid.UUID, 0, 3)
	for i := 0; i < 3; i++ {
		request, err := f.svc.CreateRequest(ctx, owner, decimal.NewFromInt(100))
		require.NoError(t, err)
		ids = append(ids, request.ID)
	}
	_, err := f.svc.Transition(ctx, ids[0], models.WithdrawalRejected, "", "admin-1")
	require.NoError(t, err)

	w := doJSON(router, http.MethodPut, "/v1/admin/withdrawals/status", token(t, "admin-1", "admin"),
		map[string]interface{}{"request_ids": ids, "status": "processing"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result BulkResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Len(t, result.Applied, 2)
	assert.Len(t, result.Skipped, 1)
	assert.Equal(t, ids[0], result.Skipped[0])
}

func TestWalletEndpoint(t *testing.T) {
	router, f := setupTestRouter(t)
	owner := f.newOwner(t, 750)

	w := doJSON(router, http.MethodGet, "/v1/payouts/wallet", token(t, owner.String(), "owner"), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var wallet models.WalletLedger
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &wallet))
	assert.True(t, wallet.AvailableBalance.Equal(decimal.NewFromInt(750)))
}

func TestSaveBankAccountEndpointLocks(t *testing.T) {
	router, _ := setupTestRouter(t)
	owner := uuid.New()
	bearer := token(t, owner.String(), "owner")
	body := map[string]string{
		"bank_name":      "First National",
		"account_name":   "Test Store",
		"account_number": "12345678",
	}

	w := doJSON(router, http.MethodPut, "/v1/payouts/bank-account", bearer, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(router, http.MethodPut, "/v1/payouts/bank-account", bearer, body)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestListOwnWithdrawalsEndpoint(t *testing.T) {
	router, f := setupTestRouter(t)
	ctx := context.Background()
	owner := f.newOwner(t, 10000)
	other := f.newOwner(t, 10000)

	for i := 0; i < 2; i++ {
		_, err := f.svc.CreateRequest(ctx, owner, decimal.NewFromInt(100))
		require.NoError(t, err)
	}
	_, err := f.svc.CreateRequest(ctx, other, decimal.NewFromInt(100))
	require.NoError(t, err)

	w := doJSON(router, http.MethodGet, "/v1/payouts/withdrawals", token(t, owner.String(), "owner"), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Withdrawals []models.WithdrawalRequest `json:"withdrawals"`
		Pagination  map[string]interface{}     `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Withdrawals, 2)
	for _, request := range body.Withdrawals {
		assert.Equal(t, owner, request.OwnerID)
	}
	assert.EqualValues(t, 2, body.Pagination["total"])
}
