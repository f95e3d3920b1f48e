package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"consumeledger/internal/config"
	"consumeledger/internal/infrastructure/lock"
	"consumeledger/internal/pricing"
	"consumeledger/internal/service"
	"consumeledger/internal/testutil"
	"consumeledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type apiResponse struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	Retryable bool            `json:"retryable"`
	Data      json.RawMessage `json:"data"`
}

func newTestRouter(t *testing.T, guard PermissionGuard) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewDB(t)
	cfg := &config.Config{}
	cfg.Kafka.Topic.LedgerEvent = "ledger_event"
	cfg.Business.StorageTimeout = 5 * time.Second
	cfg.Business.PricingTimeout = 200 * time.Millisecond

	log := zap.NewNop()
	locks := lock.NewAccountLockManager(lock.NewLocalLocker(), 5*time.Second)
	h := NewHandler(
		service.NewConsumeService(db, locks, pricing.PassThrough{}, cfg, log),
		service.NewRefundService(db, locks, cfg, log),
		service.NewAccountService(db, locks, cfg, log),
		service.NewQueryService(db, cfg),
		guard,
		log,
	)
	return SetupRouter(h, log), db
}

func do(t *testing.T, r *gin.Engine, method, path string, body interface{}) apiResponse {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestConsumeAndRefundOverHTTP(t *testing.T) {
	r, db := newTestRouter(t, nil)
	testutil.SeedAccount(t, db, 1, "100.00")

	consume := gin.H{"user_id": 1, "device_id": "POS-1", "amount": "30.00", "order_no": "A1"}
	resp := do(t, r, http.MethodPost, "/api/v1/consume/execute", consume)
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)

	var record struct {
		RecordNo    string `json:"record_no"`
		FinalAmount string `json:"final_amount"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &record))
	assert.Equal(t, "30", record.FinalAmount)

	resp = do(t, r, http.MethodPost, "/api/v1/consume/execute", consume)
	assert.Equal(t, response.CodeDuplicateOrder, resp.Code)
	assert.False(t, resp.Retryable)

	resp = do(t, r, http.MethodPost, "/api/v1/consume/execute",
		gin.H{"user_id": 1, "amount": "100.00", "order_no": "A2"})
	assert.Equal(t, response.CodeBalanceNotEnough, resp.Code)

	resp = do(t, r, http.MethodGet, "/api/v1/account/balance?user_id=1", nil)
	require.Equal(t, response.CodeSuccess, resp.Code)
	var balance struct {
		Balance string `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &balance))
	assert.Equal(t, "70", balance.Balance)

	resp = do(t, r, http.MethodPost, "/api/v1/refund/execute",
		gin.H{"record_no": record.RecordNo, "refund_no": "R1", "amount": "30.00"})
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)

	resp = do(t, r, http.MethodPost, "/api/v1/refund/execute",
		gin.H{"record_no": record.RecordNo, "refund_no": "R2", "amount": "1.00"})
	assert.Equal(t, response.CodeAlreadyRefunded, resp.Code)

	resp = do(t, r, http.MethodGet, "/api/v1/refund/status?record_no="+record.RecordNo, nil)
	require.Equal(t, response.CodeSuccess, resp.Code)
	assert.Contains(t, string(resp.Data), "FULL_REFUND")

	resp = do(t, r, http.MethodGet, "/api/v1/consume/detail?order_no=A1", nil)
	require.Equal(t, response.CodeSuccess, resp.Code)
	assert.Contains(t, string(resp.Data), record.RecordNo)
}

func TestAccountLifecycleOverHTTP(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	resp := do(t, r, http.MethodPost, "/api/v1/account/open", gin.H{"user_id": 9, "daily_limit": "50.00"})
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)
	var acc struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &acc))

	resp = do(t, r, http.MethodPost, "/api/v1/account/recharge",
		gin.H{"user_id": 9, "amount": "80.00", "order_no": "RC1"})
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)

	resp = do(t, r, http.MethodPost, "/api/v1/consume/execute",
		gin.H{"user_id": 9, "amount": "60.00", "order_no": "C1"})
	assert.Equal(t, response.CodeLimitExceeded, resp.Code)

	resp = do(t, r, http.MethodPost, "/api/v1/account/hold",
		gin.H{"account_id": acc.ID, "amount": "10.00", "ref_no": "H1"})
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)

	resp = do(t, r, http.MethodPost, "/api/v1/account/close", gin.H{"account_id": acc.ID})
	assert.Equal(t, response.CodeAccountUnavailable, resp.Code)

	resp = do(t, r, http.MethodPost, "/api/v1/account/release",
		gin.H{"account_id": acc.ID, "amount": "10.00", "ref_no": "H2"})
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)

	resp = do(t, r, http.MethodPost, "/api/v1/account/freeze", gin.H{"account_id": acc.ID, "reason": "挂失"})
	require.Equal(t, response.CodeSuccess, resp.Code)
	assert.Contains(t, string(resp.Data), "FROZEN")

	resp = do(t, r, http.MethodPost, "/api/v1/consume/execute",
		gin.H{"user_id": 9, "amount": "1.00", "order_no": "C2"})
	assert.Equal(t, response.CodeAccountUnavailable, resp.Code)

	resp = do(t, r, http.MethodPost, "/api/v1/account/unfreeze", gin.H{"account_id": acc.ID})
	require.Equal(t, response.CodeSuccess, resp.Code)

	resp = do(t, r, http.MethodPost, "/api/v1/account/limits", gin.H{"account_id": acc.ID})
	require.Equal(t, response.CodeSuccess, resp.Code)

	resp = do(t, r, http.MethodPost, "/api/v1/consume/execute",
		gin.H{"user_id": 9, "amount": "60.00", "order_no": "C1"})
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)

	resp = do(t, r, http.MethodGet, "/api/v1/transaction/list?account_id="+jsonInt(acc.ID)+"&type=DEDUCT", nil)
	require.Equal(t, response.CodeSuccess, resp.Code)
	var page struct {
		Total int64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &page))
	assert.EqualValues(t, 1, page.Total)

	resp = do(t, r, http.MethodGet, "/api/v1/consume/list?user_id=9", nil)
	require.Equal(t, response.CodeSuccess, resp.Code)

	resp = do(t, r, http.MethodGet, "/api/v1/account/detail?account_id="+jsonInt(acc.ID), nil)
	require.Equal(t, response.CodeSuccess, resp.Code)
}

func jsonInt(v int64) string {
	raw, _ := json.Marshal(v)
	return string(raw)
}

func TestParamErrors(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	resp := do(t, r, http.MethodGet, "/api/v1/account/balance?user_id=abc", nil)
	assert.Equal(t, response.CodeParamError, resp.Code)

	resp = do(t, r, http.MethodGet, "/api/v1/account/balance", nil)
	assert.Equal(t, response.CodeParamError, resp.Code)

	resp = do(t, r, http.MethodPost, "/api/v1/consume/execute", gin.H{"user_id": 1, "amount": "0", "order_no": "X"})
	assert.Equal(t, response.CodeParamError, resp.Code)

	resp = do(t, r, http.MethodGet, "/api/v1/transaction/list?account_id=1&start_time=yesterday", nil)
	assert.Equal(t, response.CodeParamError, resp.Code)

	resp = do(t, r, http.MethodGet, "/api/v1/account/balance?user_id=404", nil)
	assert.Equal(t, response.CodeAccountNotFound, resp.Code)
}

func TestPermissionGuardBlocksConsume(t *testing.T) {
	r, db := newTestRouter(t, DeviceAllowList{"POS-1": true})
	testutil.SeedAccount(t, db, 1, "100.00")

	resp := do(t, r, http.MethodPost, "/api/v1/consume/execute",
		gin.H{"user_id": 1, "device_id": "POS-X", "amount": "1.00", "order_no": "A1"})
	assert.Equal(t, response.CodeForbidden, resp.Code)

	resp = do(t, r, http.MethodPost, "/api/v1/consume/execute",
		gin.H{"user_id": 1, "device_id": "POS-1", "amount": "1.00", "order_no": "A1"})
	assert.Equal(t, response.CodeSuccess, resp.Code)
}

func TestHealthMetricsAndRequestID(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc", w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/v1/consume/execute", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RecoveryMiddleware(zap.NewNop()))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
