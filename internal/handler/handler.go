package handler

import (
	"strconv"
	"time"

	"consumeledger/internal/repository"
	"consumeledger/internal/service"
	"consumeledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	consumeService *service.ConsumeService
	refundService  *service.RefundService
	accountService *service.AccountService
	queryService   *service.QueryService
	guard          PermissionGuard
	log            *zap.Logger
}

func NewHandler(consume *service.ConsumeService, refund *service.RefundService, account *service.AccountService,
	query *service.QueryService, guard PermissionGuard, log *zap.Logger) *Handler {
	if guard == nil {
		guard = AllowAll{}
	}
	return &Handler{
		consumeService: consume,
		refundService:  refund,
		accountService: account,
		queryService:   query,
		guard:          guard,
		log:            log.Named("Handler"),
	}
}

func queryInt64(c *gin.Context, key string) (int64, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		response.ParamError(c, key+" 参数错误")
		return 0, false
	}
	return v, true
}

// queryTime 支持 RFC3339 与 "2006-01-02 15:04:05"（本地时间）
func queryTime(c *gin.Context, key string) (time.Time, bool) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04:05", raw, time.Local); err == nil {
		return t, true
	}
	response.ParamError(c, key+" 时间格式错误")
	return time.Time{}, false
}

func queryPage(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return page, pageSize
}

// accountRef 查询参数中的 user_id / account_id
func accountRef(c *gin.Context) (userID, accountID int64, ok bool) {
	if userID, ok = queryInt64(c, "user_id"); !ok {
		return
	}
	if accountID, ok = queryInt64(c, "account_id"); !ok {
		return
	}
	if userID == 0 && accountID == 0 {
		response.ParamError(c, "user_id 或 account_id 不能为空")
		return 0, 0, false
	}
	return userID, accountID, true
}

// ============================================================
// 账户相关接口
// ============================================================

type OpenAccountRequest struct {
	UserID       int64            `json:"user_id" binding:"required"`
	DailyLimit   *decimal.Decimal `json:"daily_limit"`
	MonthlyLimit *decimal.Decimal `json:"monthly_limit"`
}

// OpenAccount 开户
// POST /api/v1/account/open
func (h *Handler) OpenAccount(c *gin.Context) {
	var req OpenAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	account, err := h.accountService.OpenAccount(c.Request.Context(), req.UserID, req.DailyLimit, req.MonthlyLimit)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, account)
}

// GetBalance 查询余额
// GET /api/v1/account/balance?user_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	userID, accountID, ok := accountRef(c)
	if !ok {
		return
	}

	view, err := h.queryService.GetBalance(c.Request.Context(), userID, accountID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, view)
}

// GetAccount 账户快照
// GET /api/v1/account/detail?account_id=xxx
func (h *Handler) GetAccount(c *gin.Context) {
	userID, accountID, ok := accountRef(c)
	if !ok {
		return
	}

	account, err := h.queryService.GetAccount(c.Request.Context(), userID, accountID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, account)
}

// Recharge 充值
// POST /api/v1/account/recharge
func (h *Handler) Recharge(c *gin.Context) {
	var req service.RechargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trans, err := h.accountService.Recharge(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"transaction_no": trans.TransactionNo,
		"amount":         trans.Amount,
		"balance_after":  trans.BalanceAfter,
	})
}

type AccountStatusRequest struct {
	AccountID int64  `json:"account_id" binding:"required"`
	Reason    string `json:"reason"`
}

// FreezeAccount 冻结（挂失）
// POST /api/v1/account/freeze
func (h *Handler) FreezeAccount(c *gin.Context) {
	var req AccountStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	account, err := h.accountService.FreezeAccount(c.Request.Context(), req.AccountID, req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"account_id": account.ID, "status": account.Status})
}

// UnfreezeAccount 解冻
// POST /api/v1/account/unfreeze
func (h *Handler) UnfreezeAccount(c *gin.Context) {
	var req AccountStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	account, err := h.accountService.UnfreezeAccount(c.Request.Context(), req.AccountID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"account_id": account.ID, "status": account.Status})
}

// CloseAccount 关户
// POST /api/v1/account/close
func (h *Handler) CloseAccount(c *gin.Context) {
	var req AccountStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	account, err := h.accountService.CloseAccount(c.Request.Context(), req.AccountID, req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"account_id": account.ID, "status": account.Status})
}

type SetLimitsRequest struct {
	AccountID    int64            `json:"account_id" binding:"required"`
	DailyLimit   *decimal.Decimal `json:"daily_limit"`
	MonthlyLimit *decimal.Decimal `json:"monthly_limit"`
}

// SetLimits 设置限额，字段为空表示不限
// POST /api/v1/account/limits
func (h *Handler) SetLimits(c *gin.Context) {
	var req SetLimitsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	account, err := h.accountService.SetLimits(c.Request.Context(), req.AccountID, req.DailyLimit, req.MonthlyLimit)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"account_id":    account.ID,
		"daily_limit":   account.DailyLimit,
		"monthly_limit": account.MonthlyLimit,
	})
}

// HoldAmount 预留金额
// POST /api/v1/account/hold
func (h *Handler) HoldAmount(c *gin.Context) {
	var req service.HoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	account, err := h.accountService.HoldAmount(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"account_id":    account.ID,
		"balance":       account.Balance,
		"frozen_amount": account.FrozenAmount,
	})
}

// ReleaseHold 释放预留金额
// POST /api/v1/account/release
func (h *Handler) ReleaseHold(c *gin.Context) {
	var req service.HoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	account, err := h.accountService.ReleaseHold(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"account_id":    account.ID,
		"balance":       account.Balance,
		"frozen_amount": account.FrozenAmount,
	})
}

// ============================================================
// 消费相关接口
// ============================================================

// Consume 消费扣款
// POST /api/v1/consume/execute
//
// 同一 order_no 只会扣款一次；返回 retryable=true 时可以用同一 order_no 重试。
func (h *Handler) Consume(c *gin.Context) {
	var req service.ConsumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.guard.CheckConsumePermission(c.Request.Context(), req.UserID, req.DeviceID); err != nil {
		h.log.Warn("消费权限校验未通过",
			zap.Int64("user_id", req.UserID), zap.String("device_id", req.DeviceID), zap.Error(err))
		response.Forbidden(c, err.Error())
		return
	}

	record, err := h.consumeService.ProcessConsume(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, record)
}

// GetConsumeRecord 消费记录详情
// GET /api/v1/consume/detail?record_no=xxx 或 ?order_no=xxx
func (h *Handler) GetConsumeRecord(c *gin.Context) {
	recordNo, orderNo := c.Query("record_no"), c.Query("order_no")
	if recordNo == "" && orderNo == "" {
		response.ParamError(c, "record_no 或 order_no 不能为空")
		return
	}

	record, err := h.queryService.GetConsumeRecord(c.Request.Context(), recordNo, orderNo)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, record)
}

// ListConsumeRecords 消费记录列表
// GET /api/v1/consume/list?user_id=xxx&status=SUCCESS&page=1&page_size=20
func (h *Handler) ListConsumeRecords(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}
	accountID, ok := queryInt64(c, "account_id")
	if !ok {
		return
	}
	from, ok := queryTime(c, "start_time")
	if !ok {
		return
	}
	to, ok := queryTime(c, "end_time")
	if !ok {
		return
	}
	page, pageSize := queryPage(c)

	result, err := h.queryService.ListConsumeRecords(c.Request.Context(), repository.ConsumeFilter{
		UserID:    userID,
		AccountID: accountID,
		DeviceID:  c.Query("device_id"),
		Status:    c.Query("status"),
		From:      from,
		To:        to,
		Page:      page,
		PageSize:  pageSize,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// ============================================================
// 退款相关接口
// ============================================================

// Refund 退款，支持部分退款
// POST /api/v1/refund/execute
func (h *Handler) Refund(c *gin.Context) {
	var req service.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.refundService.ProcessRefund(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// GetRefundStatus 退款进度
// GET /api/v1/refund/status?record_no=xxx
func (h *Handler) GetRefundStatus(c *gin.Context) {
	recordNo := c.Query("record_no")
	if recordNo == "" {
		response.ParamError(c, "record_no 参数不能为空")
		return
	}

	view, err := h.queryService.GetRefundStatus(c.Request.Context(), recordNo)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, view)
}

// ============================================================
// 流水查询
// ============================================================

// ListTransactions 流水列表
// GET /api/v1/transaction/list?account_id=xxx&type=DEDUCT&start_time=...&end_time=...
func (h *Handler) ListTransactions(c *gin.Context) {
	accountID, ok := queryInt64(c, "account_id")
	if !ok {
		return
	}
	from, ok := queryTime(c, "start_time")
	if !ok {
		return
	}
	to, ok := queryTime(c, "end_time")
	if !ok {
		return
	}
	page, pageSize := queryPage(c)

	result, err := h.queryService.ListTransactions(c.Request.Context(), repository.TransactionFilter{
		AccountID: accountID,
		DeviceID:  c.Query("device_id"),
		Type:      c.Query("type"),
		From:      from,
		To:        to,
		Page:      page,
		PageSize:  pageSize,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}
