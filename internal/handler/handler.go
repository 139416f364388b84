package handler

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"revledger/internal/config"
	"revledger/internal/errs"
	"revledger/internal/event"
	"revledger/internal/model"
	"revledger/internal/repository"
	"revledger/internal/service"
	"revledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	db      *gorm.DB
	ledger  *service.LedgerService
	revenue *service.RevenueService
	hub     *event.Hub
	outbox  *repository.OutboxRepository
	cfg     *config.Config
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, ledger *service.LedgerService, revenue *service.RevenueService, hub *event.Hub, cfg *config.Config) *Handler {
	return &Handler{
		db:      db,
		ledger:  ledger,
		revenue: revenue,
		hub:     hub,
		outbox:  repository.NewOutboxRepository(db),
		cfg:     cfg,
	}
}

// ============================================================
// 账户相关接口
// ============================================================

// CreateAccountRequest 创建账户请求；initialBalance 从主账户分配
type CreateAccountRequest struct {
	Name           string           `json:"name" binding:"required"`
	Details        string           `json:"details"`
	AccountType    string           `json:"accountType"`
	InitialBalance *decimal.Decimal `json:"initialBalance"`
}

// CreateAccount 创建子账户
// POST /api/v1/accounts
func (h *Handler) CreateAccount(c *gin.Context) {
	var req CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	in := service.CreateAccountInput{
		Name:              req.Name,
		Details:           req.Details,
		AccountType:       req.AccountType,
		InitialAllocation: decimal.Zero,
	}
	if req.InitialBalance != nil {
		in.InitialAllocation = *req.InitialBalance
	}

	result, err := h.ledger.CreateFundedAccount(c.Request.Context(), callerFrom(c), in)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Created(c, result)
}

// ListAccounts 账户列表，主账户在前
// GET /api/v1/accounts
func (h *Handler) ListAccounts(c *gin.Context) {
	accounts, err := h.ledger.ListAccounts(c.Request.Context())
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{"list": accounts})
}

// GetAccount 账户详情
// GET /api/v1/accounts/:id
func (h *Handler) GetAccount(c *gin.Context) {
	account, err := h.ledger.GetAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, account)
}

// UpdateAccountRequest 修改账户，缺省字段不修改
type UpdateAccountRequest struct {
	Name        *string          `json:"name"`
	Details     *string          `json:"details"`
	AccountType *string          `json:"accountType"`
	IsMain      *bool            `json:"isMain"`
	Balance     *decimal.Decimal `json:"balance"`
}

// UpdateAccount 修改账户
// PUT /api/v1/accounts/:id
//
// 【注意】balance 不是直接覆盖：调高从主账户分配，调低转回主账户，都会留下配对流水
func (h *Handler) UpdateAccount(c *gin.Context) {
	var req UpdateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	result, err := h.ledger.UpdateAccount(c.Request.Context(), callerFrom(c), c.Param("id"), service.AccountChanges{
		Name:        req.Name,
		Details:     req.Details,
		AccountType: req.AccountType,
		IsMain:      req.IsMain,
		Balance:     req.Balance,
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, result)
}

// DeleteAccount 删除子账户，余额必须为 0
// DELETE /api/v1/accounts/:id
func (h *Handler) DeleteAccount(c *gin.Context) {
	if err := h.ledger.DeleteAccount(c.Request.Context(), callerFrom(c), c.Param("id")); err != nil {
		response.Fail(c, err)
		return
	}
	response.NoContent(c)
}

// AllocateRequest 分配请求
type AllocateRequest struct {
	Amount      *decimal.Decimal `json:"amount" binding:"required"`
	Description string           `json:"description"`
}

// Allocate 从主账户向子账户分配收入
// POST /api/v1/accounts/:id/allocate
func (h *Handler) Allocate(c *gin.Context) {
	var req AllocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	result, err := h.ledger.AllocateRevenue(c.Request.Context(), callerFrom(c), c.Param("id"), *req.Amount, req.Description)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, result)
}

// TransferRequest 转账请求
type TransferRequest struct {
	FromAccountID string           `json:"from_account_id" binding:"required"`
	ToAccountID   string           `json:"to_account_id" binding:"required"`
	Amount        *decimal.Decimal `json:"amount" binding:"required"`
	Description   string           `json:"description"`
}

// Transfer 账户间转账
// POST /api/v1/accounts/transfer
func (h *Handler) Transfer(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	result, err := h.ledger.TransferFunds(c.Request.Context(), callerFrom(c), req.FromAccountID, req.ToAccountID, *req.Amount, req.Description)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, result)
}

// AccountsSummary 账户汇总
// GET /api/v1/accounts/summary
func (h *Handler) AccountsSummary(c *gin.Context) {
	summary, err := h.revenue.AccountsSummary(c.Request.Context())
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, summary)
}

// AccountTransactions 单个账户的流水
// GET /api/v1/accounts/:id/transactions
func (h *Handler) AccountTransactions(c *gin.Context) {
	if _, err := h.ledger.GetAccount(c.Request.Context(), c.Param("id")); err != nil {
		response.Fail(c, err)
		return
	}
	h.listTransactions(c, c.Param("id"))
}

// ============================================================
// 流水相关接口
// ============================================================

// PostTransactionRequest 直接入账/出账请求
type PostTransactionRequest struct {
	Title        string           `json:"title" binding:"required"`
	Type         string           `json:"type" binding:"required"`
	Amount       *decimal.Decimal `json:"amount" binding:"required"`
	AccountID    string           `json:"account_id" binding:"required"`
	TransactedAt *time.Time       `json:"transacted_at"`
	Notes        string           `json:"notes"`
}

// PostTransaction 入账/出账
// POST /api/v1/transactions
func (h *Handler) PostTransaction(c *gin.Context) {
	var req PostTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	result, err := h.ledger.PostTransaction(c.Request.Context(), callerFrom(c), service.PostTransactionInput{
		AccountID:  req.AccountID,
		Kind:       req.Type,
		Amount:     *req.Amount,
		Title:      req.Title,
		Notes:      req.Notes,
		OccurredAt: req.TransactedAt,
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Created(c, result)
}

// TransactionQuery 流水查询参数
type TransactionQuery struct {
	AccountID string `form:"account_id"`
	From      string `form:"from"` // RFC3339 或 2006-01-02，含
	To        string `form:"to"`   // 不含
	Query     string `form:"q"`
	Kind      string `form:"kind"`
	Paired    *bool  `form:"paired"`
	Cursor    string `form:"cursor"`
	Limit     int    `form:"limit"`
}

// ListTransactions 流水列表（游标分页）
// GET /api/v1/transactions?account_id=&from=&to=&q=&kind=&paired=&cursor=&limit=
func (h *Handler) ListTransactions(c *gin.Context) {
	h.listTransactions(c, "")
}

func (h *Handler) listTransactions(c *gin.Context, accountID string) {
	var q TransactionQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.ParamError(c, "invalid query: "+err.Error())
		return
	}
	if accountID != "" {
		q.AccountID = accountID
	}

	from, err := parseTime(q.From)
	if err != nil {
		response.Fail(c, err)
		return
	}
	to, err := parseTime(q.To)
	if err != nil {
		response.Fail(c, err)
		return
	}

	page, err := h.ledger.ListTransactions(c.Request.Context(), repository.TransactionFilter{
		AccountID: q.AccountID,
		From:      from,
		To:        to,
		Query:     strings.TrimSpace(q.Query),
		Kind:      q.Kind,
		Paired:    q.Paired,
	}, q.Cursor, q.Limit)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, page)
}

// GetTransaction 流水详情
// GET /api/v1/transactions/:id
func (h *Handler) GetTransaction(c *gin.Context) {
	trans, err := h.ledger.GetTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, trans)
}

// DeleteTransaction 删除未配对流水
// DELETE /api/v1/transactions/:id
func (h *Handler) DeleteTransaction(c *gin.Context) {
	if _, err := h.ledger.DeleteTransaction(c.Request.Context(), callerFrom(c), c.Param("id")); err != nil {
		response.Fail(c, err)
		return
	}
	response.NoContent(c)
}

// ============================================================
// 收入报表
// ============================================================

// RevenueTotal 总收入与分类明细
// GET /api/v1/revenue/total?from=&to=
func (h *Handler) RevenueTotal(c *gin.Context) {
	from, err := parseTime(c.Query("from"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	to, err := parseTime(c.Query("to"))
	if err != nil {
		response.Fail(c, err)
		return
	}

	report, err := h.revenue.RevenueTotal(c.Request.Context(), from, to)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, report)
}

// ============================================================
// 变更事件流
// ============================================================

// StreamEvents 以 SSE 推送结构化变更事件
// GET /api/v1/events/stream
func (h *Handler) StreamEvents(c *gin.Context) {
	events, cancel := h.hub.Subscribe()
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case e, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(e.Type, e)
			return true
		}
	})
}

// RequeueOutbox 把投递失败的变更事件放回队列
// POST /api/v1/outbox/requeue
func (h *Handler) RequeueOutbox(c *gin.Context) {
	n, err := h.outbox.Requeue(c.Request.Context())
	if err != nil {
		response.Fail(c, errs.Classify("requeue outbox", err))
		return
	}
	response.Success(c, gin.H{"requeued": n})
}

// Health 健康检查：数据库可用才返回 200，附带 outbox 积压情况
// GET /health
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}

	body := gin.H{"status": "ok", "subscribers": h.hub.Subscribers()}
	if pending, err := h.outbox.CountByStatus(ctx, model.OutboxStatusPending); err == nil {
		body["outboxPending"] = pending
	}
	if failed, err := h.outbox.CountByStatus(ctx, model.OutboxStatusFailed); err == nil {
		body["outboxFailed"] = failed
	}
	c.JSON(http.StatusOK, body)
}

// parseTime 支持 RFC3339 与纯日期（按 UTC 零点）
func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, errs.New(errs.KindInvalidRequest, "invalid time %q: want RFC3339 or YYYY-MM-DD", s)
}
