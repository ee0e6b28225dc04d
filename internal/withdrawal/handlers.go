package withdrawal

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vendora/payouts/internal/bankvault"
	"github.com/vendora/payouts/internal/ledger"
	"github.com/vendora/payouts/internal/notification"
	"github.com/vendora/payouts/internal/ws"
	"github.com/vendora/payouts/pkg/errors"
	"github.com/vendora/payouts/pkg/models"
)

// Handler provides HTTP handlers for payout operations
type Handler struct {
	service WithdrawalService
	ledger  ledger.LedgerService
	vault   bankvault.Vault
	hub     *ws.Hub
	logger  *zap.Logger
}

// NewHandler creates a new payout handler
func NewHandler(service WithdrawalService, ledgerSvc ledger.LedgerService, vault bankvault.Vault, hub *ws.Hub, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		ledger:  ledgerSvc,
		vault:   vault,
		hub:     hub,
		logger:  logger,
	}
}

func traceID(c *gin.Context) string {
	id := c.GetHeader("X-Trace-ID")
	if id == "" {
		id = uuid.New().String()
		c.Header("X-Trace-ID", id)
	}
	return id
}

func (h *Handler) respondError(c *gin.Context, trace string, err error) {
	status := errors.StatusCode(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("trace_id", trace), zap.Error(err))
	}
	message := err.Error()
	var kinded *errors.Error
	if errors.As(err, &kinded) {
		message = kinded.Message
	}
	c.JSON(status, gin.H{
		"error":    errors.KindOf(err),
		"message":  message,
		"trace_id": trace,
	})
}

func callerID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.GetString("userID"))
	return id, err == nil
}

func pagination(c *gin.Context) (page, limit int) {
	page = 1
	if p, err := strconv.Atoi(c.Query("page")); err == nil && p > 0 {
		page = p
	}
	limit = 20
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}
	return page, limit
}

type createWithdrawalRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// CreateWithdrawalHandler opens a withdrawal request for the caller
// @Summary Create withdrawal request
// @Description Request a payout from the caller's wallet; the amount is held until an admin resolves the request
// @Tags Withdrawals
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body createWithdrawalRequest true "Withdrawal amount"
// @Success 201 {object} models.WithdrawalRequest
// @Failure 400 {object} map[string]interface{} "Invalid amount"
// @Failure 422 {object} map[string]interface{} "Insufficient balance, quota reached or missing bank details"
// @Router /v1/payouts/withdrawals [post]
func (h *Handler) CreateWithdrawalHandler(c *gin.Context) {
	trace := traceID(c)
	ownerID, ok := callerID(c)
	if !ok {
		h.respondError(c, trace, errors.ErrUnauthorized.Explain("invalid caller identity"))
		return
	}

	var req createWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, trace, errors.Wrap(errors.ErrInvalid, err).Explain("invalid request body"))
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		h.respondError(c, trace, errors.ErrInvalid.Explain("amount must be a decimal number"))
		return
	}

	request, err := h.service.CreateRequest(c.Request.Context(), ownerID, amount)
	if err != nil {
		h.respondError(c, trace, err)
		return
	}
	c.JSON(http.StatusCreated, request)
}

// ListOwnWithdrawalsHandler lists the caller's withdrawal requests
// @Summary List own withdrawal requests
// @Tags Withdrawals
// @Produce json
// @Security BearerAuth
// @Param status query string false "Status filter"
// @Param page query int false "Page number" default(1)
// @Param limit query int false "Items per page" default(20)
// @Success 200 {object} map[string]interface{}
// @Router /v1/payouts/withdrawals [get]
func (h *Handler) ListOwnWithdrawalsHandler(c *gin.Context) {
	trace := traceID(c)
	ownerID, ok := callerID(c)
	if !ok {
		h.respondError(c, trace, errors.ErrUnauthorized.Explain("invalid caller identity"))
		return
	}
	h.list(c, trace, &ownerID)
}

// ListWithdrawalsHandler lists withdrawal requests across owners (admin)
// @Summary List withdrawal requests
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param owner_id query string false "Owner filter"
// @Param status query string false "Status filter"
// @Param page query int false "Page number" default(1)
// @Param limit query int false "Items per page" default(20)
// @Success 200 {object} map[string]interface{}
// @Router /v1/admin/withdrawals [get]
func (h *Handler) ListWithdrawalsHandler(c *gin.Context) {
	trace := traceID(c)
	var ownerID *uuid.UUID
	if raw := c.Query("owner_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.respondError(c, trace, errors.ErrInvalid.Explain("invalid owner_id"))
			return
		}
		ownerID = &id
	}
	h.list(c, trace, ownerID)
}

func (h *Handler) list(c *gin.Context, trace string, ownerID *uuid.UUID) {
	filter := ListFilter{OwnerID: ownerID}
	if raw := c.Query("status"); raw != "" {
		status := models.WithdrawalStatus(raw)
		if !status.Valid() {
			h.respondError(c, trace, errors.ErrInvalid.Explain("unknown status %q", raw))
			return
		}
		filter.Status = &status
	}
	filter.Page, filter.Limit = pagination(c)

	requests, total, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, trace, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"withdrawals": requests,
		"pagination": gin.H{
			"page":        filter.Page,
			"limit":       filter.Limit,
			"total":       total,
			"total_pages": (total + int64(filter.Limit) - 1) / int64(filter.Limit),
		},
		"trace_id": trace,
	})
}

type transitionRequest struct {
	Status     string `json:"status" binding:"required"`
	AdminNotes string `json:"admin_notes"`
}

// TransitionHandler moves a withdrawal request to a new status (admin)
// @Summary Transition a withdrawal request
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Request ID"
// @Param request body transitionRequest true "Target status"
// @Success 200 {object} models.WithdrawalRequest
// @Failure 404 {object} map[string]interface{} "Unknown request"
// @Failure 409 {object} map[string]interface{} "Illegal transition"
// @Router /v1/admin/withdrawals/{id}/status [put]
func (h *Handler) TransitionHandler(c *gin.Context) {
	trace := traceID(c)
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.respondError(c, trace, errors.ErrInvalid.Explain("invalid request id"))
		return
	}

	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, trace, errors.Wrap(errors.ErrInvalid, err).Explain("invalid request body"))
		return
	}

	request, err := h.service.Transition(c.Request.Context(), requestID,
		models.WithdrawalStatus(req.Status), req.AdminNotes, c.GetString("userID"))
	if err != nil {
		h.respondError(c, trace, err)
		return
	}
	c.JSON(http.StatusOK, request)
}

type bulkTransitionRequest struct {
	RequestIDs []uuid.UUID `json:"request_ids" binding:"required,min=1"`
	Status     string      `json:"status" binding:"required"`
}

// BulkTransitionHandler transitions a batch of requests (admin)
// @Summary Bulk transition withdrawal requests
// @Description Applies the transition per id; ids that cannot legally reach the target are reported as skipped
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body bulkTransitionRequest true "Request ids and target status"
// @Success 200 {object} BulkResult
// @Router /v1/admin/withdrawals/status [put]
func (h *Handler) BulkTransitionHandler(c *gin.Context) {
	trace := traceID(c)
	var req bulkTransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, trace, errors.Wrap(errors.ErrInvalid, err).Explain("invalid request body"))
		return
	}

	result, err := h.service.BulkTransition(c.Request.Context(), req.RequestIDs,
		models.WithdrawalStatus(req.Status), c.GetString("userID"))
	if err != nil {
		h.respondError(c, trace, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetWalletHandler returns the caller's wallet ledger
// @Summary Get own wallet
// @Tags Wallet
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.WalletLedger
// @Router /v1/payouts/wallet [get]
func (h *Handler) GetWalletHandler(c *gin.Context) {
	trace := traceID(c)
	ownerID, ok := callerID(c)
	if !ok {
		h.respondError(c, trace, errors.ErrUnauthorized.Explain("invalid caller identity"))
		return
	}

	wallet, err := h.ledger.GetOrCreate(c.Request.Context(), ownerID)
	if err != nil {
		h.respondError(c, trace, err)
		return
	}
	c.JSON(http.StatusOK, wallet)
}

type bankAccountRequest struct {
	BankName      string `json:"bank_name" binding:"required"`
	AccountName   string `json:"account_name" binding:"required"`
	AccountNumber string `json:"account_number" binding:"required"`
	RoutingNumber string `json:"routing_number"`
}

func (r bankAccountRequest) details() bankvault.AccountDetails {
	return bankvault.AccountDetails{
		BankName:      r.BankName,
		AccountName:   r.AccountName,
		AccountNumber: r.AccountNumber,
		RoutingNumber: r.RoutingNumber,
	}
}

// SaveBankAccountHandler stores the caller's bank details (first time only)
// @Summary Save bank details
// @Description The first save locks the account; later edits require a change request
// @Tags Wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body bankAccountRequest true "Bank details"
// @Success 201 {object} models.BankAccount
// @Failure 409 {object} map[string]interface{} "Account already locked"
// @Router /v1/payouts/bank-account [put]
func (h *Handler) SaveBankAccountHandler(c *gin.Context) {
	trace := traceID(c)
	ownerID, ok := callerID(c)
	if !ok {
		h.respondError(c, trace, errors.ErrUnauthorized.Explain("invalid caller identity"))
		return
	}

	var req bankAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, trace, errors.Wrap(errors.ErrInvalid, err).Explain("invalid request body"))
		return
	}

	account, err := h.vault.SaveAccount(c.Request.Context(), ownerID, req.details())
	if err != nil {
		h.respondError(c, trace, err)
		return
	}
	c.JSON(http.StatusCreated, account)
}

// RequestBankChangeHandler opens a bank detail change request
// @Summary Request bank detail change
// @Tags Wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body bankAccountRequest true "New bank details"
// @Success 201 {object} models.BankChangeRequest
// @Failure 409 {object} map[string]interface{} "A change request is already pending"
// @Router /v1/payouts/bank-account/change-requests [post]
func (h *Handler) RequestBankChangeHandler(c *gin.Context) {
	trace := traceID(c)
	ownerID, ok := callerID(c)
	if !ok {
		h.respondError(c, trace, errors.ErrUnauthorized.Explain("invalid caller identity"))
		return
	}

	var req bankAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, trace, errors.Wrap(errors.ErrInvalid, err).Explain("invalid request body"))
		return
	}

	request, err := h.vault.RequestChange(c.Request.Context(), ownerID, req.details())
	if err != nil {
		h.respondError(c, trace, err)
		return
	}
	c.JSON(http.StatusCreated, request)
}

type resolveChangeRequest struct {
	Approve *bool `json:"approve" binding:"required"`
}

// ResolveBankChangeHandler approves or rejects a change request (admin)
// @Summary Resolve a bank detail change request
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Change request ID"
// @Param request body resolveChangeRequest true "Decision"
// @Success 200 {object} models.BankChangeRequest
// @Router /v1/admin/bank-change-requests/{id} [put]
func (h *Handler) ResolveBankChangeHandler(c *gin.Context) {
	trace := traceID(c)
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.respondError(c, trace, errors.ErrInvalid.Explain("invalid request id"))
		return
	}

	var req resolveChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, trace, errors.Wrap(errors.ErrInvalid, err).Explain("invalid request body"))
		return
	}

	request, err := h.vault.ResolveChange(c.Request.Context(), requestID, *req.Approve, c.GetString("userID"))
	if err != nil {
		h.respondError(c, trace, err)
		return
	}
	c.JSON(http.StatusOK, request)
}

type creditEarningsRequest struct {
	OwnerID uuid.UUID `json:"owner_id" binding:"required"`
	Amount  string    `json:"amount" binding:"required"`
}

// CreditEarningsHandler pays settled order proceeds into a wallet (admin)
// @Summary Credit owner earnings
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body creditEarningsRequest true "Owner and amount"
// @Success 200 {object} map[string]interface{}
// @Router /v1/admin/earnings [post]
func (h *Handler) CreditEarningsHandler(c *gin.Context) {
	trace := traceID(c)
	var req creditEarningsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, trace, errors.Wrap(errors.ErrInvalid, err).Explain("invalid request body"))
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		h.respondError(c, trace, errors.ErrInvalid.Explain("amount must be a decimal number"))
		return
	}

	if err := h.ledger.CreditEarnings(c.Request.Context(), req.OwnerID, amount); err != nil {
		h.respondError(c, trace, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "credited", "trace_id": trace})
}

// ServeWSHandler upgrades the connection to the caller's event stream
// @Summary Subscribe to payout events
// @Tags Wallet
// @Security BearerAuth
// @Router /v1/payouts/ws [get]
func (h *Handler) ServeWSHandler(c *gin.Context) {
	trace := traceID(c)
	ownerID, ok := callerID(c)
	if !ok {
		h.respondError(c, trace, errors.ErrUnauthorized.Explain("invalid caller identity"))
		return
	}
	h.hub.ServeWS(c.Writer, c.Request, []string{notification.OwnerTopic(ownerID)})
}

// HealthCheckHandler provides a liveness probe
// @Summary Payout service health check
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *Handler) HealthCheckHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"service": "payouts", "status": "healthy"})
}
