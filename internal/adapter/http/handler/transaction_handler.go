package handler

import (
	"time"

	"wallet-ledger/internal/adapter/http/dto"
	"wallet-ledger/internal/adapter/http/middleware"
	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"
	"wallet-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TransactionHandler handles money movement submissions and transaction queries.
type TransactionHandler struct {
	submissionSvc ports.SubmissionService
	reportingSvc  ports.ReportingService
}

// NewTransactionHandler creates a new TransactionHandler.
func NewTransactionHandler(submissionSvc ports.SubmissionService, reportingSvc ports.ReportingService) *TransactionHandler {
	return &TransactionHandler{
		submissionSvc: submissionSvc,
		reportingSvc:  reportingSvc,
	}
}

// Replenish handles POST /api/v1/transactions/replenish.
func (h *TransactionHandler) Replenish(c *gin.Context) {
	var req dto.ReplenishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	walletID := uuid.MustParse(req.WalletID)
	h.submit(c, ports.SubmitRequest{
		Type:                domain.TransactionTypeReplenishment,
		Amount:              *req.Amount,
		Currency:            req.Currency,
		DestinationWalletID: &walletID,
	})
}

// Withdraw handles POST /api/v1/transactions/withdraw.
func (h *TransactionHandler) Withdraw(c *gin.Context) {
	var req dto.WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	walletID := uuid.MustParse(req.WalletID)
	h.submit(c, ports.SubmitRequest{
		Type:           domain.TransactionTypeWithdraw,
		Amount:         *req.Amount,
		Currency:       req.Currency,
		SourceWalletID: &walletID,
	})
}

// Transfer handles POST /api/v1/transactions/transfer.
func (h *TransactionHandler) Transfer(c *gin.Context) {
	var req dto.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	from := uuid.MustParse(req.FromWalletID)
	to := uuid.MustParse(req.ToWalletID)
	h.submit(c, ports.SubmitRequest{
		Type:                domain.TransactionTypeTransfer,
		Amount:              *req.Amount,
		Currency:            req.Currency,
		SourceWalletID:      &from,
		DestinationWalletID: &to,
	})
}

// submit fills in the requester and idempotency key, then hands the request
// to the submission service. Binding has already validated the wallet ids.
func (h *TransactionHandler) submit(c *gin.Context, req ports.SubmitRequest) {
	ownerID, ok := middleware.OwnerID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var hdr dto.IdempotencyHeader
	if err := c.ShouldBindHeader(&hdr); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	req.RequesterID = ownerID
	req.IdempotencyKey = hdr.Key

	txn, err := h.submissionSvc.Submit(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, toTransactionResponse(txn))
}

// Get handles GET /api/v1/transactions/:id.
func (h *TransactionHandler) Get(c *gin.Context) {
	ownerID, ok := middleware.OwnerID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	txID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.ErrTransactionNotFound())
		return
	}

	txn, err := h.reportingSvc.GetTransaction(c.Request.Context(), ownerID, txID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toTransactionResponse(txn))
}

// List handles GET /api/v1/transactions.
func (h *TransactionHandler) List(c *gin.Context) {
	ownerID, ok := middleware.OwnerID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var q dto.ListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	params := ports.TransactionListParams{
		OwnerID:  ownerID,
		Page:     q.Page,
		PageSize: q.Limit,
	}
	if q.Status != "" {
		status := domain.TransactionStatus(q.Status)
		params.Status = &status
	}
	if q.Type != "" {
		txType := domain.TransactionType(q.Type)
		params.Type = &txType
	}

	txns, total, err := h.reportingSvc.ListTransactions(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	rows := make([]dto.TransactionResponse, 0, len(txns))
	for i := range txns {
		rows = append(rows, toTransactionResponse(&txns[i]))
	}
	response.Paginated(c, rows, total, q.Page, q.Limit)
}

// GetStats handles GET /api/v1/transactions/stats.
func (h *TransactionHandler) GetStats(c *gin.Context) {
	ownerID, ok := middleware.OwnerID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	stats, err := h.reportingSvc.GetStats(c.Request.Context(), ownerID)
	if err != nil {
		response.Error(c, err)
		return
	}

	totals := make([]dto.CurrencyTotalsResponse, len(stats.Totals))
	for i, ct := range stats.Totals {
		totals[i] = dto.CurrencyTotalsResponse{
			Currency:    ct.Currency,
			Replenished: ct.Replenished.StringFixed(2),
			Withdrawn:   ct.Withdrawn.StringFixed(2),
			Transferred: ct.Transferred.StringFixed(2),
		}
	}

	response.OK(c, dto.StatsResponse{
		TotalTransactions: stats.TotalTransactions,
		Processing:        stats.Processing,
		Completed:         stats.Completed,
		Rejected:          stats.Rejected,
		Totals:            totals,
	})
}

func toTransactionResponse(t *domain.Transaction) dto.TransactionResponse {
	total := t.Total()
	resp := dto.TransactionResponse{
		ID:              t.ID.String(),
		TransactionType: string(t.Type),
		Status:          string(t.Status),
		Total: dto.MoneyResponse{
			Amount:   total.Amount.StringFixed(2),
			Currency: total.Currency,
		},
		CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339),
	}
	if t.SourceWalletID != nil {
		id := t.SourceWalletID.String()
		resp.FromWalletID = &id
	}
	if t.DestinationWalletID != nil {
		id := t.DestinationWalletID.String()
		resp.ToWalletID = &id
	}
	if t.SettledAt != nil {
		settled := t.SettledAt.UTC().Format(time.RFC3339)
		resp.SettledAt = &settled
	}
	return resp
}
