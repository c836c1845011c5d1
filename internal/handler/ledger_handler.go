package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/eaglebank/ledger-service/shared/apperror"
	"github.com/eaglebank/ledger-service/shared/cqrs"
	"github.com/eaglebank/ledger-service/shared/middleware"
	"github.com/eaglebank/ledger-service/shared/models"
	"github.com/eaglebank/ledger-service/shared/utils"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const (
	defaultPage     = 1
	defaultPageSize = 20
	maxPageSize     = 100
)

// LedgerCommander defines the write-side operations used by LedgerHandler.
type LedgerCommander interface {
	Transfer(context.Context, cqrs.TransferCommand) (*models.TransferReceipt, error)
}

// LedgerQuerier defines the read-side operations used by LedgerHandler.
type LedgerQuerier interface {
	GetBalance(context.Context, cqrs.GetBalanceQuery) (*models.BalanceView, error)
	GetHistory(context.Context, cqrs.GetHistoryQuery) (*models.HistoryPage, error)
}

type LedgerHandler struct {
	commands LedgerCommander
	queries  LedgerQuerier
}

type TransferRequest struct {
	SenderBankID string          `json:"sender_bank_id" validate:"required,max=100"`
	Recipient    string          `json:"recipient" validate:"required,max=255"`
	Amount       decimal.Decimal `json:"amount" validate:"required,money"`
	Description  string          `json:"description" validate:"required,max=100"`
}

func NewLedgerHandler(commands LedgerCommander, queries LedgerQuerier) *LedgerHandler {
	return &LedgerHandler{commands: commands, queries: queries}
}

func (h *LedgerHandler) RegisterRoutes(r gin.IRouter) {
	banking := r.Group("/api/banking")
	banking.POST("/transaction", h.Transfer)
	banking.GET("/balance", h.GetBalance)
	banking.GET("/history", h.GetHistory)
}

func (h *LedgerHandler) Transfer(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, apperror.KindValidation, "Invalid request body")
		return
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}

	receipt, err := h.commands.Transfer(c.Request.Context(), cqrs.TransferCommand{
		SenderBankID: req.SenderBankID,
		Recipient:    req.Recipient,
		Amount:       req.Amount,
		Description:  req.Description,
	})
	if err != nil {
		middleware.RespondWithAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, receipt)
}

func (h *LedgerHandler) GetBalance(c *gin.Context) {
	bankID, ok := bankIDParam(c)
	if !ok {
		return
	}

	view, err := h.queries.GetBalance(c.Request.Context(), cqrs.GetBalanceQuery{BankID: bankID})
	if err != nil {
		middleware.RespondWithAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

func (h *LedgerHandler) GetHistory(c *gin.Context) {
	bankID, ok := bankIDParam(c)
	if !ok {
		return
	}

	page, errPage := strconv.Atoi(c.DefaultQuery("page", strconv.Itoa(defaultPage)))
	pageSize, errSize := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(defaultPageSize)))
	if errPage != nil || errSize != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, apperror.KindValidation, "page and page_size must be integers.")
		return
	}

	history, err := h.queries.GetHistory(c.Request.Context(), cqrs.GetHistoryQuery{
		BankID:   bankID,
		Page:     max(page, 1),
		PageSize: min(max(pageSize, 1), maxPageSize),
	})
	if err != nil {
		middleware.RespondWithAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, history)
}

func bankIDParam(c *gin.Context) (string, bool) {
	bankID := c.Query("bank_id")
	if !utils.ValidateBankID(bankID) {
		middleware.RespondWithError(c, http.StatusBadRequest, apperror.KindValidation, "'bank_id' query parameter is required.")
		return "", false
	}
	return bankID, true
}
