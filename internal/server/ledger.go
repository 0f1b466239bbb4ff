package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/stitchery/internal/ledger/domain"
)

const (
	defaultTransactionLimit = 50
	maxTransactionLimit     = 200
)

type refundLedgerRequest struct {
	TransactionID snowflake.ID `json:"transaction_id"`
	Amount        int64        `json:"amount"`
	Note          string       `json:"note"`
}

func (s *Server) GetMyBalance(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	balance, err := s.ledgerSvc.Balance(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"user_id": userID, "balance": balance}})
}

func (s *Server) ListMyTransactions(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	limit, err := parseBoundedInt(c.Query("limit"), defaultTransactionLimit, maxTransactionLimit)
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}
	offset, err := parseBoundedInt(c.Query("offset"), 0, -1)
	if err != nil {
		AbortWithError(c, newValidationError("offset", "invalid_offset", "invalid offset"))
		return
	}

	resp, err := s.ledgerSvc.ListTransactions(c.Request.Context(), ledgerdomain.ListTransactionsRequest{
		UserID: userID,
		Kind:   ledgerdomain.TransactionKind(strings.TrimSpace(c.Query("kind"))),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ReconcileLedger(c *gin.Context) {
	userID, ok := pathID(c, "user")
	if !ok {
		return
	}

	resp, err := s.ledgerSvc.Reconcile(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// RefundLedger reverses part or all of a usage debit on behalf of an operator.
func (s *Server) RefundLedger(c *gin.Context) {
	userID, ok := pathID(c, "user")
	if !ok {
		return
	}

	var req refundLedgerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ledgerSvc.Refund(c.Request.Context(), ledgerdomain.RefundRequest{
		UserID:        userID,
		Kind:          ledgerdomain.KindRefund,
		Amount:        req.Amount,
		TransactionID: req.TransactionID,
		Note:          strings.TrimSpace(req.Note),
		ReferenceType: "admin_refund",
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

// parseBoundedInt parses a non-negative int, applying fallback when empty and
// clamping to ceiling when it is positive.
func parseBoundedInt(raw string, fallback, ceiling int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(trimmed)
	if err != nil || value < 0 {
		return 0, ErrInvalidRequest
	}
	if ceiling > 0 && value > ceiling {
		value = ceiling
	}
	return value, nil
}
