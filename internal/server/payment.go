package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/stitchery/internal/payment/domain"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

type verifyPaymentRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) ListActivePackages(c *gin.Context) {
	resp, err := s.paymentSvc.ListPackages(c.Request.Context(), false)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListAllPackages(c *gin.Context) {
	resp, err := s.paymentSvc.ListPackages(c.Request.Context(), true)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CreatePackage(c *gin.Context) {
	var req paymentdomain.PackageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.paymentSvc.CreatePackage(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetPackage(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	resp, err := s.paymentSvc.GetPackage(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdatePackage(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req paymentdomain.PackageUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.paymentSvc.UpdatePackage(c.Request.Context(), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CreateCheckoutSession(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req paymentdomain.CheckoutSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.paymentSvc.CreateCheckoutSession(c.Request.Context(), userID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

// VerifyPayment polls the gateway for a session the caller owns and credits it once.
func (s *Server) VerifyPayment(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req verifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.SessionID) == "" {
		AbortWithError(c, newValidationError("session_id", "invalid_session_id", "session_id is required"))
		return
	}

	resp, err := s.paymentSvc.Verify(c.Request.Context(), userID, strings.TrimSpace(req.SessionID))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// HandleStripeWebhook verifies the signature over the raw body before dispatching.
func (s *Server) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.paymentSvc.HandleWebhook(c.Request.Context(), payload, c.Request.Header)
	if err != nil {
		switch {
		case errors.Is(err, paymentdomain.ErrInvalidSignature):
			AbortWithError(c, newValidationError("signature", "invalid_signature", "invalid webhook signature"))
		case errors.Is(err, paymentdomain.ErrInvalidPayload):
			AbortWithError(c, newValidationError("payload", "invalid_payload", "invalid webhook payload"))
		default:
			AbortWithError(c, err)
		}
		return
	}

	if result.Ignored {
		s.log.Debug("payment webhook ignored",
			zap.String("event_id", result.EventID),
			zap.String("event_type", result.EventType),
		)
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "ignored": result.Ignored})
}
