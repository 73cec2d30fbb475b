package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	reconcilerdomain "github.com/agencykit/creditd/internal/reconciler/domain"
	"github.com/gin-gonic/gin"
)

type PaymentWebhookRequest struct {
	EventID         string `json:"event_id"`
	CustomerEmail   string `json:"customer_email"`
	AmountPaidCents int64  `json:"amount_paid_cents"`
	Timestamp       string `json:"timestamp"`
}

// HandlePaymentWebhook ingests one payment event. Delivery is
// at-least-once, so a duplicate event id returns the original outcome
// with 200 rather than an error; the provider must never see a failure
// for an event that was already honored.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var req PaymentWebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var occurredAt time.Time
	if req.Timestamp != "" {
		occurredAt, err = time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			AbortWithError(c, newValidationError("timestamp", "invalid_timestamp", "timestamp must be RFC3339"))
			return
		}
	}

	result, err := s.reconcilerSvc.Reconcile(c.Request.Context(), reconcilerdomain.PaymentEvent{
		EventID:         req.EventID,
		CustomerEmail:   req.CustomerEmail,
		AmountPaidCents: req.AmountPaidCents,
		OccurredAt:      occurredAt,
		RawPayload:      body,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
