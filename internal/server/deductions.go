package server

import (
	"net/http"

	ledgerdomain "github.com/agencykit/creditd/internal/ledger/domain"
	"github.com/gin-gonic/gin"
)

type DeductRequest struct {
	UserID         string `json:"user_id"`
	Tool           string `json:"tool"`
	Credits        int64  `json:"credits"`
	Description    string `json:"description"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (s *Server) HandleDeduct(c *gin.Context) {
	var req DeductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	key := req.IdempotencyKey
	if header := c.GetHeader("Idempotency-Key"); header != "" {
		key = header
	}

	result, err := s.ledgerSvc.Deduct(c.Request.Context(), ledgerdomain.DeductRequest{
		UserID:         req.UserID,
		Tool:           req.Tool,
		Credits:        req.Credits,
		Description:    req.Description,
		IdempotencyKey: key,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
