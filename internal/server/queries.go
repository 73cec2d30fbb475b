package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

type BalanceResponse struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}

func (s *Server) HandleGetBalance(c *gin.Context) {
	userID := c.Param("user_id")

	balance, err := s.ledgerSvc.GetBalance(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, BalanceResponse{UserID: userID, Balance: balance})
}

// HandleGetExpiration renders the expiration summary, or a JSON null body
// when nothing the user holds ever expires.
func (s *Server) HandleGetExpiration(c *gin.Context) {
	userID := c.Param("user_id")

	info, err := s.expirySvc.GetExpirationInfo(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if info == nil {
		c.JSON(http.StatusOK, nil)
		return
	}

	c.JSON(http.StatusOK, info)
}

type UsageRecordView struct {
	ID          string    `json:"id"`
	Tool        string    `json:"tool"`
	CreditsUsed int64     `json:"credits_used"`
	Description string    `json:"description,omitempty"`
	UsedAt      time.Time `json:"used_at"`
}

type UsageListResponse struct {
	UserID  string            `json:"user_id"`
	Records []UsageRecordView `json:"records"`
}

func (s *Server) HandleListUsage(c *gin.Context) {
	userID := c.Param("user_id")

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			AbortWithError(c, newValidationError("limit", "invalid_limit", "limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}

	records, err := s.usageQuery.ListByUser(c.Request.Context(), userID, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	views := make([]UsageRecordView, 0, len(records))
	for _, record := range records {
		views = append(views, UsageRecordView{
			ID:          record.ID.String(),
			Tool:        record.Tool,
			CreditsUsed: record.CreditsUsed,
			Description: record.Description,
			UsedAt:      record.UsedAt,
		})
	}

	c.JSON(http.StatusOK, UsageListResponse{UserID: userID, Records: views})
}
