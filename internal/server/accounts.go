package server

import (
	"net/http"

	accountdomain "github.com/agencykit/creditd/internal/account/domain"
	"github.com/gin-gonic/gin"
)

type CreateAccountRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

type CreateAccountResponse struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	Email          string `json:"email"`
	Balance        int64  `json:"balance"`
	GrantedCredits int64  `json:"granted_credits"`
	AppliedGrants  int    `json:"applied_grants"`
}

func (s *Server) HandleCreateAccount(c *gin.Context) {
	var req CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.accountSvc.Create(c.Request.Context(), accountdomain.CreateAccountRequest{
		UserID: req.UserID,
		Email:  req.Email,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, CreateAccountResponse{
		ID:             result.Account.ID.String(),
		UserID:         result.Account.UserID,
		Email:          result.Account.Email,
		Balance:        result.Account.Balance,
		GrantedCredits: result.GrantedCredits,
		AppliedGrants:  result.AppliedGrants,
	})
}
