package handler

import (
	"net/http"

	"github.com/agpaii-digital/exam-portal/internal/middleware"
	"github.com/agpaii-digital/exam-portal/internal/response"
	"github.com/gin-gonic/gin"
)

// AuthHandler exposes the identity carried by the member token. Tokens are
// issued by the member portal, not by this service.
type AuthHandler struct{}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler() *AuthHandler {
	return &AuthHandler{}
}

// GetMemberProfile godoc
// GET /api/v1/member/me
func (h *AuthHandler) GetMemberProfile(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var expiresAt int64
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Unix()
	}

	response.Success(c, http.StatusOK, gin.H{
		"member_id":  claims.MemberID,
		"name":       claims.Name,
		"expires_at": expiresAt,
	})
}
