package user

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hnsync/internal/api/ginx"
)

// CredentialsRequest 门户账号
type CredentialsRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// PutCredentials 保存（加密）门户账号
// PUT /api/v1/users/:user_id/credentials
func (h *UserHandler) PutCredentials(c *gin.Context) {
	if h.credentials == nil {
		ginx.Error(c, http.StatusNotImplemented, "credential storage is not configured")
		return
	}

	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ginx.BadRequestWithValidation(c, err)
		return
	}

	if err := h.credentials.Save(c.Request.Context(), c.Param("user_id"), req.Username, req.Password); err != nil {
		h.logger.Errorf(c.Request.Context(), "[API] save credentials failed: %v", err)
		ginx.InternalError(c, "save credentials failed")
		return
	}
	ginx.Success(c, gin.H{"saved": true})
}

// DeleteCredentials 删除门户账号
// DELETE /api/v1/users/:user_id/credentials
func (h *UserHandler) DeleteCredentials(c *gin.Context) {
	if h.credentials == nil {
		ginx.Error(c, http.StatusNotImplemented, "credential storage is not configured")
		return
	}

	if err := h.credentials.Delete(c.Request.Context(), c.Param("user_id")); err != nil {
		h.logger.Errorf(c.Request.Context(), "[API] delete credentials failed: %v", err)
		ginx.InternalError(c, "delete credentials failed")
		return
	}
	ginx.Success(c, gin.H{"deleted": true})
}
