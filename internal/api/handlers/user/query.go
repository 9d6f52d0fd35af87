package user

import (
	"time"

	"github.com/gin-gonic/gin"

	"hnsync/internal/api/ginx"
)

// Orders 查询工单快照
// GET /api/v1/users/:user_id/orders
func (h *UserHandler) Orders(c *gin.Context) {
	orders, err := h.service.Orders(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		h.logger.Errorf(c.Request.Context(), "[API] load orders failed: %v", err)
		ginx.InternalError(c, "load orders failed")
		return
	}
	ginx.Success(c, gin.H{"orders": orders, "total": len(orders)})
}

// Trip 查询某日行程
// GET /api/v1/users/:user_id/trips/:date
func (h *UserHandler) Trip(c *gin.Context) {
	date := c.Param("date")
	if _, err := time.Parse("2006-01-02", date); err != nil {
		ginx.BadRequest(c, "date must be YYYY-MM-DD")
		return
	}

	trip, err := h.service.Trip(c.Request.Context(), c.Param("user_id"), date)
	if err != nil {
		h.logger.Errorf(c.Request.Context(), "[API] load trip failed: %v", err)
		ginx.InternalError(c, "load trip failed")
		return
	}
	if trip == nil {
		ginx.NotFound(c, "trip not found")
		return
	}
	ginx.Success(c, trip)
}
