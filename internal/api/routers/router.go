package routers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hnsync/internal/api/handlers/user"
	"hnsync/internal/api/middlewares"
	"hnsync/pkg/logger"
)

// SetupRoutes 配置所有路由，使用 Route Group 分类
// metrics 为空时不挂载 /metrics
func SetupRoutes(userHandler *user.UserHandler, metrics http.Handler, log logger.Logger) *gin.Engine {
	r := gin.New()

	r.Use(middlewares.Trace())
	r.Use(middlewares.Logger(log))
	r.Use(middlewares.ErrorHandler(log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "hnsync",
		})
	})
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	v1 := r.Group("/api/v1")
	{
		users := v1.Group("/users/:user_id")
		{
			users.POST("/sync", userHandler.Sync)
			users.GET("/orders", userHandler.Orders)
			users.GET("/trips/:date", userHandler.Trip)
			users.PUT("/credentials", userHandler.PutCredentials)
			users.DELETE("/credentials", userHandler.DeleteCredentials)
		}
	}

	return r
}
