package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler, logger *slog.Logger) *gin.Engine {
	r := gin.New()

	// 注册中间件
	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(logger))
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	// 健康检查
	r.GET("/health", h.Health)

	// API 路由组
	api := r.Group("/api/v1")
	api.Use(CallerMiddleware(h.cfg.Ledger.RequireCaller))
	{
		// 账户
		accounts := api.Group("/accounts")
		{
			accounts.POST("", h.CreateAccount)
			accounts.GET("", h.ListAccounts)
			accounts.GET("/summary", h.AccountsSummary)
			accounts.POST("/transfer", h.Transfer)
			accounts.GET("/:id", h.GetAccount)
			accounts.PUT("/:id", h.UpdateAccount)
			accounts.DELETE("/:id", h.DeleteAccount)
			accounts.POST("/:id/allocate", h.Allocate)
			accounts.GET("/:id/transactions", h.AccountTransactions)
		}

		// 流水
		transactions := api.Group("/transactions")
		{
			transactions.POST("", h.PostTransaction)
			transactions.GET("", h.ListTransactions)
			transactions.GET("/:id", h.GetTransaction)
			transactions.DELETE("/:id", h.DeleteTransaction)
		}

		// 收入报表
		api.GET("/revenue/total", h.RevenueTotal)

		// 变更事件
		api.GET("/events/stream", h.StreamEvents)
		api.POST("/outbox/requeue", h.RequeueOutbox)
	}

	return r
}
