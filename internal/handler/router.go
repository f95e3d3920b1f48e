package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler, log *zap.Logger) *gin.Engine {
	r := gin.New()

	r.Use(RecoveryMiddleware(log))
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1")
	{
		account := api.Group("/account")
		{
			account.POST("/open", h.OpenAccount)
			account.GET("/balance", h.GetBalance)
			account.GET("/detail", h.GetAccount)
			account.POST("/recharge", h.Recharge)
			account.POST("/freeze", h.FreezeAccount)
			account.POST("/unfreeze", h.UnfreezeAccount)
			account.POST("/close", h.CloseAccount)
			account.POST("/limits", h.SetLimits)
			account.POST("/hold", h.HoldAmount)
			account.POST("/release", h.ReleaseHold)
		}

		consume := api.Group("/consume")
		{
			consume.POST("/execute", h.Consume)
			consume.GET("/detail", h.GetConsumeRecord)
			consume.GET("/list", h.ListConsumeRecords)
		}

		refund := api.Group("/refund")
		{
			refund.POST("/execute", h.Refund)
			refund.GET("/status", h.GetRefundStatus)
		}

		transaction := api.Group("/transaction")
		{
			transaction.GET("/list", h.ListTransactions)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
