package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler, auth TokenParser, mode string, log logrus.FieldLogger) *gin.Engine {
	if mode != "" {
		gin.SetMode(mode)
	}

	r := gin.New()

	r.Use(RequestIDMiddleware(log))
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1")
	{
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/email/code", h.SendEmailCode)
			authGroup.POST("/sms/code", h.SendSMSCode)
			authGroup.POST("/register", h.Register)
			authGroup.POST("/login", h.Login)
		}

		account := api.Group("/account", AuthMiddleware(auth))
		{
			account.GET("/profile", h.Profile)
			account.GET("/transactions", h.Transactions)
		}

		pay := api.Group("/payment")
		{
			// 支付渠道回调不带用户令牌
			pay.POST("/alipay/callback", h.AlipayCallback)
			pay.POST("/wechat/callback", h.WechatCallback)

			authed := pay.Group("", AuthMiddleware(auth))
			authed.POST("/recharge", h.Recharge)
			authed.GET("/orders", h.ListOrders)
			authed.GET("/orders/:id", h.GetOrder)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}
