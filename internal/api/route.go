package api

import (
	"Meetstreet/internal/api/middleware"
	"Meetstreet/internal/pkg/logger"
	"net/http"

	"github.com/gin-gonic/gin"
)

func SetupRouter(group *HandlersGroup) *gin.Engine {
	r := gin.New()
	_ = r.SetTrustedProxies([]string{"localhost"})

	// TraceId & Logger & CORS
	r.Use(middleware.TraceMiddleware())
	r.Use(middleware.AuditMiddleware())
	r.Use(middleware.CORSMiddleware())
	logger.SetupGin(r)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/ping", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"Code":    200,
				"Message": "pong",
				"Data":    nil,
			})
		})

		chatGroup := apiGroup.Group("/chat")
		{
			// WS 在查询串里带 token 自行鉴权，不走中间件
			chatGroup.GET("/ws", group.WSHandler.Connect)
		}

		messageGroup := apiGroup.Group("/messages")
		messageGroup.Use(middleware.AuthMiddleware())
		{
			messageGroup.POST("/send", group.ChatHandler.SendMessage)
			messageGroup.GET("/:conversation_id", group.ChatHandler.GetChatHistory)
			messageGroup.POST("/mark-read", group.ChatHandler.MarkAsRead)
			messageGroup.DELETE("/:message_id", group.ChatHandler.DeleteMessage)
		}

		convGroup := apiGroup.Group("/conversations")
		convGroup.Use(middleware.AuthMiddleware())
		{
			convGroup.GET("", group.ChatHandler.GetConversationList)
			convGroup.POST("/:conversation_id/archive", group.ChatHandler.SetArchived)
			convGroup.POST("/:conversation_id/mute", group.ChatHandler.SetMuted)
		}

		callGroup := apiGroup.Group("/calls")
		callGroup.Use(middleware.AuthMiddleware())
		{
			callGroup.POST("/initiate", group.CallHandler.Initiate)
			callGroup.POST("/:call_id/accept", group.CallHandler.Accept)
			callGroup.POST("/:call_id/reject", group.CallHandler.Reject)
			callGroup.POST("/:call_id/cancel", group.CallHandler.Cancel)
			callGroup.POST("/:call_id/terminate", group.CallHandler.Terminate)
		}
	}

	return r
}
