package admin

import (
	"ChatBridge/controllers"

	"github.com/gin-gonic/gin"
)

func Register(g *gin.RouterGroup, env *controllers.Env) {
	g.GET("/dashboard", controllers.AdminDashboard(env))
	g.GET("/analytics", controllers.AdminAnalytics(env))
	g.GET("/conversations", controllers.AdminListConversations(env))
	g.GET("/conversations/:conversation_id/messages", controllers.AdminConversationMessages(env))
	g.POST("/conversations/:conversation_id/messages", controllers.AdminSendMessage(env))
}
