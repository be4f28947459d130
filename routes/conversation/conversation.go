package conversation

import (
	"ChatBridge/controllers"

	"github.com/gin-gonic/gin"
)

// Register registers the widget's conversation routes (protected)
func Register(g *gin.RouterGroup, env *controllers.Env) {
	g.GET("/conversations", controllers.ListConversations(env))
	g.POST("/conversations", controllers.CreateConversation(env))
	g.GET("/conversations/:conversation_id/messages", controllers.GetMessages(env))
	g.PATCH("/conversations/:conversation_id", controllers.UpdateConversationStatus(env))
	g.DELETE("/conversations/:conversation_id", controllers.DeleteConversation(env))
}
