package websocket

import (
	"ChatBridge/controllers"
	"ChatBridge/middleware"

	"github.com/gin-gonic/gin"
)

func Register(r *gin.Engine, env *controllers.Env) {
	r.GET("/ws/chat",
		middleware.AuthMiddleware(env.Auth),
		middleware.BurstLimit(),
		middleware.WindowLimit(env.Limiter, "chat"),
		controllers.ChatWS(env),
	)
}
