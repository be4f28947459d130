package routes

import (
	"ChatBridge/controllers"
	"ChatBridge/middleware"
	"net/http"

	"github.com/gin-gonic/gin"

	adminRoutes "ChatBridge/routes/admin"
	convRoutes "ChatBridge/routes/conversation"
	functionRoutes "ChatBridge/routes/functions"
	uploadsRoutes "ChatBridge/routes/uploads"
	websocketRoutes "ChatBridge/routes/websocket"
)

func RegisterRoutes(r *gin.Engine, env *controllers.Env) {
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "ChatBridge backend running", "providers": env.Router.Available()})
	})

	uploadsRoutes.Register(r, env)
	websocketRoutes.Register(r, env)

	functions := r.Group("/functions/v1")
	functions.Use(middleware.AuthMiddleware(env.Auth))
	functionRoutes.Register(functions, env)

	api := r.Group("/api")
	api.Use(middleware.AuthMiddleware(env.Auth))
	convRoutes.Register(api, env)

	admin := api.Group("/admin")
	admin.Use(middleware.RequireAdmin(env.DB))
	adminRoutes.Register(admin, env)
}
