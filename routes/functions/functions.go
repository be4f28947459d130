package functions

import (
	"ChatBridge/controllers"
	"ChatBridge/middleware"

	"github.com/gin-gonic/gin"
)

// Register mounts the edge-function style endpoints. Callers are already
// authenticated; each endpoint has its own request window.
func Register(g *gin.RouterGroup, env *controllers.Env) {
	limit := func(endpoint string) gin.HandlerFunc {
		return middleware.WindowLimit(env.Limiter, endpoint)
	}
	admin := middleware.RequireAdmin(env.DB)

	g.POST("/chat", middleware.BurstLimit(), limit("chat"), controllers.Chat(env))
	g.POST("/transcribe", limit("transcribe"), controllers.Transcribe(env))
	g.POST("/vision", limit("vision"), controllers.Vision(env))
	g.POST("/rag-search", limit("rag-search"), controllers.RAGSearch(env))
	g.POST("/upload", limit("upload"), controllers.Upload(env))

	g.POST("/enhance", admin, limit("enhance"), controllers.Enhance(env))
	g.POST("/upload-document", admin, limit("upload-document"), controllers.UploadDocument(env))
	g.POST("/takeover", admin, controllers.Takeover(env))

	// admin checks for update/delete/reindex happen per action
	docs := controllers.ManageDocuments(env)
	for _, m := range []string{"GET", "POST", "PUT", "PATCH", "DELETE"} {
		g.Handle(m, "/manage-documents", docs)
	}
}
