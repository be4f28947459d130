package uploads

import (
	"ChatBridge/controllers"
	"ChatBridge/pkg/services"

	"github.com/gin-gonic/gin"
)

// Register serves stored files when they live on local disk.
func Register(r *gin.Engine, env *controllers.Env) {
	if ls, ok := env.Storage.(*services.LocalStorage); ok {
		r.Static("/uploads", ls.Dir())
	}
}
