package maintenance

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"betterish/middleware"
	"betterish/services"
)

func MaintenanceController(router *gin.Engine, reg *services.Registry) {

	router.POST("/maintenance/migrations", middleware.AccessTokenMiddleware(), func(c *gin.Context) {
		RunMigrations(c, reg)
	})
}

// RunMigrations executes the once-per-session maintenance routines for the
// caller. Routines that already ran this session are skipped unless
// force=true, which re-runs everything.
func RunMigrations(c *gin.Context, reg *services.Registry) {
	userId := c.MustGet("userId").(string)
	engine := reg.ForOwner(userId)

	ctx := context.Background()
	if c.Query("force") == "true" {
		engine.Migrations.Force(ctx, engine.Session, userId)
	} else {
		engine.Migrations.RunOnce(ctx, engine.Session, userId)
	}

	c.JSON(http.StatusOK, gin.H{"message": "Maintenance routines completed"})
}
