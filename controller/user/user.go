package user

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"betterish/middleware"
	"betterish/services"
	"betterish/store"
)

func UserController(router *gin.Engine, reg *services.Registry) {

	router.GET("/user", middleware.AccessTokenMiddleware(), func(c *gin.Context) {
		GetUser(c, reg)
	})
}

func GetUser(c *gin.Context, reg *services.Registry) {
	userId := c.MustGet("userId").(string)

	u, err := reg.Store().GetUser(context.Background(), userId)
	if err != nil {
		if store.IsKind(err, store.KindNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load user"})
		return
	}

	resp := gin.H{
		"userid":       u.UserID,
		"email":        u.Email,
		"display_name": u.DisplayName,
		"streak":       u.StreakCount,
	}
	if u.LastCompletionDate != nil {
		resp["last_completion_date"] = u.LastCompletionDate.Format("2006-01-02")
	}
	if !u.CreatedAt.IsZero() {
		resp["createdat"] = u.CreatedAt.Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}
