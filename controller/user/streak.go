package user

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"betterish/middleware"
	"betterish/services"
)

func StreakController(router *gin.Engine, reg *services.Registry) {

	router.GET("/user/streak", middleware.AccessTokenMiddleware(), func(c *gin.Context) {
		GetStreak(c, reg)
	})
}

// GetStreak reads the caller's streak, zeroing it first if it lapsed.
func GetStreak(c *gin.Context, reg *services.Registry) {
	userId := c.MustGet("userId").(string)
	engine := reg.ForOwner(userId)

	st, err := engine.Streaks.CheckIdle(context.Background(), userId, time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load streak"})
		return
	}

	resp := gin.H{"streak": st.Count}
	if st.LastCompletionDate != nil {
		resp["last_completion_date"] = st.LastCompletionDate.Format("2006-01-02")
	}
	c.JSON(http.StatusOK, resp)
}
