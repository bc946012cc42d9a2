package task

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"betterish/dto"
	"betterish/middleware"
	"betterish/services"
	taskSync "betterish/sync"
)

func TaskActionController(router *gin.Engine, reg *services.Registry) {

	actions := []taskSync.Action{
		taskSync.ActionComplete,
		taskSync.ActionUncomplete,
		taskSync.ActionDismiss,
		taskSync.ActionArchive,
		taskSync.ActionRestore,
	}
	for _, action := range actions {
		action := action
		router.POST("/task/:taskid/"+string(action), middleware.AccessTokenMiddleware(), func(c *gin.Context) {
			DispatchAction(c, reg, taskSync.Mutation{
				TaskID: c.Param("taskid"),
				Action: action,
			})
		})
	}

	router.POST("/task/:taskid/snooze", middleware.AccessTokenMiddleware(), func(c *gin.Context) {
		Snoozetask(c, reg)
	})
}

// DispatchAction hands the mutation to the owner's coordinator and returns
// immediately: the write settles in the background and the optimistic copy
// is already in the cache. Duplicate and debounced dispatches are dropped
// upstream, which is still a success from the caller's side.
func DispatchAction(c *gin.Context, reg *services.Registry, mut taskSync.Mutation) {
	userId := c.MustGet("userId").(string)

	// The write outlives the request, so it does not ride the request
	// context.
	engine := reg.ForOwner(userId)
	engine.Coordinator.Dispatch(context.Background(), mut)

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Mutation dispatched",
		"taskid":  mut.TaskID,
		"action":  string(mut.Action),
	})
}

func Snoozetask(c *gin.Context, reg *services.Registry) {
	var snoozeReq dto.SnoozeRequest
	if err := c.ShouldBindJSON(&snoozeReq); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}
	until, err := time.Parse(time.RFC3339, snoozeReq.Until)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid until format"})
		return
	}
	if !until.After(time.Now()) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Snooze time must be in the future"})
		return
	}

	DispatchAction(c, reg, taskSync.Mutation{
		TaskID: c.Param("taskid"),
		Action: taskSync.ActionSnooze,
		Until:  until,
	})
}
