package task

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"betterish/dto"
	"betterish/middleware"
	"betterish/model"
	"betterish/services"
	"betterish/store"
)

func CreateTaskController(router *gin.Engine, reg *services.Registry) {

	router.POST("/task", middleware.AccessTokenMiddleware(), func(c *gin.Context) {
		Createtask(c, reg)
	})
}

func Createtask(c *gin.Context, reg *services.Registry) {
	userId := c.MustGet("userId").(string)
	var taskReq dto.CreateTaskRequest
	if err := c.ShouldBindJSON(&taskReq); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	newtask := model.Task{
		Title:     taskReq.Title,
		Detail:    taskReq.Detail,
		Category:  model.TaskCategory(taskReq.Category),
		Priority:  model.TaskPriority(taskReq.Priority),
		Source:    model.TaskSource(taskReq.Source),
		IsProject: taskReq.IsProject,
	}
	for i, sub := range taskReq.Subtasks {
		newtask.Subtasks = append(newtask.Subtasks, model.Subtask{
			SubtaskID: i + 1,
			Title:     sub.Title,
		})
	}

	engine := reg.ForOwner(userId)
	created, err := engine.Machine.Create(context.Background(), userId, newtask)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	engine.Cache.Put(created)

	c.JSON(http.StatusCreated, gin.H{
		"message": "Task created successfully",
		"taskid":  created.TaskID,
	})
}

// statusFor maps store error kinds onto HTTP statuses.
func statusFor(err error) int {
	switch store.KindOf(err) {
	case store.KindValidation:
		return http.StatusBadRequest
	case store.KindNotFound:
		return http.StatusNotFound
	case store.KindPermissionDenied:
		return http.StatusUnauthorized
	case store.KindTransient:
		return http.StatusServiceUnavailable
	case store.KindCapabilityUnsupported:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
