package connection

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"betterish/controller/maintenance"
	"betterish/controller/task"
	"betterish/controller/user"
	"betterish/controller/views"
	"betterish/services"
	"betterish/store"
)

func StartServer() {
	router := gin.Default()

	fb, err := FBConnection()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Firestore client")
	}

	taskStore := store.NewFirestoreStore(fb, log.Logger)
	registry := services.NewRegistry(taskStore, log.Logger)

	router.GET("/", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "Api is running!"})
	})

	router.Use(cors.Default())

	task.CreateTaskController(router, registry)
	task.TaskActionController(router, registry)
	views.ViewsController(router, registry)
	maintenance.MaintenanceController(router, registry)
	user.StreakController(router, registry)
	user.UserController(router, registry)

	router.Run()
}
