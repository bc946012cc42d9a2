package views

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"betterish/classify"
	"betterish/middleware"
	"betterish/services"
	taskSync "betterish/sync"
)

func ViewsController(router *gin.Engine, reg *services.Registry) {

	router.GET("/views/today", middleware.AccessTokenMiddleware(), func(c *gin.Context) {
		StreamView(c, reg, taskSync.TodayView(c.MustGet("userId").(string), time.Now()))
	})
	router.GET("/views/pastpromises", middleware.AccessTokenMiddleware(), func(c *gin.Context) {
		StreamView(c, reg, taskSync.PastPromiseView(c.MustGet("userId").(string), time.Now()))
	})
}

// StreamView serves one live view as server-sent events. Every store
// snapshot arrives as one "snapshot" event carrying the fully reclassified
// rows; the stream ends when the client disconnects.
func StreamView(c *gin.Context, reg *services.Registry, spec taskSync.ViewSpec) {
	userId := c.MustGet("userId").(string)
	engine := reg.ForOwner(userId)

	updates := make(chan taskSync.ViewUpdate, 8)
	engine.Subscriber.Subscribe(c.Request.Context(), spec, func(u taskSync.ViewUpdate) {
		// Drop the oldest pending update rather than block the
		// subscription goroutine on a slow client.
		for {
			select {
			case updates <- u:
				return
			default:
				select {
				case <-updates:
				default:
				}
			}
		}
	})
	defer engine.Subscriber.Unsubscribe(spec.ViewID)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Status(http.StatusOK)

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case u := <-updates:
			c.SSEvent("snapshot", snapshotPayload(u))
			return true
		}
	})
}

func snapshotPayload(u taskSync.ViewUpdate) gin.H {
	rows := make([]gin.H, 0, len(u.Rows))
	for _, r := range u.Rows {
		rows = append(rows, rowPayload(r, u.At))
	}
	return gin.H{
		"view":     u.ViewID,
		"token":    u.Token,
		"at":       u.At.Format(time.RFC3339),
		"fallback": u.Fallback,
		"rows":     rows,
	}
}

func rowPayload(r classify.Row, at time.Time) gin.H {
	t := r.Task
	row := gin.H{
		"taskid":    t.TaskID,
		"title":     t.Title,
		"detail":    t.Detail,
		"category":  string(t.Category),
		"priority":  string(t.Priority),
		"source":    string(t.Source),
		"state":     string(t.State(at)),
		"bucket":    r.Bucket.String(),
		"completed": t.Completed,
		"createdat": t.CreatedAt.Format(time.RFC3339),
	}
	if r.AgeLabel != "" {
		row["age"] = r.AgeLabel
	}
	if r.Nudged {
		row["nudged"] = true
	}
	if t.IsProject {
		row["is_project"] = true
		row["progress"] = t.Progress()
	}
	return row
}
