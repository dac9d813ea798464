package api

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/pneumaticqc/internal/models"
)

// Poll and heartbeat intervals for the event stream.
var (
	eventPoll      = 2 * time.Second
	eventHeartbeat = 15 * time.Second
)

// handleEvents streams newly recorded cycles as server-sent events so line
// displays can show PASS/FAIL as it happens. With a watcher configured,
// active model changes are streamed as "model" events.
func handleEvents(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
		c.Writer.Flush()

		ctx := c.Request.Context()
		gdb := d.DB.WithContext(ctx)

		// Only cycles recorded after the client connected are sent.
		var lastSeenID uint
		var latest models.Cycle
		if err := gdb.Order("id DESC").Limit(1).Find(&latest).Error; err == nil {
			lastSeenID = latest.ID
		}

		var lastModel models.ProductModel
		var lastActive bool
		if d.Watcher != nil {
			lastModel, lastActive = d.Watcher.Current()
		}

		ticker := time.NewTicker(eventPoll)
		heartbeat := time.NewTicker(eventHeartbeat)
		defer ticker.Stop()
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case <-ticker.C:
				if d.Watcher != nil {
					if m, ok := d.Watcher.Current(); ok != lastActive || m != lastModel {
						lastModel, lastActive = m, ok
						writeSSE(c.Writer, "model", activeModelEvent(m, ok))
						c.Writer.Flush()
					}
				}
				var fresh []models.Cycle
				if err := gdb.Where("id > ?", lastSeenID).Order("id ASC").Limit(maxLimit).Find(&fresh).Error; err != nil || len(fresh) == 0 {
					continue
				}
				for _, cy := range fresh {
					writeSSE(c.Writer, "cycle", toCycleView(cy))
				}
				lastSeenID = fresh[len(fresh)-1].ID
				c.Writer.Flush()
			}
		}
	}
}

func activeModelEvent(m models.ProductModel, active bool) map[string]any {
	if !active {
		return map[string]any{"model": nil}
	}
	return map[string]any{"model": toModelView(m)}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
