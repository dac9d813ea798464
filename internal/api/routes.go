package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/pneumaticqc/internal/models"
	"github.com/zulandar/pneumaticqc/internal/qcerr"
	"github.com/zulandar/pneumaticqc/internal/recorder"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// registerRoutes sets up all API routes on the gin router.
func registerRoutes(router *gin.Engine, d Deps) {
	router.GET("/healthz", handleHealth(d))

	api := router.Group("/api")
	api.GET("/models", handleModels(d))
	api.GET("/active-model", handleGetActiveModel(d))
	api.PUT("/active-model", handlePutActiveModel(d))

	api.GET("/cycles", handleCycles(d))
	api.POST("/cycles", handleRecordCycle(d))
	api.GET("/cycles/pending-print", handlePendingPrint(d))
	api.GET("/cycles/:id", handleCycle(d))
	api.GET("/cycles/:id/prints", handlePrintHistory(d))
	api.POST("/cycles/:id/reprint", handleReprint(d))

	api.GET("/qr/:data", handleQR(d))

	api.GET("/sms", handleSms(d))
	api.POST("/sms/:id/requeue", handleRequeue(d))

	api.GET("/events", handleEvents(d))
}

func parseID(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		return 0, qcerr.Invalid("id %q", c.Param("id"))
	}
	return uint(id), nil
}

func parseLimit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > maxLimit {
		return 0, qcerr.Invalid("limit must be between 1 and %d", maxLimit)
	}
	return n, nil
}

func handleHealth(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := d.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func handleModels(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := d.Registry.ListModels(c.Request.Context())
		if err != nil {
			abortWithError(c, err)
			return
		}
		out := make([]modelView, len(list))
		for i, m := range list {
			out[i] = toModelView(m)
		}
		c.JSON(http.StatusOK, gin.H{"models": out})
	}
}

func handleGetActiveModel(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		m, err := d.Registry.GetActiveModel(c.Request.Context())
		if errors.Is(err, qcerr.ErrNoActiveModel) {
			c.JSON(http.StatusOK, gin.H{"model": nil})
			return
		}
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"model": toModelView(*m)})
	}
}

type activeModelRequest struct {
	// ModelID 0 clears the active model.
	ModelID uint `json:"model_id"`
}

func handlePutActiveModel(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req activeModelRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithError(c, qcerr.Invalid("body: %v", err))
			return
		}
		if req.ModelID == 0 {
			if err := d.Registry.ClearActiveModel(c.Request.Context()); err != nil {
				abortWithError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"model": nil})
			return
		}
		m, err := d.Registry.SetActiveModel(c.Request.Context(), req.ModelID)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"model": toModelView(*m)})
	}
}

func handleCycles(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := parseLimit(c)
		if err != nil {
			abortWithError(c, err)
			return
		}
		cycles, err := d.Recorder.Recent(c.Request.Context(), limit)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"cycles": toCycleViews(cycles)})
	}
}

type recordRequest struct {
	PeakHeight *float64  `json:"peak_height"`
	Timestamp  time.Time `json:"timestamp"`
}

func handleRecordCycle(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req recordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithError(c, qcerr.Invalid("body: %v", err))
			return
		}
		if req.PeakHeight == nil {
			abortWithError(c, qcerr.Invalid("peak_height is required"))
			return
		}
		cycle, err := d.Recorder.RecordCycle(c.Request.Context(), *req.PeakHeight, req.Timestamp)
		var degraded *recorder.DegradedError
		switch {
		case errors.As(err, &degraded) && cycle != nil:
			c.JSON(http.StatusCreated, gin.H{"cycle": toCycleView(*cycle), "warning": degraded.Error()})
		case err != nil:
			abortWithError(c, err)
		default:
			c.JSON(http.StatusCreated, gin.H{"cycle": toCycleView(*cycle)})
		}
	}
}

func handlePendingPrint(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := parseLimit(c)
		if err != nil {
			abortWithError(c, err)
			return
		}
		cycles, err := d.Recorder.PendingPrints(c.Request.Context(), limit)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"cycles": toCycleViews(cycles)})
	}
}

func handleCycle(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseID(c)
		if err != nil {
			abortWithError(c, err)
			return
		}
		cycle, err := d.Recorder.Get(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"cycle": toCycleView(*cycle)})
	}
}

func handlePrintHistory(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseID(c)
		if err != nil {
			abortWithError(c, err)
			return
		}
		entries, err := d.Recorder.PrintHistory(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"prints": entries})
	}
}

type reprintRequest struct {
	PrintType string `json:"print_type"`
	Reason    string `json:"reason"`
	PrintedBy string `json:"printed_by"`
	// RecordOnly logs a print made outside the station without sending a
	// label to the printer.
	RecordOnly bool `json:"record_only"`
}

func handleReprint(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseID(c)
		if err != nil {
			abortWithError(c, err)
			return
		}
		var req reprintRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithError(c, qcerr.Invalid("body: %v", err))
			return
		}
		if req.PrintType == "" {
			req.PrintType = models.PrintTypeReprint
		}
		if req.PrintedBy == "" {
			req.PrintedBy = d.PrintedBy
		}

		reprint := d.Recorder.Reprint
		if req.RecordOnly {
			reprint = d.Recorder.RecordReprint
		}
		entry, err := reprint(c.Request.Context(), id, req.PrintType, req.Reason, req.PrintedBy)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"print": recorder.PrintEntry{
			ID:        entry.ID,
			CycleID:   entry.CycleID,
			PrintType: entry.PrintType,
			PrintedAt: entry.PrintedAt,
			PrintedBy: deref(entry.PrintedBy),
			Reason:    deref(entry.Reason),
		}})
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func handleQR(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		rec, err := d.Codes.Lookup(ctx, c.Param("data"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		resp := gin.H{"code": rec}
		cycle, archived, err := d.Recorder.FindByQR(ctx, rec.QRData)
		switch {
		case err == nil:
			v := toCycleView(*cycle)
			resp["cycle"] = v
			resp["cycle_archived"] = archived
		case !errors.Is(err, qcerr.ErrNotFound):
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func handleSms(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := parseLimit(c)
		if err != nil {
			abortWithError(c, err)
			return
		}
		status := c.Query("status")
		switch status {
		case "", models.SmsPending, models.SmsSent, models.SmsFailed:
		default:
			abortWithError(c, qcerr.Invalid("status %q", status))
			return
		}
		ctx := c.Request.Context()
		entries, err := d.Alerts.List(ctx, status, limit)
		if err != nil {
			abortWithError(c, err)
			return
		}
		stats, err := d.Alerts.Stats(ctx)
		if err != nil {
			abortWithError(c, err)
			return
		}
		out := make([]smsView, len(entries))
		for i, e := range entries {
			out[i] = toSmsView(e)
		}
		c.JSON(http.StatusOK, gin.H{"messages": out, "stats": stats})
	}
}

func handleRequeue(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseID(c)
		if err != nil {
			abortWithError(c, err)
			return
		}
		if err := d.Alerts.Requeue(c.Request.Context(), id); err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id, "status": models.SmsPending})
	}
}
