// Package api serves the station HTTP API used by line tooling.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/pneumaticqc/internal/alert"
	"github.com/zulandar/pneumaticqc/internal/qrcode"
	"github.com/zulandar/pneumaticqc/internal/recorder"
	"github.com/zulandar/pneumaticqc/internal/registry"
	"gorm.io/gorm"
)

// Deps are the services the handlers call into.
type Deps struct {
	DB       *gorm.DB
	Registry *registry.Registry
	Recorder *recorder.Recorder
	Codes    *qrcode.Store
	Alerts   *alert.Queue
	// Watcher, if set, feeds active model changes to the event stream.
	Watcher *registry.Watcher
	// PrintedBy is recorded on reprints that name no operator.
	PrintedBy string
}

func (d Deps) validate() error {
	switch {
	case d.DB == nil:
		return errors.New("db is required")
	case d.Registry == nil:
		return errors.New("registry is required")
	case d.Recorder == nil:
		return errors.New("recorder is required")
	case d.Codes == nil:
		return errors.New("code store is required")
	case d.Alerts == nil:
		return errors.New("alert queue is required")
	}
	return nil
}

// StartOpts holds configuration for the API server.
type StartOpts struct {
	Deps
	Port int
	Out  io.Writer
}

// NewRouter returns a gin engine with every API route registered.
func NewRouter(d Deps) (*gin.Engine, error) {
	if err := d.validate(); err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, d)
	return router, nil
}

// Start launches the API server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	router, err := NewRouter(opts.Deps)
	if err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "API listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}
