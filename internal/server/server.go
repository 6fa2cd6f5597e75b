// Package server is the HTTP ingress: the internal call-completed trigger,
// the operator review API, and the live update stream.
package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchboard/internal/hub"
	"github.com/zulandar/switchboard/internal/pipeline"
	"gorm.io/gorm"
)

// DefaultKeepalive is the interval between keepalive frames on idle streams.
const DefaultKeepalive = 30 * time.Second

// StartOpts holds configuration for the HTTP server.
type StartOpts struct {
	DB       *gorm.DB
	Pipeline *pipeline.Pipeline
	Hub      hub.Hub
	Health   func() gin.H // optional extra fields for /healthz

	InternalSecret     string
	OperatorSigningKey string

	Port       int
	GinMode    string
	Keepalive  time.Duration
	SinkBuffer int
	Out        io.Writer
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(opts StartOpts) (*gin.Engine, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("server: db is required")
	}
	if opts.Pipeline == nil {
		return nil, fmt.Errorf("server: pipeline is required")
	}
	if opts.Hub == nil {
		return nil, fmt.Errorf("server: hub is required")
	}
	if opts.Keepalive <= 0 {
		opts.Keepalive = DefaultKeepalive
	}
	if opts.SinkBuffer <= 0 {
		opts.SinkBuffer = hub.DefaultSinkBuffer
	}

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	registerRoutes(router, opts)
	return router, nil
}

// Start launches the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	if opts.GinMode != "" {
		gin.SetMode(opts.GinMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router, err := NewRouter(opts)
	if err != nil {
		return err
	}

	srv := newHTTPServer(fmt.Sprintf(":%d", opts.Port), router)

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Switchboard listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// newHTTPServer builds the server with a base context that Shutdown
// cancels. Shutdown does not cancel request contexts itself, and live
// streams only return once theirs is done.
func newHTTPServer(addr string, handler http.Handler) *http.Server {
	base, cancel := context.WithCancel(context.Background())
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}
	srv.RegisterOnShutdown(cancel)
	return srv
}
