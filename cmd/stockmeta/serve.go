package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/ubuygold/stockmeta/internal/admin"
	"github.com/ubuygold/stockmeta/internal/api"
	"github.com/ubuygold/stockmeta/internal/runner"
	"github.com/ubuygold/stockmeta/internal/scheduler"
	"github.com/ubuygold/stockmeta/internal/telemetry"
)

// customRecovery is a middleware that recovers from panics and handles http.ErrAbortHandler gracefully.
func customRecovery(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if recovered := recover(); recovered != nil {
				if recovered == http.ErrAbortHandler {
					log.Warn("Client connection aborted", "path", c.Request.URL.Path)
					c.Abort()
					return
				}

				log.Error("Panic recovered",
					"error", recovered,
					"path", c.Request.URL.Path,
					"stack", string(debug.Stack()),
				)
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// newRouter mounts every route. Batch runs started over HTTP live as long as baseCtx.
func newRouter(baseCtx context.Context, a *app) *gin.Engine {
	router := gin.New()
	router.Use(customRecovery(a.log))
	if a.cfg.Debug {
		router.Use(gin.Logger())
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))

	adminHandler := admin.NewHandler(a.keys, a.db, a.trends, a.sessions, a.cfg.Credentials.RotationWindow, a.log)
	admin.SetupRoutes(router, adminHandler, a.cfg.Admin.Password)

	apiHandler := api.NewHandler(baseCtx, a.keys, a.sessions, a.trends, a.gen, a.cfg.Runner.MaxUploadBytes, a.log)
	api.SetupRoutes(router, apiHandler, a.db)
	return router
}

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, admin panel and scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := ctx.load()
			if err != nil {
				return err
			}
			if !cfg.Debug {
				gin.SetMode(gin.ReleaseMode)
			}

			shutdownTracer, err := telemetry.InitTracer("stockmeta", cfg.Telemetry, os.Stdout, log)
			if err != nil {
				return err
			}
			defer shutdownTracer()

			a, err := newApp(cfg, log)
			if err != nil {
				return err
			}
			defer a.close()

			sched := scheduler.NewScheduler(cfg.Scheduler, a.trends, a.keys, log)
			if err := sched.Start(); err != nil {
				return err
			}
			defer sched.Stop()

			baseCtx, cancelRuns := context.WithCancel(context.Background())
			defer cancelRuns()

			server := &http.Server{
				Addr:    fmt.Sprintf(":%d", cfg.Port),
				Handler: newRouter(baseCtx, a),
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info("Starting server", "port", cfg.Port)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			// Wait for interrupt signal to gracefully shut down the server
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-quit:
			case err := <-errCh:
				return fmt.Errorf("failed to start server: %w", err)
			}
			log.Info("Shutting down server...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Error("Server forced to shutdown", "error", err)
			}

			// Runs still hold baseCtx and the key manager; both close after this.
			stopRuns(a.sessions, cfg.Generator.CallTimeout+5*time.Second, log)
			log.Info("Server exiting")
			return nil
		},
	}
}

// stopRuns stops batch dispatch and waits up to timeout for calls already in
// flight to finish and be recorded.
func stopRuns(sessions *runner.Registry, timeout time.Duration, log *slog.Logger) error {
	sessions.StopAll()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := sessions.Wait(ctx); err != nil {
		log.Error("Batch calls still in flight at shutdown", "error", err)
		return err
	}
	return nil
}
