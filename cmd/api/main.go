package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"bizmatch/internal/config"
	"bizmatch/internal/logger"
	"bizmatch/internal/server"
)

func gracefulShutdown(apiServer *http.Server, app *server.Server, log logrus.FieldLogger, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Info("shutting down gracefully, press Ctrl+C again to force")
	stop() // Allow Ctrl+C to force shutdown

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Live websocket sessions would hold Shutdown open, so they go first.
	app.GetHub().Shutdown()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}
	if err := app.Shutdown(ctx); err != nil {
		log.WithError(err).Error("background shutdown incomplete")
	}

	log.Info("server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := logger.Init(cfg.Log.Level, cfg.Log.Format)

	app, err := server.New(context.Background(), cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to start")
	}
	apiServer := app.HTTPServer()
	app.StartJobs()

	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(apiServer, app, log, done)

	log.WithField("addr", apiServer.Addr).Info("bizmatch api listening")
	err = apiServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("http server error")
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Info("graceful shutdown complete")
}
