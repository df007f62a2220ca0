// Command kansad serves the Kansa assessment and inventory API.
//
// Configuration is read from KANSA_* environment variables; a .env file in
// the working directory is loaded first when present.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/raysh454/kansa/internal/app"
	"github.com/raysh454/kansa/internal/logging"
	"github.com/raysh454/kansa/internal/server"
)

func main() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	level := logging.ParseLevel(cfg.LogLevel)
	logger := logging.NewLogger("kansad", os.Stdout, level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.NewApplication(ctx, cfg, logger, app.Deps{})
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	if err := a.Start(ctx); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	srv := server.NewServer(server.Config{
		ListenAddr:     cfg.ListenAddr,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logging.NewLogger("Server", os.Stdout, level),
	}, a.Orch, a.Metrics)
	httpServer := srv.HTTPServer()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", logging.Field{Key: "addr", Value: cfg.ListenAddr})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", logging.Field{Key: "error", Value: err.Error()})
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", logging.Field{Key: "error", Value: err.Error()})
	}
	if err := a.Shutdown(shutdownCtx); err != nil {
		logger.Warn("application shutdown", logging.Field{Key: "error", Value: err.Error()})
	}
}
