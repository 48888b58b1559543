package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"treasury-backend/internal/app"
	"treasury-backend/internal/config"
	"treasury-backend/internal/router"
)

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load config")
	}

	container, err := app.NewContainer(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to build service container")
	}
	defer container.Close()

	engine := router.New(cfg, container.Handlers)
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logrus.WithField("addr", server.Addr).Info("Treasury coordinator listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Graceful shutdown failed")
	}
}
