// NASEnv: Reinforcement Learning Environment for Neural Architecture Search
// Copyright (C) 2026  NASEnv Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nasenv/internal/config"
	"nasenv/internal/host"
	"nasenv/internal/logging"
	"nasenv/internal/model"
	"nasenv/internal/tasks"
	"nasenv/pkg/reward"
)

const (
	portFile = "/tmp/envd.port"
)

var (
	// Server flags
	port         = flag.Int("port", 0, "HTTP API server port (0 = auto-find open port)")
	maxSessions  = flag.Int("max-sessions", 16, "maximum concurrent sessions")
	logLevel     = flag.String("log-level", "", "log level: debug, info, warn, error (empty = NASENV_LOG_LEVEL)")

	// Task flags
	manifestPath = flag.String("manifest", "", "task manifest YAML (empty = built-in tasks)")

	// Estimator flags
	estimator    = flag.String("estimator", "finetune", "default accuracy estimator: finetune, predictor")
	predictorURL = flag.String("predictor-url", "", "predictor service base URL (required for predictor estimation)")
	samples      = flag.Int("samples", 0, "architecture samples per estimate (0 = estimator default)")

	// Model flags
	nodes      = flag.Int("nodes", 3, "intermediate nodes per cell")
	hiddenSize = flag.Int("hidden-size", 32, "search model hidden width")
)

func init() {
	if url := config.GetPredictorURL(); url != "" && *predictorURL == "" {
		*predictorURL = url
	}
}

// writePortFile writes the port to a temporary file for clients to discover.
func writePortFile(port int) error {
	log.Printf("Writing port %d to %s", port, portFile)
	return os.WriteFile(portFile, []byte(fmt.Sprintf("%d", port)), 0644)
}

// cleanupPortFile removes the temporary port file.
func cleanupPortFile() {
	os.Remove(portFile)
}

// findOpenPort finds an available port starting from the given port.
func findOpenPort(startPort int) (int, error) {
	if startPort > 0 {
		listener, err := net.Listen("tcp", fmt.Sprintf(":%d", startPort))
		if err == nil {
			listener.Close()
			return startPort, nil
		}
		log.Printf("Port %d not available: %v", startPort, err)
	}

	for port := config.GetHostPort(); port <= config.GetHostPort()+100; port++ {
		listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			listener.Close()
			return port, nil
		}
	}
	return 0, fmt.Errorf("no available ports found")
}

func main() {
	flag.Parse()

	level := *logLevel
	if level == "" {
		level = config.GetLogLevel()
	}
	logger, err := logging.NewLogger(&logging.Config{Level: level, Prefix: "envd"})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	manifest := tasks.DefaultManifest()
	if *manifestPath != "" {
		m, err := tasks.LoadManifest(*manifestPath)
		if err != nil {
			logger.Fatal("Failed to load manifest %s: %v", *manifestPath, err)
		}
		manifest = m
	}
	logger.Info("Serving %d tasks: %v", len(manifest.Tasks), manifest.Names())

	kind := reward.Kind(*estimator)
	switch kind {
	case reward.KindFineTune, reward.KindPredictor:
	default:
		logger.Fatal("Unknown estimator %q (want finetune or predictor)", *estimator)
	}
	if kind == reward.KindPredictor && *predictorURL == "" {
		logger.Fatal("Predictor estimation requires -predictor-url or NASENV_PREDICTOR_URL")
	}

	mcfg := model.DefaultConfig()
	mcfg.Nodes = *nodes
	mcfg.HiddenSize = *hiddenSize

	manager := host.NewManager(host.Options{
		Manifest:     manifest,
		Model:        mcfg,
		Estimator:    kind,
		Samples:      *samples,
		PredictorURL: *predictorURL,
		MaxSessions:  *maxSessions,
		Logger:       logger,
	})
	server := host.NewServer(manager, logger)

	apiPort, err := findOpenPort(*port)
	if err != nil {
		logger.Fatal("Failed to find open port: %v", err)
	}
	if err := writePortFile(apiPort); err != nil {
		logger.Warn("Failed to write port file: %v", err)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", apiPort),
		Handler: server.Router(),
	}

	go func() {
		logger.Info("API server listening on :%d", apiPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("API server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	cleanupPortFile()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server shutdown error: %v", err)
	}
	if err := manager.CloseAll(); err != nil {
		logger.Error("Session cleanup error: %v", err)
	}
	logger.Info("Server exited")
}
