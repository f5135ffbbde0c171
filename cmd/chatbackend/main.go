// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command chatbackend starts the AleutianChat HTTP server.
//
// This is the main entry point for the containerized chat backend service.
// It reads configuration from environment variables and starts the server.
//
// # Environment Variables
//
//   - CHAT_BACKEND_PORT: HTTP server port (default: 12220)
//   - LLM_BACKEND_TYPE: LLM provider - local, openai, ollama, claude (default: local)
//   - WEAVIATE_SERVICE_URL: Weaviate vector DB URL (optional)
//   - CHAT_STORE_PATH: Badger store directory, used when Weaviate is off (optional)
//   - CHAT_PROFILE_PATH: generation profile override YAML (optional)
//   - CHAT_TELEMETRY_ENABLED: "true" enables InfluxDB usage telemetry
//   - CHAT_LOG_DIR: directory for JSON log files (optional)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: aleutian-otel-collector:4317)
//
// # Usage
//
//	# Build
//	go build -o chatbackend ./cmd/chatbackend
//
//	# Run
//	./chatbackend
//
//	# Or via container
//	podman-compose up chat-backend
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/AleutianAI/AleutianChat/pkg/logging"
	"github.com/AleutianAI/AleutianChat/services/chat_backend"
)

func main() {
	// Setup structured logging
	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		LogDir:  os.Getenv("CHAT_LOG_DIR"),
		Service: "chat-backend",
		JSON:    true,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	// Build configuration from environment variables
	cfg := chat_backend.Config{
		Port:             getEnvInt("CHAT_BACKEND_PORT", 12220),
		LLMBackend:       getEnvString("LLM_BACKEND_TYPE", "local"),
		WeaviateURL:      os.Getenv("WEAVIATE_SERVICE_URL"),
		StorePath:        os.Getenv("CHAT_STORE_PATH"),
		OTelEndpoint:     getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "aleutian-otel-collector:4317"),
		ProfilePath:      os.Getenv("CHAT_PROFILE_PATH"),
		TelemetryEnabled: getEnvBool("CHAT_TELEMETRY_ENABLED", false),
	}

	slog.Info("Starting chat backend",
		"port", cfg.Port,
		"llm_backend", cfg.LLMBackend,
		"weaviate_url", cfg.WeaviateURL,
		"store_path", cfg.StorePath,
	)

	// Create the service with default (no-op) extension options
	// Enterprise builds will pass custom ServiceOptions here
	svc, err := chat_backend.New(cfg, nil)
	if err != nil {
		log.Fatalf("Failed to create chat backend: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Chat backend error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool returns the environment variable as bool or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
