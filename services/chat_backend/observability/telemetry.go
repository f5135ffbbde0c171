// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"context"
	"log/slog"
	"os"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// StreamUsage is one completed chat exchange, recorded for usage reporting.
type StreamUsage struct {
	Endpoint      string
	Model         string
	Profile       string
	Outcome       string
	Duration      time.Duration
	OutputTokens  int
	ResponseChars int
	Timestamp     time.Time
}

// UsageRecorder writes per-exchange usage events to InfluxDB. A nil
// recorder is valid and drops all events, so telemetry stays optional.
type UsageRecorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// NewUsageRecorderFromEnv builds a recorder from INFLUXDB_* environment
// variables, falling back to local dev defaults.
func NewUsageRecorderFromEnv() *UsageRecorder {
	// Default to external port 12130 if not set
	url := os.Getenv("INFLUXDB_URL")
	if url == "" {
		url = "http://localhost:12130"
	}

	token := os.Getenv("INFLUXDB_TOKEN")
	if token == "" {
		// Try to fallback to the default dev token
		token = "your_super_secret_admin_token"
	}

	org := os.Getenv("INFLUXDB_ORG")
	if org == "" {
		org = "aleutian-chat"
	}

	bucket := os.Getenv("INFLUXDB_BUCKET")
	if bucket == "" {
		bucket = "chat-usage"
	}

	client := influxdb2.NewClient(url, token)
	return &UsageRecorder{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
	}
}

// RecordStream writes one usage event. A missing or unreachable InfluxDB
// must never affect request handling, so write failures are only logged.
func (r *UsageRecorder) RecordStream(ctx context.Context, usage StreamUsage) {
	if r == nil {
		return
	}

	ts := usage.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	p := influxdb2.NewPointWithMeasurement("chat_stream").
		AddTag("endpoint", usage.Endpoint).
		AddTag("model", usage.Model).
		AddTag("profile", usage.Profile).
		AddTag("outcome", usage.Outcome).
		AddField("duration_ms", usage.Duration.Milliseconds()).
		AddField("output_tokens", usage.OutputTokens).
		AddField("response_chars", usage.ResponseChars).
		SetTime(ts)

	if err := r.writeAPI.WritePoint(ctx, p); err != nil {
		slog.Debug("Usage telemetry write failed", "error", err)
	}
}

func (r *UsageRecorder) Close() {
	if r == nil {
		return
	}
	r.client.Close()
}
