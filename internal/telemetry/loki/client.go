// Package loki provides a client to push log entries to Grafana Loki. The
// worker uses it to land diverted audit events in long-term storage.
package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// PushRequest is the Loki push API request body (v1).
type PushRequest struct {
	Streams []Stream `json:"streams"`
}

// Stream is a single stream with labels and log entries.
type Stream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"` // each entry is [timestamp_ns, log_line]
}

// labelSanitize replaces characters that are invalid in Loki label values.
var labelSanitize = regexp.MustCompile(`[^a-zA-Z0-9_\-:]`)

// eventFields parses only what label extraction needs from a diverted audit
// event's JSON.
type eventFields struct {
	UserID    string    `json:"UserID"`
	EventType string    `json:"EventType"`
	Severity  string    `json:"Severity"`
	CreatedAt time.Time `json:"CreatedAt"`
}

// PushEventJSON parses a diverted audit event (the Kafka message value),
// extracts timestamp and labels, and pushes it to Loki. If parsing fails the
// raw line is pushed with the current time and no extra labels.
func PushEventJSON(ctx context.Context, baseURL string, rawJSON []byte) error {
	line := string(rawJSON)
	labels := map[string]string{}
	ts := time.Now().UTC()
	var fields eventFields
	if err := json.Unmarshal(rawJSON, &fields); err == nil {
		if fields.UserID != "" {
			labels["user_id"] = fields.UserID
		}
		if fields.EventType != "" {
			labels["event_type"] = fields.EventType
		}
		if fields.Severity != "" {
			labels["severity"] = fields.Severity
		}
		if !fields.CreatedAt.IsZero() {
			ts = fields.CreatedAt
		}
	}
	return PushEvent(ctx, baseURL, ts, line, labels)
}

// PushEvent sends a single log line to Loki at the given base URL (e.g.
// http://localhost:3100). Returns an error if the HTTP request fails or Loki
// answers non-2xx.
func PushEvent(ctx context.Context, baseURL string, timestamp time.Time, line string, labels map[string]string) error {
	if baseURL == "" {
		return fmt.Errorf("loki: base URL is empty")
	}
	streamLabels := make(map[string]string, len(labels)+1)
	streamLabels["job"] = "auth-core-audit"
	for k, v := range labels {
		sanitized := labelSanitize.ReplaceAllString(strings.TrimSpace(v), "_")
		if sanitized != "" {
			streamLabels[k] = sanitized
		}
	}
	body := PushRequest{
		Streams: []Stream{{
			Stream: streamLabels,
			Values: [][]string{{fmt.Sprintf("%d", timestamp.UnixNano()), line}},
		}},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	url := strings.TrimSuffix(baseURL, "/") + "/loki/api/v1/push"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("loki: push returned status %d", resp.StatusCode)
	}
	return nil
}
