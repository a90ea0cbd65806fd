// Package loki pushes security events to Grafana Loki.
package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"nexabank-auth/backend/internal/telemetry"
)

// DefaultJob is the job label set on every stream.
const DefaultJob = "nexabank-auth"

// PushRequest is the Loki push API request body (v1).
type PushRequest struct {
	Streams []Stream `json:"streams"`
}

// Stream is a single stream with labels and log entries.
type Stream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"` // each entry is [timestamp_ns, log_line]
}

// Label values are restricted to a safe charset; anything else becomes '_'.
var labelSanitize = regexp.MustCompile(`[^a-zA-Z0-9_\-:.]`)

// Client pushes log lines to a Loki base URL (e.g. http://localhost:3100).
type Client struct {
	baseURL string
	job     string
	http    *http.Client
}

// NewClient returns a Client. An empty job uses DefaultJob; a nil httpClient uses a client with a 5s timeout.
func NewClient(baseURL, job string, httpClient *http.Client) *Client {
	if job == "" {
		job = DefaultJob
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), job: job, http: httpClient}
}

// Push sends a single log line. Labels with an empty value after sanitizing are dropped.
// Returns an error if the request fails or Loki answers non-2xx.
func (c *Client) Push(ctx context.Context, timestamp time.Time, line string, labels map[string]string) error {
	if c.baseURL == "" {
		return fmt.Errorf("loki: base URL is empty")
	}
	streamLabels := make(map[string]string, len(labels)+1)
	streamLabels["job"] = c.job
	for k, v := range labels {
		sanitized := labelSanitize.ReplaceAllString(strings.TrimSpace(v), "_")
		if sanitized != "" {
			streamLabels[k] = sanitized
		}
	}
	payload, err := json.Marshal(PushRequest{
		Streams: []Stream{{
			Stream: streamLabels,
			Values: [][]string{{strconv.FormatInt(timestamp.UnixNano(), 10), line}},
		}},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/loki/api/v1/push", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("loki: push: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("loki: push returned %s", resp.Status)
	}
	return nil
}

// eventLine is the JSON body of one event. Principal and session ids stay in the line, not the labels,
// to keep stream cardinality bounded.
type eventLine struct {
	EventType   string            `json:"event_type"`
	PrincipalID string            `json:"principal_id,omitempty"`
	SessionID   string            `json:"session_id,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	At          string            `json:"at"`
}

// Emitter adapts a Client to telemetry.EventEmitter.
type Emitter struct {
	client *Client
}

// NewEmitter returns an emitter pushing to client.
func NewEmitter(client *Client) *Emitter {
	return &Emitter{client: client}
}

// Emit pushes the event as one JSON line labelled with its type.
func (e *Emitter) Emit(ctx context.Context, event telemetry.Event) error {
	at := event.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	body, err := json.Marshal(eventLine{
		EventType:   string(event.Type),
		PrincipalID: event.PrincipalID,
		SessionID:   event.SessionID,
		Reason:      event.Reason,
		Attributes:  event.Attributes,
		At:          at.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}
	return e.client.Push(ctx, at, string(body), map[string]string{"event_type": string(event.Type)})
}

// EmitterFor returns an emitter for baseURL, or nil when baseURL is empty so that telemetry.Tee skips it.
func EmitterFor(baseURL string) telemetry.EventEmitter {
	if baseURL == "" {
		return nil
	}
	return NewEmitter(NewClient(baseURL, "", nil))
}
