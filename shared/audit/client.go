package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/faithconnect/member-service/shared/monitoring"
	"github.com/faithconnect/member-service/shared/utils"
)

const (
	// AuditLogsEndpoint is the API endpoint for creating audit logs
	AuditLogsEndpoint = "/api/audit-logs"
	// DefaultHTTPTimeout bounds each delivery to the audit service
	DefaultHTTPTimeout = 10 * time.Second
)

// Client sends audit events to the audit service
type Client struct {
	baseURL    string
	httpClient *http.Client
	enabled    bool
	wg         sync.WaitGroup
}

// NewClient creates a new audit client. It is disabled when baseURL is empty
// or ENABLE_AUDIT=false, and every LogEvent call is then a no-op.
func NewClient(baseURL string) *Client {
	if baseURL == "" || !utils.GetEnvBoolOrDefault("ENABLE_AUDIT", true) {
		slog.Info("Audit client disabled",
			"reason", "ENABLE_AUDIT=false or audit service URL not configured")
		return &Client{}
	}

	slog.Info("Audit client initialized", "baseURL", baseURL)
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultHTTPTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
			},
		},
		enabled: true,
	}
}

// IsEnabled returns whether the audit client is enabled
func (c *Client) IsEnabled() bool {
	return c.enabled
}

// LogEvent delivers the event in the background and returns immediately.
// Delivery uses a background context so it outlives the request.
func (c *Client) LogEvent(ctx context.Context, event *AuditLogRequest) {
	if !c.enabled || c.httpClient == nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.send(context.Background(), event)
	}()
}

// Flush waits for in-flight deliveries, up to timeout. Called on shutdown.
func (c *Client) Flush(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		slog.Warn("Timed out waiting for audit events to flush", "timeout", timeout)
	}
}

func (c *Client) send(ctx context.Context, event *AuditLogRequest) {
	start := time.Now()
	err := c.post(ctx, event)
	monitoring.RecordExternalCall("audit-service", "log_event", time.Since(start), err)
	if err != nil {
		slog.Error("Failed to send audit event", "error", err, "eventType", event.EventType)
		return
	}
	slog.Debug("Audit event logged",
		"eventType", event.EventType,
		"actorId", event.ActorID,
		"targetId", event.TargetID,
		"status", event.Status)
}

func (c *Client) post(ctx context.Context, event *AuditLogRequest) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	endpointURL, err := url.JoinPath(c.baseURL, AuditLogsEndpoint)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}

// StatusError is returned when the audit service rejects an event
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return "audit service returned status " + http.StatusText(e.StatusCode) + ": " + e.Body
}
