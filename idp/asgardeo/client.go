package asgardeo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/faithconnect/member-service/shared/monitoring"
	"golang.org/x/oauth2/clientcredentials"
)

type Client struct {
	BaseURL     string
	OAuthConfig *clientcredentials.Config
	Client      *http.Client
}

// NewClient creates an Asgardeo management API client authenticated with
// the client credentials grant
func NewClient(baseURL, clientID, clientSecret string, scopes []string) *Client {
	config := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     baseURL + "/oauth2/token",
		Scopes:       scopes,
	}

	return &Client{
		BaseURL:     baseURL,
		OAuthConfig: config,
		Client:      config.Client(context.Background()),
	}
}

type PatchOperation struct {
	Op    string      `json:"op"`
	Path  string      `json:"path,omitempty"`
	Value interface{} `json:"value,omitempty"`
}

type PatchRequestBody struct {
	Schemas    []string         `json:"schemas"`
	Operations []PatchOperation `json:"Operations"`
}

// StatusError carries an unexpected SCIM response status
type StatusError struct {
	Operation  string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("failed to %s, status code: %d", e.Operation, e.StatusCode)
}

// do sends a SCIM request and decodes the response into out when the status
// matches want. The call is recorded as an external call.
func (a *Client) do(ctx context.Context, operation, method, url string, body interface{}, want int, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/scim+json")
	}

	start := time.Now()
	res, err := a.Client.Do(req)
	if err != nil {
		monitoring.RecordExternalCall("asgardeo", operation, time.Since(start), err)
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			slog.Error("failed to close response body", "error", err)
		}
	}(res.Body)

	if res.StatusCode != want {
		statusErr := &StatusError{Operation: operation, StatusCode: res.StatusCode}
		monitoring.RecordExternalCall("asgardeo", operation, time.Since(start), statusErr)
		return statusErr
	}
	monitoring.RecordExternalCall("asgardeo", operation, time.Since(start), nil)

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}
