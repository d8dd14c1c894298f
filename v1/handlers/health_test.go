package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthHandler(t *testing.T) {
	ok := func(ctx context.Context) error { return nil }
	down := func(ctx context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name       string
		checks     map[string]HealthCheck
		wantStatus int
		wantBody   string
	}{
		{"all healthy", map[string]HealthCheck{"store": ok, "redis": ok}, http.StatusOK, "healthy"},
		{"redis down", map[string]HealthCheck{"store": ok, "redis": down}, http.StatusServiceUnavailable, "unhealthy"},
		{"no checks", nil, http.StatusOK, "healthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			HealthHandler("member-service", tt.checks).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			var body healthStatus
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantBody, body.Status)
			assert.Equal(t, "member-service", body.Service)
			assert.Len(t, body.Components, len(tt.checks))
		})
	}

	t.Run("reports the failing component", func(t *testing.T) {
		w := httptest.NewRecorder()
		HealthHandler("member-service", map[string]HealthCheck{"redis": down}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		var body healthStatus
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "connection refused", body.Components["redis"].Error)
	})
}
