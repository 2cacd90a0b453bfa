package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth_Live(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	w := h.do(t, request{path: "/healthz", json: true})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.Nil(t, cookieNamed(w, sessionCookieName))
}

func TestHealth_Ready(t *testing.T) {
	healthy := newHarness(t, harnessOptions{Health: map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
	}})
	w := healthy.do(t, request{path: "/readyz", json: true})
	assert.Equal(t, http.StatusOK, w.Code)

	failing := newHarness(t, harnessOptions{Health: map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("dial tcp: connection refused") },
	}})
	w = failing.do(t, request{path: "/readyz", json: true})
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body struct {
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Checks["postgres"])
	assert.Contains(t, body.Checks["redis"], "connection refused")
}
