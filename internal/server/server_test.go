package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariavoice/aria/internal/config"
	"github.com/ariavoice/aria/internal/domain"
	"github.com/ariavoice/aria/internal/store"
)

func newTestServer(t *testing.T, checks map[string]HealthCheck) *Server {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	cfg := &config.Config{}
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.AccessTokenExpire = time.Hour
	return New(cfg, store.New(mock), nil, nil, checks)
}

func getReady(t *testing.T, srv *Server) (int, map[string]string) {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	var payload struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return rec.Code, payload.Checks
}

func TestReadinessReportsEveryAdapter(t *testing.T) {
	srv := newTestServer(t, map[string]HealthCheck{
		"llm": func(context.Context) error { return nil },
		"tts": func(context.Context) error { return nil },
	})

	code, checks := getReady(t, srv)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", checks["llm"])
	assert.Equal(t, "ok", checks["tts"])
}

func TestReadinessDegradesOnAdapterFailure(t *testing.T) {
	srv := newTestServer(t, map[string]HealthCheck{
		"llm": func(context.Context) error { return nil },
		"asr": func(context.Context) error {
			return errors.New("asr health: " + domain.ErrASRUnavailable.Error())
		},
	})

	code, checks := getReady(t, srv)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "ok", checks["llm"])
	assert.Contains(t, checks["asr"], "asr unavailable")
}
