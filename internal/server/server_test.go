package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizmatch/internal/config"
	"bizmatch/internal/database"
	"bizmatch/internal/logger"
)

func testConfig() *config.Config {
	cfg := &config.Config{
		Port:        8080,
		AppEnv:      "local",
		FrontendURL: "http://localhost:3000",
		Timezone:    "Asia/Tokyo",
	}
	cfg.Database.DSN = database.MemoryDSN
	cfg.Session.Secret = "test-secret"
	cfg.Identity.ReconcileAttempts = 1
	cfg.Toast.TTL = time.Second
	cfg.Jobs.OverdueSchedule = "@daily"
	return cfg
}

func TestNewWiresInMemoryServer(t *testing.T) {
	s, err := New(context.Background(), testConfig(), logger.Discard())
	require.NoError(t, err)

	httpServer := s.HTTPServer()
	assert.Equal(t, ":8080", httpServer.Addr)

	w := httptest.NewRecorder()
	httpServer.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"up"`)
	assert.Contains(t, w.Body.String(), `"backend":"memory"`)

	w = httptest.NewRecorder()
	httpServer.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "bizmatch_http_requests_total")

	w = httptest.NewRecorder()
	httpServer.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/projects", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	s.StartJobs()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))
}

func TestNewRejectsBadSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.Jobs.OverdueSchedule = "whenever"
	_, err := New(context.Background(), cfg, logger.Discard())
	assert.Error(t, err)
}
