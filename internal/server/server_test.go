package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/rylorin/wheel-bot/internal/agent"
	"github.com/rylorin/wheel-bot/internal/logger"
	"github.com/stretchr/testify/require"
)

type staticStatus struct{ s agent.Status }

func (s staticStatus) Status() agent.Status { return s.s }

func TestStatusHandler(t *testing.T) {
	h := NewHandler(staticStatus{s: agent.Status{
		Account:         "DU12345",
		PortfolioLoaded: true,
		ScannerState:    "idle",
		ScanCycles:      3,
	}}, logger.Nop{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var got agent.Status
	require.NoError(t, sonic.Unmarshal(rr.Body.Bytes(), &got))
	require.Equal(t, "DU12345", got.Account)
	require.True(t, got.PortfolioLoaded)
	require.Equal(t, 3, got.ScanCycles)
}

func TestHealthz(t *testing.T) {
	h := NewHandler(staticStatus{}, logger.Nop{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
}
