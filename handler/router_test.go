package handler

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"papers-gateway/internal/usecase"
)

func newTestRouter(t *testing.T, gw *stubGateway, metrics http.Handler) http.Handler {
	t.Helper()
	return NewRouter(newTestHandler(t, gw), RouterConfig{
		Logger:  slog.New(slog.NewJSONHandler(io.Discard, nil)),
		Metrics: metrics,
	})
}

func TestRouter_Login(t *testing.T) {
	gw := &stubGateway{loginOut: usecase.LoginOutput{Token: "jwt-1"}}
	r := newTestRouter(t, gw, nil)

	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewBufferString(`{"user_email":"a@x.com"}`))
	req.Header.Set("X-Correlation-Id", "corr-9")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	require.Equal(t, "corr-9", rr.Header().Get("X-Correlation-Id"))
	require.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	require.JSONEq(t, `{"status":"success","message":"Login successful","user_token":"jwt-1","is_admin":false}`, rr.Body.String())
}

func TestRouter_RejectsBadBearer(t *testing.T) {
	gw := &stubGateway{}
	r := newTestRouter(t, gw, nil)

	req := httptest.NewRequest(http.MethodPost, "/message_to_agent", bytes.NewBufferString(`{"session_id":"s","message_to_agent":"hi"}`))
	req.Header.Set("Authorization", "Bearer expired")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.JSONEq(t, `{"detail":"Invalid or expired token"}`, rr.Body.String())
	require.NotEmpty(t, rr.Header().Get("X-Correlation-Id"))
	require.Zero(t, gw.calls)
}

func TestRouter_DeleteSessionWithBody(t *testing.T) {
	gw := &stubGateway{}
	r := newTestRouter(t, gw, nil)

	req := httptest.NewRequest(http.MethodDelete, "/delete_session", bytes.NewBufferString(`{"user_email":"alice@example.com","session_id":"s-1"}`))
	req.Header.Set("Authorization", "Bearer good")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "s-1", gw.deleteIn.SessionID)
}

func TestRouter_HealthAndPreflight(t *testing.T) {
	r := newTestRouter(t, &stubGateway{}, nil)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"healthy"}`, rr.Body.String())

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, "/add_user", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)
}

func TestRouter_NotFoundAndMethodNotAllowed(t *testing.T) {
	r := newTestRouter(t, &stubGateway{}, nil)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.JSONEq(t, `{"detail":"Not Found"}`, rr.Body.String())

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/login", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestRouter_MountsMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("gateway_requests_total 1\n"))
	})
	r := newTestRouter(t, &stubGateway{}, metrics)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "gateway_requests_total")

	rr = httptest.NewRecorder()
	newTestRouter(t, &stubGateway{}, nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}
