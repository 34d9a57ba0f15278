package handler

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"counsel-bot/internal/usecase"
)

func newTestRouter(t *testing.T, relay *stubRelay, metrics http.Handler) http.Handler {
	t.Helper()
	h, err := NewHandler(relay)
	require.NoError(t, err)
	return NewRouter(h, metrics)
}

func TestRouter_Callback(t *testing.T) {
	relay := &stubRelay{}
	router := newTestRouter(t, relay, nil)

	req := httptest.NewRequest(http.MethodPost, "/callback", strings.NewReader(`{"events":[]}`))
	req.Header.Set("X-Line-Signature", "sig")
	req.Header.Set("X-Correlation-Id", "corr-9")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "OK", rec.Body.String())
	require.Equal(t, "corr-9", rec.Header().Get("X-Correlation-Id"))
	require.Equal(t, "sig", relay.signature)
	require.Equal(t, "corr-9", relay.correlationID)
}

func TestRouter_CallbackRejectsBadSignature(t *testing.T) {
	relay := &stubRelay{err: &usecase.Error{Code: usecase.ErrorAuthentication, Reason: "invalid_signature"}}
	router := newTestRouter(t, relay, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/callback", strings.NewReader(`{}`)))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"error":"AUTHENTICATION_ERROR"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Correlation-Id"))
}

func TestRouter_CallbackDetachesFromClientCancellation(t *testing.T) {
	relay := &stubRelay{}
	router := newTestRouter(t, relay, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/callback", strings.NewReader(`{}`)).WithContext(ctx)
	router.ServeHTTP(httptest.NewRecorder(), req)

	require.NoError(t, relay.ctxErr)
}

func TestRouter_CallbackBodyLimit(t *testing.T) {
	relay := &stubRelay{}
	router := newTestRouter(t, relay, nil)

	body := strings.Repeat("a", maxBodyBytes+1)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/callback", strings.NewReader(body)))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Nil(t, relay.body)
}

func TestRouter_CallbackRequiresPost(t *testing.T) {
	router := newTestRouter(t, &stubRelay{}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "metric 1\n")
	})
	router := newTestRouter(t, &stubRelay{}, metrics)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "metric 1\n", rec.Body.String())
}
