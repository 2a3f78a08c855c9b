package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bnema/multisession/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPairing struct {
	code  string
	err   error
	calls []string
}

func (s *stubPairing) RequestCode(_ context.Context, raw string) (string, error) {
	s.calls = append(s.calls, raw)
	return s.code, s.err
}

type stubSessions []domain.SessionStatus

func (s stubSessions) Statuses() []domain.SessionStatus { return s }

func newTestServer(pairing PairingService, sessions SessionLister, token string) *Server {
	return New(pairing, sessions, Options{Token: token, Version: "test", Logger: zerolog.Nop()})
}

func do(t *testing.T, h http.Handler, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestGetPairCodeReturnsCode(t *testing.T) {
	t.Parallel()

	pairing := &stubPairing{code: "ABCD-1234"}
	srv := newTestServer(pairing, stubSessions{}, "")

	rec, body := do(t, srv.Handler(), httptest.NewRequest(http.MethodGet, "/get-pair-code?number=%2B94+77-123-4567", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ABCD-1234", body["code"])
	assert.Equal(t, []string{"+94 77-123-4567"}, pairing.calls)
}

func TestPostPairAcceptsJSON(t *testing.T) {
	t.Parallel()

	pairing := &stubPairing{code: "WXYZ-9876"}
	srv := newTestServer(pairing, stubSessions{}, "")

	req := httptest.NewRequest(http.MethodPost, "/pair", strings.NewReader(`{"number":"94770000001"}`))
	req.Header.Set("Content-Type", "application/json")
	rec, body := do(t, srv.Handler(), req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "WXYZ-9876", body["code"])

	req = httptest.NewRequest(http.MethodPost, "/pair", strings.NewReader(`{`))
	req.Header.Set("Content-Type", "application/json")
	rec, _ = do(t, srv.Handler(), req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPairErrorsMapToStatusCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"invalid", fmt.Errorf("%w: %q", domain.ErrInvalidIdentifier, "abc"), http.StatusBadRequest, "invalid session identifier"},
		{"registered", domain.ErrAlreadyRegistered, http.StatusConflict, "session already registered"},
		{"in progress", domain.ErrPairingInProgress, http.StatusConflict, "pairing already in progress"},
		{"failed", fmt.Errorf("%w: upstream said no", domain.ErrPairingFailed), http.StatusBadGateway, "pairing failed"},
		{"timeout", domain.ErrTimeout, http.StatusGatewayTimeout, "timed out"},
		{"closed", domain.ErrRegistryClosed, http.StatusServiceUnavailable, "closed"},
		{"other", fmt.Errorf("%w: disk", domain.ErrStorage), http.StatusInternalServerError, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := newTestServer(&stubPairing{err: tt.err}, stubSessions{}, "")
			rec, body := do(t, srv.Handler(), httptest.NewRequest(http.MethodGet, "/get-pair-code?number=1", nil))
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, body["error"], tt.message)
			assert.NotContains(t, body["error"], "upstream said no")
		})
	}
}

func TestPairingRoutesRequireToken(t *testing.T) {
	t.Parallel()

	pairing := &stubPairing{code: "ABCD-1234"}
	srv := newTestServer(pairing, stubSessions{}, "s3cret")

	rec, body := do(t, srv.Handler(), httptest.NewRequest(http.MethodGet, "/get-pair-code?number=1", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", body["error"])

	req := httptest.NewRequest(http.MethodGet, "/get-pair-code?number=1", nil)
	req.Header.Set(TokenHeader, "wrong")
	rec, _ = do(t, srv.Handler(), req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, pairing.calls)

	req = httptest.NewRequest(http.MethodGet, "/get-pair-code?number=1", nil)
	req.Header.Set(TokenHeader, "s3cret")
	rec, _ = do(t, srv.Handler(), req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/pair", strings.NewReader(`{"number":"1"}`))
	req.Header.Set("Authorization", "Bearer s3cret")
	req.Header.Set("Content-Type", "application/json")
	rec, _ = do(t, srv.Handler(), req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, srv.Handler(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "health stays open")
}

func TestSessionsAndHealth(t *testing.T) {
	t.Parallel()

	connectedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	sessions := stubSessions{
		{ID: "1", State: domain.StateConnected, Registered: true, Account: "1@s.whatsapp.net", ConnectedAt: connectedAt},
		{ID: "2", State: domain.StateReconnecting, RetryCount: 3, LastDisconnectReason: domain.DisconnectConnectionLost},
	}
	srv := newTestServer(&stubPairing{}, sessions, "token")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Sessions []SessionView `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Sessions, 2)
	assert.Equal(t, "connected", list.Sessions[0].State)
	require.NotNil(t, list.Sessions[0].ConnectedAt)
	assert.True(t, connectedAt.Equal(*list.Sessions[0].ConnectedAt))
	assert.Nil(t, list.Sessions[1].ConnectedAt)
	assert.Equal(t, 3, list.Sessions[1].RetryCount)
	assert.Equal(t, "connection_lost", list.Sessions[1].LastDisconnectReason)

	rec2, body := do(t, srv.Handler(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec2.Code)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 2, body["sessions"])
	assert.Equal(t, "test", body["version"])
}

func TestIndexAndMetrics(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&stubPairing{}, stubSessions{}, "")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/get-pair-code")

	srv.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "msd_http_requests_total")
}

func TestCORSPreflightForConfiguredOrigin(t *testing.T) {
	t.Parallel()

	srv := New(&stubPairing{}, stubSessions{}, Options{
		CORSOrigins: []string{"https://pair.example.com"},
		Logger:      zerolog.Nop(),
	})

	req := httptest.NewRequest(http.MethodOptions, "/get-pair-code", nil)
	req.Header.Set("Origin", "https://pair.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "https://pair.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServeStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := newTestServer(&stubPairing{}, stubSessions{}, "")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
