package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/onlytrade/agent-runtime/internal/journal"
	"github.com/onlytrade/agent-runtime/internal/killswitch"
	"github.com/onlytrade/agent-runtime/internal/marketdata"
	"github.com/onlytrade/agent-runtime/internal/registry"
	"github.com/onlytrade/agent-runtime/pkg/types"
)

type noopProvider struct{}

func (noopProvider) GetFrames() ([]types.Bar, error)            { return nil, nil }
func (noopProvider) GetSymbols() []string                       { return []string{"600000.SH"} }
func (noopProvider) Status() marketdata.ProviderStatus { return marketdata.ProviderStatus{Mode: "noop"} }

func newTestServer(t *testing.T, token string) *Server {
	t.Helper()
	dir := t.TempDir()
	logger := zap.NewNop()

	ks, err := killswitch.New(logger, dir)
	if err != nil {
		t.Fatalf("killswitch.New: %v", err)
	}
	marketSvc := marketdata.NewService(logger, noopProvider{}, nil, false)
	regStore := registry.New(logger, dir)
	journalSt := journal.New(logger, dir)

	return NewServer(logger, types.ServerConfig{WebSocketPath: "/ws", ControlToken: token}, marketSvc, regStore, ks, journalSt, nil, types.SystemClock)
}

func TestHandleHealth_ReturnsHealthy(t *testing.T) {
	s := newTestServer(t, "")
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	s.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestAuthMiddleware_RejectsMissingToken(t *testing.T) {
	s := newTestServer(t, "secret-token")
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/control/kill-switch", nil)
	s.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with no Authorization header, got %d", rr.Code)
	}
}

func TestAuthMiddleware_RejectsWrongToken(t *testing.T) {
	s := newTestServer(t, "secret-token")
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/control/kill-switch", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	s.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with a wrong token, got %d", rr.Code)
	}
}

func TestAuthMiddleware_AcceptsCorrectToken(t *testing.T) {
	s := newTestServer(t, "secret-token")
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/control/kill-switch", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	s.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with the correct token, got %d", rr.Code)
	}
}

func TestAuthMiddleware_OpensUpWhenNoTokenConfigured(t *testing.T) {
	s := newTestServer(t, "")
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/control/kill-switch", nil)
	s.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected an unset control token to leave control routes open, got %d", rr.Code)
	}
}

func TestHandleSymbols_ReturnsProviderSymbols(t *testing.T) {
	s := newTestServer(t, "")
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/market/symbols", nil)
	s.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body := rr.Body.String(); !strings.Contains(body, "600000.SH") {
		t.Fatalf("expected symbol 600000.SH in response, got %s", body)
	}
}

func TestItoa_FormatsPositiveNegativeAndZero(t *testing.T) {
	cases := map[int]string{0: "0", 42: "42", -7: "-7", 8090: "8090"}
	for in, want := range cases {
		if got := itoa(in); got != want {
			t.Fatalf("itoa(%d) = %q, want %q", in, got, want)
		}
	}
}
