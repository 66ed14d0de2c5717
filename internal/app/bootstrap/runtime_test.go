package bootstrap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	appconfig "github.com/wolfman30/clinic-voice-platform/internal/config"
	"github.com/wolfman30/clinic-voice-platform/pkg/logging"
)

func TestBuildRedisClientDisabledWithoutAddr(t *testing.T) {
	if client := BuildRedisClient(context.Background(), &appconfig.Config{}, logging.New("error"), true); client != nil {
		t.Fatalf("expected nil client when REDIS_ADDR is empty")
	}
	if client := BuildRedisClient(context.Background(), nil, logging.New("error"), true); client != nil {
		t.Fatalf("expected nil client for nil config")
	}
}

func TestBuildRedisClientVerifiesConnection(t *testing.T) {
	mr := miniredis.RunT(t)

	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, logging.New("error"), true)
	if client == nil {
		t.Fatalf("expected client for reachable redis")
	}
	_ = client.Close()

	addr := mr.Addr()
	mr.Close()
	if client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: addr}, logging.New("error"), true); client != nil {
		t.Fatalf("expected nil client when ping fails")
	}
}

func TestConnectPostgresEmptyURLReturnsNil(t *testing.T) {
	pool, db, err := ConnectPostgres(context.Background(), "", logging.New("error"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pool != nil || db != nil {
		t.Fatalf("expected nil handles for empty URL")
	}
}

func TestBuildMetricsExposesVoiceMetrics(t *testing.T) {
	handler, vm := BuildMetrics()
	if handler == nil || vm == nil {
		t.Fatalf("expected non-nil handler and metrics")
	}

	vm.ObserveAdmission("bridge")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "clinicvoice_admission_decisions_total") {
		t.Fatalf("expected admission counter to be exported")
	}
}
