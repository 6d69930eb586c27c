package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestInit_RegistersMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		ReloadsTotal,
		ReloadDuration,
		ListenersNotifiedTotal,
		DebounceEventsRaw,
		DebounceEventsDelivered,
		EngineResetsTotal,
		SessionCacheInvalidationsTotal,
		WatchedStores,
	)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	_ = families
}

func TestReloadsTotal_Increment(t *testing.T) {
	ReloadsTotal.WithLabelValues("/etc/creds/frontend.spec", "success").Inc()
	ReloadsTotal.WithLabelValues("/etc/creds/frontend.spec", "failure").Inc()
	ReloadsTotal.WithLabelValues("/etc/creds/frontend.spec", "success").Add(0)
}

func TestReloadDuration_Observe(t *testing.T) {
	ReloadDuration.WithLabelValues("/etc/creds/frontend.spec").Observe(0.05)
}

func TestListenersNotifiedTotal_Increment(t *testing.T) {
	ListenersNotifiedTotal.WithLabelValues("ok").Inc()
	ListenersNotifiedTotal.WithLabelValues("panic").Inc()
}

func TestDebounceEvents_Increment(t *testing.T) {
	DebounceEventsRaw.WithLabelValues("/etc/creds/frontend.spec").Inc()
	DebounceEventsDelivered.WithLabelValues("/etc/creds/frontend.spec").Inc()
}

func TestEngineResetsTotal_Increment(t *testing.T) {
	EngineResetsTotal.WithLabelValues("close_outbound", "ok").Inc()
	EngineResetsTotal.WithLabelValues("begin_handshake", "error").Inc()
}

func TestSessionCacheInvalidationsTotal_Increment(t *testing.T) {
	SessionCacheInvalidationsTotal.WithLabelValues("client").Inc()
	SessionCacheInvalidationsTotal.WithLabelValues("server").Inc()
}

func TestWatchedStores_Set(t *testing.T) {
	WatchedStores.Set(3)
	WatchedStores.Set(2)
}

func TestHandler_ReturnsPrometheusFormat(t *testing.T) {
	Init()

	ReloadsTotal.WithLabelValues("/test", "success").Inc()

	h := Handler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	body, _ := io.ReadAll(rec.Body)
	bodyStr := string(body)

	if !strings.Contains(bodyStr, "credreloadd_reloads_total") {
		t.Error("expected credreloadd_reloads_total in metrics output")
	}
	if !strings.Contains(bodyStr, "credreloadd_reload_duration_seconds") {
		t.Error("expected credreloadd_reload_duration_seconds in metrics output")
	}
	if !strings.Contains(bodyStr, "credreloadd_watched_stores") {
		t.Error("expected credreloadd_watched_stores in metrics output")
	}
}
