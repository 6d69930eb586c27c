// Package metrics provides Prometheus instrumentation for the credential
// reload daemon. All metric collectors are registered on init via the
// Init function and exposed through the Handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ReloadsTotal counts reload attempts per store and outcome
	// ("success" or "failure"), whether triggered by a file-change event
	// or by the admin API's ReloadAll.
	ReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credreloadd_reloads_total",
			Help: "Total credential store reload attempts by store and outcome",
		},
		[]string{"store", "outcome"},
	)

	// ReloadDuration observes how long a single store's ReloadFromDisk
	// call takes.
	ReloadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "credreloadd_reload_duration_seconds",
			Help:    "Time spent reloading a credential store from disk",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"store"},
	)

	// ListenersNotifiedTotal counts OnReloaded callbacks delivered to
	// reload listeners, by outcome ("ok" or "panic").
	ListenersNotifiedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credreloadd_listeners_notified_total",
			Help: "Total reload listener notifications delivered, by outcome",
		},
		[]string{"outcome"},
	)

	// DebounceEventsRaw counts raw file-change events the debouncer
	// received, before coalescing.
	DebounceEventsRaw = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credreloadd_debounce_events_raw_total",
			Help: "Total raw file-change events received by the debouncer",
		},
		[]string{"path"},
	)

	// DebounceEventsDelivered counts file-change events the debouncer
	// actually delivered downstream after coalescing a burst into one.
	DebounceEventsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credreloadd_debounce_events_delivered_total",
			Help: "Total coalesced file-change events delivered to the reload coordinator",
		},
		[]string{"path"},
	)

	// EngineResetsTotal counts TLS engine reset outcomes performed by a
	// ResettableContext, by action taken ("close_outbound" or
	// "begin_handshake") and outcome ("ok" or "error").
	EngineResetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credreloadd_engine_resets_total",
			Help: "Total TLS engine reset operations by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	// SessionCacheInvalidationsTotal counts session cache invalidations
	// performed during a ResettableContext.Reset call.
	SessionCacheInvalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credreloadd_session_cache_invalidations_total",
			Help: "Total session cache invalidations by cache side (client/server)",
		},
		[]string{"side"},
	)

	// WatchedStores reports the current number of stores registered with
	// the reload coordinator.
	WatchedStores = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "credreloadd_watched_stores",
			Help: "Current number of credential stores registered with the reload coordinator",
		},
	)
)

// Init registers all metric collectors with the default Prometheus registry.
// Must be called once at startup before serving the metrics endpoint.
func Init() {
	prometheus.MustRegister(
		ReloadsTotal,
		ReloadDuration,
		ListenersNotifiedTotal,
		DebounceEventsRaw,
		DebounceEventsDelivered,
		EngineResetsTotal,
		SessionCacheInvalidationsTotal,
		WatchedStores,
	)
}

// Handler returns an http.Handler that serves the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
