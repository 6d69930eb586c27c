package tlscred

import (
	"io"
	"log/slog"
	"sync"
	"weak"

	"github.com/dskow/tls-hotreload/credstore"
	"github.com/dskow/tls-hotreload/internal/metrics"
	"github.com/dskow/tls-hotreload/reload"
)

// engineHandle wraps a host-supplied Engine so ResettableContext can
// hold a weak reference to every engine it has minted without keeping
// any of them alive itself — the caller that received the Engine from
// CreateEngine/CreateEngineFor is the only strong owner.
type engineHandle struct {
	Engine
}

// ResettableContext wraps a host Context, tracking every Engine it
// mints so a credential reload can walk the live set and reset each one
// in place (spec.md §4.6) instead of requiring callers to recreate
// their engines after every rotation.
type ResettableContext struct {
	delegate Context
	logger   *slog.Logger

	mu      sync.Mutex
	engines []weak.Pointer[engineHandle]
}

// NewResettableContext wraps delegate. logger may be nil.
func NewResettableContext(delegate Context, logger *slog.Logger) *ResettableContext {
	return &ResettableContext{delegate: delegate, logger: logger}
}

// Init implements Context. It rejects delegate immediately with
// ErrStreamUnsupported if delegate also implements StreamContext and
// reports StreamModeSupported() as true: the
// type system enforces the stream-socket exclusion rather than leaving
// a stream-mode method unimplemented.
func (r *ResettableContext) Init(selector KeySelector, validator TrustValidator, random io.Reader) error {
	if sc, ok := r.delegate.(StreamContext); ok && sc.StreamModeSupported() {
		return ErrStreamUnsupported
	}
	return r.delegate.Init(selector, validator, random)
}

// CreateEngine implements Context, tracking the minted engine for reset.
func (r *ResettableContext) CreateEngine() (Engine, error) {
	e, err := r.delegate.CreateEngine()
	if err != nil {
		return nil, err
	}
	return r.track(e), nil
}

// CreateEngineFor implements Context, tracking the minted engine for reset.
func (r *ResettableContext) CreateEngineFor(host string, port int) (Engine, error) {
	e, err := r.delegate.CreateEngineFor(host, port)
	if err != nil {
		return nil, err
	}
	return r.track(e), nil
}

func (r *ResettableContext) track(e Engine) Engine {
	handle := &engineHandle{Engine: e}
	r.mu.Lock()
	r.engines = append(r.engines, weak.Make(handle))
	r.mu.Unlock()
	return handle
}

// ClientSessionCache implements Context.
func (r *ResettableContext) ClientSessionCache() SessionCache {
	return r.delegate.ClientSessionCache()
}

// ServerSessionCache implements Context.
func (r *ResettableContext) ServerSessionCache() SessionCache {
	return r.delegate.ServerSessionCache()
}

// Reset runs the spec.md §4.6 reset procedure over every live engine:
// an engine whose outbound side is already done is skipped; every other
// engine has its session invalidated, and then engines whose
// NegotiatedProtocol is TLS 1.3 or later get CloseOutbound, while
// everything else (including an engine with no negotiated protocol yet)
// gets BeginHandshake. It also invalidates both session caches so no resumed
// session carries forward stale credentials. A per-engine error is
// logged and does not stop the sweep over the remaining engines.
func (r *ResettableContext) Reset() {
	r.mu.Lock()
	live := make([]*engineHandle, 0, len(r.engines))
	alive := r.engines[:0]
	for _, wp := range r.engines {
		if h := wp.Value(); h != nil {
			live = append(live, h)
			alive = append(alive, wp)
		}
	}
	r.engines = alive
	r.mu.Unlock()

	if cache := r.delegate.ClientSessionCache(); cache != nil {
		cache.Invalidate()
		metrics.SessionCacheInvalidationsTotal.WithLabelValues("client").Inc()
	}
	if cache := r.delegate.ServerSessionCache(); cache != nil {
		cache.Invalidate()
		metrics.SessionCacheInvalidationsTotal.WithLabelValues("server").Inc()
	}

	for _, h := range live {
		r.resetEngine(h)
	}
}

func (r *ResettableContext) resetEngine(h *engineHandle) {
	if h.IsOutboundDone() {
		return
	}
	h.InvalidateSession()

	var err error
	var action string
	if isTLS13OrLater(h.NegotiatedProtocol()) {
		action = "close_outbound"
		err = h.CloseOutbound()
	} else {
		action = "begin_handshake"
		err = h.BeginHandshake()
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if r.logger != nil {
			r.logger.Error("tlscred: engine reset failed", "error", err)
		}
	}
	metrics.EngineResetsTotal.WithLabelValues(action, outcome).Inc()
}

// isTLS13OrLater reports whether protocol (as returned by
// Engine.NegotiatedProtocol) names TLS 1.3 or later: the version at and
// beyond which a reset should close the outbound direction and force a
// fresh handshake on next use rather than renegotiating in place. An
// engine that hasn't negotiated a version yet (protocol == "") or that
// reports a pre-1.3 version is handled with BeginHandshake directly.
func isTLS13OrLater(protocol string) bool {
	switch protocol {
	case "", "TLSv1", "TLSv1.1", "TLSv1.2":
		return false
	default:
		return true
	}
}

// AsListener returns a reload.Listener view of r scoped to stores: when
// any of those stores reload, r.Reset runs. Use with
// reload.Listen(coordinator, ctx.AsListener(store1, store2)).
func (r *ResettableContext) AsListener(stores ...*credstore.Store) *ListenerAdapter {
	return &ListenerAdapter{ctx: r, stores: stores}
}

// ListenerAdapter is the reload.Listener implementation returned by
// ResettableContext.AsListener.
type ListenerAdapter struct {
	ctx    *ResettableContext
	stores []*credstore.Store
}

// UnderlyingStores implements reload.Listener.
func (a *ListenerAdapter) UnderlyingStores() []*credstore.Store { return a.stores }

// OnReloaded implements reload.Listener.
func (a *ListenerAdapter) OnReloaded() { a.ctx.Reset() }

var _ reload.Listener = (*ListenerAdapter)(nil)
