package reload

import (
	"weak"

	"github.com/dskow/tls-hotreload/credstore"
)

// Listener is any consumer that reacts to a credential reload — a
// ReloadableKeySelector, ReloadableTrustValidator, or ResettableTlsContext
// in the tlscred package. UnderlyingStores exposes which credstore.Store
// instances the listener depends on; OnReloaded is the reload callback,
// invoked each time any one of those stores reloads successfully.
type Listener interface {
	UnderlyingStores() []*credstore.Store
	OnReloaded()
}

// weakListener holds a type-erased weak reference to a concrete Listener
// implementation, constructed by newWeakListener. Storing listeners
// weakly is what lets a consumer that's no longer reachable elsewhere be
// evicted without the coordinator leaking it (spec.md §8: "a
// garbage-collected listener is never called").
type weakListener struct {
	get func() Listener
}

// newWeakListener builds a weakListener from a pointer l of concrete type
// T whose pointer type PT implements Listener. The two-type-parameter
// shape (T plus PT constrained to *T) is the standard Go idiom for "take
// a weak reference to whatever pointer-receiver type implements this
// interface" — weak.Pointer is only defined over concrete pointee types,
// not interfaces, so the interface value has to be reconstructed from the
// recovered *T on every access.
func newWeakListener[T any, PT interface {
	*T
	Listener
}](l PT) weakListener {
	ptr := (*T)(l)
	wp := weak.Make(ptr)
	return weakListener{
		get: func() Listener {
			p := wp.Value()
			if p == nil {
				return nil
			}
			return PT(p)
		},
	}
}
