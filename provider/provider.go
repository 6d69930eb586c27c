// Package provider implements the crypto-provider-style registration
// surface for the dynamic algorithm implementations this module
// supplies: a name-keyed lookup table a host security provider consults
// the same way a JCA Provider consults its own service table, restated
// here as a small Go registry instead of a provider subclass.
package provider

import "fmt"

// AlgorithmName enumerates the algorithm/service names this module
// registers implementations under.
type AlgorithmName string

const (
	DynamicKeystore  AlgorithmName = "DynamicKeystore"
	ReloadableX509   AlgorithmName = "ReloadableX509"
	ReloadablePKIX   AlgorithmName = "ReloadablePKIX"
	ReloadableSimple AlgorithmName = "ReloadableSimple"
	TLSv1            AlgorithmName = "TLSv1"
	TLSv1_1          AlgorithmName = "TLSv1.1"
	TLSv1_2          AlgorithmName = "TLSv1.2"
	TLSv1_3          AlgorithmName = "TLSv1.3"
	TLS              AlgorithmName = "TLS"
	Default          AlgorithmName = "Default"
)

// ChainPosition controls how a registered Factory interacts with a host
// provider's own default lookups for the same AlgorithmName.
type ChainPosition int

const (
	// Head intercepts default lookups: a Head registration is returned
	// before any host-default implementation for the same name.
	Head ChainPosition = iota
	// Tail is available only when explicitly requested by this
	// module's own registry (a host default lookup never reaches it).
	Tail
)

// Factory constructs a named algorithm implementation on demand. The
// concrete value it returns is opaque to Registry; callers type-assert
// it to whatever interface the AlgorithmName implies (KeySelector,
// TrustValidator, tlscred.Context, ...).
type Factory func() (any, error)

type registration struct {
	factory  Factory
	position ChainPosition
}

// Registry is the service-lookup table a host provider queries by
// AlgorithmName. It is safe for concurrent registration and lookup only
// insofar as the caller serializes RegisterInto/Lookup itself — in
// practice registration happens once at startup before any lookup.
type Registry struct {
	entries map[AlgorithmName][]registration
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[AlgorithmName][]registration)}
}

// RegisterInto installs factory under name at position. Multiple
// factories may be registered under the same name; each Head entry is
// placed in front of those already registered, so the most recently
// registered Head entry is found first, and Tail entries are kept in
// registration order after all Head entries.
func RegisterInto(reg *Registry, name AlgorithmName, position ChainPosition, factory Factory) {
	regs := reg.entries[name]
	if position == Head {
		regs = append([]registration{{factory: factory, position: position}}, regs...)
	} else {
		regs = append(regs, registration{factory: factory, position: position})
	}
	reg.entries[name] = regs
}

// Lookup constructs the most recently registered Head Factory for name.
// Tail registrations are never returned here; see LookupTail.
func (r *Registry) Lookup(name AlgorithmName) (any, error) {
	for _, reg := range r.entries[name] {
		if reg.position == Head {
			return reg.factory()
		}
	}
	return nil, fmt.Errorf("provider: no implementation registered for %q", name)
}

// LookupTail constructs the first Tail-only registration for name,
// bypassing any Head entry a host provider's own default lookup would
// otherwise reach first — used by a caller that explicitly wants this
// module's implementation even when a host default is also registered.
func (r *Registry) LookupTail(name AlgorithmName) (any, error) {
	for _, reg := range r.entries[name] {
		if reg.position == Tail {
			return reg.factory()
		}
	}
	return nil, fmt.Errorf("provider: no tail implementation registered for %q", name)
}
