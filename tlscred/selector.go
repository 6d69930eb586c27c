package tlscred

import (
	"fmt"
	"sync/atomic"

	"github.com/dskow/tls-hotreload/credstore"
	"github.com/dskow/tls-hotreload/reload"
)

// ReloadableKeySelector wraps a *credstore.Store as a KeySelector whose
// alias choice and key/certificate lookups always consult the store's
// current generation. It implements reload.Listener itself; it has no
// state to swap beyond the store it already reads through, and it holds
// no alias cache, so a reload leaves nothing here to invalidate.
type ReloadableKeySelector struct {
	store        *credstore.Store
	defaultAlias atomic.Pointer[string]
}

// NewReloadableKeySelector builds a selector over store, defaulting
// ChooseAlias to defaultAlias until an explicit SetDefaultAlias call
// changes it; a reload does not change it.
func NewReloadableKeySelector(store *credstore.Store, defaultAlias string) *ReloadableKeySelector {
	s := &ReloadableKeySelector{store: store}
	s.defaultAlias.Store(&defaultAlias)
	return s
}

// SetDefaultAlias changes which alias ChooseAlias returns, atomically.
func (s *ReloadableKeySelector) SetDefaultAlias(alias string) {
	s.defaultAlias.Store(&alias)
}

// ChooseAlias implements KeySelector. keyType is accepted for interface
// parity with host key managers but is not used to filter: credstore's
// current generation is not indexed by key algorithm.
func (s *ReloadableKeySelector) ChooseAlias(keyType string) (string, error) {
	alias := *s.defaultAlias.Load()
	ok, err := s.store.IsKeyEntry(alias)
	if err != nil {
		return "", fmt.Errorf("tlscred: choosing alias: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("tlscred: alias %q is not a key entry", alias)
	}
	return alias, nil
}

// Certificate implements KeySelector.
func (s *ReloadableKeySelector) Certificate(alias string) (*credstore.ParsedEntry, error) {
	return s.store.Certificate(alias)
}

// PrivateKey implements KeySelector. credstore stores key material
// alongside its certificate chain in ParsedEntry, so this is the same
// lookup as Certificate for a key entry.
func (s *ReloadableKeySelector) PrivateKey(alias string) (*credstore.ParsedEntry, error) {
	return s.store.Key(alias)
}

// UnderlyingStores implements reload.Listener.
func (s *ReloadableKeySelector) UnderlyingStores() []*credstore.Store {
	return []*credstore.Store{s.store}
}

// OnReloaded implements reload.Listener. There is no cached state to
// invalidate beyond what the store itself already swapped; a
// ResettableContext watching the same store is what actually resets
// live engines (see context.go).
func (s *ReloadableKeySelector) OnReloaded() {}

var _ reload.Listener = (*ReloadableKeySelector)(nil)

// ReloadableTrustValidator wraps a *credstore.Store as a TrustValidator:
// every chain presented is checked against the store's current set of
// certificate-only (trust) entries by exact leaf-certificate match.
type ReloadableTrustValidator struct {
	store *credstore.Store
}

// NewReloadableTrustValidator builds a validator over store.
func NewReloadableTrustValidator(store *credstore.Store) *ReloadableTrustValidator {
	return &ReloadableTrustValidator{store: store}
}

// IsTrusted implements TrustValidator: chain[0] (the leaf) must match a
// certificate-only entry's leaf in the store's current generation.
func (v *ReloadableTrustValidator) IsTrusted(chain [][]byte) error {
	if len(chain) == 0 {
		return fmt.Errorf("tlscred: empty certificate chain")
	}
	alias, err := v.store.CertificateAlias(chain[0])
	if err != nil {
		return fmt.Errorf("tlscred: untrusted certificate: %w", err)
	}
	isCert, err := v.store.IsCertificateEntry(alias)
	if err != nil {
		return fmt.Errorf("tlscred: validating %q: %w", alias, err)
	}
	if !isCert {
		return fmt.Errorf("tlscred: alias %q is not a trust entry", alias)
	}
	return nil
}

// UnderlyingStores implements reload.Listener.
func (v *ReloadableTrustValidator) UnderlyingStores() []*credstore.Store {
	return []*credstore.Store{v.store}
}

// OnReloaded implements reload.Listener; see ReloadableKeySelector.OnReloaded.
func (v *ReloadableTrustValidator) OnReloaded() {}

var _ reload.Listener = (*ReloadableTrustValidator)(nil)
