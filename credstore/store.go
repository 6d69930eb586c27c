package credstore

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// generation is the current parsed credential set. Store swaps this
// pointer atomically on reload so readers always see a complete,
// internally-consistent snapshot.
type generation struct {
	entries map[string]ParsedEntry
}

// Store is a read-only credential container whose Load step consumes a
// Spec — a descriptor of where the real credentials live — rather than
// the credential bytes themselves. ReloadFromDisk re-reads the spec's
// data file (and, if configured, its password files) and atomically
// swaps in a fresh generation. All mutation methods return ErrReadOnly.
type Store struct {
	registry *ParserRegistry

	mu   sync.RWMutex
	spec *Spec
	gen  *generation
}

// NewStore creates an unloaded Store bound to registry, which resolves a
// Spec's format tag to the Parser that understands it.
func NewStore(registry *ParserRegistry) *Store {
	return &Store{registry: registry}
}

// Load parses the descriptor read from r (the Spec text form, see
// ParseSpec), performs the first ReloadFromDisk, and — on success —
// leaves the store ready to serve. If parsing or the first load fails,
// the error propagates unchanged and the store is left unloaded; per
// spec.md §7 this first-load error is never wrapped further by a
// coordinator boundary the way later reload errors are.
func (s *Store) Load(r io.Reader) error {
	spec, err := ParseSpec(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.spec = spec
	s.mu.Unlock()

	return s.ReloadFromDisk()
}

// Spec returns the store's descriptor. Returns nil if Load has not been
// called.
func (s *Store) Spec() *Spec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.spec
}

// ReloadFromDisk re-reads the store's password (if PasswordPath is set),
// the private-key password (if KeypassPath is set), and the data file
// itself, then atomically swaps in the freshly parsed generation. On
// failure the previous generation is preserved and the error (wrapped
// with the data path, or a *ParseError when the parser rejects the data)
// is returned for the caller (coordinator, listener, or test) to log and
// swallow as appropriate.
func (s *Store) ReloadFromDisk() error {
	s.mu.RLock()
	spec := s.spec
	s.mu.RUnlock()
	if spec == nil {
		return ErrNotStarted
	}

	var password, keyPassword string
	if spec.PasswordPath != nil {
		pw, err := ReadPasswordFile(*spec.PasswordPath)
		if err != nil {
			return fmt.Errorf("credstore: reloading %s: %w", spec.DataPath, err)
		}
		password = pw
	}
	if spec.KeypassPath != nil {
		kp, err := ReadPasswordFile(*spec.KeypassPath)
		if err != nil {
			return fmt.Errorf("credstore: reloading %s: %w", spec.DataPath, err)
		}
		keyPassword = kp
	} else {
		keyPassword = password
	}

	data, err := os.ReadFile(spec.DataPath)
	if err != nil {
		return fmt.Errorf("credstore: reloading %s: %w", spec.DataPath, err)
	}

	parser, err := s.registry.Lookup(spec.FormatTag)
	if err != nil {
		return fmt.Errorf("credstore: reloading %s: %w", spec.DataPath, err)
	}

	entries, err := parser.Parse(data, password, keyPassword)
	if err != nil {
		return &ParseError{FormatTag: spec.FormatTag, Path: spec.DataPath, Cause: err}
	}

	s.mu.Lock()
	s.gen = &generation{entries: entries}
	s.mu.Unlock()
	return nil
}

func (s *Store) currentGeneration() (*generation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.gen == nil {
		return nil, ErrNotStarted
	}
	return s.gen, nil
}

// Key returns the private key material for alias, or ErrUnknownAlias if
// no such key entry exists in the current generation.
func (s *Store) Key(alias string) (*ParsedEntry, error) {
	gen, err := s.currentGeneration()
	if err != nil {
		return nil, err
	}
	entry, ok := gen.entries[alias]
	if !ok || !entry.IsKey {
		return nil, fmt.Errorf("credstore: key %q: %w", alias, ErrUnknownAlias)
	}
	return &entry, nil
}

// CertificateChain returns the certificate chain for alias.
func (s *Store) CertificateChain(alias string) ([]byte, error) {
	gen, err := s.currentGeneration()
	if err != nil {
		return nil, err
	}
	entry, ok := gen.entries[alias]
	if !ok {
		return nil, fmt.Errorf("credstore: certificate chain %q: %w", alias, ErrUnknownAlias)
	}
	var chain []byte
	for _, c := range entry.Certificates {
		for _, der := range c.Certificate {
			chain = append(chain, der...)
		}
	}
	return chain, nil
}

// Certificate returns the leaf certificate for alias.
func (s *Store) Certificate(alias string) (*ParsedEntry, error) {
	gen, err := s.currentGeneration()
	if err != nil {
		return nil, err
	}
	entry, ok := gen.entries[alias]
	if !ok {
		return nil, fmt.Errorf("credstore: certificate %q: %w", alias, ErrUnknownAlias)
	}
	return &entry, nil
}

// CreationDate returns the creation timestamp recorded for alias.
func (s *Store) CreationDate(alias string) (time.Time, error) {
	gen, err := s.currentGeneration()
	if err != nil {
		return time.Time{}, err
	}
	entry, ok := gen.entries[alias]
	if !ok {
		return time.Time{}, fmt.Errorf("credstore: creation date %q: %w", alias, ErrUnknownAlias)
	}
	return entry.CreatedAt, nil
}

// Aliases returns every alias present in the current generation.
func (s *Store) Aliases() ([]string, error) {
	gen, err := s.currentGeneration()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(gen.entries))
	for alias := range gen.entries {
		out = append(out, alias)
	}
	return out, nil
}

// ContainsAlias reports whether alias is present in the current
// generation.
func (s *Store) ContainsAlias(alias string) (bool, error) {
	gen, err := s.currentGeneration()
	if err != nil {
		return false, err
	}
	_, ok := gen.entries[alias]
	return ok, nil
}

// Size returns the number of entries in the current generation.
func (s *Store) Size() (int, error) {
	gen, err := s.currentGeneration()
	if err != nil {
		return 0, err
	}
	return len(gen.entries), nil
}

// IsKeyEntry reports whether alias names a key entry.
func (s *Store) IsKeyEntry(alias string) (bool, error) {
	gen, err := s.currentGeneration()
	if err != nil {
		return false, err
	}
	entry, ok := gen.entries[alias]
	return ok && entry.IsKey, nil
}

// IsCertificateEntry reports whether alias names a certificate-only
// entry.
func (s *Store) IsCertificateEntry(alias string) (bool, error) {
	gen, err := s.currentGeneration()
	if err != nil {
		return false, err
	}
	entry, ok := gen.entries[alias]
	return ok && !entry.IsKey, nil
}

// CertificateAlias returns the alias of a certificate-only entry whose
// leaf certificate matches der, mirroring the host keystore API's
// reverse lookup. If several such entries match, which alias is returned
// is not defined.
func (s *Store) CertificateAlias(der []byte) (string, error) {
	gen, err := s.currentGeneration()
	if err != nil {
		return "", err
	}
	for alias, entry := range gen.entries {
		if entry.IsKey {
			continue
		}
		for _, c := range entry.Certificates {
			if len(c.Certificate) > 0 && string(c.Certificate[0]) == string(der) {
				return alias, nil
			}
		}
	}
	return "", fmt.Errorf("credstore: certificate alias: %w", ErrUnknownAlias)
}

// WriteSpec serializes this store's descriptor — not its parsed
// credentials — back to w, using Spec.WriteTo.
func (s *Store) WriteSpec(w io.Writer) error {
	spec := s.Spec()
	if spec == nil {
		return ErrNotStarted
	}
	_, err := spec.WriteTo(w)
	return err
}

// SetKeyEntry always fails: Store is read-only.
func (s *Store) SetKeyEntry(string, *ParsedEntry) error { return ErrReadOnly }

// SetCertificateEntry always fails: Store is read-only.
func (s *Store) SetCertificateEntry(string, *ParsedEntry) error { return ErrReadOnly }

// DeleteEntry always fails: Store is read-only.
func (s *Store) DeleteEntry(string) error { return ErrReadOnly }
