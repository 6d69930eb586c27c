package credstore

import (
	"crypto/tls"
	"fmt"
	"os"
	"strings"
	"time"
)

// ParsedEntry is one credential entry recovered from a data file: either a
// key entry (certificate chain + private key) or a trust/certificate-only
// entry. Real PKCS#12/JKS decoding is an external collaborator (spec.md
// §1 Non-goals); this type is what any Parser implementation must
// produce for Store to serve.
type ParsedEntry struct {
	Alias        string
	IsKey        bool
	Certificates []tls.Certificate // len 1 for a certificate-only entry
	CreatedAt    time.Time
}

// Parser decodes the bytes of a credential data file, given the password
// that protects it (and, for key entries, a possibly distinct private-key
// password), into a set of aliased entries. Parser implementations for
// real formats (PKCS#12, JKS, ...) are external collaborators; credstore
// only defines this seam and ships one minimal default (see PEMParser).
type Parser interface {
	Parse(data []byte, password, keyPassword string) (map[string]ParsedEntry, error)
}

// ParserRegistry maps a Spec's format tag to the Parser that understands
// it.
type ParserRegistry struct {
	parsers map[string]Parser
}

// NewParserRegistry returns a registry pre-populated with the bundled
// "PEM" parser. Callers register additional format tags (notably
// "PKCS12"/"JKS") with Register.
func NewParserRegistry() *ParserRegistry {
	r := &ParserRegistry{parsers: make(map[string]Parser)}
	r.Register("PEM", PEMParser{})
	return r
}

// Register installs p as the parser for formatTag, replacing any previous
// registration.
func (r *ParserRegistry) Register(formatTag string, p Parser) {
	r.parsers[formatTag] = p
}

// Lookup returns the parser registered for formatTag, or ErrNoParser if
// none has been registered — this is the expected outcome for "PKCS12"
// and "JKS" until a caller plugs in a real decoder.
func (r *ParserRegistry) Lookup(formatTag string) (Parser, error) {
	p, ok := r.parsers[formatTag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoParser, formatTag)
	}
	return p, nil
}

// PEMParser is the bundled default Parser. It treats the data file as a
// single PEM-encoded certificate chain followed by a PEM-encoded private
// key (the same shape crypto/tls.X509KeyPair expects), registering the
// result under the alias "default". It ignores the store password: PEM
// private keys in this minimal default are assumed unencrypted, matching
// the scope of a runnable reference implementation rather than a
// production PKCS#12 replacement.
type PEMParser struct{}

// Parse implements Parser. data must contain both the certificate PEM
// block(s) and the key PEM block, e.g. the concatenation of a cert file
// and a key file as tls.X509KeyPair would read them.
func (PEMParser) Parse(data []byte, _ string, _ string) (map[string]ParsedEntry, error) {
	certPEM, keyPEM, err := splitCertAndKeyPEM(data)
	if err != nil {
		return nil, err
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	return map[string]ParsedEntry{
		"default": {
			Alias:        "default",
			IsKey:        true,
			Certificates: []tls.Certificate{cert},
			CreatedAt:    time.Now(),
		},
	}, nil
}

// ParsePEMFiles is a convenience constructor used by callers (and tests)
// who keep certificate and key material in separate files on disk, as
// the teacher's tlsutil.CertLoader did, rather than concatenated into a
// single data file.
func ParsePEMFiles(certFile, keyFile string) (map[string]ParsedEntry, error) {
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("credstore: reading cert file: %w", err)
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("credstore: reading key file: %w", err)
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("credstore: parsing PEM key pair: %w", err)
	}
	return map[string]ParsedEntry{
		"default": {
			Alias:        "default",
			IsKey:        true,
			Certificates: []tls.Certificate{cert},
			CreatedAt:    time.Now(),
		},
	}, nil
}

const (
	pemCertMarker = "-----BEGIN CERTIFICATE-----"
	pemKeyMarker  = "PRIVATE KEY-----"
	pemBeginLine  = "-----BEGIN"
)

// splitCertAndKeyPEM splits a single buffer holding one or more
// certificate PEM blocks followed by a private-key PEM block into its two
// halves, at the "-----BEGIN" line of the first private-key block.
func splitCertAndKeyPEM(data []byte) (certPEM, keyPEM []byte, err error) {
	s := string(data)
	firstCert := strings.Index(s, pemCertMarker)
	if firstCert < 0 {
		return nil, nil, fmt.Errorf("credstore: no PEM certificate block found")
	}
	rest := s[firstCert+len(pemCertMarker):]
	keyOffset := strings.Index(rest, pemKeyMarker)
	if keyOffset < 0 {
		return nil, nil, fmt.Errorf("credstore: no PEM private key block found")
	}
	secondOffset := strings.LastIndex(rest[:keyOffset], pemBeginLine)
	if secondOffset < 0 {
		return nil, nil, fmt.Errorf("credstore: no PEM private key block found")
	}
	secondBegin := firstCert + len(pemCertMarker) + secondOffset
	return []byte(s[firstCert:secondBegin]), []byte(s[secondBegin:]), nil
}
