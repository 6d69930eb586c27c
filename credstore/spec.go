// Package credstore implements the read-only, file-backed credential
// containers described by the hot-reload provider: a text descriptor
// (Spec) pointing at a credential data file and its optional password
// files, and a Store that parses that data file and re-parses it on
// demand when the coordinator tells it the file changed.
package credstore

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// DefaultFormatTag is used when a Spec's text form omits
// "keystore.algorithm".
const DefaultFormatTag = "PKCS12"

// Spec is the parsed descriptor of one watched credential set: where its
// data file lives, what format it is in, and where to find the passwords
// needed to open it. Specs are immutable after construction.
type Spec struct {
	FormatTag     string
	DataPath      string
	PasswordPath  *string
	KeypassPath   *string

	// marker is a random per-instance identity token embedded as a comment
	// in the serialized text form, so two Specs with identical fields still
	// serialize to different text. The ReloadCoordinator uses this to match
	// an opaque, externally-surfaced store handle back to its own
	// registered Store by comparing serialized spec text (see reload
	// package and DESIGN.md).
	marker [8]byte
}

// NewSpec builds a Spec from explicit fields, validating that dataPath
// (and, if set, passwordPath/keypassPath) are readable regular files. The
// format tag defaults to DefaultFormatTag when empty.
func NewSpec(formatTag, dataPath string, passwordPath, keypassPath *string) (*Spec, error) {
	if formatTag == "" {
		formatTag = DefaultFormatTag
	}
	if err := requireReadableRegularFile(dataPath); err != nil {
		return nil, fmt.Errorf("credstore: data file: %w", err)
	}
	if passwordPath != nil {
		if err := requireReadableRegularFile(*passwordPath); err != nil {
			return nil, fmt.Errorf("credstore: password file: %w", err)
		}
	}
	if keypassPath != nil {
		if err := requireReadableRegularFile(*keypassPath); err != nil {
			return nil, fmt.Errorf("credstore: keypass file: %w", err)
		}
	}

	s := &Spec{
		FormatTag:    formatTag,
		DataPath:     dataPath,
		PasswordPath: passwordPath,
		KeypassPath:  keypassPath,
	}
	if _, err := rand.Read(s.marker[:]); err != nil {
		return nil, fmt.Errorf("credstore: generating spec identity marker: %w", err)
	}
	return s, nil
}

func requireReadableRegularFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s: not a regular file", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%s: not readable: %w", path, err)
	}
	f.Close()
	return nil
}

// ParseSpec reads the line-oriented "key=value" text form described in
// spec.md §6 from r, decoding it as ISO-8859-1 (the legacy encoding the
// format is pinned to for interoperability with older keystore tooling).
// Recognized keys: location (required), keystore.algorithm (optional),
// password.location (optional), keypass.location (optional). Lines
// starting with "#" are comments and ignored on parse, including any
// marker comment emitted by WriteTo.
func ParseSpec(r io.Reader) (*Spec, error) {
	decoded, err := decodeISO88591(r)
	if err != nil {
		return nil, fmt.Errorf("credstore: decoding spec text: %w", err)
	}

	var location, formatTag, passwordLocation, keypassLocation string
	haveLocation := false

	scanner := bufio.NewScanner(strings.NewReader(decoded))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("credstore: malformed spec line %q", line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "location":
			location = value
			haveLocation = true
		case "keystore.algorithm":
			formatTag = value
		case "password.location":
			passwordLocation = value
		case "keypass.location":
			keypassLocation = value
		default:
			return nil, fmt.Errorf("credstore: unknown spec key %q", key)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("credstore: scanning spec text: %w", err)
	}
	if !haveLocation {
		return nil, fmt.Errorf("credstore: spec text missing required %q key", "location")
	}

	var passwordPath, keypassPath *string
	if passwordLocation != "" {
		passwordPath = &passwordLocation
	}
	if keypassLocation != "" {
		keypassPath = &keypassLocation
	}

	return NewSpec(formatTag, location, passwordPath, keypassPath)
}

// WriteTo serializes the spec back to the text form ParseSpec accepts,
// encoded as ISO-8859-1, including a unique "# marker:<hex>" comment line
// that makes serialize(a) != serialize(b) for any two Specs a != b even
// when every other field matches.
func (s *Spec) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "# marker:%s\n", hex.EncodeToString(s.marker[:]))
	fmt.Fprintf(&b, "location=%s\n", s.DataPath)
	fmt.Fprintf(&b, "keystore.algorithm=%s\n", s.FormatTag)
	if s.PasswordPath != nil {
		fmt.Fprintf(&b, "password.location=%s\n", *s.PasswordPath)
	}
	if s.KeypassPath != nil {
		fmt.Fprintf(&b, "keypass.location=%s\n", *s.KeypassPath)
	}

	encoded, err := encodeISO88591(b.String())
	if err != nil {
		return 0, fmt.Errorf("credstore: encoding spec text: %w", err)
	}
	n, err := w.Write(encoded)
	return int64(n), err
}

// Serialize is a convenience wrapper around WriteTo returning the text
// form directly; used by the reload coordinator to compare specs by
// serialized identity.
func (s *Spec) Serialize() (string, error) {
	var b strings.Builder
	if _, err := s.WriteTo(&b); err != nil {
		return "", err
	}
	return b.String(), nil
}

func decodeISO88591(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

func encodeISO88591(s string) ([]byte, error) {
	return charmap.ISO8859_1.NewEncoder().Bytes([]byte(s))
}
