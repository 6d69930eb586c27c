package credstore

import "errors"

// ErrReadOnly is returned by every Store mutation method. Credential
// material is read-only in memory; writes go through the filesystem and
// arrive via ReloadFromDisk.
var ErrReadOnly = errors.New("credstore: store is read-only, reload from disk instead")

// ErrNoParser is returned by ParserRegistry.Lookup when no Parser is
// registered for a format tag.
var ErrNoParser = errors.New("credstore: no parser registered for format tag")

// ErrUnknownAlias is returned by accessors that address an entry by alias
// when the alias is not present in the current generation.
var ErrUnknownAlias = errors.New("credstore: unknown alias")

// ErrNotStarted is returned when ReloadFromDisk is called before Load has
// ever completed successfully.
var ErrNotStarted = errors.New("credstore: store has not completed an initial load")

// ParseError wraps a failure to parse credential bytes under a declared
// format tag. It is distinct from a filesystem error: the file was read
// fine, but the parser rejected its contents.
type ParseError struct {
	FormatTag string
	Path      string
	Cause     error
}

func (e *ParseError) Error() string {
	return "credstore: parsing " + e.Path + " as " + e.FormatTag + ": " + e.Cause.Error()
}

func (e *ParseError) Unwrap() error { return e.Cause }
