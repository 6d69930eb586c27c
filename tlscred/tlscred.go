// Package tlscred adapts credstore's hot-reloadable credential stores to
// a host TLS stack, modeled as an engine-style (wrap/unwrap, not
// stream-socket) abstraction. tlscred never touches a socket itself; the
// Engine and Context interfaces are the host-supplied collaborator it
// drives through a reload.
package tlscred

import (
	"errors"
	"io"

	"github.com/dskow/tls-hotreload/credstore"
)

// ErrStreamUnsupported is returned by ResettableContext.Init when the
// wrapped Context also implements StreamContext and reports
// StreamModeSupported() as true: stream-socket TLS is
// out of scope here, and a host that exposes it is rejected up front
// rather than silently ignored.
var ErrStreamUnsupported = errors.New("tlscred: stream-socket TLS context is not supported")

// KeySelector is the host-facing seam a Context consults to pick a
// private key / certificate chain for a handshake, analogous to a
// javax.net.ssl X509ExtendedKeyManager's selection half.
type KeySelector interface {
	ChooseAlias(keyType string) (alias string, err error)
	Certificate(alias string) (*credstore.ParsedEntry, error)
	PrivateKey(alias string) (*credstore.ParsedEntry, error)
}

// TrustValidator is the host-facing seam a Context consults to validate
// a peer's certificate chain.
type TrustValidator interface {
	IsTrusted(chain [][]byte) error
}

// HandshakeStatus mirrors the small state machine an engine-style TLS
// abstraction exposes to its driver.
type HandshakeStatus int

const (
	HandshakeNotHandshaking HandshakeStatus = iota
	HandshakeNeedWrap
	HandshakeNeedUnwrap
	HandshakeNeedTask
	HandshakeFinished
)

// Engine is the non-blocking, wrap/unwrap TLS engine a host TLS stack
// supplies — the Go restatement of the "engine-style TLS" abstraction
// this package is built around. tlscred drives Engine through a reset,
// it never implements one: a real implementation belongs to whatever
// host library provides records-in-records-out TLS processing.
type Engine interface {
	Wrap(src []byte, dst []byte) (consumed, produced int, err error)
	Unwrap(src []byte, dst []byte) (consumed, produced int, err error)
	HandshakeStatus() HandshakeStatus
	NegotiatedProtocol() string
	InvalidateSession()
	CloseOutbound() error
	BeginHandshake() error
	IsOutboundDone() bool
}

// SessionCache is the minimal session-resumption cache surface a
// Context exposes; tlscred only needs to be able to invalidate it on
// reload, not to implement the cache itself.
type SessionCache interface {
	Invalidate()
}

// Context is the host TLS stack's engine factory — the Go restatement
// of a provider-level SSLContext: it mints Engines and exposes the
// session caches a reload needs to invalidate.
type Context interface {
	Init(selector KeySelector, validator TrustValidator, random io.Reader) error
	CreateEngine() (Engine, error)
	CreateEngineFor(host string, port int) (Engine, error)
	ClientSessionCache() SessionCache
	ServerSessionCache() SessionCache
}

// StreamContext is an optional marker a host Context may implement to
// advertise stream-socket TLS support. ResettableContext.Init rejects
// any Context implementing it whose StreamModeSupported returns true
// (one returning false is accepted): stream-socket TLS is explicitly out of
// scope (spec.md Non-goals) and the type system should refuse it rather
// than leave a stream-mode method silently unimplemented.
type StreamContext interface {
	StreamModeSupported() bool
}
