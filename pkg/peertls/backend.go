// Copyright (c) Prism Proxy
// SPDX-License-Identifier: Apache-2.0

package peertls

import (
	"crypto/tls"
	"crypto/x509"

	"github.com/absmach/supermq/pkg/errors"
)

// Capability describes the optional features a cryptography backend
// provides. Catalog entries for a feature exist only when the selected
// backend reports the matching capability.
type Capability uint

const (
	// CapCRL means the backend keeps a certificate store that revocation
	// lists can be added to and checked against.
	CapCRL Capability = 1 << iota
	// CapNegotiation means the backend supports an in-handshake
	// application-protocol negotiation callback.
	CapNegotiation
	// CapSessionTickets means session ticket use can be toggled.
	CapSessionTickets
	// CapCompression means transport compression can be toggled.
	CapCompression
)

// VerifyMode selects how strictly certificate revocation is enforced on a
// context's trust store.
type VerifyMode int

const (
	VerifyNone VerifyMode = iota
	// VerifyLeafCRL checks the peer leaf certificate against loaded CRLs.
	VerifyLeafCRL
	// VerifyChainCRL checks every certificate in the presented chain.
	VerifyChainCRL
)

var (
	ErrNoBackend     = errors.New("no TLS backend available")
	ErrContextAlloc  = errors.New("failed to allocate TLS client context")
	ErrLoadTrustFile = errors.New("failed to load CA trust file")
	ErrAppendTrust   = errors.New("failed to append CA certificates to trust store")
	ErrDefaultTrust  = errors.New("failed to load default trusted CA store")
	ErrCapability    = errors.New("operation not supported by TLS backend")
	ErrLoadKeyPair   = errors.New("failed to load client certificate and key")
)

// Context is an opaque, caller-owned handle wrapping one fully-populated
// outgoing TLS configuration. The factory that produced it retains no
// reference to it.
type Context struct {
	id   string
	conf *tls.Config

	trustPEM    [][]byte
	auxLoaded   bool
	revoked     []*x509.RevocationList
	verifyMode  VerifyMode
	skipName    bool
	delayedAuth bool
}

// ID returns the diagnostic identifier assigned at allocation time.
func (c *Context) ID() string {
	return c.id
}

// Config exposes the underlying TLS configuration for use by transports.
func (c *Context) Config() *tls.Config {
	return c.conf
}

// DelayedAuth reports whether chain verification was deferred to the
// caller by the DELAYED_AUTH flag.
func (c *Context) DelayedAuth() bool {
	return c.delayedAuth
}

// Backend is the capability seam over the available cryptography
// implementations. Callers depend only on this interface; the concrete
// backend is selected once at startup.
type Backend interface {
	Name() string
	Capabilities() Capability
	NewClientContext() (*Context, error)
	ApplyOptions(ctx *Context, opts Options, flags Flags)
	LoadKeyPair(ctx *Context, certFile, keyFile string) error
	SetServerName(ctx *Context, name string)
	SetCipherSuites(ctx *Context, suites []uint16)
	LoadTrustFile(ctx *Context, path, auxDir string) error
	SetDefaultTrust(ctx *Context) error
	AddRevocation(ctx *Context, rl *x509.RevocationList) error
	SetVerifyMode(ctx *Context, mode VerifyMode)
	SetNextProtos(ctx *Context, protos []string)
}

// SelectBackend resolves a configured backend name to an implementation.
// The empty name selects the default full-capability backend. An unknown
// name is the fatal no-TLS-library condition and must abort startup.
func SelectBackend(name string) (Backend, error) {
	switch name {
	case "", "std":
		return stdBackend{}, nil
	case "restricted":
		return restrictedBackend{}, nil
	default:
		return nil, errors.Wrap(ErrNoBackend, errors.New(name))
	}
}
