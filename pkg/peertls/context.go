// Copyright (c) Prism Proxy
// SPDX-License-Identifier: Apache-2.0

package peertls

import (
	"fmt"
	"strings"

	"github.com/absmach/supermq/pkg/errors"
)

// nextProtos is the protocol list advertised when negotiation is enabled.
var nextProtos = []string{"http/1.1"}

// CreateClientContext builds a concrete TLS context for outgoing
// connections from the accumulated configuration. A disabled configuration
// yields a nil context and no error. With applyOptions false the compiled
// options bitmask is skipped while flags, trust, CRL, and negotiation
// state still apply. A nil or failed backend is a startup-fatal condition
// reported as an error; everything else degrades with logged warnings.
//
// Safe for concurrent callers over a finalized configuration: the one
// mutating step, the version-limit fold, runs under the instance mutex and
// is idempotent.
func (p *PeerOptions) CreateClientContext(applyOptions bool) (*Context, error) {
	if !p.encryptTransport {
		return nil, nil
	}

	if p.backend == nil {
		return nil, ErrNoBackend
	}

	p.mu.Lock()
	err := p.updateTLSVersionLimits()
	opts := p.parsedOptions
	fl := p.parsedFlags
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	ctx, err := p.backend.NewClientContext()
	if err != nil {
		return nil, errors.Wrap(ErrContextAlloc, err)
	}

	if !applyOptions {
		opts = 0
	}
	p.backend.ApplyOptions(ctx, opts, fl)

	for _, kd := range p.certs {
		if err := p.backend.LoadKeyPair(ctx, kd.CertFile, kd.PrivateKeyFile); err != nil {
			p.logger.Warn(fmt.Sprintf("WARNING: Ignoring error loading certificate %s", kd.CertFile), "error", err)
		}
	}

	if p.sslDomain != "" {
		p.backend.SetServerName(ctx, p.sslDomain)
	}

	if p.sslCipher != "" {
		p.backend.SetCipherSuites(ctx, p.resolveCipherSuites())
	}

	p.updateContextNPN(ctx)
	p.updateContextCA(ctx)
	p.updateContextCRL(ctx)

	return ctx, nil
}

// CreateBlankContext allocates an unconfigured backend context without
// applying any of the accumulated state.
func (p *PeerOptions) CreateBlankContext() (*Context, error) {
	if p.backend == nil {
		return nil, ErrNoBackend
	}

	ctx, err := p.backend.NewClientContext()
	if err != nil {
		return nil, errors.Wrap(ErrContextAlloc, err)
	}

	return ctx, nil
}

func (p *PeerOptions) resolveCipherSuites() []uint16 {
	var suites []uint16
	for _, name := range strings.Split(p.sslCipher, ":") {
		if name == "" {
			continue
		}
		id, ok := cipherSuiteID(name)
		if !ok {
			p.logger.Warn(fmt.Sprintf("WARNING: Unknown cipher suite '%s'", name))
			continue
		}
		suites = append(suites, id)
	}

	return suites
}

func (p *PeerOptions) updateContextNPN(ctx *Context) {
	if !p.flags.tlsNPN {
		return
	}
	if p.backend.Capabilities()&CapNegotiation == 0 {
		// Negotiation is a backend extension; silently skipped without it.
		return
	}

	p.backend.SetNextProtos(ctx, nextProtos)
}

func (p *PeerOptions) updateContextCA(ctx *Context) {
	for _, f := range p.caFiles {
		if err := p.backend.LoadTrustFile(ctx, f, p.caDir); err != nil {
			p.logger.Warn(fmt.Sprintf("WARNING: Ignoring error setting CA certificate location %s", f), "error", err)
		}
	}

	if !p.flags.tlsDefaultCA {
		return
	}

	if err := p.backend.SetDefaultTrust(ctx); err != nil {
		p.logger.Warn("WARNING: Ignoring error setting default trusted CA", "error", err)
	}
}

func (p *PeerOptions) updateContextCRL(ctx *Context) {
	if p.backend.Capabilities()&CapCRL == 0 {
		return
	}

	verifyCrl := false
	for _, rl := range p.parsedCRLs {
		if err := p.backend.AddRevocation(ctx, rl); err != nil {
			p.logger.Warn("WARNING: Failed to add CRL", "error", err)
		} else {
			verifyCrl = true
		}
	}

	if p.parsedFlags&FlagVerifyCRLAll != 0 {
		p.backend.SetVerifyMode(ctx, VerifyChainCRL)
	} else if verifyCrl || p.parsedFlags&FlagVerifyCRL != 0 {
		p.backend.SetVerifyMode(ctx, VerifyLeafCRL)
	}
}
