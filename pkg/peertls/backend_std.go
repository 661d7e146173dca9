// Copyright (c) Prism Proxy
// SPDX-License-Identifier: Apache-2.0

package peertls

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"strings"

	"github.com/absmach/supermq/pkg/errors"
	"github.com/gofrs/uuid"
)

// stdBackend is the default backend, built on the standard TLS stack. It
// supports the full capability set: CRL stores, protocol negotiation, and
// session ticket and compression toggles.
type stdBackend struct{}

func (stdBackend) Name() string {
	return "std"
}

func (stdBackend) Capabilities() Capability {
	return CapCRL | CapNegotiation | CapSessionTickets | CapCompression
}

func (stdBackend) NewClientContext() (*Context, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, errors.Wrap(ErrContextAlloc, err)
	}

	return &Context{
		id:   id.String(),
		conf: &tls.Config{},
	}, nil
}

// ApplyOptions folds the compiled bitmasks into the concrete configuration.
// Protocol-disable bits translate into a minimum version: each contiguous
// disabled generation starting from TLS 1.0 raises the floor by one.
func (b stdBackend) ApplyOptions(ctx *Context, opts Options, flags Flags) {
	minVersion := uint16(tls.VersionTLS10)
	if opts&OptNoTLSv1 != 0 {
		minVersion = tls.VersionTLS11
		if opts&OptNoTLSv11 != 0 {
			minVersion = tls.VersionTLS12
			if opts&OptNoTLSv12 != 0 {
				minVersion = tls.VersionTLS13
			}
		}
	}
	ctx.conf.MinVersion = minVersion

	if opts&OptNoTicket != 0 {
		ctx.conf.SessionTicketsDisabled = true
	}
	if opts&OptCipherServerPreference != 0 {
		ctx.conf.PreferServerCipherSuites = true
	}

	if flags&FlagDontVerifyPeer != 0 {
		ctx.conf.InsecureSkipVerify = true
	}
	if flags&FlagDontVerifyDomain != 0 {
		// Chain trust is still checked by the verify callback, only the
		// hostname binding is skipped.
		ctx.skipName = true
		ctx.conf.InsecureSkipVerify = true
		b.installVerify(ctx)
	}
	if flags&FlagDelayedAuth != 0 {
		ctx.delayedAuth = true
		ctx.conf.InsecureSkipVerify = true
	}
	// FlagNoSessionReuse needs no action: no ClientSessionCache is ever
	// installed on these configs, so session resumption is already off.
}

func (stdBackend) LoadKeyPair(ctx *Context, certFile, keyFile string) error {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return errors.Wrap(ErrLoadKeyPair, err)
	}
	ctx.conf.Certificates = append(ctx.conf.Certificates, cert)

	return nil
}

func (stdBackend) SetServerName(ctx *Context, name string) {
	ctx.conf.ServerName = name
}

func (stdBackend) SetCipherSuites(ctx *Context, suites []uint16) {
	ctx.conf.CipherSuites = suites
}

// LoadTrustFile appends the PEM certificates in path to the context trust
// store. A non-empty auxDir is scanned once per context for additional
// .pem/.crt anchors, standing in for a hashed CA lookup directory.
func (stdBackend) LoadTrustFile(ctx *Context, path, auxDir string) error {
	pemData, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(ErrLoadTrustFile, err)
	}

	if ctx.conf.RootCAs == nil {
		ctx.conf.RootCAs = x509.NewCertPool()
	}
	if !ctx.conf.RootCAs.AppendCertsFromPEM(pemData) {
		return errors.Wrap(ErrAppendTrust, errors.New(path))
	}
	ctx.trustPEM = append(ctx.trustPEM, pemData)

	if auxDir != "" && !ctx.auxLoaded {
		ctx.auxLoaded = true
		dirEntries, err := os.ReadDir(auxDir)
		if err != nil {
			return errors.Wrap(ErrLoadTrustFile, err)
		}
		for _, entry := range dirEntries {
			ext := strings.ToLower(filepath.Ext(entry.Name()))
			if entry.IsDir() || (ext != ".pem" && ext != ".crt") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(auxDir, entry.Name()))
			if err != nil {
				continue
			}
			if ctx.conf.RootCAs.AppendCertsFromPEM(data) {
				ctx.trustPEM = append(ctx.trustPEM, data)
			}
		}
	}

	return nil
}

// SetDefaultTrust merges the system trust store into the context. Any
// anchors loaded from explicit cafile= entries are preserved.
func (stdBackend) SetDefaultTrust(ctx *Context) error {
	sys, err := x509.SystemCertPool()
	if err != nil {
		return errors.Wrap(ErrDefaultTrust, err)
	}

	for _, pemData := range ctx.trustPEM {
		sys.AppendCertsFromPEM(pemData)
	}
	ctx.conf.RootCAs = sys

	return nil
}

func (stdBackend) AddRevocation(ctx *Context, rl *x509.RevocationList) error {
	if rl == nil {
		return errors.Wrap(ErrCapability, errors.New("nil revocation list"))
	}
	ctx.revoked = append(ctx.revoked, rl)

	return nil
}

func (b stdBackend) SetVerifyMode(ctx *Context, mode VerifyMode) {
	ctx.verifyMode = mode
	b.installVerify(ctx)
}

func (stdBackend) SetNextProtos(ctx *Context, protos []string) {
	ctx.conf.NextProtos = protos
}

// installVerify wires the custom verification callback that performs chain
// validation when hostname checks are skipped, and revocation checks when a
// verify mode is set. The callback reads the context state captured at
// build time; contexts are immutable after the factory returns them.
func (stdBackend) installVerify(ctx *Context) {
	ctx.conf.VerifyPeerCertificate = func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
		chains := verifiedChains
		if len(chains) == 0 {
			chain, err := verifyRawChain(ctx, rawCerts)
			if err != nil {
				return err
			}
			chains = [][]*x509.Certificate{chain}
		}

		if ctx.verifyMode == VerifyNone {
			return nil
		}

		for _, chain := range chains {
			if len(chain) == 0 {
				continue
			}
			certs := chain[:1]
			if ctx.verifyMode == VerifyChainCRL {
				certs = chain
			}
			for _, cert := range certs {
				if err := checkRevoked(ctx.revoked, cert); err != nil {
					return err
				}
			}
		}

		return nil
	}
}

// verifyRawChain validates the presented certificates against the context
// trust store without a hostname constraint. It runs only when standard
// verification was bypassed to skip the name check.
func verifyRawChain(ctx *Context, rawCerts [][]byte) ([]*x509.Certificate, error) {
	if !ctx.skipName || len(rawCerts) == 0 {
		// DONT_VERIFY_PEER or DELAYED_AUTH: trust decision is elsewhere.
		certs := make([]*x509.Certificate, 0, len(rawCerts))
		for _, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return nil, err
			}
			certs = append(certs, cert)
		}
		return certs, nil
	}

	leaf, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return nil, err
	}

	intermediates := x509.NewCertPool()
	for _, raw := range rawCerts[1:] {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return nil, err
		}
		intermediates.AddCert(cert)
	}

	chains, err := leaf.Verify(x509.VerifyOptions{
		Roots:         ctx.conf.RootCAs,
		Intermediates: intermediates,
	})
	if err != nil {
		return nil, err
	}

	return chains[0], nil
}

func checkRevoked(lists []*x509.RevocationList, cert *x509.Certificate) error {
	for _, rl := range lists {
		for _, entry := range rl.RevokedCertificateEntries {
			if entry.SerialNumber != nil && entry.SerialNumber.Cmp(cert.SerialNumber) == 0 {
				return errors.Wrap(errors.New("certificate revoked"), errors.New(cert.Subject.String()))
			}
		}
	}

	return nil
}

// cipherSuiteID resolves a cipher suite name from the cipher= directive.
func cipherSuiteID(name string) (uint16, bool) {
	for _, suite := range tls.CipherSuites() {
		if suite.Name == name {
			return suite.ID, true
		}
	}
	for _, suite := range tls.InsecureCipherSuites() {
		if suite.Name == name {
			return suite.ID, true
		}
	}

	return 0, false
}
