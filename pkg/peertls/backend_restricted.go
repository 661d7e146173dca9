// Copyright (c) Prism Proxy
// SPDX-License-Identifier: Apache-2.0

package peertls

import (
	"crypto/tls"
	"crypto/x509"

	"github.com/absmach/supermq/pkg/errors"
	"github.com/gofrs/uuid"
)

// restrictedBackend is a reduced-capability backend for deployments under a
// hardened crypto policy. It has no CRL store and no protocol-negotiation
// extension, pins the floor to TLS 1.2, and limits cipher suites to an
// AEAD-only allow list. Options and flags that depend on absent
// capabilities never reach it: the corresponding catalog entries are not
// built for this backend.
type restrictedBackend struct{}

var restrictedSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
}

func (restrictedBackend) Name() string {
	return "restricted"
}

func (restrictedBackend) Capabilities() Capability {
	return 0
}

func (restrictedBackend) NewClientContext() (*Context, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, errors.Wrap(ErrContextAlloc, err)
	}

	return &Context{
		id: id.String(),
		conf: &tls.Config{
			MinVersion:   tls.VersionTLS12,
			CipherSuites: restrictedSuites,
		},
	}, nil
}

func (restrictedBackend) ApplyOptions(ctx *Context, opts Options, flags Flags) {
	if opts&(OptNoTLSv1|OptNoTLSv11|OptNoTLSv12) == OptNoTLSv1|OptNoTLSv11|OptNoTLSv12 {
		ctx.conf.MinVersion = tls.VersionTLS13
	}
	if opts&OptCipherServerPreference != 0 {
		ctx.conf.PreferServerCipherSuites = true
	}

	if flags&FlagDontVerifyPeer != 0 {
		ctx.conf.InsecureSkipVerify = true
	}
	if flags&FlagDontVerifyDomain != 0 {
		ctx.skipName = true
		ctx.conf.InsecureSkipVerify = true
		stdBackend{}.installVerify(ctx)
	}
	if flags&FlagDelayedAuth != 0 {
		ctx.delayedAuth = true
		ctx.conf.InsecureSkipVerify = true
	}
}

func (restrictedBackend) LoadKeyPair(ctx *Context, certFile, keyFile string) error {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return errors.Wrap(ErrLoadKeyPair, err)
	}
	ctx.conf.Certificates = append(ctx.conf.Certificates, cert)

	return nil
}

func (restrictedBackend) SetServerName(ctx *Context, name string) {
	ctx.conf.ServerName = name
}

// SetCipherSuites keeps only the suites on the backend allow list.
func (restrictedBackend) SetCipherSuites(ctx *Context, suites []uint16) {
	var allowed []uint16
	for _, id := range suites {
		for _, ok := range restrictedSuites {
			if id == ok {
				allowed = append(allowed, id)
				break
			}
		}
	}
	if len(allowed) > 0 {
		ctx.conf.CipherSuites = allowed
	}
}

func (restrictedBackend) LoadTrustFile(ctx *Context, path, auxDir string) error {
	return stdBackend{}.LoadTrustFile(ctx, path, auxDir)
}

func (restrictedBackend) SetDefaultTrust(ctx *Context) error {
	return stdBackend{}.SetDefaultTrust(ctx)
}

func (restrictedBackend) AddRevocation(_ *Context, _ *x509.RevocationList) error {
	return errors.Wrap(ErrCapability, errors.New("no CRL store"))
}

func (restrictedBackend) SetVerifyMode(_ *Context, _ VerifyMode) {
}

func (restrictedBackend) SetNextProtos(_ *Context, _ []string) {
	// No negotiation extension on this backend.
}
