// Copyright (c) Prism Proxy
// SPDX-License-Identifier: Apache-2.0

package peertls

import (
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
)

// KeyData pairs a client certificate file with its private key file. The
// key file defaults to the certificate file until a key= directive
// overrides it.
type KeyData struct {
	CertFile       string
	PrivateKeyFile string
}

type behaviorFlags struct {
	tlsDefaultCA bool
	tlsNPN       bool
}

// PeerOptions holds the TLS settings for outgoing connections to one peer,
// or the process-wide defaults for generic outgoing connections. An
// instance is mutated only by Parse during configuration load; once the
// load is finished it may be shared read-only between connection tasks
// calling CreateClientContext.
type PeerOptions struct {
	mu      sync.Mutex
	logger  *slog.Logger
	backend Backend

	sslOptions    string
	sslCipher     string
	sslDomain     string
	caDir         string
	crlFile       string
	sslFlags      string
	tlsMinVersion string

	parsedOptions Options
	parsedFlags   Flags

	sslVersion int

	certs      []KeyData
	caFiles    []string
	parsedCRLs []*x509.RevocationList

	flags            behaviorFlags
	encryptTransport bool
}

// NewPeerOptions returns an empty configuration: transport encryption off,
// default CA trust and protocol negotiation on.
func NewPeerOptions(logger *slog.Logger, backend Backend) *PeerOptions {
	return &PeerOptions{
		logger:  logger,
		backend: backend,
		flags: behaviorFlags{
			tlsDefaultCA: true,
			tlsNPN:       true,
		},
	}
}

// clear resets to the freshly-constructed state, keeping the logger and
// backend seam.
func (p *PeerOptions) clear() {
	p.sslOptions = ""
	p.sslCipher = ""
	p.sslDomain = ""
	p.caDir = ""
	p.crlFile = ""
	p.sslFlags = ""
	p.tlsMinVersion = ""
	p.parsedOptions = 0
	p.parsedFlags = 0
	p.sslVersion = 0
	p.certs = nil
	p.caFiles = nil
	p.parsedCRLs = nil
	p.flags = behaviorFlags{tlsDefaultCA: true, tlsNPN: true}
	p.encryptTransport = false
}

// Parse applies one configuration directive token. Directive-scoped
// problems (unknown directives, key= without a preceding cert=) are logged
// and the offending directive is dropped; only load-aborting conditions
// from the options= and flags= compilers are returned as errors.
func (p *PeerOptions) Parse(token string) error {
	if token == "" {
		// Bare "tls" or "ssl" directive.
		p.encryptTransport = true
		return nil
	}

	if strings.HasPrefix(token, "disable") {
		p.clear()
		return nil
	}

	switch {
	case strings.HasPrefix(token, "cert="):
		path := token[len("cert="):]
		p.certs = append(p.certs, KeyData{CertFile: path, PrivateKeyFile: path})

	case strings.HasPrefix(token, "key="):
		if len(p.certs) == 0 || p.certs[len(p.certs)-1].CertFile == "" {
			p.logger.Error("ERROR: cert= option must be set before key= is used")
			return nil
		}
		p.certs[len(p.certs)-1].PrivateKeyFile = token[len("key="):]

	case strings.HasPrefix(token, "version="):
		p.logger.Warn("UPGRADE WARNING: TLS version= is deprecated. Use options= to limit protocols instead.")
		v, err := strconv.Atoi(token[len("version="):])
		if err != nil {
			v = 0 // a malformed selector must not leave an earlier one behind
		}
		p.sslVersion = v

	case strings.HasPrefix(token, "min-version="):
		p.tlsMinVersion = token[len("min-version="):]

	case strings.HasPrefix(token, "options="):
		p.sslOptions = token[len("options="):]
		op, err := p.parseOptions()
		if err != nil {
			return err
		}
		p.parsedOptions = op

	case strings.HasPrefix(token, "cipher="):
		p.sslCipher = token[len("cipher="):]

	case strings.HasPrefix(token, "cafile="):
		p.caFiles = append(p.caFiles, token[len("cafile="):])

	case strings.HasPrefix(token, "capath="):
		p.caDir = token[len("capath="):]

	case strings.HasPrefix(token, "crlfile="):
		p.crlFile = token[len("crlfile="):]
		p.loadCrlFile()

	case strings.HasPrefix(token, "flags="):
		if p.parsedFlags != 0 {
			p.logger.Warn(fmt.Sprintf("WARNING: Overwriting flags=%s with %s", p.sslFlags, token[len("flags="):]))
		}
		p.sslFlags = token[len("flags="):]
		fl, err := p.parseFlags()
		if err != nil {
			return err
		}
		p.parsedFlags = fl

	case strings.HasPrefix(token, "no-default-ca"):
		p.flags.tlsDefaultCA = false

	case strings.HasPrefix(token, "domain="):
		p.sslDomain = token[len("domain="):]

	case strings.HasPrefix(token, "no-npn"):
		p.flags.tlsNPN = false

	default:
		p.logger.Error(fmt.Sprintf("ERROR: Unknown TLS option '%s'", token))
		return nil
	}

	p.encryptTransport = true

	return nil
}

// ParseAll applies a whole stream of directive tokens, stopping at the
// first load-aborting error.
func (p *PeerOptions) ParseAll(tokens []string) error {
	for _, token := range tokens {
		if err := p.Parse(token); err != nil {
			return err
		}
	}

	return nil
}

// Encrypted reports whether transport encryption is enabled for this peer.
func (p *PeerOptions) Encrypted() bool {
	return p.encryptTransport
}

// DumpCfg writes the effective configuration back out as directive tokens,
// each prefixed with pfx. A disabled configuration emits only the disable
// directive.
func (p *PeerOptions) DumpCfg(w io.Writer, pfx string) {
	if !p.encryptTransport {
		fmt.Fprintf(w, " %sdisable", pfx)
		return // no other settings are relevant
	}

	for _, kd := range p.certs {
		if kd.CertFile != "" {
			fmt.Fprintf(w, " %scert=%s", pfx, kd.CertFile)
		}
		if kd.PrivateKeyFile != "" && kd.PrivateKeyFile != kd.CertFile {
			fmt.Fprintf(w, " %skey=%s", pfx, kd.PrivateKeyFile)
		}
	}

	if p.sslOptions != "" {
		fmt.Fprintf(w, " %soptions=%s", pfx, p.sslOptions)
	}

	if p.sslCipher != "" {
		fmt.Fprintf(w, " %scipher=%s", pfx, p.sslCipher)
	}

	for _, f := range p.caFiles {
		fmt.Fprintf(w, " %scafile=%s", pfx, f)
	}

	if p.caDir != "" {
		fmt.Fprintf(w, " %scapath=%s", pfx, p.caDir)
	}

	if p.crlFile != "" {
		fmt.Fprintf(w, " %scrlfile=%s", pfx, p.crlFile)
	}

	if p.sslFlags != "" {
		fmt.Fprintf(w, " %sflags=%s", pfx, p.sslFlags)
	}

	if !p.flags.tlsDefaultCA {
		fmt.Fprintf(w, " %sno-default-ca", pfx)
	}

	if !p.flags.tlsNPN {
		fmt.Fprintf(w, " %sno-npn", pfx)
	}
}
