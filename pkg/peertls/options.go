// Copyright (c) Prism Proxy
// SPDX-License-Identifier: Apache-2.0

package peertls

import (
	"fmt"
	"strconv"

	"github.com/absmach/supermq/pkg/errors"
)

// Options is a bitmask of protocol-level toggles applied to outgoing TLS
// contexts. Bit values follow the historical libssl numbering so that raw
// hexadecimal values in options= directives keep their familiar meaning.
type Options uint64

const (
	OptNoTicket               Options = 0x00004000
	OptNoCompression          Options = 0x00020000
	OptSingleECDHUse          Options = 0x00080000
	OptSingleDHUse            Options = 0x00100000
	OptEphemeralRSA           Options = 0x00200000
	OptCipherServerPreference Options = 0x00400000
	OptNoSSLv2                Options = 0x01000000
	OptNoSSLv3                Options = 0x02000000
	OptNoTLSv1                Options = 0x04000000
	OptNoTLSv12               Options = 0x08000000
	OptNoTLSv11               Options = 0x10000000
	OptAll                    Options = 0x80000BFF
)

// Flags is a bitmask of connection-behavior toggles compiled from the
// flags= directive.
type Flags uint64

const (
	FlagNoDefaultCA Flags = 1 << iota
	FlagDelayedAuth
	FlagDontVerifyPeer
	FlagDontVerifyDomain
	FlagNoSessionReuse
	FlagVerifyCRL
	FlagVerifyCRLAll
)

var (
	ErrOptionsSyntax = errors.New("invalid TLS options list")
	ErrUnknownFlag   = errors.New("unknown TLS flag")
)

type optionEntry struct {
	name  string
	value Options
}

// optionCatalog returns the named options the given backend can honor.
// Entries for optional protocol features are present only when the backend
// reports the corresponding capability.
func optionCatalog(b Backend) []optionEntry {
	entries := []optionEntry{
		{"ALL", OptAll},
		{"SINGLE_DH_USE", OptSingleDHUse},
		{"EPHEMERAL_RSA", OptEphemeralRSA},
		{"CIPHER_SERVER_PREFERENCE", OptCipherServerPreference},
		{"NO_SSLv3", OptNoSSLv3},
		{"NO_TLSv1", OptNoTLSv1},
		{"NO_TLSv1_1", OptNoTLSv11},
		{"NO_TLSv1_2", OptNoTLSv12},
		{"SINGLE_ECDH_USE", OptSingleECDHUse},
	}

	if b == nil {
		return entries
	}

	caps := b.Capabilities()
	if caps&CapCompression != 0 {
		entries = append(entries, optionEntry{"No_Compression", OptNoCompression})
	}
	if caps&CapSessionTickets != 0 {
		entries = append(entries, optionEntry{"NO_TICKET", OptNoTicket})
	}

	return entries
}

type flagEntry struct {
	label string
	mask  Flags
}

func flagCatalog(b Backend) []flagEntry {
	entries := []flagEntry{
		{"NO_DEFAULT_CA", FlagNoDefaultCA},
		{"DELAYED_AUTH", FlagDelayedAuth},
		{"DONT_VERIFY_PEER", FlagDontVerifyPeer},
		{"DONT_VERIFY_DOMAIN", FlagDontVerifyDomain},
		{"NO_SESSION_REUSE", FlagNoSessionReuse},
	}

	if b != nil && b.Capabilities()&CapCRL != 0 {
		entries = append(entries,
			flagEntry{"VERIFY_CRL", FlagVerifyCRL},
			flagEntry{"VERIFY_CRL_ALL", FlagVerifyCRLAll},
		)
	}

	return entries
}

func isOptionChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isOptionDelim(c byte) bool {
	return c == ':' || c == ','
}

func isHexToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// parseOptions compiles the raw options= text into a bitmask. Tokens are
// folded left to right; a leading '-' or '!' removes the named bits, an
// optional '+' (or no operator) adds them. A token consisting entirely of
// hexadecimal digits is taken as a raw bit value before any catalog lookup.
// Unknown named tokens are reported and contribute nothing; a token that is
// not terminated by a delimiter or end of input aborts the whole load.
func (p *PeerOptions) parseOptions() (Options, error) {
	var op Options
	s := p.sslOptions
	catalog := optionCatalog(p.backend)

	for i := 0; i < len(s); {
		remove := false
		switch s[i] {
		case '-', '!':
			remove = true
			i++
		case '+':
			i++
		}

		start := i
		for i < len(s) && isOptionChar(s[i]) {
			i++
		}
		token := s[start:i]

		var value Options
		if isHexToken(token) {
			// Hex takes precedence over any catalog name.
			hex, err := strconv.ParseUint(token, 16, 64)
			if err == nil {
				value = Options(hex)
			}
		} else {
			for _, entry := range catalog {
				if token == entry.name {
					value = entry.value
					break
				}
			}
		}

		if value != 0 {
			if remove {
				op &^= value
			} else {
				op |= value
			}
		} else {
			p.logger.Error(fmt.Sprintf("unknown TLS option '%s'", token))
		}

		delims := i
		for i < len(s) && isOptionDelim(s[i]) {
			i++
		}
		if delims == i && i < len(s) {
			return 0, errors.Wrap(ErrOptionsSyntax, errors.New(s[i:]))
		}
	}

	// Compliance with RFC 6176: SSLv2 stays prohibited no matter what the
	// directive asked for.
	op |= OptNoSSLv2

	return op, nil
}

// parseFlags compiles the raw flags= text. Unlike options, the flags
// vocabulary is strict: any token that does not match a catalog label
// aborts the configuration load. NO_DEFAULT_CA is folded directly into the
// default-trust toggle instead of contributing a bit.
func (p *PeerOptions) parseFlags() (Flags, error) {
	if p.sslFlags == "" {
		return 0, nil
	}

	catalog := flagCatalog(p.backend)

	var fl Flags
	s := p.sslFlags
	for i := 0; ; {
		var found Flags
		matched := ""
		for _, entry := range catalog {
			if len(s)-i >= len(entry.label) && s[i:i+len(entry.label)] == entry.label {
				if len(matched) < len(entry.label) {
					found = entry.mask
					matched = entry.label
				}
			}
		}
		if matched == "" {
			return 0, errors.Wrap(ErrUnknownFlag, errors.New(s[i:]))
		}
		i += len(matched)

		if found == FlagNoDefaultCA {
			p.logger.Warn("UPGRADE WARNING: flags=NO_DEFAULT_CA is deprecated. Use no-default-ca instead.")
			p.flags.tlsDefaultCA = false
		} else {
			fl |= found
		}

		if i >= len(s) {
			break
		}
		if !isOptionDelim(s[i]) {
			return 0, errors.Wrap(ErrUnknownFlag, errors.New(s[i:]))
		}
		i++
	}

	return fl, nil
}
