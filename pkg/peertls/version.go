// Copyright (c) Prism Proxy
// SPDX-License-Identifier: Apache-2.0

package peertls

import (
	"fmt"
	"strings"
)

// updateTLSVersionLimits folds the two version selectors into the compiled
// options bitmask. A well-formed min-version= wins outright; otherwise the
// deprecated numeric version= selector is translated into named
// protocol-disable options appended to the raw options text, which is then
// recompiled. The selector is consumed so repeated calls do not append
// again. Callers must hold the instance mutex.
func (p *PeerOptions) updateTLSVersionLimits() error {
	if p.tlsMinVersion != "" {
		if n, ok := parseMinVersion(p.tlsMinVersion); ok {
			if n > 0 {
				p.parsedOptions |= OptNoTLSv1
			}
			if n > 1 {
				p.parsedOptions |= OptNoTLSv11
			}
			if n > 2 {
				p.parsedOptions |= OptNoTLSv12
			}
		} else {
			p.logger.Warn(fmt.Sprintf("WARNING: Unknown TLS minimum version: %s", p.tlsMinVersion))
		}

		return nil
	}

	if p.sslVersion > 2 {
		// Backward compatibility for the numeric version= selector. Values
		// 0-2 (auto and SSLv2) are no longer supported and silently ignored.
		var add string
		switch p.sslVersion {
		case 3:
			add = "NO_TLSv1,NO_TLSv1_1,NO_TLSv1_2"
		case 4:
			add = "NO_SSLv3,NO_TLSv1_1,NO_TLSv1_2"
		case 5:
			add = "NO_SSLv3,NO_TLSv1,NO_TLSv1_2"
		case 6:
			add = "NO_SSLv3,NO_TLSv1,NO_TLSv1_1"
		}
		if add != "" {
			if p.sslOptions != "" {
				p.sslOptions += ","
			}
			p.sslOptions += add

			op, err := p.parseOptions()
			if err != nil {
				return err
			}
			p.parsedOptions = op
		}
		p.sslVersion = 0 // prevent the options text being repeatedly appended
	}

	return nil
}

// parseMinVersion accepts "1.N" with N in [0,3]. Only TLS generations are
// accounted for here; SSL versions are handled by the options= parameter.
func parseMinVersion(s string) (int, bool) {
	rest, found := strings.CutPrefix(s, "1.")
	if !found || rest == "" {
		return 0, false
	}

	c := rest[0]
	if c < '0' || c > '9' {
		return 0, false
	}
	n := int(c - '0')
	if n > 3 {
		return 0, false
	}

	return n, true
}
