// Copyright (c) Prism Proxy
// SPDX-License-Identifier: Apache-2.0

package peertls

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

const pemCRLType = "X509 CRL"

// loadCrlFile loads the revocation lists stored in crlFile, replacing any
// CRLs loaded previously. A file that cannot be opened leaves the list
// empty; a malformed record stops the read, keeping the records parsed so
// far in this pass.
func (p *PeerOptions) loadCrlFile() {
	p.parsedCRLs = nil
	if p.crlFile == "" {
		return
	}

	data, err := os.ReadFile(p.crlFile)
	if err != nil {
		p.logger.Warn(fmt.Sprintf("WARNING: Failed to open CRL file %s", p.crlFile), "error", err)
		return
	}

	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil || block.Type != pemCRLType {
			break
		}
		rl, err := x509.ParseRevocationList(block.Bytes)
		if err != nil {
			break
		}
		p.parsedCRLs = append(p.parsedCRLs, rl)
	}
}
