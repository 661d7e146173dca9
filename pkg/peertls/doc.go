// Copyright (c) Prism Proxy
// SPDX-License-Identifier: Apache-2.0

// Package peertls compiles proxy configuration directives into TLS client
// contexts for outgoing connections to origin servers, cache peers, and
// upstream proxies. Directives are parsed one token at a time into a
// PeerOptions instance; once configuration is loaded, CreateClientContext
// resolves version limits, compiles the accumulated option and flag
// bitmasks, and produces a ready-to-use context through the selected
// cryptography backend.
package peertls
