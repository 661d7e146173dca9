// Copyright (c) Prism Proxy
// SPDX-License-Identifier: Apache-2.0

package peertls

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOptionsEmpty(t *testing.T) {
	p := newTestOptions(t)
	require.NoError(t, p.Parse("options="))
	assert.Equal(t, OptNoSSLv2, p.parsedOptions, "empty options must compile to the forced baseline only")
}

func TestParseOptionsFold(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected Options
	}{
		{
			name:     "SingleName",
			text:     "NO_TLSv1",
			expected: OptNoTLSv1 | OptNoSSLv2,
		},
		{
			name:     "DelimiterColon",
			text:     "NO_TLSv1:NO_TLSv1_1",
			expected: OptNoTLSv1 | OptNoTLSv11 | OptNoSSLv2,
		},
		{
			name:     "ExplicitAdd",
			text:     "+NO_TICKET",
			expected: OptNoTicket | OptNoSSLv2,
		},
		{
			name:     "RemoveWithDash",
			text:     "ALL,-NO_TICKET",
			expected: (OptAll &^ OptNoTicket) | OptNoSSLv2,
		},
		{
			name:     "RemoveWithBang",
			text:     "ALL,!NO_TICKET",
			expected: (OptAll &^ OptNoTicket) | OptNoSSLv2,
		},
		{
			name:     "LastOperationWinsPerBit",
			text:     "-ALL,CIPHER_SERVER_PREFERENCE,+ALL",
			expected: OptAll | OptCipherServerPreference | OptNoSSLv2,
		},
		{
			name:     "RawHexValue",
			text:     "4000",
			expected: OptNoTicket | OptNoSSLv2,
		},
		{
			name:     "HexMixedWithNames",
			text:     "400000,NO_TLSv1",
			expected: OptCipherServerPreference | OptNoTLSv1 | OptNoSSLv2,
		},
		{
			name:     "UnknownNameContributesNothing",
			text:     "FRobnICATE,NO_TLSv1",
			expected: OptNoTLSv1 | OptNoSSLv2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestOptions(t)
			require.NoError(t, p.Parse("options="+tt.text))
			assert.Equal(t, tt.expected, p.parsedOptions)
		})
	}
}

func TestParseOptionsBaselineSurvivesRemoval(t *testing.T) {
	p := newTestOptions(t)
	require.NoError(t, p.Parse("options=-1000000"))
	assert.Equal(t, OptNoSSLv2, p.parsedOptions&OptNoSSLv2, "the SSLv2 prohibition cannot be removed")
}

func TestParseOptionsBadTailIsFatal(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{name: "DotSeparator", text: "NO_TLSv1.2"},
		{name: "SpaceInList", text: "NO_TLSv1 NO_TLSv1_1"},
		{name: "SemicolonDelimiter", text: "NO_TICKET;ALL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestOptions(t)
			err := p.Parse("options=" + tt.text)
			require.Error(t, err)
			assert.ErrorContains(t, err, ErrOptionsSyntax.Error())
		})
	}
}

func TestParseOptionsCapabilityGating(t *testing.T) {
	backend, err := SelectBackend("restricted")
	require.NoError(t, err)
	p := NewPeerOptions(testLogger(), backend)

	// NO_TICKET is absent from the restricted catalog, so it contributes
	// nothing but does not abort the load.
	require.NoError(t, p.Parse("options=NO_TICKET,NO_TLSv1"))
	assert.Equal(t, OptNoTLSv1|OptNoSSLv2, p.parsedOptions)
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected Flags
	}{
		{
			name:     "Single",
			text:     "DONT_VERIFY_PEER",
			expected: FlagDontVerifyPeer,
		},
		{
			name:     "CommaList",
			text:     "DONT_VERIFY_PEER,NO_SESSION_REUSE",
			expected: FlagDontVerifyPeer | FlagNoSessionReuse,
		},
		{
			name:     "ColonList",
			text:     "DELAYED_AUTH:DONT_VERIFY_DOMAIN",
			expected: FlagDelayedAuth | FlagDontVerifyDomain,
		},
		{
			name:     "LongestLabelWins",
			text:     "VERIFY_CRL_ALL",
			expected: FlagVerifyCRLAll,
		},
		{
			name:     "CRLBasic",
			text:     "VERIFY_CRL",
			expected: FlagVerifyCRL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestOptions(t)
			require.NoError(t, p.Parse("flags="+tt.text))
			assert.Equal(t, tt.expected, p.parsedFlags)
		})
	}
}

func TestParseFlagsNoDefaultCA(t *testing.T) {
	p := newTestOptions(t)
	require.NoError(t, p.Parse("flags=NO_DEFAULT_CA"))
	assert.False(t, p.flags.tlsDefaultCA)
	assert.Zero(t, p.parsedFlags, "NO_DEFAULT_CA contributes no bits")
}

func TestParseFlagsUnknownIsFatal(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{name: "UnknownLabel", text: "VERIFY_EVERYTHING"},
		{name: "TrailingDelimiter", text: "VERIFY_CRL,"},
		{name: "PartialLabelTail", text: "VERIFY_CRL_EXTRA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestOptions(t)
			err := p.Parse("flags=" + tt.text)
			require.Error(t, err)
			assert.ErrorContains(t, err, ErrUnknownFlag.Error())
		})
	}
}

func TestParseFlagsCRLRequiresCapability(t *testing.T) {
	backend, err := SelectBackend("restricted")
	require.NoError(t, err)
	p := NewPeerOptions(testLogger(), backend)

	err = p.Parse("flags=VERIFY_CRL")
	require.Error(t, err, "CRL flags are not in the catalog of a backend without a CRL store")
}
