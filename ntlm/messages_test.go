// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package ntlm

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jake-scott/go-sspi"
)

func TestNegotiateMessageRoundTrip(t *testing.T) {
	m := &NegotiateMessage{
		NegotiateFlags: uint32(DefaultClientFlags),
		DomainName:     "EXAMPLE",
		Workstation:    "WS01",
		Version:        defaultVersion,
	}

	raw := m.Marshal()
	got, err := ParseNegotiateMessage(raw)
	require.NoError(t, err)
	require.Equal(t, m.NegotiateFlags, got.NegotiateFlags)
	require.Equal(t, m.DomainName, got.DomainName)
	require.Equal(t, m.Workstation, got.Workstation)
	require.NotNil(t, got.Version)
	require.Equal(t, raw, got.Marshal())
}

func TestChallengeMessageRoundTrip(t *testing.T) {
	targetInfo := &AvPairs{}
	targetInfo.Add(MsvAvNbDomainName, sspi.UTF16LEBytes("EXAMPLE"))
	targetInfo.Add(MsvAvNbComputerName, sspi.UTF16LEBytes("SERVER"))

	m := &ChallengeMessage{
		TargetName:      "EXAMPLE",
		NegotiateFlags:  uint32(DefaultServerFlags),
		ServerChallenge: [8]byte{1, 2, 3, 4, 5, 6, 7, 8},
		TargetInfo:      targetInfo,
		Version:         defaultVersion,
	}

	raw := m.Marshal()
	got, err := ParseChallengeMessage(raw)
	require.NoError(t, err)
	require.Equal(t, m.TargetName, got.TargetName)
	require.Equal(t, m.NegotiateFlags, got.NegotiateFlags)
	require.Equal(t, m.ServerChallenge, got.ServerChallenge)

	domain, ok := got.TargetInfo.Get(MsvAvNbDomainName)
	require.True(t, ok)
	require.Equal(t, sspi.UTF16LEBytes("EXAMPLE"), domain)

	require.Equal(t, raw, got.Marshal())
}

func TestAuthenticateMessageRoundTrip(t *testing.T) {
	m := &AuthenticateMessage{
		LmChallengeResponse:       bytes.Repeat([]byte{0xAA}, 24),
		NtChallengeResponse:       bytes.Repeat([]byte{0xBB}, 64),
		DomainName:                "EXAMPLE",
		UserName:                  "alice",
		Workstation:               "WS01",
		EncryptedRandomSessionKey: bytes.Repeat([]byte{0xCC}, 16),
		NegotiateFlags:            uint32(DefaultClientFlags),
		Mic:                       [16]byte{1, 2, 3},
	}

	raw := m.Marshal()
	got, err := ParseAuthenticateMessage(raw)
	require.NoError(t, err)
	require.Equal(t, m.LmChallengeResponse, got.LmChallengeResponse)
	require.Equal(t, m.NtChallengeResponse, got.NtChallengeResponse)
	require.Equal(t, m.DomainName, got.DomainName)
	require.Equal(t, m.UserName, got.UserName)
	require.Equal(t, m.Workstation, got.Workstation)
	require.Equal(t, m.EncryptedRandomSessionKey, got.EncryptedRandomSessionKey)
	require.Equal(t, m.Mic, got.Mic)
	require.Equal(t, raw, got.Marshal())
}

func TestParseRejectsWrongSignature(t *testing.T) {
	raw := (&NegotiateMessage{NegotiateFlags: uint32(DefaultClientFlags)}).Marshal()
	raw[0] = 'X'
	_, err := ParseNegotiateMessage(raw)
	require.Error(t, err)
}

func TestParseRejectsWrongMessageType(t *testing.T) {
	raw := (&NegotiateMessage{NegotiateFlags: uint32(DefaultClientFlags)}).Marshal()
	_, err := ParseChallengeMessage(raw)
	require.Error(t, err)
}

func TestParseRejectsOutOfRangeFieldDescriptor(t *testing.T) {
	raw := (&NegotiateMessage{NegotiateFlags: uint32(DefaultClientFlags), DomainName: "EXAMPLE"}).Marshal()
	// Point the domain field past the end of the buffer.
	raw[20] = 0xFF
	raw[21] = 0xFF
	_, err := ParseNegotiateMessage(raw)
	require.Error(t, err)
}

func TestAvPairsRoundTrip(t *testing.T) {
	p := &AvPairs{}
	p.Add(MsvAvNbDomainName, sspi.UTF16LEBytes("EXAMPLE"))
	p.Add(MsvAvTimestamp, make([]byte, 8))

	got, err := ParseAvPairs(p.Bytes())
	require.NoError(t, err)
	require.Equal(t, p.Bytes(), got.Bytes())

	ts, ok := got.Get(MsvAvTimestamp)
	require.True(t, ok)
	require.Len(t, ts, 8)
}

func TestParseAvPairsRejectsTruncated(t *testing.T) {
	p := &AvPairs{}
	p.Add(MsvAvNbDomainName, sspi.UTF16LEBytes("EXAMPLE"))
	raw := p.Bytes()

	_, err := ParseAvPairs(raw[:5])
	require.Error(t, err)
}
