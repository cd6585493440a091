// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package ntlm

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jake-scott/go-sspi"
	"github.com/jake-scott/go-sspi/internal/cryptokit"
)

// Reference values from [MS-NLMP] §4.2.4: user "User", domain "Domain",
// password "Password", server challenge 0x0123456789abcdef, client
// challenge 0xaaaaaaaaaaaaaaaa, timestamp zero.
const (
	refNTOWFv2        = "0c868a403bfd7a93a3001ef22ef02e3f"
	refNTProofStr     = "68cd0ab851e51c96aabc927bebef6a1c"
	refSessionBaseKey = "8de40ccadbc14a82f15cb0ad0de95ca3"
	refLMv2Response   = "86c35097ac9cec102554764a57cccc19aaaaaaaaaaaaaaaa"

	// §4.2.3.3 target info: NbDomainName "Domain", NbComputerName "Server".
	refTargetInfo = "02000c0044006f006d00610069006e0001000c0053006500720076006500720000000000"

	// §4.2.4.4 sign+seal of UTF-16LE "Plaintext" at seq 0 under the
	// RandomSessionKey 0x55 * 16.
	refSignKey    = "4788dc861b4782f35d43fd98fe1a2d39"
	refSealKey    = "59f600973cc4960a25480a7c196e4c58"
	refSealedData = "54e50165bf1936dc996020c1811b0f06fb5f"
	refSignature  = "010000007fb38ec5c55d497600000000"
)

func hexBytes(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestNTOWFv2ReferenceVector(t *testing.T) {
	got := ntowfv2("User", "Password", "Domain")
	require.Equal(t, hexBytes(t, refNTOWFv2), got)
}

func TestComputeResponseReferenceVectors(t *testing.T) {
	responseKeyNT := ntowfv2("User", "Password", "Domain")
	responseKeyLM := lmowfv2("User", "Password", "Domain")
	serverChallenge := hexBytes(t, "0123456789abcdef")
	clientChallenge := hexBytes(t, "aaaaaaaaaaaaaaaa")
	timestamp := make([]byte, 8)
	targetInfo := hexBytes(t, refTargetInfo)

	ntResp, lmResp, sessionBaseKey := computeNTProofAndSessionBaseKey(
		responseKeyNT, responseKeyLM, serverChallenge, clientChallenge, timestamp, targetInfo)

	require.Equal(t, hexBytes(t, refNTProofStr), ntResp[:16])
	require.Equal(t, hexBytes(t, refLMv2Response), lmResp)
	require.Equal(t, hexBytes(t, refSessionBaseKey), sessionBaseKey)
}

func TestSignAndSealKeyDerivationReferenceVectors(t *testing.T) {
	exportedSessionKey := bytes.Repeat([]byte{0x55}, 16)
	flags := uint32(NTLMSSP_NEGOTIATE_UNICODE | NTLMSSP_NEGOTIATE_SIGN | NTLMSSP_NEGOTIATE_SEAL |
		NTLMSSP_NEGOTIATE_EXTENDED_SESSIONSECURITY | NTLMSSP_NEGOTIATE_128 | NTLMSSP_NEGOTIATE_KEY_EXCH)

	require.Equal(t, hexBytes(t, refSignKey), signKey(exportedSessionKey, true))
	require.Equal(t, hexBytes(t, refSealKey), sealKey(flags, exportedSessionKey, true))
}

func TestSealAndSignReferenceVector(t *testing.T) {
	exportedSessionKey := bytes.Repeat([]byte{0x55}, 16)
	flags := uint32(NTLMSSP_NEGOTIATE_UNICODE | NTLMSSP_NEGOTIATE_SIGN | NTLMSSP_NEGOTIATE_SEAL |
		NTLMSSP_NEGOTIATE_EXTENDED_SESSIONSECURITY | NTLMSSP_NEGOTIATE_128 | NTLMSSP_NEGOTIATE_KEY_EXCH)

	signingKey := signKey(exportedSessionKey, true)
	sealingKey := sealKey(flags, exportedSessionKey, true)
	sealHandle, err := cryptokit.NewRC4Cipher(sealingKey)
	require.NoError(t, err)

	plaintext := sspi.UTF16LEBytes("Plaintext")
	sealed := make([]byte, len(plaintext))
	sealHandle.XORKeyStream(sealed, plaintext)
	require.Equal(t, hexBytes(t, refSealedData), sealed)

	sig := mac(signingKey, sealHandle, 0, plaintext)
	require.Equal(t, hexBytes(t, refSignature), sig)
}
