// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package kerberos

import (
	"encoding/binary"
	"testing"

	"github.com/jcmturner/gokrb5/v8/iana/errorcode"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"
	"github.com/stretchr/testify/require"

	"github.com/jake-scott/go-sspi"
)

func TestInitialContextTokenKRBErrorRoundTrip(t *testing.T) {
	ke := messages.NewKRBError(types.PrincipalName{}, "EXAMPLE.COM", errorcode.KRB_AP_ERR_SKEW, "too much skew")

	var tok initialContextToken
	wire, err := tok.marshalKRBError(&ke)
	require.NoError(t, err)

	var got initialContextToken
	require.NoError(t, got.unmarshalInitialToken(wire))
	require.NotNil(t, got.krbErr)
	require.Nil(t, got.apReq)
	require.Nil(t, got.apRep)
	require.Equal(t, errorcode.KRB_AP_ERR_SKEW, got.krbErr.ErrorCode)
}

func TestUnmarshalInitialTokenRejectsWrongOID(t *testing.T) {
	var tok initialContextToken
	err := tok.unmarshalInitialToken([]byte{0x01, 0x02, 0x03})
	require.Error(t, err)
}

func TestUnmarshalInitialTokenRejectsShortBody(t *testing.T) {
	wrapped, err := wrapInitialToken(tokenIDAPReq, nil)
	require.NoError(t, err)

	var got initialContextToken
	err = got.unmarshalInitialToken(wrapped)
	require.Error(t, err)
}

func TestNewAuthenticatorChksumEncodesFlags(t *testing.T) {
	b := newAuthenticatorChksum(sspi.ClientRequestMutualAuth|sspi.ClientRequestConfidentiality, nil)
	require.Len(t, b, 24)
	require.Equal(t, byte(16), b[0])
	require.Equal(t, uint32(sspi.ClientRequestMutualAuth|sspi.ClientRequestConfidentiality),
		binary.LittleEndian.Uint32(b[20:24]))
}

func TestNewAuthenticatorChksumHashesChannelBindings(t *testing.T) {
	withCB := newAuthenticatorChksum(0, []byte("some binding"))
	withoutCB := newAuthenticatorChksum(0, nil)
	require.NotEqual(t, withCB[4:20], withoutCB[4:20])
}
