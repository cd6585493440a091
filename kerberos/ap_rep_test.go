// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package kerberos

import (
	"testing"
	"time"

	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"
	"github.com/stretchr/testify/require"
)

func TestAPRepEncPartRoundTrip(t *testing.T) {
	key := mkSampleAESKey(t)
	tkt := messages.Ticket{EncPart: types.EncryptedData{KVNO: 7}}

	want := encAPRepPart{
		CTime:          time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Cusec:          123456,
		SequenceNumber: 42,
	}

	rep, err := newAPRep(tkt, key, want)
	require.NoError(t, err)
	require.Equal(t, 5, rep.PVNO)

	got, err := decryptAPRepPart(&rep, key)
	require.NoError(t, err)
	require.Equal(t, want.Cusec, got.Cusec)
	require.Equal(t, want.SequenceNumber, got.SequenceNumber)
	require.True(t, want.CTime.Equal(got.CTime))
}

func TestAPRepMarshalUnmarshalRoundTrip(t *testing.T) {
	key := mkSampleAESKey(t)
	tkt := messages.Ticket{EncPart: types.EncryptedData{KVNO: 1}}

	rep, err := newAPRep(tkt, key, encAPRepPart{
		CTime:          time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Cusec:          1,
		SequenceNumber: 1,
	})
	require.NoError(t, err)

	b, err := rep.marshal()
	require.NoError(t, err)

	var got aPRep
	require.NoError(t, got.unmarshal(b))
	require.Equal(t, rep.EncPart.Cipher, got.EncPart.Cipher)
}

func TestInitialContextTokenAPRepWireRoundTrip(t *testing.T) {
	key := mkSampleAESKey(t)
	tkt := messages.Ticket{EncPart: types.EncryptedData{KVNO: 1}}

	rep, err := newAPRep(tkt, key, encAPRepPart{
		CTime:          time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Cusec:          5,
		SequenceNumber: 9,
	})
	require.NoError(t, err)

	var tok initialContextToken
	wire, err := tok.marshalAPRep(&rep)
	require.NoError(t, err)

	var got initialContextToken
	require.NoError(t, got.unmarshalInitialToken(wire))
	require.NotNil(t, got.apRep)
	require.Nil(t, got.apReq)
	require.Nil(t, got.krbErr)

	decoded, err := decryptAPRepPart(got.apRep, key)
	require.NoError(t, err)
	require.Equal(t, 9, int(decoded.SequenceNumber))
	require.Equal(t, 5, decoded.Cusec)
}
