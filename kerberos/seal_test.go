// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package kerberos

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jake-scott/go-sspi"
)

// fakeEstablishedPair builds two Contexts that share a session key without
// driving a real AS/TGS/AP-REQ exchange, so EncryptMessage/DecryptMessage
// can be exercised without a KDC.
func fakeEstablishedPair(t *testing.T) (client, server *Context) {
	t.Helper()
	key := mkSampleAESKey(t)

	client = &Context{isClient: true, established: true, sessionKey: &key}
	server = &Context{isServer: true, established: true, sessionKey: &key}
	return client, server
}

func TestKerberosEncryptDecryptMessageRoundTrip(t *testing.T) {
	client, server := fakeEstablishedPair(t)

	plaintext := []byte("This is a message")
	buffers := []sspi.SecurityBuffer{
		sspi.NewSecurityBuffer(append([]byte(nil), plaintext...), sspi.SecurityBufferData),
		sspi.NewSecurityBuffer(nil, sspi.SecurityBufferToken),
	}

	require.NoError(t, client.EncryptMessage(buffers, 0, 0))
	_, err := server.DecryptMessage(buffers, 0)
	require.NoError(t, err)
	require.Equal(t, plaintext, buffers[0].Payload)
}

func TestKerberosEncryptMessageEmptyPlaintext(t *testing.T) {
	client, server := fakeEstablishedPair(t)

	buffers := []sspi.SecurityBuffer{
		sspi.NewSecurityBuffer(nil, sspi.SecurityBufferData),
		sspi.NewSecurityBuffer(nil, sspi.SecurityBufferToken),
	}
	require.NoError(t, client.EncryptMessage(buffers, 0, 0))
	require.NotEmpty(t, buffers[1].Payload)

	_, err := server.DecryptMessage(buffers, 0)
	require.NoError(t, err)
	require.Empty(t, buffers[0].Payload)
}

func TestKerberosDecryptMessageRejectsTamperedToken(t *testing.T) {
	client, server := fakeEstablishedPair(t)

	buffers := []sspi.SecurityBuffer{
		sspi.NewSecurityBuffer([]byte("tamper me"), sspi.SecurityBufferData),
		sspi.NewSecurityBuffer(nil, sspi.SecurityBufferToken),
	}
	require.NoError(t, client.EncryptMessage(buffers, 0, 0))
	buffers[1].Payload[len(buffers[1].Payload)-1] ^= 0xFF

	_, err := server.DecryptMessage(buffers, 0)
	require.Error(t, err)
}

func TestKerberosDecryptMessageRejectsReplay(t *testing.T) {
	client, server := fakeEstablishedPair(t)

	buffers := []sspi.SecurityBuffer{
		sspi.NewSecurityBuffer([]byte("hello"), sspi.SecurityBufferData),
		sspi.NewSecurityBuffer(nil, sspi.SecurityBufferToken),
	}
	require.NoError(t, client.EncryptMessage(buffers, 0, 0))
	_, err := server.DecryptMessage(buffers, 0)
	require.NoError(t, err)

	_, err = server.DecryptMessage(buffers, 0)
	require.Error(t, err)
	var sspiErr *sspi.Error
	require.ErrorAs(t, err, &sspiErr)
	require.Equal(t, sspi.ErrorKindOutOfSequence, sspiErr.Kind)
}

func TestKerberosMakeVerifySignatureRoundTrip(t *testing.T) {
	client, server := fakeEstablishedPair(t)

	message := []byte("signed but not sealed")
	buffers := []sspi.SecurityBuffer{
		sspi.NewSecurityBuffer(append([]byte(nil), message...), sspi.SecurityBufferData),
		sspi.NewSecurityBuffer(nil, sspi.SecurityBufferToken),
	}
	require.NoError(t, client.MakeSignature(buffers, 0))
	require.Equal(t, message, buffers[0].Payload)

	require.NoError(t, server.VerifySignature(buffers, 0))

	require.NoError(t, client.MakeSignature(buffers, 1))
	buffers[0].Payload[0] ^= 0xFF
	err := server.VerifySignature(buffers, 1)
	require.Error(t, err)
}

func TestKerberosVerifySignatureRejectsReplayedToken(t *testing.T) {
	client, server := fakeEstablishedPair(t)

	buffers := []sspi.SecurityBuffer{
		sspi.NewSecurityBuffer([]byte("once only"), sspi.SecurityBufferData),
		sspi.NewSecurityBuffer(nil, sspi.SecurityBufferToken),
	}
	require.NoError(t, client.MakeSignature(buffers, 0))
	require.NoError(t, server.VerifySignature(buffers, 0))

	// The replayed token's embedded SND_SEQ no longer matches the
	// receive-side counter even when the caller advances its own.
	err := server.VerifySignature(buffers, 1)
	require.Error(t, err)
	var sspiErr *sspi.Error
	require.ErrorAs(t, err, &sspiErr)
	require.Equal(t, sspi.ErrorKindOutOfSequence, sspiErr.Kind)
}

func TestKerberosEncryptDecryptMessage100RoundTrips(t *testing.T) {
	client, server := fakeEstablishedPair(t)

	for seq := uint32(0); seq < 100; seq++ {
		plaintext := make([]byte, 4096)
		for i := range plaintext {
			plaintext[i] = byte(seq)
		}
		buffers := []sspi.SecurityBuffer{
			sspi.NewSecurityBuffer(append([]byte(nil), plaintext...), sspi.SecurityBufferData),
			sspi.NewSecurityBuffer(nil, sspi.SecurityBufferToken),
		}

		require.NoError(t, client.EncryptMessage(buffers, 0, seq))
		_, err := server.DecryptMessage(buffers, seq)
		require.NoError(t, err)
		require.Equal(t, plaintext, buffers[0].Payload)
	}
}
