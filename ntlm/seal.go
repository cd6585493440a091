// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package ntlm

import (
	"crypto/hmac"

	"github.com/jake-scott/go-sspi"
	"github.com/jake-scott/go-sspi/internal/cryptokit"
)

// signingKeyFor and sealHandleFor pick the per-direction key/cipher: a
// client signs/seals with its own client keys and verifies/unseals with
// the server's, and vice versa for a server context.
func (c *Context) signingKeyFor(outgoing bool) []byte {
	if outgoing == c.isClient {
		return c.clientSigningKey
	}
	return c.serverSigningKey
}

func (c *Context) sealHandleFor(outgoing bool) *cryptokit.RC4Cipher {
	if outgoing == c.isClient {
		return c.clientSealHandle
	}
	return c.serverSealHandle
}

// CompleteAuthToken is a no-op for NTLM: the MIC is patched into the
// AUTHENTICATE message before InitializeSecurityContext returns it, so no
// caller ever needs this call to finish a token.
func (c *Context) CompleteAuthToken(buffers []sspi.SecurityBuffer) (sspi.SecurityStatus, error) {
	return sspi.SecurityStatusOk, nil
}

// EncryptMessage signs buffers[*], and seals SecurityBufferData buffers in
// place, writing the signature into the first SecurityBufferToken buffer.
// See [MS-NLMP] §3.4.3 (SEAL).
func (c *Context) EncryptMessage(buffers []sspi.SecurityBuffer, flags sspi.EncryptionFlags, messageSeqNo uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.established {
		return sspi.NewError(sspi.ErrorKindInvalidHandle, "context not established")
	}

	if messageSeqNo != c.sendSeq {
		return sspi.NewError(sspi.ErrorKindOutOfSequence, "NTLM send sequence number out of order")
	}

	// The NTLM signature carries no sealed/unsealed marker, so a receiver
	// has no way to tell an integrity-only message from a sealed one;
	// integrity-only protection goes through MakeSignature/VerifySignature
	// instead.
	if flags&sspi.EncryptionFlagWrapNoEncrypt != 0 {
		return sspi.NewError(sspi.ErrorKindUnsupportedFunction,
			"NTLM cannot wrap without encryption; use MakeSignature for integrity-only protection")
	}

	sealHandle := c.sealHandleFor(true)
	signingKey := c.signingKeyFor(true)

	var plaintext []byte
	for i := range buffers {
		if buffers[i].Kind == sspi.SecurityBufferData {
			plaintext = append(plaintext, buffers[i].Payload...)
		}
	}

	// Seal before signing: [MS-NLMP] §3.4.3 runs the message through the
	// RC4 handle first and the signature checksum second, and the peer's
	// DecryptMessage consumes the keystream in the same order.
	for i := range buffers {
		if buffers[i].Kind == sspi.SecurityBufferData {
			sealed := make([]byte, len(buffers[i].Payload))
			sealHandle.XORKeyStream(sealed, buffers[i].Payload)
			buffers[i].Payload = sealed
		}
	}

	sig := mac(signingKey, sealHandle, messageSeqNo, plaintext)

	tok, err := sspi.FindBuffer(buffers, sspi.SecurityBufferToken)
	if err != nil {
		return err
	}
	if err := tok.SetPayload(sig, false); err != nil {
		return err
	}
	c.sendSeq++
	return nil
}

// DecryptMessage unseals SecurityBufferData buffers in place and verifies
// the signature carried in the SecurityBufferToken buffer.
func (c *Context) DecryptMessage(buffers []sspi.SecurityBuffer, messageSeqNo uint32) (sspi.DecryptionFlags, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.established {
		return 0, sspi.NewError(sspi.ErrorKindInvalidHandle, "context not established")
	}

	if messageSeqNo != c.recvSeq {
		return 0, sspi.NewError(sspi.ErrorKindOutOfSequence, "NTLM receive sequence number out of order")
	}

	sealHandle := c.sealHandleFor(false)
	signingKey := c.signingKeyFor(false)

	tok, err := sspi.FindBuffer(buffers, sspi.SecurityBufferToken)
	if err != nil {
		return 0, err
	}
	expectedSig := tok.Payload

	for i := range buffers {
		if buffers[i].Kind == sspi.SecurityBufferData {
			plain := make([]byte, len(buffers[i].Payload))
			sealHandle.XORKeyStream(plain, buffers[i].Payload)
			buffers[i].Payload = plain
		}
	}

	var plaintext []byte
	for i := range buffers {
		if buffers[i].Kind == sspi.SecurityBufferData {
			plaintext = append(plaintext, buffers[i].Payload...)
		}
	}
	gotSig := mac(signingKey, sealHandle, messageSeqNo, plaintext)
	if !hmac.Equal(gotSig, expectedSig) {
		return 0, sspi.NewError(sspi.ErrorKindMessageAltered, "NTLM signature verification failed")
	}
	c.recvSeq++
	return 0, nil
}

// MakeSignature computes a detached 16-byte signature over the
// SecurityBufferData buffers without sealing them, writing it into the
// first SecurityBufferToken buffer ([MS-NLMP] §3.4.4, SIGN). It shares the
// send-direction sequence counter and RC4 stream with EncryptMessage.
func (c *Context) MakeSignature(buffers []sspi.SecurityBuffer, messageSeqNo uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.established {
		return sspi.NewError(sspi.ErrorKindInvalidHandle, "context not established")
	}
	if messageSeqNo != c.sendSeq {
		return sspi.NewError(sspi.ErrorKindOutOfSequence, "NTLM send sequence number out of order")
	}

	var plaintext []byte
	for i := range buffers {
		if buffers[i].Kind == sspi.SecurityBufferData {
			plaintext = append(plaintext, buffers[i].Payload...)
		}
	}
	sig := mac(c.signingKeyFor(true), c.sealHandleFor(true), messageSeqNo, plaintext)

	tok, err := sspi.FindBuffer(buffers, sspi.SecurityBufferToken)
	if err != nil {
		return err
	}
	if err := tok.SetPayload(sig, false); err != nil {
		return err
	}
	c.sendSeq++
	return nil
}

// VerifySignature checks a signature produced by the peer's MakeSignature.
func (c *Context) VerifySignature(buffers []sspi.SecurityBuffer, messageSeqNo uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.established {
		return sspi.NewError(sspi.ErrorKindInvalidHandle, "context not established")
	}
	if messageSeqNo != c.recvSeq {
		return sspi.NewError(sspi.ErrorKindOutOfSequence, "NTLM receive sequence number out of order")
	}

	tok, err := sspi.FindBuffer(buffers, sspi.SecurityBufferToken)
	if err != nil {
		return err
	}

	var plaintext []byte
	for i := range buffers {
		if buffers[i].Kind == sspi.SecurityBufferData {
			plaintext = append(plaintext, buffers[i].Payload...)
		}
	}
	sig := mac(c.signingKeyFor(false), c.sealHandleFor(false), messageSeqNo, plaintext)
	if !hmac.Equal(sig, tok.Payload) {
		return sspi.NewError(sspi.ErrorKindMessageAltered, "NTLM signature verification failed")
	}
	c.recvSeq++
	return nil
}

// QueryContextSizes reports NTLM's fixed 16-byte signature, no block
// padding (stream cipher), and a 16-byte security trailer (the signature).
func (c *Context) QueryContextSizes() (sspi.ContextSizes, error) {
	return sspi.ContextSizes{
		MaxToken:        2880,
		MaxSignature:    16,
		Block:           1,
		SecurityTrailer: 16,
	}, nil
}

// QueryContextNames reports the username/domain carried by the
// AUTHENTICATE message once the context is established.
func (c *Context) QueryContextNames() (sspi.ContextNames, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authenticateMsg == nil {
		return sspi.ContextNames{}, sspi.NewError(sspi.ErrorKindInvalidHandle, "context not established")
	}
	return sspi.ContextNames{Username: c.authenticateMsg.UserName, Domain: c.authenticateMsg.DomainName}, nil
}

// QueryContextPackageInfo reports the NTLM PackageInfo.
func (c *Context) QueryContextPackageInfo() (sspi.PackageInfo, error) {
	return packageInfo, nil
}

// QueryContextCertTrustStatus always reports trusted: NTLM has no
// certificate-based trust model.
func (c *Context) QueryContextCertTrustStatus() (sspi.CertTrustStatus, error) {
	return sspi.CertTrustStatus{}, nil
}
