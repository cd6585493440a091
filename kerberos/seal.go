// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package kerberos

import (
	"github.com/jcmturner/gokrb5/v8/crypto"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/jake-scott/go-sspi"
)

// activeKey picks the key that protects per-message tokens: a negotiated
// subkey takes precedence over the ticket session key (RFC 4121 § 2), and
// the initiator's and acceptor's subkeys are the same key from each side's
// own point of view once an AP-REP subkey has been exchanged.
func (c *Context) activeKey() *types.EncryptionKey {
	if c.isClient && c.acceptorSubKey != nil {
		return c.acceptorSubKey
	}
	if c.isServer && c.initiatorSubKey != nil {
		return c.initiatorSubKey
	}
	if c.initiatorSubKey != nil {
		return c.initiatorSubKey
	}
	return c.sessionKey
}

// checksumSize returns the per-message checksum/confidentiality trailer
// length for key, derived the same way wrapToken.sign sizes its EC field.
func checksumSize(key types.EncryptionKey) (int, error) {
	et, err := crypto.GetEtype(key.KeyType)
	if err != nil {
		return 0, sspi.WrapError(sspi.ErrorKindAlgorithmMismatch, "unsupported Kerberos encryption type", err)
	}
	return et.GetHMACBitLength() / 8, nil
}

// EncryptMessage wraps the SecurityBufferData buffers in an RFC 4121 WRAP
// token, sealing them unless EncryptionFlagWrapNoEncrypt was requested, and
// writes the token into the first SecurityBufferToken buffer.
func (c *Context) EncryptMessage(buffers []sspi.SecurityBuffer, flags sspi.EncryptionFlags, messageSeqNo uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.established {
		return sspi.NewError(sspi.ErrorKindInvalidHandle, "context not established")
	}
	if messageSeqNo != c.sendCount {
		return sspi.NewError(sspi.ErrorKindOutOfSequence, "Kerberos send sequence number out of order")
	}
	key := c.activeKey()
	if key == nil {
		return sspi.NewError(sspi.ErrorKindInvalidHandle, "no Kerberos key available")
	}

	var plaintext []byte
	for i := range buffers {
		if buffers[i].Kind == sspi.SecurityBufferData {
			plaintext = append(plaintext, buffers[i].Payload...)
		}
	}

	wt := &wrapToken{sequenceNumber: c.ourSeq, payload: plaintext}
	if c.isServer {
		wt.flags |= gssFlagSentByAcceptor
	}
	if c.acceptorSubKey != nil {
		wt.flags |= gssFlagAcceptorSubkey
	}

	noEncrypt := flags&sspi.EncryptionFlagWrapNoEncrypt != 0
	if noEncrypt {
		if err := wt.sign(*key); err != nil {
			return err
		}
	} else {
		wt.flags |= gssFlagSealed
		if err := wt.seal(*key); err != nil {
			return err
		}
	}

	token, err := wt.marshal()
	if err != nil {
		return err
	}

	tok, err := sspi.FindBuffer(buffers, sspi.SecurityBufferToken)
	if err != nil {
		return err
	}
	if err := tok.SetPayload(token, false); err != nil {
		return err
	}

	if !noEncrypt {
		for i := range buffers {
			if buffers[i].Kind == sspi.SecurityBufferData {
				buffers[i].Payload = nil
			}
		}
	}
	c.ourSeq++
	c.sendCount++
	return nil
}

// MakeSignature computes a detached RFC 4121 MIC token over the
// SecurityBufferData buffers, writing it into the first SecurityBufferToken
// buffer. MIC tokens share the per-context sequence counters with WRAP
// tokens.
func (c *Context) MakeSignature(buffers []sspi.SecurityBuffer, messageSeqNo uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.established {
		return sspi.NewError(sspi.ErrorKindInvalidHandle, "context not established")
	}
	if messageSeqNo != c.sendCount {
		return sspi.NewError(sspi.ErrorKindOutOfSequence, "Kerberos send sequence number out of order")
	}
	key := c.activeKey()
	if key == nil {
		return sspi.NewError(sspi.ErrorKindInvalidHandle, "no Kerberos key available")
	}

	var plaintext []byte
	for i := range buffers {
		if buffers[i].Kind == sspi.SecurityBufferData {
			plaintext = append(plaintext, buffers[i].Payload...)
		}
	}

	mt := &micToken{sequenceNumber: c.ourSeq}
	if c.isServer {
		mt.flags |= gssFlagSentByAcceptor
	}
	if c.acceptorSubKey != nil {
		mt.flags |= gssFlagAcceptorSubkey
	}
	if err := mt.sign(plaintext, *key); err != nil {
		return err
	}
	token, err := mt.marshal()
	if err != nil {
		return err
	}

	tok, err := sspi.FindBuffer(buffers, sspi.SecurityBufferToken)
	if err != nil {
		return err
	}
	if err := tok.SetPayload(token, false); err != nil {
		return err
	}
	c.ourSeq++
	c.sendCount++
	return nil
}

// VerifySignature checks a MIC token produced by the peer's MakeSignature.
func (c *Context) VerifySignature(buffers []sspi.SecurityBuffer, messageSeqNo uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.established {
		return sspi.NewError(sspi.ErrorKindInvalidHandle, "context not established")
	}
	if messageSeqNo != c.recvCount {
		return sspi.NewError(sspi.ErrorKindOutOfSequence, "Kerberos receive sequence number out of order")
	}
	key := c.activeKey()
	if key == nil {
		return sspi.NewError(sspi.ErrorKindInvalidHandle, "no Kerberos key available")
	}

	tok, err := sspi.FindBuffer(buffers, sspi.SecurityBufferToken)
	if err != nil {
		return err
	}
	var mt micToken
	if err := mt.unmarshal(tok.Payload); err != nil {
		return err
	}
	if mt.sequenceNumber != c.theirSeq {
		return sspi.NewError(sspi.ErrorKindOutOfSequence, "MIC token sequence number is a replay or a gap")
	}

	var plaintext []byte
	for i := range buffers {
		if buffers[i].Kind == sspi.SecurityBufferData {
			plaintext = append(plaintext, buffers[i].Payload...)
		}
	}
	if err := mt.verify(plaintext, *key, !c.isServer); err != nil {
		return err
	}
	c.theirSeq++
	c.recvCount++
	return nil
}

// DecryptMessage parses the WRAP token carried in the SecurityBufferToken
// buffer, verifies it, and restores plaintext into the first
// SecurityBufferData buffer.
func (c *Context) DecryptMessage(buffers []sspi.SecurityBuffer, messageSeqNo uint32) (sspi.DecryptionFlags, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.established {
		return 0, sspi.NewError(sspi.ErrorKindInvalidHandle, "context not established")
	}
	if messageSeqNo != c.recvCount {
		return 0, sspi.NewError(sspi.ErrorKindOutOfSequence, "Kerberos receive sequence number out of order")
	}
	key := c.activeKey()
	if key == nil {
		return 0, sspi.NewError(sspi.ErrorKindInvalidHandle, "no Kerberos key available")
	}

	tok, err := sspi.FindBuffer(buffers, sspi.SecurityBufferToken)
	if err != nil {
		return 0, err
	}

	var wt wrapToken
	if err := wt.unmarshal(tok.Payload); err != nil {
		return 0, err
	}
	if wt.sequenceNumber != c.theirSeq {
		return 0, sspi.NewError(sspi.ErrorKindOutOfSequence, "WRAP token sequence number is a replay or a gap")
	}

	expectFromAcceptor := !c.isServer
	sealed, err := wt.verifyAndDecode(*key, expectFromAcceptor)
	if err != nil {
		return 0, err
	}

	data, err := sspi.FindBuffer(buffers, sspi.SecurityBufferData)
	if err == nil {
		data.Payload = wt.payload
	}

	c.theirSeq++
	c.recvCount++
	if !sealed {
		return sspi.DecryptionFlagSignOnly, nil
	}
	return 0, nil
}
