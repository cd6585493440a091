// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package kerberos

import (
	"bytes"
	"crypto/hmac"
	"encoding/binary"
	"fmt"

	"github.com/jcmturner/gokrb5/v8/crypto"
	"github.com/jcmturner/gokrb5/v8/iana/keyusage"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/jake-scott/go-sspi"
)

// RFC 4121 § 4.2.6 token framing constants.
const (
	msgTokenHdrLen          = 16
	msgTokenFillerByte byte = 0xFF
)

var wrapTokenID = [2]byte{0x05, 0x04}
var micTokenID = [2]byte{0x04, 0x04}

// gssTokenFlag is the one-byte flags field carried by both WRAP and MIC
// tokens (RFC 4121 § 4.2.2).
type gssTokenFlag uint8

const (
	gssFlagSentByAcceptor gssTokenFlag = 1 << iota
	gssFlagSealed
	gssFlagAcceptorSubkey
)

// micToken is an RFC 4121 § 4.2.6.1 GSS-API MIC token: a signature over a
// payload transported separately.
type micToken struct {
	flags          gssTokenFlag
	sequenceNumber uint64
	checksum       []byte
	signed         bool
}

func (mt *micToken) header() []byte {
	hdr := make([]byte, msgTokenHdrLen)
	copy(hdr, []byte{micTokenID[0], micTokenID[1], byte(mt.flags), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0, 0, 0, 0})
	binary.BigEndian.PutUint64(hdr[8:], mt.sequenceNumber)
	return hdr
}

// sign computes the MIC's checksum over payload||header using the
// GSSAPI_*_SIGN key usage (RFC 4121 § 4.2.4).
func (mt *micToken) sign(payload []byte, key types.EncryptionKey) error {
	usage := keyusage.GSSAPI_INITIATOR_SIGN
	if mt.flags&gssFlagSentByAcceptor != 0 {
		usage = keyusage.GSSAPI_ACCEPTOR_SIGN
	}
	data := append(append([]byte{}, payload...), mt.header()...)
	encType, err := crypto.GetEtype(key.KeyType)
	if err != nil {
		return fmt.Errorf("kerberos: %w", err)
	}
	cksum, err := encType.GetChecksumHash(key.KeyValue, data, uint32(usage))
	if err != nil {
		return fmt.Errorf("kerberos: %w", err)
	}
	mt.checksum = cksum
	mt.signed = true
	return nil
}

func (mt *micToken) verify(payload []byte, key types.EncryptionKey, expectFromAcceptor bool) error {
	if !mt.signed {
		return sspi.NewError(sspi.ErrorKindInvalidToken, "MIC token is not signed")
	}
	if len(payload) == 0 {
		return sspi.NewError(sspi.ErrorKindInvalidToken, "cannot verify an empty MIC payload")
	}
	if (mt.flags&gssFlagSentByAcceptor != 0) != expectFromAcceptor {
		return sspi.NewError(sspi.ErrorKindInvalidToken, "MIC token direction mismatch")
	}
	candidate := *mt
	if err := candidate.sign(payload, key); err != nil {
		return err
	}
	if !bytes.Equal(mt.checksum, candidate.checksum) {
		return sspi.NewError(sspi.ErrorKindMessageAltered, "MIC checksum mismatch")
	}
	return nil
}

func (mt *micToken) marshal() ([]byte, error) {
	if !mt.signed {
		return nil, sspi.NewError(sspi.ErrorKindInternalError, "MIC token is not signed")
	}
	token := make([]byte, msgTokenHdrLen+len(mt.checksum))
	copy(token, micTokenID[:])
	token[2] = byte(mt.flags)
	copy(token[3:8], []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF})
	binary.BigEndian.PutUint64(token[8:16], mt.sequenceNumber)
	copy(token[16:], mt.checksum)
	return token, nil
}

func (mt *micToken) unmarshal(token []byte) error {
	*mt = micToken{}
	if len(token) < msgTokenHdrLen {
		return sspi.NewError(sspi.ErrorKindInvalidToken, "MIC token is too short")
	}
	if !bytes.Equal(micTokenID[:], token[0:2]) {
		return sspi.NewError(sspi.ErrorKindInvalidToken, "bad MIC token ID")
	}
	mt.flags = gssTokenFlag(token[2])
	if !bytes.Equal(token[3:8], []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF}) {
		return sspi.NewError(sspi.ErrorKindInvalidToken, "invalid MIC token filler")
	}
	mt.sequenceNumber = binary.BigEndian.Uint64(token[8:16])
	if len(token) > msgTokenHdrLen {
		mt.checksum = token[16:]
	}
	mt.signed = true
	return nil
}

// wrapToken is an RFC 4121 § 4.2.6.2 GSS-API WRAP token: a payload that is
// either signed-only or sealed (encrypted) in place.
type wrapToken struct {
	flags          gssTokenFlag
	ec             uint16
	rrc            uint16
	sequenceNumber uint64
	payload        []byte
	signedOrSealed bool
}

// header returns the 16-byte token header with EC and RRC zeroed: that is
// the form RFC 4121 § 4.2.4 feeds into the checksum and § 4.2.3 into the
// encrypted trailer, regardless of the values the final token carries.
func (wt *wrapToken) header() []byte {
	hdr := make([]byte, msgTokenHdrLen)
	copy(hdr, []byte{wrapTokenID[0], wrapTokenID[1], byte(wt.flags), msgTokenFillerByte, 0, 0, 0, 0})
	binary.BigEndian.PutUint64(hdr[8:], wt.sequenceNumber)
	return hdr
}

func (wt *wrapToken) sealUsage() uint32 {
	if wt.flags&gssFlagSentByAcceptor != 0 {
		return keyusage.GSSAPI_ACCEPTOR_SEAL
	}
	return keyusage.GSSAPI_INITIATOR_SEAL
}

// sign appends a keyed checksum to the payload (confidentiality off).
func (wt *wrapToken) sign(key types.EncryptionKey) error {
	if wt.signedOrSealed {
		return sspi.NewError(sspi.ErrorKindInternalError, "WRAP token already signed or sealed")
	}
	cksumData := append(append([]byte{}, wt.payload...), wt.header()...)
	encType, err := crypto.GetEtype(key.KeyType)
	if err != nil {
		return fmt.Errorf("kerberos: %w", err)
	}
	cksum, err := encType.GetChecksumHash(key.KeyValue, cksumData, wt.sealUsage())
	if err != nil {
		return fmt.Errorf("kerberos: %w", err)
	}
	wt.payload = append(wt.payload, cksum...)
	wt.ec = uint16(encType.GetHMACBitLength() / 8)
	wt.rrc = 0
	wt.signedOrSealed = true
	return nil
}

// seal encrypts the payload||header under the confidentiality key usage.
func (wt *wrapToken) seal(key types.EncryptionKey) error {
	if wt.signedOrSealed {
		return sspi.NewError(sspi.ErrorKindInternalError, "WRAP token already signed or sealed")
	}
	toEncrypt := append(append([]byte{}, wt.payload...), wt.header()...)
	encType, err := crypto.GetEtype(key.KeyType)
	if err != nil {
		return fmt.Errorf("kerberos: %w", err)
	}
	_, enc, err := encType.EncryptMessage(key.KeyValue, toEncrypt, wt.sealUsage())
	if err != nil {
		return fmt.Errorf("kerberos: %w", err)
	}
	wt.payload = enc
	wt.ec = 0
	wt.rrc = 0
	wt.signedOrSealed = true
	return nil
}

func (wt *wrapToken) marshal() ([]byte, error) {
	if !wt.signedOrSealed {
		return nil, sspi.NewError(sspi.ErrorKindInternalError, "WRAP token is not signed or sealed")
	}
	token := make([]byte, msgTokenHdrLen+len(wt.payload))
	copy(token, wrapTokenID[:])
	token[2] = byte(wt.flags)
	token[3] = msgTokenFillerByte
	binary.BigEndian.PutUint16(token[4:6], wt.ec)
	binary.BigEndian.PutUint16(token[6:8], wt.rrc)
	binary.BigEndian.PutUint64(token[8:16], wt.sequenceNumber)
	copy(token[16:], wt.payload)
	return token, nil
}

func (wt *wrapToken) unmarshal(token []byte) error {
	*wt = wrapToken{}
	if len(token) < msgTokenHdrLen {
		return sspi.NewError(sspi.ErrorKindInvalidToken, "WRAP token is too short")
	}
	if token[0] == 0x60 {
		return sspi.NewError(sspi.ErrorKindInvalidToken, "GSS-API v1 message tokens are not supported")
	}
	if !bytes.Equal(wrapTokenID[:], token[0:2]) {
		return sspi.NewError(sspi.ErrorKindInvalidToken, "bad WRAP token ID")
	}
	wt.flags = gssTokenFlag(token[2])
	if token[3] != msgTokenFillerByte {
		return sspi.NewError(sspi.ErrorKindInvalidToken, "invalid WRAP token filler")
	}
	wt.ec = binary.BigEndian.Uint16(token[4:6])
	wt.rrc = binary.BigEndian.Uint16(token[6:8])
	wt.sequenceNumber = binary.BigEndian.Uint64(token[8:16])
	if len(token) > msgTokenHdrLen {
		wt.payload = token[16:]
	}
	wt.signedOrSealed = true
	return nil
}

// verifyAndDecode validates a received WRAP token's integrity and, when
// sealed, decrypts it; wt.payload holds the recovered plaintext on return.
func (wt *wrapToken) verifyAndDecode(key types.EncryptionKey, expectFromAcceptor bool) (sealed bool, err error) {
	if !wt.signedOrSealed {
		return false, sspi.NewError(sspi.ErrorKindInvalidToken, "WRAP token is not signed or sealed")
	}
	if len(wt.payload) == 0 {
		return false, sspi.NewError(sspi.ErrorKindInvalidToken, "cannot verify an empty WRAP payload")
	}
	if (wt.flags&gssFlagSentByAcceptor != 0) != expectFromAcceptor {
		return false, sspi.NewError(sspi.ErrorKindInvalidToken, "WRAP token direction mismatch")
	}
	wt.unrotate()
	if wt.flags&gssFlagSealed != 0 {
		return true, wt.decrypt(key)
	}
	return false, wt.checkSig(key)
}

// unrotate undoes the RRC right-rotation a DCE/SSPI peer may have applied
// to the token payload (RFC 4121 § 4.2.5): the wire payload was rotated
// right by rrc octets, so rotating left by the same count restores the
// {data | trailer} layout the verify/decrypt paths expect.
func (wt *wrapToken) unrotate() {
	if wt.rrc == 0 || len(wt.payload) == 0 {
		wt.rrc = 0
		return
	}
	n := int(wt.rrc) % len(wt.payload)
	if n != 0 {
		rotated := make([]byte, 0, len(wt.payload))
		rotated = append(rotated, wt.payload[n:]...)
		rotated = append(rotated, wt.payload[:n]...)
		wt.payload = rotated
	}
	wt.rrc = 0
}

func (wt *wrapToken) decrypt(key types.EncryptionKey) error {
	encType, err := crypto.GetEtype(key.KeyType)
	if err != nil {
		return fmt.Errorf("kerberos: %w", err)
	}
	decrypted, err := encType.DecryptMessage(key.KeyValue, wt.payload, wt.sealUsage())
	if err != nil {
		return sspi.WrapError(sspi.ErrorKindDecryptFailure, "WRAP token decryption failed", err)
	}
	if len(decrypted) < int(wt.ec)+msgTokenHdrLen {
		return sspi.NewError(sspi.ErrorKindInvalidToken, "decrypted WRAP payload is too short")
	}
	trailerHeader := decrypted[len(decrypted)-msgTokenHdrLen:]
	var check wrapToken
	if err := check.unmarshal(trailerHeader); err != nil {
		return err
	}
	if check.flags != wt.flags || check.ec != wt.ec || check.sequenceNumber != wt.sequenceNumber {
		return sspi.NewError(sspi.ErrorKindMessageAltered, "WRAP token trailer header was modified")
	}
	wt.payload = decrypted[:len(decrypted)-msgTokenHdrLen-int(wt.ec)]
	wt.signedOrSealed = false
	return nil
}

func (wt *wrapToken) checkSig(key types.EncryptionKey) error {
	encType, err := crypto.GetEtype(key.KeyType)
	if err != nil {
		return fmt.Errorf("kerberos: %w", err)
	}
	if wt.ec != uint16(encType.GetHMACBitLength()/8) {
		return sspi.NewError(sspi.ErrorKindInvalidToken, "bad WRAP token checksum length")
	}
	if len(wt.payload) < int(wt.ec) {
		return sspi.NewError(sspi.ErrorKindInvalidToken, "signed WRAP payload is too short")
	}
	tokCksum := wt.payload[len(wt.payload)-int(wt.ec):]
	candidate := *wt
	candidate.payload = wt.payload[:len(wt.payload)-int(wt.ec)]
	computed, err := candidate.sealUsageChecksum(key)
	if err != nil {
		return err
	}
	if !hmac.Equal(tokCksum, computed) {
		return sspi.NewError(sspi.ErrorKindMessageAltered, "invalid WRAP token checksum")
	}
	wt.payload = wt.payload[:len(wt.payload)-int(wt.ec)]
	wt.signedOrSealed = false
	return nil
}

func (wt *wrapToken) sealUsageChecksum(key types.EncryptionKey) ([]byte, error) {
	cksumData := append(append([]byte{}, wt.payload...), wt.header()...)
	encType, err := crypto.GetEtype(key.KeyType)
	if err != nil {
		return nil, fmt.Errorf("kerberos: %w", err)
	}
	return encType.GetChecksumHash(key.KeyValue, cksumData, wt.sealUsage())
}
