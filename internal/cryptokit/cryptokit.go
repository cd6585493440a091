// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

// Package cryptokit collects the narrow set of cryptographic primitives the
// NTLM package needs: MD4 (the NT hash base), HMAC-MD5, RC4 streaming,
// CRC32 (for the legacy NTLMv1 signature), and a secure random source.
// Kerberos key derivation and AES-CTS-HMAC-SHA1-96 are handled instead by
// github.com/jcmturner/gokrb5/v8/crypto, which already implements the
// relevant RFC 3961/8009 profiles; duplicating that here would just be a
// worse copy of a library already in the dependency graph.
package cryptokit

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/rc4"
	"fmt"
	"hash/crc32"

	"golang.org/x/crypto/md4"
)

// MD4 returns the MD4 digest of b. [MS-NLMP] uses MD4 as the base of the NT
// hash; the standard library has never carried MD4, so this reaches for
// golang.org/x/crypto/md4 the way every Go NTLM implementation does.
func MD4(b []byte) []byte {
	h := md4.New()
	h.Write(b)
	return h.Sum(nil)
}

// HMACMD5 computes HMAC-MD5(key, messages...), concatenating messages
// before hashing. [MS-NLMP] builds several of its derived values this way
// (NTProofStr, session base key, signing MIC) from two or three
// concatenated byte strings.
func HMACMD5(key []byte, messages ...[]byte) []byte {
	mac := hmac.New(md5.New, key)
	for _, m := range messages {
		mac.Write(m)
	}
	return mac.Sum(nil)
}

// MD5 returns the MD5 digest of the concatenation of messages. Used to
// derive the NTLM signing and sealing sub-keys from the exported session
// key plus a fixed magic constant.
func MD5(messages ...[]byte) []byte {
	h := md5.New()
	for _, m := range messages {
		h.Write(m)
	}
	return h.Sum(nil)
}

// CRC32 computes the IEEE CRC-32 checksum used by the NTLMv1 (non-extended
// session security) per-message signature.
func CRC32(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}

// RC4Cipher is a keyed, stateful RC4 stream used for NTLM sealing. Each
// direction of an NtlmContext owns one: it is initialised once from the
// per-direction sealing key and then advanced message-by-message, never
// re-keyed, matching [MS-NLMP] §3.4.3's single RC4 handle per direction.
type RC4Cipher struct {
	c *rc4.Cipher
}

// NewRC4Cipher constructs a stateful RC4 stream keyed with key.
func NewRC4Cipher(key []byte) (*RC4Cipher, error) {
	c, err := rc4.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptokit: rc4 init: %w", err)
	}
	return &RC4Cipher{c: c}, nil
}

// XORKeyStream advances the stream, writing len(src) bytes of ciphertext
// (or plaintext, RC4 being symmetric) to dst.
func (r *RC4Cipher) XORKeyStream(dst, src []byte) {
	r.c.XORKeyStream(dst, src)
}

// RC4 one-shot encrypts (or decrypts) plaintext under a fresh keystream
// seeded from key. Used for the EncryptedRandomSessionKey field, which is
// a single RC4(KeyExchangeKey, ExportedSessionKey) operation independent of
// the per-direction sealing streams.
func RC4(key, data []byte) ([]byte, error) {
	c, err := rc4.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptokit: rc4: %w", err)
	}
	out := make([]byte, len(data))
	c.XORKeyStream(out, data)
	return out, nil
}

// RandomBytes returns n cryptographically secure random bytes, used for
// client/server challenges, the exported session key (when KEY_EXCH is
// negotiated), and Kerberos subkeys/sequence numbers.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("cryptokit: random: %w", err)
	}
	return b, nil
}
