// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package sspi

import "unicode/utf16"

// AuthIdentity is the username/domain/password triple a caller supplies to
// AcquireCredentialsHandle. Once bound to a context it is treated as
// read-only; the core never mutates it.
type AuthIdentity struct {
	Username string
	Domain   string
	Password string
}

// AuthIdentityBuffers is the UTF-16LE byte-string form of AuthIdentity
// that the wire codecs consume directly, keeping the caller-facing string
// form and the on-wire byte form distinct.
type AuthIdentityBuffers struct {
	User     []byte
	Domain   []byte
	Password []byte
}

// ToAuthIdentityBuffers converts an AuthIdentity to its UTF-16LE byte-string
// form for use by a wire codec.
func (a *AuthIdentity) ToAuthIdentityBuffers() *AuthIdentityBuffers {
	return &AuthIdentityBuffers{
		User:     utf16LEBytes(a.Username),
		Domain:   utf16LEBytes(a.Domain),
		Password: utf16LEBytes(a.Password),
	}
}

func utf16LEBytes(s string) []byte {
	u := utf16.Encode([]rune(s))
	b := make([]byte, len(u)*2)
	for i, v := range u {
		b[i*2] = byte(v)
		b[i*2+1] = byte(v >> 8)
	}
	return b
}

// UTF16LEBytes exposes utf16LEBytes for subpackages building wire fields
// from plain strings.
func UTF16LEBytes(s string) []byte {
	return utf16LEBytes(s)
}

// CredentialsHandle is implemented by each package's opaque credential
// handle type (ntlm.CredentialsHandle, kerberos.CredentialsHandle). The
// marker method only exists to keep accidental handle misuse from
// compiling.
type CredentialsHandle interface {
	IsCredentialsHandle()
}
