// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package ntlm

// NegFlag is a single bit of the NEGOTIATE_FLAGS field carried by every
// NTLM message. Values come from [MS-NLMP] §2.2.2.5.
type NegFlag uint32

// IsSet reports whether the receiver's bit is set in flags.
func (f NegFlag) IsSet(flags uint32) bool {
	return flags&uint32(f) != 0
}

// Set returns flags with the receiver's bit set.
func (f NegFlag) Set(flags uint32) uint32 {
	return flags | uint32(f)
}

// Clear returns flags with the receiver's bit cleared.
func (f NegFlag) Clear(flags uint32) uint32 {
	return flags &^ uint32(f)
}

const (
	NTLMSSP_NEGOTIATE_UNICODE                  NegFlag = 0x00000001
	NTLM_NEGOTIATE_OEM                         NegFlag = 0x00000002
	NTLMSSP_REQUEST_TARGET                     NegFlag = 0x00000004
	NTLMSSP_NEGOTIATE_SIGN                     NegFlag = 0x00000010
	NTLMSSP_NEGOTIATE_SEAL                     NegFlag = 0x00000020
	NTLMSSP_NEGOTIATE_DATAGRAM                 NegFlag = 0x00000040
	NTLMSSP_NEGOTIATE_LM_KEY                   NegFlag = 0x00000080
	NTLMSSP_NEGOTIATE_NTLM                     NegFlag = 0x00000200
	NTLMSSP_NEGOTIATE_ANONYMOUS                NegFlag = 0x00000800
	NTLMSSP_NEGOTIATE_OEM_DOMAIN_SUPPLIED      NegFlag = 0x00001000
	NTLMSSP_NEGOTIATE_OEM_WORKSTATION_SUPPLIED NegFlag = 0x00002000
	NTLMSSP_NEGOTIATE_ALWAYS_SIGN              NegFlag = 0x00008000
	NTLMSSP_TARGET_TYPE_DOMAIN                 NegFlag = 0x00010000
	NTLMSSP_TARGET_TYPE_SERVER                 NegFlag = 0x00020000
	NTLMSSP_NEGOTIATE_EXTENDED_SESSIONSECURITY NegFlag = 0x00080000
	NTLMSSP_NEGOTIATE_IDENTIFY                 NegFlag = 0x00100000
	NTLMSSP_REQUEST_NON_NT_SESSION_KEY         NegFlag = 0x00400000
	NTLMSSP_NEGOTIATE_TARGET_INFO              NegFlag = 0x00800000
	NTLMSSP_NEGOTIATE_VERSION                  NegFlag = 0x02000000
	NTLMSSP_NEGOTIATE_128                      NegFlag = 0x20000000
	NTLMSSP_NEGOTIATE_KEY_EXCH                 NegFlag = 0x40000000
	NTLMSSP_NEGOTIATE_56                       NegFlag = 0x80000000
)

// DefaultClientFlags are the flags this package requests in a NEGOTIATE
// message: unicode strings, signing, sealing, NTLM authentication,
// always-sign, extended session security, target info, version reporting,
// 128-bit keys, key exchange, and a request for the target name.
const DefaultClientFlags = NTLMSSP_NEGOTIATE_UNICODE |
	NTLMSSP_NEGOTIATE_SIGN |
	NTLMSSP_NEGOTIATE_SEAL |
	NTLMSSP_NEGOTIATE_NTLM |
	NTLMSSP_NEGOTIATE_ALWAYS_SIGN |
	NTLMSSP_NEGOTIATE_EXTENDED_SESSIONSECURITY |
	NTLMSSP_NEGOTIATE_TARGET_INFO |
	NTLMSSP_NEGOTIATE_VERSION |
	NTLMSSP_NEGOTIATE_128 |
	NTLMSSP_NEGOTIATE_KEY_EXCH |
	NTLMSSP_REQUEST_TARGET

// DefaultServerFlags are the flags this package grants in a CHALLENGE
// message, absent any reason to do otherwise.
const DefaultServerFlags = NTLMSSP_NEGOTIATE_UNICODE |
	NTLMSSP_NEGOTIATE_SIGN |
	NTLMSSP_NEGOTIATE_SEAL |
	NTLMSSP_NEGOTIATE_NTLM |
	NTLMSSP_NEGOTIATE_ALWAYS_SIGN |
	NTLMSSP_NEGOTIATE_EXTENDED_SESSIONSECURITY |
	NTLMSSP_NEGOTIATE_TARGET_INFO |
	NTLMSSP_NEGOTIATE_VERSION |
	NTLMSSP_NEGOTIATE_128 |
	NTLMSSP_NEGOTIATE_KEY_EXCH |
	NTLMSSP_REQUEST_TARGET |
	NTLMSSP_TARGET_TYPE_SERVER
