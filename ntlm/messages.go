// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package ntlm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unicode/utf16"
)

var signature = []byte("NTLMSSP\x00")

// maxMessageSize bounds any single handshake token; no legitimate NTLM
// message approaches 64 KiB, and rejecting early keeps adversarial field
// descriptors from forcing large allocations.
const maxMessageSize = 64 * 1024

// VersionStruct is the optional eight-byte VERSION structure ([MS-NLMP]
// §2.2.2.10), present when NTLMSSP_NEGOTIATE_VERSION is set.
type VersionStruct struct {
	ProductMajorVersion uint8
	ProductMinorVersion uint8
	ProductBuild        uint16
	NTLMRevisionCurrent uint8
}

var defaultVersion = &VersionStruct{
	ProductMajorVersion: 10,
	ProductMinorVersion: 0,
	ProductBuild:        19041,
	NTLMRevisionCurrent: 0x0F,
}

func (v *VersionStruct) bytes() []byte {
	b := make([]byte, 8)
	b[0] = v.ProductMajorVersion
	b[1] = v.ProductMinorVersion
	binary.LittleEndian.PutUint16(b[2:4], v.ProductBuild)
	b[7] = v.NTLMRevisionCurrent
	return b
}

func parseVersion(b []byte) (*VersionStruct, error) {
	if len(b) < 8 {
		return nil, fmt.Errorf("ntlm: version structure too short")
	}
	return &VersionStruct{
		ProductMajorVersion: b[0],
		ProductMinorVersion: b[1],
		ProductBuild:        binary.LittleEndian.Uint16(b[2:4]),
		NTLMRevisionCurrent: b[7],
	}, nil
}

// AvID identifies one TLV entry of an AV_PAIR sequence ([MS-NLMP] §2.2.2.1).
type AvID uint16

const (
	MsvAvEOL             AvID = 0x0000
	MsvAvNbComputerName  AvID = 0x0001
	MsvAvNbDomainName    AvID = 0x0002
	MsvAvDnsComputerName AvID = 0x0003
	MsvAvDnsDomainName   AvID = 0x0004
	MsvAvDnsTreeName     AvID = 0x0005
	MsvAvFlags           AvID = 0x0006
	MsvAvTimestamp       AvID = 0x0007
	MsvAvSingleHost      AvID = 0x0008
	MsvAvTargetName      AvID = 0x0009
	MsvAvChannelBindings AvID = 0x000A
)

// AvPair is one TLV entry of a target info / client challenge AV_PAIR list.
type AvPair struct {
	ID    AvID
	Value []byte
}

// AvPairs is an ordered AV_PAIR sequence, always terminated with an
// MsvAvEOL entry when serialized.
type AvPairs struct {
	Pairs []AvPair
}

// Add appends a pair to the sequence.
func (p *AvPairs) Add(id AvID, value []byte) {
	p.Pairs = append(p.Pairs, AvPair{ID: id, Value: value})
}

// Get returns the first pair with the given ID, if present.
func (p *AvPairs) Get(id AvID) ([]byte, bool) {
	for _, pair := range p.Pairs {
		if pair.ID == id {
			return pair.Value, true
		}
	}
	return nil, false
}

// Bytes serializes the sequence, terminating it with MsvAvEOL.
func (p *AvPairs) Bytes() []byte {
	var buf bytes.Buffer
	for _, pair := range p.Pairs {
		writeAvPair(&buf, pair.ID, pair.Value)
	}
	writeAvPair(&buf, MsvAvEOL, nil)
	return buf.Bytes()
}

func writeAvPair(buf *bytes.Buffer, id AvID, value []byte) {
	var hdr [4]byte
	binary.LittleEndian.PutUint16(hdr[0:2], uint16(id))
	binary.LittleEndian.PutUint16(hdr[2:4], uint16(len(value)))
	buf.Write(hdr[:])
	buf.Write(value)
}

// ParseAvPairs decodes an AV_PAIR sequence, stopping at (and including) the
// terminating MsvAvEOL entry.
func ParseAvPairs(b []byte) (*AvPairs, error) {
	pairs := &AvPairs{}
	for len(b) > 0 {
		if len(b) < 4 {
			return nil, fmt.Errorf("ntlm: truncated AV_PAIR header")
		}
		id := AvID(binary.LittleEndian.Uint16(b[0:2]))
		ln := int(binary.LittleEndian.Uint16(b[2:4]))
		b = b[4:]
		if len(b) < ln {
			return nil, fmt.Errorf("ntlm: truncated AV_PAIR value")
		}
		value := b[:ln]
		b = b[ln:]
		if id == MsvAvEOL {
			break
		}
		pairs.Add(id, value)
	}
	return pairs, nil
}

// payload is a length/offset-prefixed field as used by every variable-size
// NTLM message field ([MS-NLMP] §2.2.2.1).
type payload struct {
	data []byte
}

func newPayload(data []byte) payload {
	return payload{data: data}
}

func stringPayload(s string) payload {
	u := utf16.Encode([]rune(s))
	b := make([]byte, len(u)*2)
	for i, v := range u {
		binary.LittleEndian.PutUint16(b[i*2:i*2+2], v)
	}
	return payload{data: b}
}

func (p payload) String() string {
	if len(p.data)%2 != 0 {
		return ""
	}
	u := make([]uint16, len(p.data)/2)
	for i := range u {
		u[i] = binary.LittleEndian.Uint16(p.data[i*2 : i*2+2])
	}
	return string(utf16.Decode(u))
}

// NegotiateMessage is NTLM message type 1 ([MS-NLMP] §2.2.1.1).
type NegotiateMessage struct {
	NegotiateFlags uint32
	DomainName     string
	Workstation    string
	Version        *VersionStruct
}

// Marshal encodes the NEGOTIATE message.
func (m *NegotiateMessage) Marshal() []byte {
	domain := stringPayload(m.DomainName)
	if NTLMSSP_NEGOTIATE_OEM_DOMAIN_SUPPLIED.IsSet(m.NegotiateFlags) {
		domain = newPayload([]byte(m.DomainName))
	}
	workstation := stringPayload(m.Workstation)
	if NTLMSSP_NEGOTIATE_OEM_WORKSTATION_SUPPLIED.IsSet(m.NegotiateFlags) {
		workstation = newPayload([]byte(m.Workstation))
	}

	const headerLen = 40
	var buf bytes.Buffer
	buf.Write(signature)
	writeUint32(&buf, 1)
	writeUint32(&buf, m.NegotiateFlags)
	writeFieldDescriptor(&buf, domain, headerLen)
	writeFieldDescriptor(&buf, workstation, headerLen+len(domain.data))
	if m.Version != nil {
		buf.Write(m.Version.bytes())
	} else {
		buf.Write(make([]byte, 8))
	}
	buf.Write(domain.data)
	buf.Write(workstation.data)
	return buf.Bytes()
}

// ParseNegotiateMessage decodes a NEGOTIATE message.
func ParseNegotiateMessage(b []byte) (*NegotiateMessage, error) {
	if err := checkHeader(b, 1); err != nil {
		return nil, err
	}
	flags := binary.LittleEndian.Uint32(b[12:16])
	domain, err := readFieldDescriptor(b, 16)
	if err != nil {
		return nil, err
	}
	workstation, err := readFieldDescriptor(b, 24)
	if err != nil {
		return nil, err
	}
	m := &NegotiateMessage{
		NegotiateFlags: flags,
		DomainName:     domain.String(),
		Workstation:    workstation.String(),
	}
	if NTLMSSP_NEGOTIATE_VERSION.IsSet(flags) && len(b) >= 40 {
		m.Version, _ = parseVersion(b[32:40])
	}
	return m, nil
}

// ChallengeMessage is NTLM message type 2 ([MS-NLMP] §2.2.1.2).
type ChallengeMessage struct {
	TargetName      string
	NegotiateFlags  uint32
	ServerChallenge [8]byte
	TargetInfo      *AvPairs
	Version         *VersionStruct
}

// Marshal encodes the CHALLENGE message.
func (m *ChallengeMessage) Marshal() []byte {
	target := stringPayload(m.TargetName)
	var targetInfoBytes []byte
	if m.TargetInfo != nil {
		targetInfoBytes = m.TargetInfo.Bytes()
	}
	targetInfo := newPayload(targetInfoBytes)

	const headerLen = 56
	var buf bytes.Buffer
	buf.Write(signature)
	writeUint32(&buf, 2)
	writeFieldDescriptor(&buf, target, headerLen)
	writeUint32(&buf, m.NegotiateFlags)
	buf.Write(m.ServerChallenge[:])
	buf.Write(make([]byte, 8)) // reserved
	writeFieldDescriptor(&buf, targetInfo, headerLen+len(target.data))
	if m.Version != nil {
		buf.Write(m.Version.bytes())
	} else {
		buf.Write(make([]byte, 8))
	}
	buf.Write(target.data)
	buf.Write(targetInfo.data)
	return buf.Bytes()
}

// ParseChallengeMessage decodes a CHALLENGE message.
func ParseChallengeMessage(b []byte) (*ChallengeMessage, error) {
	if err := checkHeader(b, 2); err != nil {
		return nil, err
	}
	target, err := readFieldDescriptor(b, 12)
	if err != nil {
		return nil, err
	}
	flags := binary.LittleEndian.Uint32(b[20:24])
	if len(b) < 32 {
		return nil, fmt.Errorf("ntlm: challenge message too short")
	}
	var challenge [8]byte
	copy(challenge[:], b[24:32])

	m := &ChallengeMessage{
		TargetName:      target.String(),
		NegotiateFlags:  flags,
		ServerChallenge: challenge,
	}

	targetInfo, err := readFieldDescriptor(b, 40)
	if err != nil {
		return nil, err
	}
	if len(targetInfo.data) > 0 {
		m.TargetInfo, err = ParseAvPairs(targetInfo.data)
		if err != nil {
			return nil, err
		}
	} else {
		m.TargetInfo = &AvPairs{}
	}

	if NTLMSSP_NEGOTIATE_VERSION.IsSet(flags) && len(b) >= 56 {
		m.Version, _ = parseVersion(b[48:56])
	}
	return m, nil
}

// AuthenticateMessage is NTLM message type 3 ([MS-NLMP] §2.2.1.3).
type AuthenticateMessage struct {
	LmChallengeResponse       []byte
	NtChallengeResponse       []byte
	DomainName                string
	UserName                  string
	Workstation               string
	EncryptedRandomSessionKey []byte
	NegotiateFlags            uint32
	Mic                       [16]byte
	Version                   *VersionStruct
}

// micOffset is the fixed byte position of the MIC field within a marshaled
// AUTHENTICATE message: signature (8), message type (4), six field
// descriptors (48), negotiate flags (4), version (8).
const micOffset = 72

// Marshal encodes the AUTHENTICATE message. MIC is written as whatever the
// struct currently holds; callers that need the MIC over the full message
// history marshal with the zero placeholder, compute, and patch it in at
// micOffset.
func (m *AuthenticateMessage) Marshal() []byte {
	lm := newPayload(m.LmChallengeResponse)
	nt := newPayload(m.NtChallengeResponse)
	domain := stringPayload(m.DomainName)
	user := stringPayload(m.UserName)
	workstation := stringPayload(m.Workstation)
	sessionKey := newPayload(m.EncryptedRandomSessionKey)

	const headerLen = 88
	offsets := make([]int, 6)
	off := headerLen
	fields := []payload{lm, nt, domain, user, workstation, sessionKey}
	for i, f := range fields {
		offsets[i] = off
		off += len(f.data)
	}

	var buf bytes.Buffer
	buf.Write(signature)
	writeUint32(&buf, 3)
	writeFieldDescriptor(&buf, lm, offsets[0])
	writeFieldDescriptor(&buf, nt, offsets[1])
	writeFieldDescriptor(&buf, domain, offsets[2])
	writeFieldDescriptor(&buf, user, offsets[3])
	writeFieldDescriptor(&buf, workstation, offsets[4])
	writeFieldDescriptor(&buf, sessionKey, offsets[5])
	writeUint32(&buf, m.NegotiateFlags)
	if m.Version != nil {
		buf.Write(m.Version.bytes())
	} else {
		buf.Write(make([]byte, 8))
	}
	buf.Write(m.Mic[:])
	for _, f := range fields {
		buf.Write(f.data)
	}
	return buf.Bytes()
}

// ParseAuthenticateMessage decodes an AUTHENTICATE message.
func ParseAuthenticateMessage(b []byte) (*AuthenticateMessage, error) {
	if err := checkHeader(b, 3); err != nil {
		return nil, err
	}
	lm, err := readFieldDescriptor(b, 12)
	if err != nil {
		return nil, err
	}
	nt, err := readFieldDescriptor(b, 20)
	if err != nil {
		return nil, err
	}
	domain, err := readFieldDescriptor(b, 28)
	if err != nil {
		return nil, err
	}
	user, err := readFieldDescriptor(b, 36)
	if err != nil {
		return nil, err
	}
	workstation, err := readFieldDescriptor(b, 44)
	if err != nil {
		return nil, err
	}
	sessionKey, err := readFieldDescriptor(b, 52)
	if err != nil {
		return nil, err
	}
	if len(b) < 64 {
		return nil, fmt.Errorf("ntlm: authenticate message too short")
	}
	flags := binary.LittleEndian.Uint32(b[60:64])

	m := &AuthenticateMessage{
		LmChallengeResponse:       lm.data,
		NtChallengeResponse:       nt.data,
		DomainName:                domain.String(),
		UserName:                  user.String(),
		Workstation:               workstation.String(),
		EncryptedRandomSessionKey: sessionKey.data,
		NegotiateFlags:            flags,
	}
	if len(b) >= 72 && NTLMSSP_NEGOTIATE_VERSION.IsSet(flags) {
		m.Version, _ = parseVersion(b[64:72])
	}
	if len(b) >= 88 {
		copy(m.Mic[:], b[72:88])
	}
	return m, nil
}

func checkHeader(b []byte, messageType uint32) error {
	if len(b) < 12 {
		return fmt.Errorf("ntlm: message too short")
	}
	if !bytes.Equal(b[0:8], signature) {
		return fmt.Errorf("ntlm: bad signature")
	}
	if got := binary.LittleEndian.Uint32(b[8:12]); got != messageType {
		return fmt.Errorf("ntlm: expected message type %d, got %d", messageType, got)
	}
	return nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

// writeFieldDescriptor writes an 8-byte (Len, MaxLen, Offset) descriptor.
func writeFieldDescriptor(buf *bytes.Buffer, p payload, offset int) {
	var b [8]byte
	ln := uint16(len(p.data))
	binary.LittleEndian.PutUint16(b[0:2], ln)
	binary.LittleEndian.PutUint16(b[2:4], ln)
	binary.LittleEndian.PutUint32(b[4:8], uint32(offset))
	buf.Write(b[:])
}

// readFieldDescriptor reads an 8-byte (Len, MaxLen, Offset) descriptor at
// the given header offset and returns the referenced payload slice.
func readFieldDescriptor(b []byte, at int) (payload, error) {
	if len(b) < at+8 {
		return payload{}, fmt.Errorf("ntlm: truncated field descriptor")
	}
	ln := int(binary.LittleEndian.Uint16(b[at : at+2]))
	offset := int(binary.LittleEndian.Uint32(b[at+4 : at+8]))
	if ln == 0 {
		return payload{}, nil
	}
	if offset < 0 || offset+ln > len(b) {
		return payload{}, fmt.Errorf("ntlm: field descriptor out of range")
	}
	return newPayload(b[offset : offset+ln]), nil
}
