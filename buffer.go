// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package sspi

// SecurityBufferType identifies the role a SecurityBuffer plays in a call.
// The Windows SSPI headers overload attribute sentinels (AttributeMark,
// ReadOnly, ReadOnlyWithChecksum) onto this enumeration; those are bit
// masks rather than enumerants, so they are modelled here as a separate,
// orthogonal SecurityBufferAttr field instead.
type SecurityBufferType uint32

const (
	SecurityBufferEmpty SecurityBufferType = iota
	// SecurityBufferData holds plaintext/ciphertext payload.
	SecurityBufferData
	// SecurityBufferToken holds a handshake or per-message protection token.
	SecurityBufferToken
	SecurityBufferTransportToPackageParameters
	// SecurityBufferMissing reports the number of bytes still required to
	// complete a partially-received message.
	SecurityBufferMissing
	// SecurityBufferExtra reports the number of unprocessed trailing bytes.
	SecurityBufferExtra
	SecurityBufferStreamTrailer
	SecurityBufferStreamHeader
	SecurityBufferNegotiationInfo
	SecurityBufferPadding
	SecurityBufferStream
	SecurityBufferObjectIdsList
	SecurityBufferObjectIdsListSignature
	SecurityBufferTarget
	// SecurityBufferChannelBindings carries channel binding information.
	SecurityBufferChannelBindings
	SecurityBufferChangePasswordResponse
	// SecurityBufferTargetHost carries the SPN of the target.
	SecurityBufferTargetHost
	SecurityBufferAlert
	// SecurityBufferApplicationProtocol carries a list of application
	// protocol IDs for ALPN-style negotiation extensions.
	SecurityBufferApplicationProtocol
)

// SecurityBufferAttr is an orthogonal bitmask of buffer attributes,
// separated out from SecurityBufferType (see its doc comment). The values
// match the SECBUFFER_ATTRMASK bits.
type SecurityBufferAttr uint32

const (
	SecurityBufferAttrNone SecurityBufferAttr = 0
	// SecurityBufferAttrReadOnly marks a buffer the package must not modify.
	SecurityBufferAttrReadOnly SecurityBufferAttr = 0x80000000
	// SecurityBufferAttrReadOnlyWithChecksum marks a buffer as read-only but
	// still included in a message's integrity checksum.
	SecurityBufferAttrReadOnlyWithChecksum SecurityBufferAttr = 0x10000000
)

// SecurityBuffer describes one segment of a caller-supplied buffer array.
// Ownership passes by reference into each call; the core may resize or
// overwrite Payload in place.
type SecurityBuffer struct {
	Payload []byte
	Kind    SecurityBufferType
	Attrs   SecurityBufferAttr
}

// NewSecurityBuffer constructs a SecurityBuffer with no extra attributes.
func NewSecurityBuffer(payload []byte, kind SecurityBufferType) SecurityBuffer {
	return SecurityBuffer{Payload: payload, Kind: kind}
}

// SetPayload writes token into the buffer. When allocate is set, or the
// buffer arrives empty, the payload is simply replaced; a preallocated
// payload is overwritten in place and truncated to the effective length,
// failing with BufferTooSmall when the preallocation cannot hold the token.
func (b *SecurityBuffer) SetPayload(token []byte, allocate bool) error {
	if allocate || len(b.Payload) == 0 {
		b.Payload = token
		return nil
	}
	if len(b.Payload) < len(token) {
		return NewError(ErrorKindBufferTooSmall, "output buffer is too small for the token")
	}
	copy(b.Payload, token)
	b.Payload = b.Payload[:len(token)]
	return nil
}

// FindBuffer returns a pointer to the first buffer in buffers whose Kind
// matches kind, or an InvalidToken error if none is present. Buffers are
// located by kind, first match.
func FindBuffer(buffers []SecurityBuffer, kind SecurityBufferType) (*SecurityBuffer, error) {
	for i := range buffers {
		if buffers[i].Kind == kind {
			return &buffers[i], nil
		}
	}
	return nil, NewError(ErrorKindInvalidToken, "no buffer was provided with the requested type")
}
