// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package sspi

// CredentialUse indicates whether a CredentialsHandle will be used to
// initiate contexts, accept them, or both.
type CredentialUse int

const (
	CredentialUseOutbound CredentialUse = iota
	CredentialUseInbound
	CredentialUseBoth
)

func (u CredentialUse) String() string {
	switch u {
	case CredentialUseOutbound:
		return "Outbound"
	case CredentialUseInbound:
		return "Inbound"
	case CredentialUseBoth:
		return "Both"
	default:
		return "Unknown"
	}
}

// DataRepresentation describes the byte ordering used on the wire by the
// target of a context-establishment call.
type DataRepresentation uint32

const (
	DataRepresentationNetwork DataRepresentation = 0
	DataRepresentationNative  DataRepresentation = 0x10
)

// ClientRequestFlags are the context requirements passed to
// InitializeSecurityContext. Bits can be combined with bitwise OR.
type ClientRequestFlags uint32

const (
	ClientRequestDelegate             ClientRequestFlags = 0x1
	ClientRequestMutualAuth           ClientRequestFlags = 0x2
	ClientRequestReplayDetect         ClientRequestFlags = 0x4
	ClientRequestSequenceDetect       ClientRequestFlags = 0x8
	ClientRequestConfidentiality      ClientRequestFlags = 0x10
	ClientRequestUseSessionKey        ClientRequestFlags = 0x20
	ClientRequestPromptForCreds       ClientRequestFlags = 0x40
	ClientRequestUseSuppliedCreds     ClientRequestFlags = 0x80
	ClientRequestAllocateMemory       ClientRequestFlags = 0x100
	ClientRequestUseDCEStyle          ClientRequestFlags = 0x200
	ClientRequestDatagram             ClientRequestFlags = 0x400
	ClientRequestConnection           ClientRequestFlags = 0x800
	ClientRequestExtendedError        ClientRequestFlags = 0x4000
	ClientRequestStream               ClientRequestFlags = 0x8000
	ClientRequestIntegrity            ClientRequestFlags = 0x10000
	ClientRequestIdentify             ClientRequestFlags = 0x20000
	ClientRequestNullSession          ClientRequestFlags = 0x40000
	ClientRequestManualCredValidation ClientRequestFlags = 0x80000
	ClientRequestNoIntegrity          ClientRequestFlags = 0x800000
	ClientRequestUnverifiedTargetName ClientRequestFlags = 0x20000000
	ClientRequestConfidentialityOnly  ClientRequestFlags = 0x40000000
)

// ServerRequestFlags are the context requirements passed to
// AcceptSecurityContext.
type ServerRequestFlags uint32

const (
	ServerRequestDelegate        ServerRequestFlags = 0x1
	ServerRequestMutualAuth      ServerRequestFlags = 0x2
	ServerRequestReplayDetect    ServerRequestFlags = 0x4
	ServerRequestSequenceDetect  ServerRequestFlags = 0x8
	ServerRequestConfidentiality ServerRequestFlags = 0x10
	ServerRequestUseSessionKey   ServerRequestFlags = 0x20
	ServerRequestAllocateMemory  ServerRequestFlags = 0x100
	ServerRequestUseDCEStyle     ServerRequestFlags = 0x200
	ServerRequestDatagram        ServerRequestFlags = 0x400
	ServerRequestConnection      ServerRequestFlags = 0x800
	ServerRequestExtendedError   ServerRequestFlags = 0x8000
)

// ClientResponseFlags describes which of the requested ClientRequestFlags
// the package actually negotiated.
type ClientResponseFlags uint32

const (
	ClientResponseDelegate        ClientResponseFlags = 0x1
	ClientResponseMutualAuth      ClientResponseFlags = 0x2
	ClientResponseReplayDetect    ClientResponseFlags = 0x4
	ClientResponseSequenceDetect  ClientResponseFlags = 0x8
	ClientResponseConfidentiality ClientResponseFlags = 0x10
	ClientResponseAllocatedMemory ClientResponseFlags = 0x100
	ClientResponseConnection      ClientResponseFlags = 0x800
	ClientResponseIntegrity       ClientResponseFlags = 0x10000
)

// ServerResponseFlags describes which of the requested ServerRequestFlags
// the package actually negotiated.
type ServerResponseFlags uint32

const (
	ServerResponseDelegate        ServerResponseFlags = 0x1
	ServerResponseMutualAuth      ServerResponseFlags = 0x2
	ServerResponseReplayDetect    ServerResponseFlags = 0x4
	ServerResponseSequenceDetect  ServerResponseFlags = 0x8
	ServerResponseConfidentiality ServerResponseFlags = 0x10
	ServerResponseAllocatedMemory ServerResponseFlags = 0x100
	ServerResponseConnection      ServerResponseFlags = 0x800
)

// EncryptionFlags qualify EncryptMessage's requested quality of protection.
type EncryptionFlags uint32

const (
	EncryptionFlagWrapOOBData   EncryptionFlags = 0x40000000
	EncryptionFlagWrapNoEncrypt EncryptionFlags = 0x80000001
)

// DecryptionFlags report the quality of protection DecryptMessage applied.
type DecryptionFlags uint32

const (
	DecryptionFlagSignOnly      DecryptionFlags = 0x80000000
	DecryptionFlagWrapNoEncrypt DecryptionFlags = 0x80000001
)
