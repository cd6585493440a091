// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

// Package ntlm implements the NTLM v2 ([MS-NLMP]) security package: a
// single round-trip NEGOTIATE/CHALLENGE/AUTHENTICATE handshake followed by
// per-message signing and sealing.
package ntlm

import (
	"crypto/subtle"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jake-scott/go-sspi"
	"github.com/jake-scott/go-sspi/internal/cryptokit"
)

// Logger is the package-level logger for handshake and protection-layer
// diagnostics. It defaults to the standard logger; callers that want NTLM
// traffic quiet can point it at log.New(io.Discard, "", 0).
var Logger = log.Default()

// CredentialsHandle is the opaque handle AcquireCredentialsHandle returns;
// it carries the identity (or nil, meaning "use the current logon
// session", which this package does not support and rejects at
// AcquireCredentialsHandle time) and the requested use.
type CredentialsHandle struct {
	identity *sspi.AuthIdentity
	use      sspi.CredentialUse
}

func (c *CredentialsHandle) IsCredentialsHandle() {}

// SetAuthData rebinds a fresh AuthIdentity to an existing credential
// handle, for long-lived server processes that rotate credentials without
// a full re-acquire. Contexts already established keep their derived keys.
func (c *CredentialsHandle) SetAuthData(identity *sspi.AuthIdentity) {
	c.identity = identity
}

// Context is an NTLM security context: either a client ("initiator") or a
// server ("acceptor"), never both. The zero value is ready to use.
type Context struct {
	mu sync.Mutex

	cred     *CredentialsHandle
	isClient bool
	isServer bool

	negotiateRaw    []byte
	challengeRaw    []byte
	negotiateMsg    *NegotiateMessage
	challengeMsg    *ChallengeMessage
	authenticateMsg *AuthenticateMessage

	negotiateFlags  uint32
	serverChallenge [8]byte
	clientChallenge [8]byte

	exportedSessionKey []byte
	clientSigningKey   []byte
	serverSigningKey   []byte
	clientSealHandle   *cryptokit.RC4Cipher
	serverSealHandle   *cryptokit.RC4Cipher

	// sendSeq/recvSeq are independent per-direction message counters;
	// both start at 0 and advance by one per successful protected call,
	// wrapping at 2^32 like any other uint32 counter.
	sendSeq uint32
	recvSeq uint32

	established bool
}

var _ sspi.Sspi = (*Context)(nil)
var _ sspi.CredentialsHandle = (*CredentialsHandle)(nil)

func init() {
	sspi.RegisterPackageInfo(packageInfo)
}

var packageInfo = sspi.PackageInfo{
	Capabilities: sspi.PackageCapabilityIntegrity | sspi.PackageCapabilityPrivacy |
		sspi.PackageCapabilityConnection | sspi.PackageCapabilityTokenOnly,
	RPCID:       10,
	MaxTokenLen: 2880,
	Name:        sspi.SecurityPackageNtlm.String(),
	Comment:     "NTLM Security Package",
}

// --- AcquireCredentialsHandle -------------------------------------------------

// AcquireCredentialsHandleCall is the fluent builder returned by
// Context.AcquireCredentialsHandle.
type AcquireCredentialsHandleCall struct {
	builder *sspi.AcquireCredentialsHandleBuilder
}

// AcquireCredentialsHandle starts a fluent AcquireCredentialsHandle call.
// The receiver context is unused (NTLM credentials live in the returned
// handle, not in the context) but kept as the method receiver so callers can chain off
// a Context value the way the Sspi interface expects.
func (c *Context) AcquireCredentialsHandle() *AcquireCredentialsHandleCall {
	return &AcquireCredentialsHandleCall{builder: sspi.NewAcquireCredentialsHandleBuilder()}
}

func (call *AcquireCredentialsHandleCall) WithCredentialUse(use sspi.CredentialUse) *AcquireCredentialsHandleCall {
	call.builder.WithCredentialUse(use)
	return call
}

func (call *AcquireCredentialsHandleCall) WithAuthData(identity *sspi.AuthIdentity) *AcquireCredentialsHandleCall {
	call.builder.WithAuthData(identity)
	return call
}

// AcquireCredentialsHandleResult is returned by
// AcquireCredentialsHandleCall.Execute.
type AcquireCredentialsHandleResult struct {
	CredentialsHandle sspi.CredentialsHandle
}

// Execute validates and performs the call.
func (call *AcquireCredentialsHandleCall) Execute() (*AcquireCredentialsHandleResult, error) {
	cred, err := (&Context{}).AcquireCredentialsHandleBuilder(call.builder)
	if err != nil {
		return nil, err
	}
	return &AcquireCredentialsHandleResult{CredentialsHandle: cred}, nil
}

// AcquireCredentialsHandleBuilder is the Sspi-interface entry point; the
// receiver context is unused since NTLM credentials are not context-scoped.
func (c *Context) AcquireCredentialsHandleBuilder(b *sspi.AcquireCredentialsHandleBuilder) (sspi.CredentialsHandle, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if b.AuthData == nil {
		return nil, sspi.NewError(sspi.ErrorKindNoCredentials,
			"ntlm requires explicit AuthIdentity; it has no logon-session SSO path")
	}
	return &CredentialsHandle{identity: b.AuthData, use: b.CredentialUse}, nil
}

// --- InitializeSecurityContext ------------------------------------------------

// InitializeSecurityContextCall is the fluent builder returned by
// Context.InitializeSecurityContext.
type InitializeSecurityContextCall struct {
	ctx     *Context
	builder *sspi.InitializeSecurityContextBuilder
}

func (c *Context) InitializeSecurityContext() *InitializeSecurityContextCall {
	return &InitializeSecurityContextCall{ctx: c, builder: sspi.NewInitializeSecurityContextBuilder()}
}

func (call *InitializeSecurityContextCall) WithCredentialsHandle(cred sspi.CredentialsHandle) *InitializeSecurityContextCall {
	call.builder.WithCredentialsHandle(cred)
	return call
}

func (call *InitializeSecurityContextCall) WithContextRequirements(flags sspi.ClientRequestFlags) *InitializeSecurityContextCall {
	call.builder.WithContextRequirements(flags)
	return call
}

func (call *InitializeSecurityContextCall) WithTargetName(name string) *InitializeSecurityContextCall {
	call.builder.WithTargetName(name)
	return call
}

func (call *InitializeSecurityContextCall) WithTargetDataRepresentation(rep sspi.DataRepresentation) *InitializeSecurityContextCall {
	call.builder.TargetDataRepresentation = rep
	return call
}

func (call *InitializeSecurityContextCall) WithInput(state sspi.ContextState, buffers []sspi.SecurityBuffer) *InitializeSecurityContextCall {
	call.builder.WithInput(state, buffers)
	return call
}

func (call *InitializeSecurityContextCall) WithOutput(buffers []sspi.SecurityBuffer) *InitializeSecurityContextCall {
	call.builder.WithOutput(buffers)
	return call
}

// InitializeSecurityContextResult is returned by
// InitializeSecurityContextCall.Execute.
type InitializeSecurityContextResult struct {
	Status sspi.SecurityStatus
}

func (call *InitializeSecurityContextCall) Execute() (*InitializeSecurityContextResult, error) {
	status, err := call.ctx.InitializeSecurityContextBuilder(call.builder)
	if err != nil {
		return nil, err
	}
	return &InitializeSecurityContextResult{Status: status}, nil
}

// InitializeSecurityContextBuilder is the Sspi-interface entry point;
// InitializeSecurityContextCall.Execute is a thin fluent wrapper around it.
func (c *Context) InitializeSecurityContextBuilder(b *sspi.InitializeSecurityContextBuilder) (sspi.SecurityStatus, error) {
	if err := b.Validate(); err != nil {
		return 0, err
	}
	cred, ok := b.Credential.(*CredentialsHandle)
	if !ok {
		return 0, sspi.NewError(sspi.ErrorKindWrongCredentialHandle, "not an ntlm.CredentialsHandle")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.established {
		return 0, sspi.NewError(sspi.ErrorKindOutOfSequence, "context already established")
	}
	c.isClient = true
	c.cred = cred

	if b.State == sspi.ContextStateInitial {
		nm := &NegotiateMessage{
			NegotiateFlags: uint32(DefaultClientFlags),
			DomainName:     cred.identity.Domain,
			Version:        defaultVersion,
		}
		c.negotiateMsg = nm
		c.negotiateRaw = nm.Marshal()
		out, err := sspi.FindBuffer(b.OutputBuffers, sspi.SecurityBufferToken)
		if err != nil {
			return 0, err
		}
		if err := out.SetPayload(c.negotiateRaw, b.ContextRequirements&sspi.ClientRequestAllocateMemory != 0); err != nil {
			return 0, err
		}
		Logger.Printf("ntlm: client negotiate flags=0x%08x", nm.NegotiateFlags)
		return sspi.SecurityStatusContinueNeeded, nil
	}

	in, err := sspi.FindBuffer(b.InputBuffers, sspi.SecurityBufferToken)
	if err != nil {
		return 0, err
	}
	if len(in.Payload) > maxMessageSize {
		return 0, sspi.NewError(sspi.ErrorKindInvalidToken, "CHALLENGE message exceeds the 64 KiB maximum")
	}
	cm, err := ParseChallengeMessage(in.Payload)
	if err != nil {
		return 0, sspi.WrapError(sspi.ErrorKindInvalidToken, "failed to parse CHALLENGE message", err)
	}
	// Keep a private copy of the challenge bytes: the MIC is computed over
	// the exact transcript, and the caller may reuse its buffer.
	c.challengeRaw = append([]byte(nil), in.Payload...)
	c.challengeMsg = cm
	c.negotiateFlags = cm.NegotiateFlags
	c.serverChallenge = cm.ServerChallenge
	rnd, err := cryptokit.RandomBytes(8)
	if err != nil {
		return 0, sspi.WrapError(sspi.ErrorKindInternalError, "failed to generate client challenge", err)
	}
	copy(c.clientChallenge[:], rnd)

	responseKeyNT := ntowfv2(cred.identity.Username, cred.identity.Password, cred.identity.Domain)
	responseKeyLM := lmowfv2(cred.identity.Username, cred.identity.Password, cred.identity.Domain)

	var targetInfo []byte
	if cm.TargetInfo != nil {
		targetInfo = cm.TargetInfo.Bytes()
	}
	timestamp := windowsFileTime(time.Now())
	ntResp, lmResp, sessionBaseKey := computeNTProofAndSessionBaseKey(
		responseKeyNT, responseKeyLM, c.serverChallenge[:], c.clientChallenge[:], timestamp, targetInfo)

	keyExchangeKey := sessionBaseKey // NTLMv2 KeyExchangeKey == SessionBaseKey, [MS-NLMP] §3.4.5.1

	var encryptedSessionKey []byte
	if NTLMSSP_NEGOTIATE_KEY_EXCH.IsSet(c.negotiateFlags) {
		exportedSessionKey, err := cryptokit.RandomBytes(16)
		if err != nil {
			return 0, sspi.WrapError(sspi.ErrorKindInternalError, "failed to generate session key", err)
		}
		c.exportedSessionKey = exportedSessionKey
		encryptedSessionKey, err = cryptokit.RC4(keyExchangeKey, exportedSessionKey)
		if err != nil {
			return 0, sspi.WrapError(sspi.ErrorKindEncryptFailure, "failed to encrypt session key", err)
		}
	} else {
		c.exportedSessionKey = keyExchangeKey
		encryptedSessionKey = nil
	}

	am := &AuthenticateMessage{
		LmChallengeResponse:       lmResp,
		NtChallengeResponse:       ntResp,
		DomainName:                cred.identity.Domain,
		UserName:                  cred.identity.Username,
		Workstation:               "",
		EncryptedRandomSessionKey: encryptedSessionKey,
		NegotiateFlags:            c.negotiateFlags,
		Version:                   defaultVersion,
	}

	c.deriveMessageKeys()

	// The MIC covers all three handshake messages with the MIC field itself
	// zeroed ([MS-NLMP] §3.1.5.1.2): lay out the message with the zero
	// placeholder, compute, then patch it in at its fixed offset.
	raw := am.Marshal()
	mic := cryptokit.HMACMD5(c.exportedSessionKey, c.negotiateRaw, c.challengeRaw, raw)
	copy(am.Mic[:], mic)
	copy(raw[micOffset:micOffset+16], mic)

	out, err := sspi.FindBuffer(b.OutputBuffers, sspi.SecurityBufferToken)
	if err != nil {
		return 0, err
	}
	if err := out.SetPayload(raw, b.ContextRequirements&sspi.ClientRequestAllocateMemory != 0); err != nil {
		return 0, err
	}
	c.authenticateMsg = am
	c.established = true
	Logger.Printf("ntlm: client authenticate user=%s domain=%s", cred.identity.Username, cred.identity.Domain)
	return sspi.SecurityStatusOk, nil
}

// --- AcceptSecurityContext -----------------------------------------------------

// AcceptSecurityContextCall is the fluent builder returned by
// Context.AcceptSecurityContext.
type AcceptSecurityContextCall struct {
	ctx     *Context
	builder *sspi.AcceptSecurityContextBuilder
}

func (c *Context) AcceptSecurityContext() *AcceptSecurityContextCall {
	return &AcceptSecurityContextCall{ctx: c, builder: sspi.NewAcceptSecurityContextBuilder()}
}

func (call *AcceptSecurityContextCall) WithCredentialsHandle(cred sspi.CredentialsHandle) *AcceptSecurityContextCall {
	call.builder.WithCredentialsHandle(cred)
	return call
}

func (call *AcceptSecurityContextCall) WithInput(state sspi.ContextState, buffers []sspi.SecurityBuffer) *AcceptSecurityContextCall {
	call.builder.WithInput(state, buffers)
	return call
}

func (call *AcceptSecurityContextCall) WithOutput(buffers []sspi.SecurityBuffer) *AcceptSecurityContextCall {
	call.builder.WithOutput(buffers)
	return call
}

type AcceptSecurityContextResult struct {
	Status sspi.SecurityStatus
}

func (call *AcceptSecurityContextCall) Execute() (*AcceptSecurityContextResult, error) {
	status, err := call.ctx.AcceptSecurityContextBuilder(call.builder)
	if err != nil {
		return nil, err
	}
	return &AcceptSecurityContextResult{Status: status}, nil
}

// AcceptSecurityContextBuilder is the Sspi-interface entry point.
func (c *Context) AcceptSecurityContextBuilder(b *sspi.AcceptSecurityContextBuilder) (sspi.SecurityStatus, error) {
	if err := b.Validate(); err != nil {
		return 0, err
	}
	cred, ok := b.Credential.(*CredentialsHandle)
	if !ok {
		return 0, sspi.NewError(sspi.ErrorKindWrongCredentialHandle, "not an ntlm.CredentialsHandle")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.established {
		return 0, sspi.NewError(sspi.ErrorKindOutOfSequence, "context already established")
	}
	c.isServer = true
	c.cred = cred

	in, err := sspi.FindBuffer(b.InputBuffers, sspi.SecurityBufferToken)
	if err != nil {
		return 0, err
	}
	if len(in.Payload) > maxMessageSize {
		return 0, sspi.NewError(sspi.ErrorKindInvalidToken, "NTLM message exceeds the 64 KiB maximum")
	}

	if c.negotiateMsg == nil {
		nm, err := ParseNegotiateMessage(in.Payload)
		if err != nil {
			return 0, sspi.WrapError(sspi.ErrorKindInvalidToken, "failed to parse NEGOTIATE message", err)
		}
		c.negotiateMsg = nm
		c.negotiateRaw = append([]byte(nil), in.Payload...)

		challenge, err := cryptokit.RandomBytes(8)
		if err != nil {
			return 0, sspi.WrapError(sspi.ErrorKindInternalError, "failed to generate server challenge", err)
		}
		copy(c.serverChallenge[:], challenge)

		targetInfo := &AvPairs{}
		targetInfo.Add(MsvAvNbDomainName, sspi.UTF16LEBytes(cred.identity.Domain))
		if hostname, err := os.Hostname(); err == nil {
			targetInfo.Add(MsvAvNbComputerName, sspi.UTF16LEBytes(strings.ToUpper(hostname)))
		}

		// Grant the intersection of the client's proposal and our own
		// defaults, plus TARGET_INFO and TARGET_TYPE_SERVER; bits outside
		// DefaultServerFlags are dropped by the mask, never rejected.
		granted := nm.NegotiateFlags&uint32(DefaultServerFlags) |
			uint32(NTLMSSP_NEGOTIATE_TARGET_INFO|NTLMSSP_TARGET_TYPE_SERVER)

		cm := &ChallengeMessage{
			TargetName:      cred.identity.Domain,
			NegotiateFlags:  granted,
			ServerChallenge: c.serverChallenge,
			TargetInfo:      targetInfo,
			Version:         defaultVersion,
		}
		c.challengeMsg = cm
		c.negotiateFlags = cm.NegotiateFlags
		raw := cm.Marshal()
		c.challengeRaw = raw

		out, err := sspi.FindBuffer(b.OutputBuffers, sspi.SecurityBufferToken)
		if err != nil {
			return 0, err
		}
		if err := out.SetPayload(raw, b.ContextRequirements&sspi.ServerRequestAllocateMemory != 0); err != nil {
			return 0, err
		}
		Logger.Printf("ntlm: server challenge issued")
		return sspi.SecurityStatusContinueNeeded, nil
	}

	am, err := ParseAuthenticateMessage(in.Payload)
	if err != nil {
		return 0, sspi.WrapError(sspi.ErrorKindInvalidToken, "failed to parse AUTHENTICATE message", err)
	}
	c.authenticateMsg = am
	c.negotiateFlags = am.NegotiateFlags

	if len(am.NtChallengeResponse) < 40 {
		return 0, sspi.NewError(sspi.ErrorKindInvalidToken, "NTLMv2 NT challenge response too short")
	}
	temp := am.NtChallengeResponse[16:]
	copy(c.clientChallenge[:], temp[16:24])

	responseKeyNT := ntowfv2(am.UserName, cred.identity.Password, am.DomainName)
	responseKeyLM := lmowfv2(am.UserName, cred.identity.Password, am.DomainName)

	targetInfo := extractTargetInfo(temp)
	timestamp := temp[8:16]

	ntResp, lmResp, sessionBaseKey := computeNTProofAndSessionBaseKey(
		responseKeyNT, responseKeyLM, c.serverChallenge[:], c.clientChallenge[:], timestamp, targetInfo)
	_ = lmResp

	if subtle.ConstantTimeCompare(ntResp, am.NtChallengeResponse) != 1 {
		return 0, sspi.NewError(sspi.ErrorKindLogonDenied, "NTLMv2 NTProof response did not match")
	}

	keyExchangeKey := sessionBaseKey
	if NTLMSSP_NEGOTIATE_KEY_EXCH.IsSet(c.negotiateFlags) {
		exportedSessionKey, err := cryptokit.RC4(keyExchangeKey, am.EncryptedRandomSessionKey)
		if err != nil {
			return 0, sspi.WrapError(sspi.ErrorKindDecryptFailure, "failed to decrypt session key", err)
		}
		c.exportedSessionKey = exportedSessionKey
	} else {
		c.exportedSessionKey = keyExchangeKey
	}

	c.deriveMessageKeys()

	if am.Mic != ([16]byte{}) {
		zeroed := append([]byte(nil), in.Payload...)
		for i := micOffset; i < micOffset+16 && i < len(zeroed); i++ {
			zeroed[i] = 0
		}
		want := cryptokit.HMACMD5(c.exportedSessionKey, c.negotiateRaw, c.challengeRaw, zeroed)
		if subtle.ConstantTimeCompare(want, am.Mic[:]) != 1 {
			return 0, sspi.NewError(sspi.ErrorKindMessageAltered, "AUTHENTICATE message MIC did not verify")
		}
	}

	c.established = true
	Logger.Printf("ntlm: server authenticated user=%s domain=%s", am.UserName, am.DomainName)
	return sspi.SecurityStatusOk, nil
}

// extractTargetInfo pulls the AV_PAIR trailer out of an NTLMv2_RESPONSE's
// temp field (everything after the NTProofStr): resp-type, hi-resp-type,
// reserved1 (2), reserved2 (4), time (8), client challenge (8), reserved3
// (4), then AvPairs, then reserved4 (4).
func extractTargetInfo(temp []byte) []byte {
	const fixedPrefix = 1 + 1 + 6 + 8 + 8 + 4
	if len(temp) < fixedPrefix+4 {
		return nil
	}
	rest := temp[fixedPrefix:]
	if len(rest) < 4 {
		return rest
	}
	return rest[:len(rest)-4]
}

func (c *Context) deriveMessageKeys() {
	c.clientSigningKey = signKey(c.exportedSessionKey, true)
	c.serverSigningKey = signKey(c.exportedSessionKey, false)
	clientSealingKey := sealKey(c.negotiateFlags, c.exportedSessionKey, true)
	serverSealingKey := sealKey(c.negotiateFlags, c.exportedSessionKey, false)
	c.clientSealHandle, _ = cryptokit.NewRC4Cipher(clientSealingKey)
	c.serverSealHandle, _ = cryptokit.NewRC4Cipher(serverSealingKey)
}
