// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package kerberos

import (
	"crypto/rand"
	"log"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/jcmturner/gokrb5/v8/crypto"
	"github.com/jcmturner/gokrb5/v8/iana/chksumtype"
	"github.com/jcmturner/gokrb5/v8/iana/flags"
	"github.com/jcmturner/gokrb5/v8/iana/nametype"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/jake-scott/go-sspi"
)

// Logger is the package-level logger for handshake and per-message
// protection diagnostics, mirroring ntlm.Logger.
var Logger = log.Default()

func init() {
	sspi.RegisterPackageInfo(packageInfo)
}

var packageInfo = sspi.PackageInfo{
	Capabilities: sspi.PackageCapabilityIntegrity | sspi.PackageCapabilityPrivacy |
		sspi.PackageCapabilityConnection | sspi.PackageCapabilityMutualAuth | sspi.PackageCapabilityDelegation,
	RPCID:       16,
	MaxTokenLen: 12000,
	Name:        sspi.SecurityPackageKerberos.String(),
	Comment:     "Kerberos Security Package",
}

// Context is a Kerberos security context: a client (initiator) drives the
// AS/TGS/AP exchange and emits an AP-REQ token; a server (acceptor)
// verifies it and, for mutual auth, emits an AP-REP. The zero value is
// ready to use.
type Context struct {
	mu sync.Mutex

	cred     *CredentialsHandle
	isClient bool
	isServer bool

	spn string
	cfg *Config

	requestFlags  sspi.ClientRequestFlags
	sessionFlags  sspi.ClientRequestFlags
	waitingMutual bool

	ticket     *messages.Ticket
	sessionKey *types.EncryptionKey

	initiatorSubKey *types.EncryptionKey
	acceptorSubKey  *types.EncryptionKey

	// ourSeq/theirSeq are the absolute RFC 4121 SND_SEQ counters, seeded
	// from the authenticator and AP-REP sequence numbers; sendCount and
	// recvCount are the zero-based per-context message counters callers
	// supply to EncryptMessage/DecryptMessage.
	ourSeq, theirSeq     uint64
	sendCount, recvCount uint32

	clientCTime time.Time
	clientCusec int

	channelBindings []byte
	peerName        string

	established bool
}

var _ sspi.Sspi = (*Context)(nil)
var _ sspi.CredentialsHandle = (*CredentialsHandle)(nil)

// NewContext returns a Context that resolves its KDC/ccache/keytab
// configuration from the environment (see ConfigFromEnv). Use
// WithConfig to supply an explicit Config instead.
func NewContext() *Context {
	return &Context{cfg: ConfigFromEnv()}
}

// WithConfig overrides the environment-derived Config; must be called
// before AcquireCredentialsHandle.
func (c *Context) WithConfig(cfg *Config) *Context {
	c.cfg = cfg
	return c
}

func (c *Context) config() *Config {
	if c.cfg == nil {
		c.cfg = ConfigFromEnv()
	}
	return c.cfg
}

// --- AcquireCredentialsHandle ------------------------------------------------

type AcquireCredentialsHandleCall struct {
	ctx     *Context
	builder *sspi.AcquireCredentialsHandleBuilder
}

func (c *Context) AcquireCredentialsHandle() *AcquireCredentialsHandleCall {
	return &AcquireCredentialsHandleCall{ctx: c, builder: sspi.NewAcquireCredentialsHandleBuilder()}
}

func (call *AcquireCredentialsHandleCall) WithCredentialUse(use sspi.CredentialUse) *AcquireCredentialsHandleCall {
	call.builder.WithCredentialUse(use)
	return call
}

func (call *AcquireCredentialsHandleCall) WithAuthData(identity *sspi.AuthIdentity) *AcquireCredentialsHandleCall {
	call.builder.WithAuthData(identity)
	return call
}

type AcquireCredentialsHandleResult struct {
	CredentialsHandle sspi.CredentialsHandle
}

func (call *AcquireCredentialsHandleCall) Execute() (*AcquireCredentialsHandleResult, error) {
	cred, err := call.ctx.AcquireCredentialsHandleBuilder(call.builder)
	if err != nil {
		return nil, err
	}
	return &AcquireCredentialsHandleResult{CredentialsHandle: cred}, nil
}

// AcquireCredentialsHandleBuilder is the Sspi-interface entry point.
func (c *Context) AcquireCredentialsHandleBuilder(b *sspi.AcquireCredentialsHandleBuilder) (sspi.CredentialsHandle, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return acquireCredentialsHandle(b, c.config())
}

// --- InitializeSecurityContext -----------------------------------------------

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

func (call *InitializeSecurityContextCall) WithContextRequirements(fl sspi.ClientRequestFlags) *InitializeSecurityContextCall {
	call.builder.WithContextRequirements(fl)
	return call
}

func (call *InitializeSecurityContextCall) WithTargetName(name string) *InitializeSecurityContextCall {
	call.builder.WithTargetName(name)
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

// InitializeSecurityContextBuilder drives the client side: AS+TGS on the
// first call (via the credential's cached *client.Client, or its kdcClient
// when the KDC endpoint is an http(s) proxy), then emits an
// AP-REQ GSS-API token. If mutual authentication was requested, a second
// call consumes the peer's AP-REP and completes the context.
func (c *Context) InitializeSecurityContextBuilder(b *sspi.InitializeSecurityContextBuilder) (sspi.SecurityStatus, error) {
	if err := b.Validate(); err != nil {
		return 0, err
	}
	cred, ok := b.Credential.(*CredentialsHandle)
	if !ok {
		return 0, sspi.NewError(sspi.ErrorKindWrongCredentialHandle, "not a kerberos.CredentialsHandle")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.established {
		return 0, sspi.NewError(sspi.ErrorKindOutOfSequence, "context already established")
	}
	c.isClient = true
	c.cred = cred
	c.cfg = cred.cfg

	if b.State == sspi.ContextStateInitial {
		c.spn = b.TargetName
		c.requestFlags = b.ContextRequirements
		if cb, err := sspi.FindBuffer(b.InputBuffers, sspi.SecurityBufferChannelBindings); err == nil {
			c.channelBindings = cb.Payload
		}

		tkt, key, err := cred.serviceTicket(b.TargetName)
		if err != nil {
			return 0, err
		}
		c.ticket, c.sessionKey = &tkt, &key
		c.peerName = ticketPrincipal(tkt.SName, tkt.Realm)

		out, err := sspi.FindBuffer(b.OutputBuffers, sspi.SecurityBufferToken)
		if err != nil {
			return 0, err
		}
		tokenOut, err := c.buildAPReq()
		if err != nil {
			return 0, err
		}
		if err := out.SetPayload(tokenOut, b.ContextRequirements&sspi.ClientRequestAllocateMemory != 0); err != nil {
			return 0, err
		}

		if c.requestFlags&sspi.ClientRequestMutualAuth == 0 {
			c.established = true
			c.theirSeq = acceptorInitialSeq(c.ourSeq)
			Logger.Printf("kerberos: client AP-REQ sent (no mutual auth) spn=%s", b.TargetName)
			return sspi.SecurityStatusOk, nil
		}
		c.waitingMutual = true
		Logger.Printf("kerberos: client AP-REQ sent, awaiting AP-REP spn=%s", b.TargetName)
		return sspi.SecurityStatusContinueNeeded, nil
	}

	if !c.waitingMutual {
		return 0, sspi.NewError(sspi.ErrorKindOutOfSequence, "context already established")
	}
	in, err := sspi.FindBuffer(b.InputBuffers, sspi.SecurityBufferToken)
	if err != nil {
		return 0, err
	}

	var tok initialContextToken
	if err := tok.unmarshalInitialToken(in.Payload); err != nil {
		return 0, err
	}
	if tok.krbErr != nil {
		return 0, classifyKRBError(*tok.krbErr)
	}
	if tok.apRep == nil {
		return 0, sspi.NewError(sspi.ErrorKindInvalidToken, "expected an AP-REP token")
	}

	encPart, err := decryptAPRepPart(tok.apRep, *c.sessionKey)
	if err != nil {
		return 0, err
	}
	if encPart.CTime.Unix() != c.clientCTime.Unix() || encPart.Cusec != c.clientCusec {
		return 0, sspi.NewError(sspi.ErrorKindMutualAuthFailed, "AP-REP timestamp did not match the authenticator")
	}
	c.theirSeq = uint64(encPart.SequenceNumber)
	if encPart.Subkey.KeyType != 0 {
		c.acceptorSubKey = &encPart.Subkey
	}

	c.established = true
	c.waitingMutual = false
	c.sessionFlags |= sspi.ClientRequestMutualAuth
	Logger.Printf("kerberos: client mutual authentication complete spn=%s", c.spn)
	return sspi.SecurityStatusOk, nil
}

func (c *Context) buildAPReq() ([]byte, error) {
	auth, err := types.NewAuthenticator(c.clientRealm(), c.cname())
	if err != nil {
		return nil, sspi.WrapError(sspi.ErrorKindCannotPack, "building Kerberos authenticator", err)
	}
	et, err := crypto.GetEtype(c.sessionKey.KeyType)
	if err != nil {
		return nil, sspi.WrapError(sspi.ErrorKindAlgorithmMismatch, "unsupported session key type", err)
	}
	if err := auth.GenerateSeqNumberAndSubKey(c.sessionKey.KeyType, et.GetKeyByteSize()); err != nil {
		return nil, sspi.WrapError(sspi.ErrorKindInternalError, "generating authenticator subkey", err)
	}
	c.initiatorSubKey = &auth.SubKey
	auth.SeqNumber &= 0x3fffffff
	auth.Cksum = types.Checksum{
		CksumType: chksumtype.GSSAPI,
		Checksum:  newAuthenticatorChksum(c.requestFlags, c.channelBindings),
	}

	apReq, err := messages.NewAPReq(*c.ticket, *c.sessionKey, auth)
	if err != nil {
		return nil, sspi.WrapError(sspi.ErrorKindCannotPack, "building AP-REQ", err)
	}
	if c.requestFlags&sspi.ClientRequestMutualAuth != 0 {
		types.SetFlag(&apReq.APOptions, flags.APOptionMutualRequired)
	}

	c.ourSeq = uint64(auth.SeqNumber)
	c.clientCTime = auth.CTime
	c.clientCusec = auth.Cusec

	var tok initialContextToken
	return tok.marshalAPReq(&apReq)
}

func (c *Context) cname() types.PrincipalName {
	if c.cred.krbClient != nil {
		return c.cred.krbClient.Credentials.CName()
	}
	return types.NewPrincipalName(nametype.KRB_NT_PRINCIPAL, c.cred.identity.Username)
}

// clientRealm returns the initiator's own realm, preferring the logged-in
// client's credentials (set from the AS-REP) over the raw AuthIdentity.
func (c *Context) clientRealm() string {
	if c.cred.krbClient != nil {
		return c.cred.krbClient.Credentials.Domain()
	}
	if c.cred.identity != nil {
		return strings.ToUpper(c.cred.identity.Domain)
	}
	return ""
}

// acceptorInitialSeq picks the acceptor's initial sequence number when
// there is no mutual authentication: the acceptor then has no way to tell
// the initiator its own starting sequence number, so both sides default to
// the initiator's ISN, which is what MIT peers expect.
func acceptorInitialSeq(ourSeq uint64) uint64 {
	return ourSeq
}

// --- AcceptSecurityContext -----------------------------------------------------

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

// AcceptSecurityContextBuilder verifies an AP-REQ against the acceptor's
// keytab and, when mutual authentication was requested, emits an AP-REP.
func (c *Context) AcceptSecurityContextBuilder(b *sspi.AcceptSecurityContextBuilder) (sspi.SecurityStatus, error) {
	if err := b.Validate(); err != nil {
		return 0, err
	}
	cred, ok := b.Credential.(*CredentialsHandle)
	if !ok {
		return 0, sspi.NewError(sspi.ErrorKindWrongCredentialHandle, "not a kerberos.CredentialsHandle")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.established {
		return 0, sspi.NewError(sspi.ErrorKindOutOfSequence, "context already established")
	}
	c.isServer = true
	c.cred = cred
	c.cfg = cred.cfg

	in, err := sspi.FindBuffer(b.InputBuffers, sspi.SecurityBufferToken)
	if err != nil {
		return 0, err
	}

	var tok initialContextToken
	if err := tok.unmarshalInitialToken(in.Payload); err != nil {
		return 0, err
	}
	if tok.krbErr != nil {
		return 0, classifyKRBError(*tok.krbErr)
	}
	if tok.apReq == nil {
		return 0, sspi.NewError(sspi.ErrorKindInvalidToken, "expected an AP-REQ token")
	}

	kt, err := cred.keytabForInbound()
	if err != nil {
		return 0, err
	}
	krbErr := verifyAPReq(kt, tok.apReq, ClockSkew)
	if krbErr != nil {
		return 0, classifyKRBError(*krbErr)
	}

	c.theirSeq = uint64(tok.apReq.Authenticator.SeqNumber)
	c.clientCTime = tok.apReq.Authenticator.CTime
	c.clientCusec = tok.apReq.Authenticator.Cusec
	c.ticket = &tok.apReq.Ticket
	c.sessionKey = &tok.apReq.Ticket.DecryptedEncPart.Key
	if tok.apReq.Authenticator.SubKey.KeyType != 0 {
		c.initiatorSubKey = &tok.apReq.Authenticator.SubKey
	}
	c.peerName = ticketPrincipal(tok.apReq.Ticket.DecryptedEncPart.CName, tok.apReq.Ticket.DecryptedEncPart.CRealm)
	c.requestFlags = sspi.ClientRequestFlags(authenticatorFlags(tok.apReq.Authenticator))

	if types.IsFlagSet(&tok.apReq.APOptions, flags.APOptionMutualRequired) {
		out, err := sspi.FindBuffer(b.OutputBuffers, sspi.SecurityBufferToken)
		if err != nil {
			return 0, err
		}
		apRepTok, err := c.buildAPRep()
		if err != nil {
			return 0, err
		}
		if err := out.SetPayload(apRepTok, b.ContextRequirements&sspi.ServerRequestAllocateMemory != 0); err != nil {
			return 0, err
		}
		c.sessionFlags |= sspi.ClientRequestMutualAuth
	} else {
		c.ourSeq = acceptorInitialSeq(c.theirSeq)
	}

	c.established = true
	Logger.Printf("kerberos: server authenticated peer=%s", c.peerName)
	return sspi.SecurityStatusOk, nil
}

func authenticatorFlags(auth types.Authenticator) uint32 {
	if len(auth.Cksum.Checksum) < 24 {
		return 0
	}
	return leUint32(auth.Cksum.Checksum[20:24])
}

func (c *Context) buildAPRep() ([]byte, error) {
	seq, err := rand.Int(rand.Reader, big.NewInt(math.MaxUint32))
	if err != nil {
		return nil, sspi.WrapError(sspi.ErrorKindInternalError, "generating AP-REP sequence number", err)
	}
	seqNum := seq.Int64() & 0x3fffffff

	rep, err := newAPRep(*c.ticket, *c.sessionKey, encAPRepPart{
		CTime:          c.clientCTime,
		Cusec:          c.clientCusec,
		SequenceNumber: seqNum,
	})
	if err != nil {
		return nil, sspi.WrapError(sspi.ErrorKindCannotPack, "building AP-REP", err)
	}
	c.ourSeq = uint64(seqNum)

	var tok initialContextToken
	return tok.marshalAPRep(&rep)
}

// CompleteAuthToken is a no-op: this package doesn't implement the
// DCE-style token patching that Kerberos-over-DCE callers would need.
func (c *Context) CompleteAuthToken(buffers []sspi.SecurityBuffer) (sspi.SecurityStatus, error) {
	return sspi.SecurityStatusOk, nil
}

// QueryContextSizes reports bounds derived from the negotiated key's
// checksum/block sizes; a conservative upper bound is used before the
// context completes.
func (c *Context) QueryContextSizes() (sspi.ContextSizes, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := c.activeKey()
	if key == nil {
		return sspi.ContextSizes{MaxToken: 12000, MaxSignature: 32, Block: 16, SecurityTrailer: 76}, nil
	}
	sig, _ := checksumSize(*key)
	return sspi.ContextSizes{
		MaxToken:        12000,
		MaxSignature:    uint32(sig),
		Block:           16,
		SecurityTrailer: uint32(msgTokenHdrLen + sig),
	}, nil
}

// QueryContextNames reports the peer principal established by the
// handshake.
func (c *Context) QueryContextNames() (sspi.ContextNames, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.established {
		return sspi.ContextNames{}, sspi.NewError(sspi.ErrorKindInvalidHandle, "context not established")
	}
	return sspi.ContextNames{Username: c.peerName}, nil
}

func (c *Context) QueryContextPackageInfo() (sspi.PackageInfo, error) {
	return packageInfo, nil
}

func (c *Context) QueryContextCertTrustStatus() (sspi.CertTrustStatus, error) {
	return sspi.CertTrustStatus{}, nil
}

// SetAuthData rebinds a fresh AuthIdentity to an existing credential
// handle, for long-lived processes that rotate credentials without a full
// re-acquire. The cached login is dropped so the next context logs in with
// the new identity.
func (c *CredentialsHandle) SetAuthData(identity *sspi.AuthIdentity) {
	c.identity = identity
	c.krbClient = nil
	c.kdcCl = nil
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
