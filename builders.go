// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package sspi

// ContextState distinguishes a not-yet-started context from one that has
// already exchanged at least one token, so a builder can decide whether a
// missing input token is expected or an error.
type ContextState int

const (
	// ContextStateInitial means no token has been exchanged on this context
	// yet: a client builder has nothing to feed into InputToken, and a
	// server builder receiving the first leg from the client likewise
	// starts here only if the client sends no token at all (rare, but some
	// NTLM callers begin with an empty NEGOTIATE round).
	ContextStateInitial ContextState = iota
	// ContextStateContinue means the context has already produced or
	// consumed at least one token.
	ContextStateContinue
)

// AcquireCredentialsHandleBuilder collects the arguments to
// AcquireCredentialsHandle. Validate reports a descriptive Error rather
// than letting the package-specific implementation fail on a nil pointer.
type AcquireCredentialsHandleBuilder struct {
	// Principal is the name of the principal whose credentials are
	// acquired; empty means the package's default.
	Principal     string
	CredentialUse CredentialUse
	// AuthData supplies explicit credentials. Nil means use the logon
	// session's existing credentials (e.g. SSO / ccache / default keytab).
	AuthData *AuthIdentity
}

// NewAcquireCredentialsHandleBuilder returns a builder requesting outbound
// use of the current logon session's credentials; set fields before
// calling Validate/Execute.
func NewAcquireCredentialsHandleBuilder() *AcquireCredentialsHandleBuilder {
	return &AcquireCredentialsHandleBuilder{CredentialUse: CredentialUseOutbound}
}

func (b *AcquireCredentialsHandleBuilder) WithPrincipal(principal string) *AcquireCredentialsHandleBuilder {
	b.Principal = principal
	return b
}

func (b *AcquireCredentialsHandleBuilder) WithCredentialUse(use CredentialUse) *AcquireCredentialsHandleBuilder {
	b.CredentialUse = use
	return b
}

func (b *AcquireCredentialsHandleBuilder) WithAuthData(identity *AuthIdentity) *AcquireCredentialsHandleBuilder {
	b.AuthData = identity
	return b
}

// Validate reports an error if the builder's fields cannot form a valid
// call. AcquireCredentialsHandleBuilder has no required combination beyond
// a valid CredentialUse, so this mostly exists for symmetry with the other
// builders and for subpackages that want to reuse its error.
func (b *AcquireCredentialsHandleBuilder) Validate() error {
	switch b.CredentialUse {
	case CredentialUseOutbound, CredentialUseInbound, CredentialUseBoth:
	default:
		return NewError(ErrorKindInvalidHandle, "invalid CredentialUse")
	}
	return nil
}

// InitializeSecurityContextBuilder collects the arguments to
// InitializeSecurityContext.
type InitializeSecurityContextBuilder struct {
	Credential               CredentialsHandle
	State                    ContextState
	TargetName               string
	ContextRequirements      ClientRequestFlags
	TargetDataRepresentation DataRepresentation
	InputBuffers             []SecurityBuffer
	OutputBuffers            []SecurityBuffer
}

func NewInitializeSecurityContextBuilder() *InitializeSecurityContextBuilder {
	return &InitializeSecurityContextBuilder{
		State:                    ContextStateInitial,
		TargetDataRepresentation: DataRepresentationNative,
	}
}

func (b *InitializeSecurityContextBuilder) WithCredentialsHandle(cred CredentialsHandle) *InitializeSecurityContextBuilder {
	b.Credential = cred
	return b
}

func (b *InitializeSecurityContextBuilder) WithContextRequirements(flags ClientRequestFlags) *InitializeSecurityContextBuilder {
	b.ContextRequirements = flags
	return b
}

func (b *InitializeSecurityContextBuilder) WithTargetName(name string) *InitializeSecurityContextBuilder {
	b.TargetName = name
	return b
}

func (b *InitializeSecurityContextBuilder) WithInput(state ContextState, buffers []SecurityBuffer) *InitializeSecurityContextBuilder {
	b.State = state
	b.InputBuffers = buffers
	return b
}

func (b *InitializeSecurityContextBuilder) WithOutput(buffers []SecurityBuffer) *InitializeSecurityContextBuilder {
	b.OutputBuffers = buffers
	return b
}

// Validate enforces that a credentials handle is always present, and that
// a Continue-state call always carries at least one input buffer: only the
// very first leg of a client-initiated handshake may omit one.
func (b *InitializeSecurityContextBuilder) Validate() error {
	if b.Credential == nil {
		return NewError(ErrorKindNoCredentials, "InitializeSecurityContext requires a credentials handle")
	}
	if b.State == ContextStateContinue && len(b.InputBuffers) == 0 {
		return NewError(ErrorKindInvalidToken,
			"InitializeSecurityContext in the Continue state requires an input token from the peer")
	}
	return nil
}

// AcceptSecurityContextBuilder collects the arguments to
// AcceptSecurityContext.
//
// Validate allows a missing input token only while the context is Initial,
// since some packages' first server-side leg is triggered by the client's
// connection alone rather than by an explicit token (e.g. an NTLM listener
// that reads its own NEGOTIATE message off the wire before any SSPI call
// happens). In the Continue state, a missing input token is always an
// error.
type AcceptSecurityContextBuilder struct {
	Credential              CredentialsHandle
	State                   ContextState
	ContextRequirements     ServerRequestFlags
	InputDataRepresentation DataRepresentation
	InputBuffers            []SecurityBuffer
	OutputBuffers           []SecurityBuffer
}

func NewAcceptSecurityContextBuilder() *AcceptSecurityContextBuilder {
	return &AcceptSecurityContextBuilder{
		State:                   ContextStateInitial,
		InputDataRepresentation: DataRepresentationNative,
	}
}

func (b *AcceptSecurityContextBuilder) WithCredentialsHandle(cred CredentialsHandle) *AcceptSecurityContextBuilder {
	b.Credential = cred
	return b
}

func (b *AcceptSecurityContextBuilder) WithContextRequirements(flags ServerRequestFlags) *AcceptSecurityContextBuilder {
	b.ContextRequirements = flags
	return b
}

func (b *AcceptSecurityContextBuilder) WithInput(state ContextState, buffers []SecurityBuffer) *AcceptSecurityContextBuilder {
	b.State = state
	b.InputBuffers = buffers
	return b
}

func (b *AcceptSecurityContextBuilder) WithOutput(buffers []SecurityBuffer) *AcceptSecurityContextBuilder {
	b.OutputBuffers = buffers
	return b
}

// Validate applies the Initial-state exception described in the
// AcceptSecurityContextBuilder doc comment.
func (b *AcceptSecurityContextBuilder) Validate() error {
	if b.Credential == nil {
		return NewError(ErrorKindNoCredentials, "AcceptSecurityContext requires a credentials handle")
	}
	if b.State == ContextStateContinue && len(b.InputBuffers) == 0 {
		return NewError(ErrorKindInvalidToken,
			"AcceptSecurityContext in the Continue state requires an input token from the peer")
	}
	return nil
}
