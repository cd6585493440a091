// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

// Package sspi defines the shared data model and the Sspi interface that
// the ntlm and kerberos packages each implement. See doc.go for an
// end-to-end usage example.
package sspi

// Sspi is implemented independently by the ntlm and kerberos packages. A
// caller picks a package explicitly (there is no automatic negotiation
// across packages; EnumerateSecurityPackages/QuerySecurityPackageInfo only
// describe the Negotiate package, they don't implement it).
//
// Each method here is the raw, builder-taking entry point. Both packages
// also expose a fluent wrapper (e.g. ntlm.Context.AcquireCredentialsHandle()
// returning a chainable *AcquireCredentialsHandleCall) as the ergonomic
// public surface shown in this package's doc.go; the "Builder"-suffixed
// names below exist so a single Context/concrete type can satisfy this
// interface without colliding with its own fluent method of the same name.
type Sspi interface {
	// AcquireCredentialsHandleBuilder obtains a handle to the caller's
	// pre-existing credentials, for use by InitializeSecurityContext or
	// AcceptSecurityContext.
	AcquireCredentialsHandleBuilder(builder *AcquireCredentialsHandleBuilder) (CredentialsHandle, error)

	// InitializeSecurityContextBuilder begins, or continues, client-side
	// context establishment. Returns SecurityStatusContinueNeeded when the
	// caller must transport OutputToken to the server and feed its reply
	// back in as InputToken on the next call.
	InitializeSecurityContextBuilder(builder *InitializeSecurityContextBuilder) (SecurityStatus, error)

	// AcceptSecurityContextBuilder begins, or continues, server-side context
	// establishment, mirroring InitializeSecurityContextBuilder.
	AcceptSecurityContextBuilder(builder *AcceptSecurityContextBuilder) (SecurityStatus, error)

	// CompleteAuthToken finishes a context establishment that requires the
	// caller to modify the final token before it is sent (e.g. to fold in a
	// MIC computed over the full token history). Most contexts never need
	// this: it returns SecurityStatusOk immediately when not required.
	CompleteAuthToken(buffers []SecurityBuffer) (SecurityStatus, error)

	// EncryptMessage signs, and optionally seals, one or more buffers
	// in-place once a context has completed establishment.
	EncryptMessage(buffers []SecurityBuffer, flags EncryptionFlags, messageSeqNo uint32) error

	// DecryptMessage verifies a signature, and undoes sealing if present,
	// on buffers produced by the peer's EncryptMessage.
	DecryptMessage(buffers []SecurityBuffer, messageSeqNo uint32) (DecryptionFlags, error)

	// QueryContextSizes reports the buffer-sizing bounds a caller needs in
	// order to allocate signature/padding buffers ahead of EncryptMessage.
	QueryContextSizes() (ContextSizes, error)

	// QueryContextNames reports the username/domain bound to the context's
	// credential, once available.
	QueryContextNames() (ContextNames, error)

	// QueryContextPackageInfo reports the static PackageInfo for the
	// package that negotiated this specific context.
	QueryContextPackageInfo() (PackageInfo, error)

	// QueryContextCertTrustStatus reports certificate trust information.
	// Neither package here uses certificate-based trust, so both return a
	// zero-valued, trusted CertTrustStatus.
	QueryContextCertTrustStatus() (CertTrustStatus, error)
}
