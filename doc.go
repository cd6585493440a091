// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

/*
Package sspi is a platform-independent implementation of the Microsoft
Security Support Provider Interface (SSPI) shape, offering NTLM
(github.com/jake-scott/go-sspi/ntlm) and Kerberos
(github.com/jake-scott/go-sspi/kerberos) authentication packages for mutual
authentication, message signing and message encryption.

This package defines the shared surface: credential and context handles,
security buffers, status codes, the Sspi interface both packages implement,
and the builders used to assemble calls to it. The NTLM and Kerberos state
machines, wire codecs, and per-message protection engines live in their own
subpackages.

# Example

	identity := &sspi.AuthIdentity{Username: "user", Password: "password"}

	var client ntlm.Context
	cred, err := client.AcquireCredentialsHandle().
		WithCredentialUse(sspi.CredentialUseOutbound).
		WithAuthData(identity).
		Execute()
	if err != nil {
		log.Fatal(err)
	}

	out := []sspi.SecurityBuffer{sspi.NewSecurityBuffer(nil, sspi.SecurityBufferToken)}
	result, err := client.InitializeSecurityContext().
		WithCredentialsHandle(cred.CredentialsHandle).
		WithContextRequirements(sspi.ClientRequestConfidentiality | sspi.ClientRequestAllocateMemory).
		WithTargetDataRepresentation(sspi.DataRepresentationNative).
		WithOutput(out).
		Execute()

See https://docs.microsoft.com/en-us/windows/win32/api/sspi/ for the shape
this package follows; see [MS-NLMP] and RFC 4120/4121/2743 for the wire
protocols the ntlm and kerberos subpackages implement.
*/
package sspi
