// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package sspi

import "fmt"

// SecurityPackageCapability describes a bit of the capability mask carried
// by PackageInfo.Capabilities.
type SecurityPackageCapability uint32

const (
	PackageCapabilityIntegrity       SecurityPackageCapability = 0x1
	PackageCapabilityPrivacy         SecurityPackageCapability = 0x2
	PackageCapabilityTokenOnly       SecurityPackageCapability = 0x4
	PackageCapabilityDatagram        SecurityPackageCapability = 0x8
	PackageCapabilityConnection      SecurityPackageCapability = 0x10
	PackageCapabilityMutualAuth      SecurityPackageCapability = 0x800
	PackageCapabilityDelegation      SecurityPackageCapability = 0x1000
	PackageCapabilityAcceptWin32Name SecurityPackageCapability = 0x20
)

// PackageInfo is the static descriptor for a security package, initialised
// once at startup and never mutated.
type PackageInfo struct {
	Capabilities SecurityPackageCapability
	RPCID        uint16
	MaxTokenLen  uint32
	Name         string
	Comment      string
}

// SecurityPackageType identifies a registered security package by name.
type SecurityPackageType struct {
	name string
}

func (t SecurityPackageType) String() string {
	return t.name
}

var (
	SecurityPackageNtlm      = SecurityPackageType{"NTLM"}
	SecurityPackageKerberos  = SecurityPackageType{"Kerberos"}
	SecurityPackageNegotiate = SecurityPackageType{"Negotiate"}
)

// SecurityPackageOther constructs a SecurityPackageType for a name this
// module doesn't recognize, so QuerySecurityPackageInfo can still report a
// descriptive error.
func SecurityPackageOther(name string) SecurityPackageType {
	return SecurityPackageType{name}
}

// packageRegistry holds the per-package static descriptors. Both the ntlm
// and kerberos packages register themselves from an init() function.
var packageRegistry = map[string]PackageInfo{}

// RegisterPackageInfo associates a PackageInfo with its package name. Called
// once from each package's init(); re-registration under the same name
// replaces the previous entry.
func RegisterPackageInfo(info PackageInfo) {
	packageRegistry[info.Name] = info
}

// QuerySecurityPackageInfo retrieves the static descriptor for a named
// security package.
func QuerySecurityPackageInfo(packageType SecurityPackageType) (PackageInfo, error) {
	info, ok := packageRegistry[packageType.name]
	if !ok {
		return PackageInfo{}, NewError(ErrorKindSecurityPackageNotFound,
			fmt.Sprintf("queried info about unknown package: %q", packageType.name))
	}
	return info, nil
}

// EnumerateSecurityPackages returns every registered PackageInfo, plus a
// synthetic "Negotiate" descriptor, keeping the listing consistent with
// what QuerySecurityPackageInfo answers for each name. Negotiate is a
// descriptor only; no negotiation state machine exists behind it.
func EnumerateSecurityPackages() []PackageInfo {
	out := make([]PackageInfo, 0, len(packageRegistry)+1)
	for _, info := range packageRegistry {
		out = append(out, info)
	}
	out = append(out, negotiatePackageInfo())
	return out
}

func negotiatePackageInfo() PackageInfo {
	caps := PackageCapabilityIntegrity | PackageCapabilityPrivacy |
		PackageCapabilityConnection | PackageCapabilityMutualAuth | PackageCapabilityDelegation
	maxTok := uint32(0)
	for _, info := range packageRegistry {
		caps |= info.Capabilities
		if info.MaxTokenLen > maxTok {
			maxTok = info.MaxTokenLen
		}
	}
	return PackageInfo{
		Capabilities: caps,
		RPCID:        0xFFFF,
		MaxTokenLen:  maxTok,
		Name:         SecurityPackageNegotiate.name,
		Comment:      "Microsoft Package Negotiator",
	}
}

// ContextSizes reports the bounds of sizes of authentication information
// for the current security context.
type ContextSizes struct {
	MaxToken        uint32
	MaxSignature    uint32
	Block           uint32
	SecurityTrailer uint32
}

// ContextNames reports the username/domain bound to a context's credential.
type ContextNames struct {
	Username string
	Domain   string
}

// CertTrustStatus reports certificate trust information, used only by
// CredSSP-style callers; both packages here return a zero-valued, trusted
// status since neither uses certificate-based trust.
type CertTrustStatus struct {
	ErrorStatus uint32
	InfoStatus  uint32
}
