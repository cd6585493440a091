// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package sspi

import "fmt"

// SecurityStatus is the outcome of an Sspi operation, keyed by the
// well-known SSPI status numbers. Most operations that can continue the
// handshake return one of these rather than an error.
type SecurityStatus uint32

// SSPI status codes, emitted verbatim (see spec §6).
const (
	SecurityStatusOk                  SecurityStatus = 0x00000000
	SecurityStatusContinueNeeded      SecurityStatus = 0x00090312
	SecurityStatusCompleteNeeded      SecurityStatus = 0x00090313
	SecurityStatusCompleteAndContinue SecurityStatus = 0x00090314
)

func (s SecurityStatus) String() string {
	switch s {
	case SecurityStatusOk:
		return "Ok"
	case SecurityStatusContinueNeeded:
		return "ContinueNeeded"
	case SecurityStatusCompleteNeeded:
		return "CompleteNeeded"
	case SecurityStatusCompleteAndContinue:
		return "CompleteAndContinue"
	default:
		return fmt.Sprintf("SecurityStatus(0x%08x)", uint32(s))
	}
}

// ErrorKind is a closed taxonomy of SSPI-related failures, keyed by the
// Microsoft HRESULT values in the 0x80090300..0x80090367 range. The state
// machines remap lower-level parsing/crypto/I/O failures onto this
// taxonomy at the package boundary; see Error.
type ErrorKind uint32

const (
	ErrorKindUnknown                   ErrorKind = 0
	ErrorKindInsufficientMemory        ErrorKind = 0x80090300
	ErrorKindInvalidHandle             ErrorKind = 0x80090301
	ErrorKindUnsupportedFunction       ErrorKind = 0x80090302
	ErrorKindTargetUnknown             ErrorKind = 0x80090303
	ErrorKindInternalError             ErrorKind = 0x80090304
	ErrorKindSecurityPackageNotFound   ErrorKind = 0x80090305
	ErrorKindNotOwned                  ErrorKind = 0x80090306
	ErrorKindCannotInstall             ErrorKind = 0x80090307
	ErrorKindInvalidToken              ErrorKind = 0x80090308
	ErrorKindCannotPack                ErrorKind = 0x80090309
	ErrorKindOperationNotSupported     ErrorKind = 0x8009030A
	ErrorKindNoImpersonation           ErrorKind = 0x8009030B
	ErrorKindLogonDenied               ErrorKind = 0x8009030C
	ErrorKindUnknownCredentials        ErrorKind = 0x8009030D
	ErrorKindNoCredentials             ErrorKind = 0x8009030E
	ErrorKindMessageAltered            ErrorKind = 0x8009030F
	ErrorKindOutOfSequence             ErrorKind = 0x80090310
	ErrorKindNoAuthenticatingAuthority ErrorKind = 0x80090311
	ErrorKindBadPackageId              ErrorKind = 0x80090316
	ErrorKindContextExpired            ErrorKind = 0x80090317
	ErrorKindIncompleteMessage         ErrorKind = 0x80090318
	ErrorKindIncompleteCredentials     ErrorKind = 0x80090320
	ErrorKindBufferTooSmall            ErrorKind = 0x80090321
	ErrorKindWrongPrincipalName        ErrorKind = 0x80090322
	ErrorKindTimeSkew                  ErrorKind = 0x80090324
	ErrorKindUntrustedRoot             ErrorKind = 0x80090325
	ErrorKindIllegalMessage            ErrorKind = 0x80090326
	ErrorKindCertificateUnknown        ErrorKind = 0x80090327
	ErrorKindCertificateExpired        ErrorKind = 0x80090328
	ErrorKindEncryptFailure            ErrorKind = 0x80090329
	ErrorKindDecryptFailure            ErrorKind = 0x80090330
	ErrorKindAlgorithmMismatch         ErrorKind = 0x80090331
	ErrorKindSecurityQosFailed         ErrorKind = 0x80090332
	ErrorKindUnfinishedContextDeleted  ErrorKind = 0x80090333
	ErrorKindNoTgtReply                ErrorKind = 0x80090334
	ErrorKindNoIpAddress               ErrorKind = 0x80090335
	ErrorKindWrongCredentialHandle     ErrorKind = 0x80090336
	ErrorKindCryptoSystemInvalid       ErrorKind = 0x80090337
	ErrorKindMaxReferralsExceeded      ErrorKind = 0x80090338
	ErrorKindMustBeKdc                 ErrorKind = 0x80090339
	ErrorKindStrongCryptoNotSupported  ErrorKind = 0x8009033A
	ErrorKindTooManyPrincipals         ErrorKind = 0x8009033B
	ErrorKindNoPaData                  ErrorKind = 0x8009033C
	ErrorKindPkInitNameMismatch        ErrorKind = 0x8009033D
	ErrorKindSmartCardLogonRequired    ErrorKind = 0x8009033E
	ErrorKindShutdownInProgress        ErrorKind = 0x8009033F
	ErrorKindKdcInvalidRequest         ErrorKind = 0x80090340
	ErrorKindKdcUnknownEType           ErrorKind = 0x80090342
	ErrorKindUnsupportedPreAuth        ErrorKind = 0x80090343
	ErrorKindDelegationRequired        ErrorKind = 0x80090345
	ErrorKindBadBindings               ErrorKind = 0x80090346
	ErrorKindMultipleAccounts          ErrorKind = 0x80090347
	ErrorKindNoKerdKey                 ErrorKind = 0x80090348
	ErrorKindDowngradeDetected         ErrorKind = 0x80090350
	ErrorKindMutualAuthFailed          ErrorKind = 0x80090363
)

func (k ErrorKind) String() string {
	if s, ok := errorKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ErrorKind(0x%08x)", uint32(k))
}

var errorKindNames = map[ErrorKind]string{
	ErrorKindUnknown:                   "Unknown",
	ErrorKindInsufficientMemory:        "InsufficientMemory",
	ErrorKindInvalidHandle:             "InvalidHandle",
	ErrorKindUnsupportedFunction:       "UnsupportedFunction",
	ErrorKindTargetUnknown:             "TargetUnknown",
	ErrorKindInternalError:             "InternalError",
	ErrorKindSecurityPackageNotFound:   "SecurityPackageNotFound",
	ErrorKindNotOwned:                  "NotOwned",
	ErrorKindCannotInstall:             "CannotInstall",
	ErrorKindInvalidToken:              "InvalidToken",
	ErrorKindCannotPack:                "CannotPack",
	ErrorKindOperationNotSupported:     "OperationNotSupported",
	ErrorKindNoImpersonation:           "NoImpersonation",
	ErrorKindLogonDenied:               "LogonDenied",
	ErrorKindUnknownCredentials:        "UnknownCredentials",
	ErrorKindNoCredentials:             "NoCredentials",
	ErrorKindMessageAltered:            "MessageAltered",
	ErrorKindOutOfSequence:             "OutOfSequence",
	ErrorKindNoAuthenticatingAuthority: "NoAuthenticatingAuthority",
	ErrorKindBadPackageId:              "BadPackageId",
	ErrorKindContextExpired:            "ContextExpired",
	ErrorKindIncompleteMessage:         "IncompleteMessage",
	ErrorKindIncompleteCredentials:     "IncompleteCredentials",
	ErrorKindBufferTooSmall:            "BufferTooSmall",
	ErrorKindWrongPrincipalName:        "WrongPrincipalName",
	ErrorKindTimeSkew:                  "TimeSkew",
	ErrorKindUntrustedRoot:             "UntrustedRoot",
	ErrorKindIllegalMessage:            "IllegalMessage",
	ErrorKindCertificateUnknown:        "CertificateUnknown",
	ErrorKindCertificateExpired:        "CertificateExpired",
	ErrorKindEncryptFailure:            "EncryptFailure",
	ErrorKindDecryptFailure:            "DecryptFailure",
	ErrorKindAlgorithmMismatch:         "AlgorithmMismatch",
	ErrorKindSecurityQosFailed:         "SecurityQosFailed",
	ErrorKindUnfinishedContextDeleted:  "UnfinishedContextDeleted",
	ErrorKindNoTgtReply:                "NoTgtReply",
	ErrorKindNoIpAddress:               "NoIpAddress",
	ErrorKindWrongCredentialHandle:     "WrongCredentialHandle",
	ErrorKindCryptoSystemInvalid:       "CryptoSystemInvalid",
	ErrorKindMaxReferralsExceeded:      "MaxReferralsExceeded",
	ErrorKindMustBeKdc:                 "MustBeKdc",
	ErrorKindStrongCryptoNotSupported:  "StrongCryptoNotSupported",
	ErrorKindTooManyPrincipals:         "TooManyPrincipals",
	ErrorKindNoPaData:                  "NoPaData",
	ErrorKindPkInitNameMismatch:        "PkInitNameMismatch",
	ErrorKindSmartCardLogonRequired:    "SmartCardLogonRequired",
	ErrorKindShutdownInProgress:        "ShutdownInProgress",
	ErrorKindKdcInvalidRequest:         "KdcInvalidRequest",
	ErrorKindKdcUnknownEType:           "KdcUnknownEType",
	ErrorKindUnsupportedPreAuth:        "UnsupportedPreAuth",
	ErrorKindDelegationRequired:        "DelegationRequired",
	ErrorKindBadBindings:               "BadBindings",
	ErrorKindMultipleAccounts:          "MultipleAccounts",
	ErrorKindNoKerdKey:                 "NoKerdKey",
	ErrorKindDowngradeDetected:         "DowngradeDetected",
	ErrorKindMutualAuthFailed:          "MutualAuthFailed",
}

// Error is the tagged error type returned by every Sspi operation that can
// fail: an ErrorKind plus a human-readable description, optionally wrapping
// a lower-level cause (crypto, ASN.1, I/O). Kept as a single tagged struct
// rather than a class hierarchy, per the "enum-with-payload" design note.
type Error struct {
	Kind        ErrorKind
	Description string
	Cause       error
}

// NewError constructs an Error with no wrapped cause.
func NewError(kind ErrorKind, description string) *Error {
	return &Error{Kind: kind, Description: description}
}

// WrapError constructs an Error that wraps a lower-level cause, for
// errors.Is/errors.As to reach through to the parsing/crypto/I/O failure
// that triggered the SSPI-level classification.
func WrapError(kind ErrorKind, description string, cause error) *Error {
	return &Error{Kind: kind, Description: description, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("sspi: %s: %s: %v", e.Kind, e.Description, e.Cause)
	}
	return fmt.Sprintf("sspi: %s: %s", e.Kind, e.Description)
}

func (e *Error) Unwrap() error {
	return e.Cause
}
