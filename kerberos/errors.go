// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package kerberos

import (
	"errors"
	"fmt"

	"github.com/jcmturner/gokrb5/v8/iana/errorcode"
	"github.com/jcmturner/gokrb5/v8/messages"

	"github.com/jake-scott/go-sspi"
)

// krbErrorKind maps a [RFC 4120] §7.5.9 KRB-ERROR error-code to this
// module's ErrorKind taxonomy. Every code the gokrb5/v8 client/acceptor
// paths can return is listed explicitly; anything else falls back to
// ErrorKindInternalError, since there is no dedicated ErrorKind for an
// error-code this table doesn't recognize.
var krbErrorKind = map[int32]sspi.ErrorKind{
	errorcode.KDC_ERR_NAME_EXP:             sspi.ErrorKindUnknownCredentials,
	errorcode.KDC_ERR_SERVICE_EXP:          sspi.ErrorKindUnknownCredentials,
	errorcode.KDC_ERR_BAD_PVNO:             sspi.ErrorKindKdcInvalidRequest,
	errorcode.KDC_ERR_C_OLD_MAST_KVNO:      sspi.ErrorKindKdcInvalidRequest,
	errorcode.KDC_ERR_S_OLD_MAST_KVNO:      sspi.ErrorKindKdcInvalidRequest,
	errorcode.KDC_ERR_C_PRINCIPAL_UNKNOWN:  sspi.ErrorKindTargetUnknown,
	errorcode.KDC_ERR_S_PRINCIPAL_UNKNOWN:  sspi.ErrorKindTargetUnknown,
	errorcode.KDC_ERR_PRINCIPAL_NOT_UNIQUE: sspi.ErrorKindMultipleAccounts,
	errorcode.KDC_ERR_NULL_KEY:             sspi.ErrorKindNoKerdKey,
	errorcode.KDC_ERR_CANNOT_POSTDATE:      sspi.ErrorKindKdcInvalidRequest,
	errorcode.KDC_ERR_NEVER_VALID:          sspi.ErrorKindKdcInvalidRequest,
	errorcode.KDC_ERR_POLICY:               sspi.ErrorKindLogonDenied,
	errorcode.KDC_ERR_BADOPTION:            sspi.ErrorKindKdcInvalidRequest,
	errorcode.KDC_ERR_ETYPE_NOSUPP:         sspi.ErrorKindKdcUnknownEType,
	errorcode.KDC_ERR_SUMTYPE_NOSUPP:       sspi.ErrorKindAlgorithmMismatch,
	errorcode.KDC_ERR_PADATA_TYPE_NOSUPP:   sspi.ErrorKindUnsupportedPreAuth,
	errorcode.KDC_ERR_TRTYPE_NOSUPP:        sspi.ErrorKindKdcInvalidRequest,
	errorcode.KDC_ERR_CLIENT_REVOKED:       sspi.ErrorKindLogonDenied,
	errorcode.KDC_ERR_SERVICE_REVOKED:      sspi.ErrorKindLogonDenied,
	errorcode.KDC_ERR_TGT_REVOKED:          sspi.ErrorKindNoTgtReply,
	errorcode.KDC_ERR_CLIENT_NOTYET:        sspi.ErrorKindKdcInvalidRequest,
	errorcode.KDC_ERR_SERVICE_NOTYET:       sspi.ErrorKindKdcInvalidRequest,
	errorcode.KDC_ERR_KEY_EXPIRED:          sspi.ErrorKindLogonDenied,
	errorcode.KDC_ERR_PREAUTH_FAILED:       sspi.ErrorKindLogonDenied,
	errorcode.KDC_ERR_PREAUTH_REQUIRED:     sspi.ErrorKindNoPaData,
	errorcode.KDC_ERR_SERVER_NOMATCH:       sspi.ErrorKindWrongPrincipalName,
	errorcode.KDC_ERR_MUST_USE_USER2USER:   sspi.ErrorKindDelegationRequired,
	errorcode.KDC_ERR_WRONG_REALM:          sspi.ErrorKindNoAuthenticatingAuthority,
	errorcode.KRB_AP_ERR_BAD_INTEGRITY:     sspi.ErrorKindMessageAltered,
	errorcode.KRB_AP_ERR_TKT_EXPIRED:       sspi.ErrorKindContextExpired,
	errorcode.KRB_AP_ERR_TKT_NYV:           sspi.ErrorKindKdcInvalidRequest,
	errorcode.KRB_AP_ERR_REPEAT:            sspi.ErrorKindOutOfSequence,
	errorcode.KRB_AP_ERR_NOT_US:            sspi.ErrorKindWrongPrincipalName,
	errorcode.KRB_AP_ERR_BADMATCH:          sspi.ErrorKindBadBindings,
	errorcode.KRB_AP_ERR_SKEW:              sspi.ErrorKindTimeSkew,
	errorcode.KRB_AP_ERR_BADADDR:           sspi.ErrorKindBadBindings,
	errorcode.KRB_AP_ERR_BADVERSION:        sspi.ErrorKindKdcInvalidRequest,
	errorcode.KRB_AP_ERR_MSG_TYPE:          sspi.ErrorKindInvalidToken,
	errorcode.KRB_AP_ERR_MODIFIED:          sspi.ErrorKindMessageAltered,
	errorcode.KRB_AP_ERR_BADORDER:          sspi.ErrorKindOutOfSequence,
	errorcode.KRB_AP_ERR_BADKEYVER:         sspi.ErrorKindWrongCredentialHandle,
	errorcode.KRB_AP_ERR_NOKEY:             sspi.ErrorKindNoKerdKey,
	errorcode.KRB_AP_ERR_MUT_FAIL:          sspi.ErrorKindMutualAuthFailed,
	errorcode.KRB_ERR_RESPONSE_TOO_BIG:     sspi.ErrorKindBufferTooSmall,
	errorcode.KRB_ERR_GENERIC:              sspi.ErrorKindInternalError,
}

// classifyKRBError wraps a KRB-ERROR message as an *sspi.Error, mapping its
// error-code through krbErrorKind. Codes the table doesn't carry become
// ErrorKindInternalError with a MISSING_ERROR label so the unknown code is
// still visible to the caller.
func classifyKRBError(ke messages.KRBError) *sspi.Error {
	kind, ok := krbErrorKind[ke.ErrorCode]
	if !ok {
		return sspi.WrapError(sspi.ErrorKindInternalError,
			fmt.Sprintf("MISSING_ERROR (%d): %s", ke.ErrorCode, ke.EText), ke)
	}
	return sspi.WrapError(kind, "KDC returned an error: "+ke.EText, ke)
}

// classifyClientError adapts an error returned from gokrb5/v8's
// client.Client (AffirmLogin, GetServiceTicket): a KRB-ERROR received from
// the KDC is classified the same way an AP-REQ/AP-REP exchange's KRB-ERROR
// is, anything else becomes ErrorKindInternalError.
func classifyClientError(err error) *sspi.Error {
	var ke messages.KRBError
	if errors.As(err, &ke) {
		return classifyKRBError(ke)
	}
	return sspi.WrapError(sspi.ErrorKindInternalError, "Kerberos client operation failed", err)
}
