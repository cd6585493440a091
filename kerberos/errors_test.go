// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package kerberos

import (
	"errors"
	"testing"

	"github.com/jcmturner/gokrb5/v8/iana/errorcode"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"
	"github.com/stretchr/testify/require"

	"github.com/jake-scott/go-sspi"
)

func mkKRBError(code int32) messages.KRBError {
	return messages.NewKRBError(types.PrincipalName{}, "EXAMPLE.COM", code, "test")
}

func TestClassifyKRBErrorKnownCodes(t *testing.T) {
	cases := []struct {
		code int32
		want sspi.ErrorKind
	}{
		{errorcode.KRB_AP_ERR_SKEW, sspi.ErrorKindTimeSkew},
		{errorcode.KRB_AP_ERR_TKT_EXPIRED, sspi.ErrorKindContextExpired},
		{errorcode.KRB_AP_ERR_BAD_INTEGRITY, sspi.ErrorKindMessageAltered},
		{errorcode.KRB_AP_ERR_MODIFIED, sspi.ErrorKindMessageAltered},
		{errorcode.KRB_AP_ERR_REPEAT, sspi.ErrorKindOutOfSequence},
		{errorcode.KRB_AP_ERR_MUT_FAIL, sspi.ErrorKindMutualAuthFailed},
		{errorcode.KDC_ERR_C_PRINCIPAL_UNKNOWN, sspi.ErrorKindTargetUnknown},
		{errorcode.KDC_ERR_S_PRINCIPAL_UNKNOWN, sspi.ErrorKindTargetUnknown},
		{errorcode.KDC_ERR_PREAUTH_REQUIRED, sspi.ErrorKindNoPaData},
		{errorcode.KDC_ERR_PREAUTH_FAILED, sspi.ErrorKindLogonDenied},
		{errorcode.KDC_ERR_WRONG_REALM, sspi.ErrorKindNoAuthenticatingAuthority},
	}

	for _, c := range cases {
		ke := mkKRBError(c.code)
		got := classifyKRBError(ke)
		require.Equal(t, c.want, got.Kind, "error code %d", c.code)
	}
}

func TestClassifyKRBErrorUnknownCodeFallsBackToInternal(t *testing.T) {
	ke := mkKRBError(9999)
	got := classifyKRBError(ke)
	require.Equal(t, sspi.ErrorKindInternalError, got.Kind)
	require.Contains(t, got.Description, "MISSING_ERROR")
}

func TestClassifyClientErrorUnwrapsKRBError(t *testing.T) {
	ke := mkKRBError(errorcode.KRB_AP_ERR_SKEW)
	got := classifyClientError(ke)
	require.Equal(t, sspi.ErrorKindTimeSkew, got.Kind)
}

func TestClassifyClientErrorNonKRBError(t *testing.T) {
	got := classifyClientError(errors.New("network unreachable"))
	require.Equal(t, sspi.ErrorKindInternalError, got.Kind)
}
