// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package kerberos

import (
	"fmt"
	"time"

	"github.com/jcmturner/gokrb5/v8/iana/chksumtype"
	"github.com/jcmturner/gokrb5/v8/iana/errorcode"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/messages"
)

// verifyAPReq validates an AP-REQ against the acceptor's keytab: decrypt
// the ticket, check its validity window, decrypt the authenticator under
// the ticket's session key, and check the GSS-API checksum and the
// client-to-server clock skew. The keytab is already loaded by the caller
// (CredentialsHandle.keytabForInbound loads it once per handle), so this
// takes a *keytab.Keytab rather than a path.
func verifyAPReq(kt *keytab.Keytab, apreq *messages.APReq, skew time.Duration) *messages.KRBError {
	if err := apreq.Ticket.DecryptEncPart(kt, &apreq.Ticket.SName); err != nil {
		ke := messages.NewKRBError(apreq.Ticket.SName, apreq.Ticket.Realm,
			errorcode.KRB_AP_ERR_BAD_INTEGRITY, "could not decrypt ticket")
		return &ke
	}

	if ok, err := apreq.Ticket.Valid(skew); err != nil || !ok {
		ke := messages.NewKRBError(apreq.Ticket.SName, apreq.Ticket.Realm,
			errorcode.KRB_AP_ERR_TKT_EXPIRED, "ticket is not within its validity window")
		return &ke
	}

	if err := apreq.DecryptAuthenticator(apreq.Ticket.DecryptedEncPart.Key); err != nil {
		ke := messages.NewKRBError(apreq.Ticket.SName, apreq.Ticket.Realm,
			errorcode.KRB_AP_ERR_BAD_INTEGRITY, "could not decrypt authenticator")
		return &ke
	}

	if apreq.Authenticator.Cksum.CksumType != chksumtype.GSSAPI {
		ke := messages.NewKRBError(apreq.Ticket.SName, apreq.Ticket.Realm,
			errorcode.KRB_AP_ERR_BADMATCH, "wrong authenticator checksum type")
		return &ke
	}
	if len(apreq.Authenticator.Cksum.Checksum) < 24 {
		ke := messages.NewKRBError(apreq.Ticket.SName, apreq.Ticket.Realm,
			errorcode.KRB_AP_ERR_BADMATCH, "authenticator checksum too short")
		return &ke
	}

	if !apreq.Authenticator.CName.Equal(apreq.Ticket.DecryptedEncPart.CName) {
		ke := messages.NewKRBError(apreq.Ticket.SName, apreq.Ticket.Realm,
			errorcode.KRB_AP_ERR_BADMATCH, "CName in authenticator does not match the service ticket")
		return &ke
	}

	ct := apreq.Authenticator.CTime.Add(time.Duration(apreq.Authenticator.Cusec) * time.Microsecond)
	now := time.Now().UTC()
	if now.Sub(ct) > skew || ct.Sub(now) > skew {
		ke := messages.NewKRBError(apreq.Ticket.SName, apreq.Ticket.Realm,
			errorcode.KRB_AP_ERR_SKEW, fmt.Sprintf("clock skew with client exceeds %v", skew))
		return &ke
	}

	return nil
}
