// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package kerberos

/*
 * gokrb5/v8/messages.APRep doesn't expose encryption/decryption helpers
 * the way messages.APReq does (Ticket.DecryptEncPart), so a local AP-REP
 * type derived from gokrb5/v8/messages/APRep.go adds them here.
 */

import (
	"fmt"
	"time"

	"github.com/jcmturner/gofork/encoding/asn1"
	"github.com/jcmturner/gokrb5/v8/asn1tools"
	"github.com/jcmturner/gokrb5/v8/crypto"
	"github.com/jcmturner/gokrb5/v8/iana"
	"github.com/jcmturner/gokrb5/v8/iana/asnAppTag"
	"github.com/jcmturner/gokrb5/v8/iana/keyusage"
	"github.com/jcmturner/gokrb5/v8/iana/msgtype"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/jake-scott/go-sspi"
)

// aPRep implements RFC 4120 § 5.5.2's KRB_AP_REP.
type aPRep struct {
	PVNO    int                 `asn1:"explicit,tag:0"`
	MsgType int                 `asn1:"explicit,tag:1"`
	EncPart types.EncryptedData `asn1:"explicit,tag:2"`
}

// encAPRepPart is the encrypted part of a KRB_AP_REP.
type encAPRepPart struct {
	CTime          time.Time           `asn1:"generalized,explicit,tag:0"`
	Cusec          int                 `asn1:"explicit,tag:1"`
	Subkey         types.EncryptionKey `asn1:"optional,explicit,tag:2"`
	SequenceNumber int64               `asn1:"optional,explicit,tag:3"`
}

func (a *aPRep) unmarshal(b []byte) error {
	_, err := asn1.UnmarshalWithParams(b, a, fmt.Sprintf("application,explicit,tag:%v", asnAppTag.APREP))
	if err != nil {
		return sspi.WrapError(sspi.ErrorKindInvalidToken, "unmarshaling AP-REP", err)
	}
	if a.MsgType != msgtype.KRB_AP_REP {
		return sspi.NewError(sspi.ErrorKindInvalidToken, "message is not a KRB_AP_REP")
	}
	return nil
}

func (a *aPRep) marshal() ([]byte, error) {
	b, err := asn1.Marshal(*a)
	if err != nil {
		return nil, sspi.WrapError(sspi.ErrorKindCannotPack, "marshaling AP-REP", err)
	}
	return asn1tools.AddASNAppTag(b, asnAppTag.APREP), nil
}

func (a *encAPRepPart) unmarshal(b []byte) error {
	_, err := asn1.UnmarshalWithParams(b, a, fmt.Sprintf("application,explicit,tag:%v", asnAppTag.EncAPRepPart))
	if err != nil {
		return sspi.WrapError(sspi.ErrorKindInvalidToken, "unmarshaling AP-REP enc-part", err)
	}
	return nil
}

func (a *encAPRepPart) marshal() ([]byte, error) {
	b, err := asn1.Marshal(*a)
	if err != nil {
		return nil, sspi.WrapError(sspi.ErrorKindCannotPack, "marshaling AP-REP enc-part", err)
	}
	return asn1tools.AddASNAppTag(b, asnAppTag.EncAPRepPart), nil
}

// decryptAPRepPart recovers the encrypted part of an AP-REP under the
// ticket's session key (RFC 4120 § 5.5.2, key usage 12).
func decryptAPRepPart(a *aPRep, sessionKey types.EncryptionKey) (encAPRepPart, error) {
	var out encAPRepPart
	decrypted, err := crypto.DecryptEncPart(a.EncPart, sessionKey, uint32(keyusage.AP_REP_ENCPART))
	if err != nil {
		return out, sspi.WrapError(sspi.ErrorKindDecryptFailure, "decrypting AP-REP enc-part", err)
	}
	if err := out.unmarshal(decrypted); err != nil {
		return out, err
	}
	return out, nil
}

// newAPRep builds a fresh AP-REP, encrypting encPart under the ticket's
// session key.
func newAPRep(tkt messages.Ticket, sessionKey types.EncryptionKey, encPart encAPRepPart) (aPRep, error) {
	m, err := encPart.marshal()
	if err != nil {
		return aPRep{}, err
	}
	ed, err := crypto.GetEncryptedData(m, sessionKey, uint32(keyusage.AP_REP_ENCPART), tkt.EncPart.KVNO)
	if err != nil {
		return aPRep{}, sspi.WrapError(sspi.ErrorKindEncryptFailure, "encrypting AP-REP enc-part", err)
	}
	return aPRep{
		PVNO:    iana.PVNO,
		MsgType: msgtype.KRB_AP_REP,
		EncPart: ed,
	}, nil
}
