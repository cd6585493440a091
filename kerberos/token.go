// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package kerberos

/*
 * GSS-API InitialContextToken framing ([RFC 2743] § 3.1): a DER-encoded
 * mechanism OID under an APPLICATION 0 tag, followed by a 2-byte inner
 * token ID and the Kerberos message itself.
 */

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/jcmturner/gofork/encoding/asn1"
	"github.com/jcmturner/gokrb5/v8/asn1tools"
	"github.com/jcmturner/gokrb5/v8/messages"

	"github.com/jake-scott/go-sspi"
)

var krb5OID = asn1.ObjectIdentifier{1, 2, 840, 113554, 1, 2, 2}

const (
	tokenIDAPReq    = "0100"
	tokenIDAPRep    = "0200"
	tokenIDKRBError = "0300"
)

// initialContextToken is the single wire shape carried between the two
// peers of a Kerberos security context: an AP-REQ, an AP-REP or a
// KRB-ERROR, each wrapped in the same mechanism-OID envelope.
type initialContextToken struct {
	apReq  *messages.APReq
	apRep  *aPRep
	krbErr *messages.KRBError
}

func (t *initialContextToken) marshalAPReq(req *messages.APReq) ([]byte, error) {
	body, err := req.Marshal()
	if err != nil {
		return nil, sspi.WrapError(sspi.ErrorKindCannotPack, "failed to marshal AP-REQ", err)
	}
	return wrapInitialToken(tokenIDAPReq, body)
}

func (t *initialContextToken) marshalAPRep(rep *aPRep) ([]byte, error) {
	body, err := rep.marshal()
	if err != nil {
		return nil, err
	}
	return wrapInitialToken(tokenIDAPRep, body)
}

func (t *initialContextToken) marshalKRBError(ke *messages.KRBError) ([]byte, error) {
	body, err := ke.Marshal()
	if err != nil {
		return nil, sspi.WrapError(sspi.ErrorKindCannotPack, "failed to marshal KRB-ERROR", err)
	}
	return wrapInitialToken(tokenIDKRBError, body)
}

func wrapInitialToken(tokID string, body []byte) ([]byte, error) {
	id, err := hex.DecodeString(tokID)
	if err != nil {
		return nil, fmt.Errorf("kerberos: %w", err)
	}
	oidBytes, err := asn1.Marshal(krb5OID)
	if err != nil {
		return nil, sspi.WrapError(sspi.ErrorKindCannotPack, "failed to marshal mechanism OID", err)
	}
	b := append(append(oidBytes, id...), body...)
	return asn1tools.AddASNAppTag(b, 0), nil
}

// unmarshalInitialToken peels the OID/tokID envelope and parses the inner
// message into the matching field of t.
func (t *initialContextToken) unmarshalInitialToken(b []byte) error {
	*t = initialContextToken{}

	var oid asn1.ObjectIdentifier
	rest, err := asn1.UnmarshalWithParams(b, &oid, "application,explicit,tag:0")
	if err != nil {
		return sspi.WrapError(sspi.ErrorKindInvalidToken, "failed to unmarshal Kerberos mechanism OID", err)
	}
	if !oid.Equal(krb5OID) {
		return sspi.NewError(sspi.ErrorKindInvalidToken,
			fmt.Sprintf("unexpected mechanism OID %s", oid.String()))
	}
	if len(rest) < 2 {
		return sspi.NewError(sspi.ErrorKindInvalidToken, "Kerberos context token is too short")
	}

	switch hex.EncodeToString(rest[0:2]) {
	case tokenIDAPReq:
		var req messages.APReq
		if err := req.Unmarshal(rest[2:]); err != nil {
			return sspi.WrapError(sspi.ErrorKindInvalidToken, "failed to unmarshal AP-REQ", err)
		}
		t.apReq = &req
	case tokenIDAPRep:
		var rep aPRep
		if err := rep.unmarshal(rest[2:]); err != nil {
			return err
		}
		t.apRep = &rep
	case tokenIDKRBError:
		var ke messages.KRBError
		if err := ke.Unmarshal(rest[2:]); err != nil {
			return sspi.WrapError(sspi.ErrorKindInvalidToken, "failed to unmarshal KRB-ERROR", err)
		}
		t.krbErr = &ke
	default:
		return sspi.NewError(sspi.ErrorKindInvalidToken, "unrecognized Kerberos context token ID")
	}
	return nil
}

// newAuthenticatorChksum builds the RFC 4121 § 4.1.1 GSS-API checksum that
// rides inside an AP-REQ's Authenticator, carrying the negotiated context
// flags (and, when present, a channel-binding hash) across to the peer.
func newAuthenticatorChksum(flags sspi.ClientRequestFlags, channelBindings []byte) []byte {
	a := make([]byte, 24)
	binary.LittleEndian.PutUint32(a[0:4], 16)
	if channelBindings != nil {
		cb := md5.Sum(channelBindings)
		copy(a[4:20], cb[:])
	}
	binary.LittleEndian.PutUint32(a[20:24], uint32(flags))
	return a
}
