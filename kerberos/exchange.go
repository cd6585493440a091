// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package kerberos

import (
	"context"
	"strings"
	"time"

	"github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/credentials"
	"github.com/jcmturner/gokrb5/v8/crypto"
	"github.com/jcmturner/gokrb5/v8/iana/errorcode"
	"github.com/jcmturner/gokrb5/v8/iana/etypeID"
	"github.com/jcmturner/gokrb5/v8/iana/keyusage"
	"github.com/jcmturner/gokrb5/v8/iana/nametype"
	"github.com/jcmturner/gokrb5/v8/iana/patype"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/jake-scott/go-sspi"
	"github.com/jake-scott/go-sspi/kerberos/kdc"
)

// kdcRoundTripTimeout bounds one serviceTicket call as a whole: the AS
// exchange (with its pre-authentication retry) and the TGS exchange share
// one deadline, which travels down to the transport via the context.
const kdcRoundTripTimeout = 10 * time.Second

// kdcClient drives the AS and TGS exchanges over a kdc.Transport. gokrb5's
// own client.Client dials KDCs itself over tcp/udp and has no transport
// seam, so this path exists for the endpoints it cannot reach: an http or
// https SSPI_KDC_URL, i.e. an [MS-KKDCP] KDC proxy. The messages themselves
// are still built and parsed by gokrb5's messages package; only the
// byte shuttling differs.
type kdcClient struct {
	transport kdc.Transport
	kcfg      *config.Config
	creds     *credentials.Credentials

	// TGT from the first successful AS exchange, reused for every TGS
	// request issued through this client.
	tgt        *messages.Ticket
	tgtSession *types.EncryptionKey
}

func newKDCClient(t kdc.Transport, kcfg *config.Config, identity *sspi.AuthIdentity) *kdcClient {
	realm := strings.ToUpper(identity.Domain)
	return &kdcClient{
		transport: t,
		kcfg:      kcfg,
		creds:     credentials.New(identity.Username, realm).WithPassword(identity.Password),
	}
}

// serviceTicket obtains a ticket for spn, performing the AS exchange first
// if no TGT is cached yet.
func (k *kdcClient) serviceTicket(spn string) (messages.Ticket, types.EncryptionKey, error) {
	ctx, cancel := context.WithTimeout(context.Background(), kdcRoundTripTimeout)
	defer cancel()

	if k.tgt == nil {
		if err := k.asExchange(ctx); err != nil {
			return messages.Ticket{}, types.EncryptionKey{}, err
		}
	}
	return k.tgsExchange(ctx, spn)
}

// asExchange obtains a TGT: send an AS-REQ, and if the KDC demands
// pre-authentication, retry once with a PA-ENC-TIMESTAMP derived from the
// password and the ETYPE-INFO2 salt the KDC supplied.
func (k *kdcClient) asExchange(ctx context.Context) error {
	asReq, err := messages.NewASReqForTGT(k.creds.Domain(), k.kcfg, k.creds.CName())
	if err != nil {
		return sspi.WrapError(sspi.ErrorKindCannotPack, "building AS-REQ", err)
	}

	reply, err := k.send(ctx, &asReq)
	if err != nil {
		return err
	}

	var asRep messages.ASRep
	if uerr := asRep.Unmarshal(reply); uerr != nil {
		ke, kerr := unmarshalKDCError(reply)
		if kerr != nil {
			return sspi.WrapError(sspi.ErrorKindInvalidToken, "parsing AS-REP", uerr)
		}
		if ke.ErrorCode != errorcode.KDC_ERR_PREAUTH_REQUIRED {
			return classifyKRBError(*ke)
		}
		if err := addPAEncTimestamp(&asReq, *ke, k.creds); err != nil {
			return err
		}
		Logger.Printf("kerberos: KDC requires pre-authentication, retrying AS-REQ")
		reply, err = k.send(ctx, &asReq)
		if err != nil {
			return err
		}
		if uerr := asRep.Unmarshal(reply); uerr != nil {
			if ke, kerr := unmarshalKDCError(reply); kerr == nil {
				return classifyKRBError(*ke)
			}
			return sspi.WrapError(sspi.ErrorKindInvalidToken, "parsing AS-REP", uerr)
		}
	}

	if _, err := asRep.DecryptEncPart(k.creds); err != nil {
		return sspi.WrapError(sspi.ErrorKindLogonDenied, "decrypting AS-REP enc-part", err)
	}
	k.tgt = &asRep.Ticket
	k.tgtSession = &asRep.DecryptedEncPart.Key
	Logger.Printf("kerberos: obtained TGT for %s@%s", k.creds.UserName(), k.creds.Domain())
	return nil
}

// tgsExchange trades the cached TGT for a ticket to spn.
func (k *kdcClient) tgsExchange(ctx context.Context, spn string) (messages.Ticket, types.EncryptionKey, error) {
	var zt messages.Ticket
	var zk types.EncryptionKey

	princ := types.NewPrincipalName(nametype.KRB_NT_SRV_INST, spn)
	tgsReq, err := messages.NewTGSReq(k.creds.CName(), k.tgt.Realm, k.kcfg, *k.tgt, *k.tgtSession, princ, false)
	if err != nil {
		return zt, zk, sspi.WrapError(sspi.ErrorKindCannotPack, "building TGS-REQ", err)
	}
	b, err := tgsReq.Marshal()
	if err != nil {
		return zt, zk, sspi.WrapError(sspi.ErrorKindCannotPack, "marshaling TGS-REQ", err)
	}

	reply, err := k.transport.Send(ctx, b)
	if err != nil {
		return zt, zk, err
	}

	var tgsRep messages.TGSRep
	if uerr := tgsRep.Unmarshal(reply); uerr != nil {
		if ke, kerr := unmarshalKDCError(reply); kerr == nil {
			return zt, zk, classifyKRBError(*ke)
		}
		return zt, zk, sspi.WrapError(sspi.ErrorKindInvalidToken, "parsing TGS-REP", uerr)
	}
	if err := tgsRep.DecryptEncPart(*k.tgtSession); err != nil {
		return zt, zk, sspi.WrapError(sspi.ErrorKindDecryptFailure, "decrypting TGS-REP enc-part", err)
	}
	return tgsRep.Ticket, tgsRep.DecryptedEncPart.Key, nil
}

func (k *kdcClient) send(ctx context.Context, asReq *messages.ASReq) ([]byte, error) {
	b, err := asReq.Marshal()
	if err != nil {
		return nil, sspi.WrapError(sspi.ErrorKindCannotPack, "marshaling AS-REQ", err)
	}
	return k.transport.Send(ctx, b)
}

func unmarshalKDCError(b []byte) (*messages.KRBError, error) {
	var ke messages.KRBError
	if err := ke.Unmarshal(b); err != nil {
		return nil, err
	}
	return &ke, nil
}

// addPAEncTimestamp appends a PA-ENC-TIMESTAMP to asReq, deriving the
// client's long-term key from its password and the salt carried in the
// KRB-ERROR's ETYPE-INFO2 hint (RFC 4120 § 7.5.2).
func addPAEncTimestamp(asReq *messages.ASReq, ke messages.KRBError, creds *credentials.Credentials) error {
	var pas types.PADataSequence
	if err := pas.Unmarshal(ke.EData); err != nil {
		return sspi.WrapError(sspi.ErrorKindInvalidToken, "parsing KDC pre-authentication hints", err)
	}

	ts, err := types.GetPAEncTSEncAsnMarshalled()
	if err != nil {
		return sspi.WrapError(sspi.ErrorKindInternalError, "building PA-ENC-TS-ENC", err)
	}
	key, _, err := crypto.GetKeyFromPassword(creds.Password(), creds.CName(), creds.Domain(), preauthEtype(pas, asReq), pas)
	if err != nil {
		return sspi.WrapError(sspi.ErrorKindLogonDenied, "deriving pre-authentication key", err)
	}
	ed, err := crypto.GetEncryptedData(ts, key, uint32(keyusage.AS_REQ_PA_ENC_TIMESTAMP), 1)
	if err != nil {
		return sspi.WrapError(sspi.ErrorKindEncryptFailure, "encrypting pre-authentication timestamp", err)
	}
	edb, err := ed.Marshal()
	if err != nil {
		return sspi.WrapError(sspi.ErrorKindCannotPack, "marshaling pre-authentication data", err)
	}
	asReq.PAData = append(asReq.PAData, types.PAData{
		PADataType:  patype.PA_ENC_TIMESTAMP,
		PADataValue: edb,
	})
	return nil
}

// preauthEtype picks the key-derivation etype for PA-ENC-TIMESTAMP: the
// KDC's ETYPE-INFO2 hint wins, then the AS-REQ's own first requested etype.
func preauthEtype(pas types.PADataSequence, asReq *messages.ASReq) int32 {
	for _, pa := range pas {
		if pa.PADataType != patype.PA_ETYPE_INFO2 {
			continue
		}
		var info types.ETypeInfo2
		if err := info.Unmarshal(pa.PADataValue); err != nil {
			continue
		}
		if len(info) > 0 {
			return info[0].EType
		}
	}
	if len(asReq.ReqBody.EType) > 0 {
		return asReq.ReqBody.EType[0]
	}
	return etypeID.AES256_CTS_HMAC_SHA1_96
}
