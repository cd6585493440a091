// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package kerberos

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/jcmturner/gofork/encoding/asn1"
	"github.com/jcmturner/gokrb5/v8/asn1tools"
	"github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/crypto"
	"github.com/jcmturner/gokrb5/v8/iana"
	"github.com/jcmturner/gokrb5/v8/iana/asnAppTag"
	"github.com/jcmturner/gokrb5/v8/iana/errorcode"
	"github.com/jcmturner/gokrb5/v8/iana/etypeID"
	"github.com/jcmturner/gokrb5/v8/iana/keyusage"
	"github.com/jcmturner/gokrb5/v8/iana/msgtype"
	"github.com/jcmturner/gokrb5/v8/iana/nametype"
	"github.com/jcmturner/gokrb5/v8/iana/patype"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"
	"github.com/stretchr/testify/require"

	"github.com/jake-scott/go-sspi"
)

// memTransport satisfies kdc.Transport with an in-process handler, so the
// AS/TGS exchange can be driven without a network.
type memTransport struct {
	handle func(req []byte) []byte
}

func (m memTransport) Send(_ context.Context, req []byte) ([]byte, error) {
	return m.handle(req), nil
}

// Local mirrors of the KDC-REP wire shapes: gokrb5's messages package only
// decodes these (it is a client library), so the mock KDC marshals them
// with the same gofork asn1 tags the real structures carry.
type testLastReq struct {
	LRType  int32     `asn1:"explicit,tag:0"`
	LRValue time.Time `asn1:"generalized,explicit,tag:1"`
}

type testEncKDCRepPart struct {
	Key      types.EncryptionKey `asn1:"explicit,tag:0"`
	LastReqs []testLastReq       `asn1:"explicit,tag:1"`
	Nonce    int                 `asn1:"explicit,tag:2"`
	Flags    asn1.BitString      `asn1:"explicit,tag:4"`
	AuthTime time.Time           `asn1:"generalized,explicit,tag:5"`
	EndTime  time.Time           `asn1:"generalized,explicit,tag:7"`
	SRealm   string              `asn1:"generalstring,explicit,tag:9"`
	SName    types.PrincipalName `asn1:"explicit,tag:10"`
}

type testKDCRep struct {
	PVNO    int                 `asn1:"explicit,tag:0"`
	MsgType int                 `asn1:"explicit,tag:1"`
	CRealm  string              `asn1:"generalstring,explicit,tag:3"`
	CName   types.PrincipalName `asn1:"explicit,tag:4"`
	Ticket  asn1.RawValue       `asn1:"explicit,tag:5"`
	EncPart types.EncryptedData `asn1:"explicit,tag:6"`
}

const (
	mockRealm    = "EXAMPLE.COM"
	mockUser     = "alice"
	mockPassword = "secret"
	mockSPN      = "HTTP/server.example.com"

	mockTGTSessionKey = "a2fa379446e921a28a059a62efbcf43e5302e0a1d43746d26b6a9e1d32b8cbf7"
	mockSvcSessionKey = "6e08a576f2c03f9d8f1c8bb4e4fcbbd30c17bbd3e6ea09fb17b5c2fb32ef3f61"
)

// mockKDC bakes AS-REP and TGS-REP replies for one client principal.
type mockKDC struct {
	t              *testing.T
	requirePreauth bool
	tgsError       *messages.KRBError

	asCount, tgsCount int
}

func mockClientKey(t *testing.T, pas types.PADataSequence) types.EncryptionKey {
	t.Helper()
	cname := types.NewPrincipalName(nametype.KRB_NT_PRINCIPAL, mockUser)
	key, _, err := crypto.GetKeyFromPassword(mockPassword, cname, mockRealm, etypeID.AES256_CTS_HMAC_SHA1_96, pas)
	require.NoError(t, err)
	return key
}

func mustKeyFromHex(t *testing.T, h string) types.EncryptionKey {
	t.Helper()
	b, err := hex.DecodeString(h)
	require.NoError(t, err)
	return types.EncryptionKey{KeyType: etypeID.AES256_CTS_HMAC_SHA1_96, KeyValue: b}
}

func marshalKDCRep(t *testing.T, msgType int, tkt messages.Ticket, ed types.EncryptedData, appTag int) []byte {
	t.Helper()
	tb, err := tkt.Marshal()
	require.NoError(t, err)
	var inner asn1.RawValue
	_, err = asn1.Unmarshal(tb, &inner)
	require.NoError(t, err)
	// asn1.Marshal writes a RawValue's own tag and ignores the field's
	// explicit tag, so the [5] wrapper around the ticket is spelled out here.
	raw := asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 5, IsCompound: true, Bytes: inner.FullBytes}

	rep := testKDCRep{
		PVNO:    iana.PVNO,
		MsgType: msgType,
		CRealm:  mockRealm,
		CName:   types.NewPrincipalName(nametype.KRB_NT_PRINCIPAL, mockUser),
		Ticket:  raw,
		EncPart: ed,
	}
	b, err := asn1.Marshal(rep)
	require.NoError(t, err)
	return asn1tools.AddASNAppTag(b, appTag)
}

func sealEncKDCRepPart(t *testing.T, key, sessionKey types.EncryptionKey, sname types.PrincipalName, usage, appTag int) types.EncryptedData {
	t.Helper()
	now := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
	part := testEncKDCRepPart{
		Key:      sessionKey,
		LastReqs: []testLastReq{{LRType: 0, LRValue: now}},
		Nonce:    1,
		Flags:    asn1.BitString{Bytes: make([]byte, 4), BitLength: 32},
		AuthTime: now,
		EndTime:  now.Add(10 * time.Hour),
		SRealm:   mockRealm,
		SName:    sname,
	}
	pb, err := asn1.Marshal(part)
	require.NoError(t, err)
	ed, err := crypto.GetEncryptedData(asn1tools.AddASNAppTag(pb, appTag), key, uint32(usage), 1)
	require.NoError(t, err)
	return ed
}

func (m *mockKDC) etypeInfo2PAData() types.PADataSequence {
	info, err := asn1.Marshal(types.ETypeInfo2{{
		EType: etypeID.AES256_CTS_HMAC_SHA1_96,
		Salt:  mockRealm + mockUser,
	}})
	require.NoError(m.t, err)
	return types.PADataSequence{{PADataType: patype.PA_ETYPE_INFO2, PADataValue: info}}
}

func (m *mockKDC) handle(req []byte) []byte {
	switch req[0] {
	case 0x6a: // APPLICATION 10: AS-REQ
		return m.handleASReq(req)
	case 0x6c: // APPLICATION 12: TGS-REQ
		return m.handleTGSReq(req)
	}
	m.t.Fatalf("mock KDC received an unexpected PDU tag 0x%02x", req[0])
	return nil
}

func (m *mockKDC) handleASReq(req []byte) []byte {
	m.asCount++
	var asReq messages.ASReq
	require.NoError(m.t, asReq.Unmarshal(req))

	pas := m.etypeInfo2PAData()
	if m.requirePreauth && !hasPAEncTimestamp(asReq.PAData) {
		ke := messages.NewKRBError(asReq.ReqBody.SName, mockRealm,
			errorcode.KDC_ERR_PREAUTH_REQUIRED, "ADDITIONAL PRE-AUTHENTICATION REQUIRED")
		edata, err := asn1.Marshal(pas)
		require.NoError(m.t, err)
		ke.EData = edata
		b, err := ke.Marshal()
		require.NoError(m.t, err)
		return b
	}

	clientKey := mockClientKey(m.t, pas)
	if m.requirePreauth {
		m.verifyPAEncTimestamp(asReq.PAData, clientKey)
	} else {
		clientKey = mockClientKey(m.t, nil)
	}

	tgt := messages.Ticket{
		TktVNO: iana.PVNO,
		Realm:  mockRealm,
		SName:  types.NewPrincipalName(nametype.KRB_NT_SRV_INST, "krbtgt/"+mockRealm),
		EncPart: types.EncryptedData{
			EType:  etypeID.AES256_CTS_HMAC_SHA1_96,
			KVNO:   1,
			Cipher: []byte{0x01, 0x02, 0x03, 0x04},
		},
	}
	ed := sealEncKDCRepPart(m.t, clientKey, mustKeyFromHex(m.t, mockTGTSessionKey),
		tgt.SName, keyusage.AS_REP_ENCPART, asnAppTag.EncASRepPart)
	return marshalKDCRep(m.t, msgtype.KRB_AS_REP, tgt, ed, asnAppTag.ASREP)
}

func (m *mockKDC) handleTGSReq(req []byte) []byte {
	m.tgsCount++
	var tgsReq messages.TGSReq
	require.NoError(m.t, tgsReq.Unmarshal(req))
	require.Equal(m.t, mockSPN, tgsReq.ReqBody.SName.PrincipalNameString())

	if m.tgsError != nil {
		b, err := m.tgsError.Marshal()
		require.NoError(m.t, err)
		return b
	}

	svcTkt := messages.Ticket{
		TktVNO: iana.PVNO,
		Realm:  mockRealm,
		SName:  types.NewPrincipalName(nametype.KRB_NT_SRV_INST, mockSPN),
		EncPart: types.EncryptedData{
			EType:  etypeID.AES256_CTS_HMAC_SHA1_96,
			KVNO:   1,
			Cipher: []byte{0x05, 0x06, 0x07, 0x08},
		},
	}
	ed := sealEncKDCRepPart(m.t, mustKeyFromHex(m.t, mockTGTSessionKey), mustKeyFromHex(m.t, mockSvcSessionKey),
		svcTkt.SName, keyusage.TGS_REP_ENCPART_SESSION_KEY, asnAppTag.EncTGSRepPart)
	return marshalKDCRep(m.t, msgtype.KRB_TGS_REP, svcTkt, ed, asnAppTag.TGSREP)
}

func hasPAEncTimestamp(pas types.PADataSequence) bool {
	for _, pa := range pas {
		if pa.PADataType == patype.PA_ENC_TIMESTAMP {
			return true
		}
	}
	return false
}

func (m *mockKDC) verifyPAEncTimestamp(pas types.PADataSequence, clientKey types.EncryptionKey) {
	m.t.Helper()
	for _, pa := range pas {
		if pa.PADataType != patype.PA_ENC_TIMESTAMP {
			continue
		}
		var ed types.EncryptedData
		require.NoError(m.t, ed.Unmarshal(pa.PADataValue))
		_, err := crypto.DecryptEncPart(ed, clientKey, uint32(keyusage.AS_REQ_PA_ENC_TIMESTAMP))
		require.NoError(m.t, err, "PA-ENC-TIMESTAMP should decrypt with the salt-derived client key")
		return
	}
	m.t.Fatal("retried AS-REQ carries no PA-ENC-TIMESTAMP")
}

func mockIdentity() *sspi.AuthIdentity {
	return &sspi.AuthIdentity{Username: mockUser, Domain: "example.com", Password: mockPassword}
}

func TestKDCClientServiceTicketWithPreauth(t *testing.T) {
	kdcSrv := &mockKDC{t: t, requirePreauth: true}
	kcl := newKDCClient(memTransport{handle: kdcSrv.handle}, config.New(), mockIdentity())

	tkt, key, err := kcl.serviceTicket(mockSPN)
	require.NoError(t, err)
	require.Equal(t, 2, kdcSrv.asCount, "expected the AS-REQ to be retried with pre-authentication")
	require.Equal(t, mockSPN, tkt.SName.PrincipalNameString())
	require.Equal(t, mustKeyFromHex(t, mockSvcSessionKey), key)
}

func TestKDCClientReusesTGTAcrossServiceTickets(t *testing.T) {
	kdcSrv := &mockKDC{t: t}
	kcl := newKDCClient(memTransport{handle: kdcSrv.handle}, config.New(), mockIdentity())

	_, _, err := kcl.serviceTicket(mockSPN)
	require.NoError(t, err)
	_, _, err = kcl.serviceTicket(mockSPN)
	require.NoError(t, err)

	require.Equal(t, 1, kdcSrv.asCount, "the TGT from the first AS exchange should be reused")
	require.Equal(t, 2, kdcSrv.tgsCount)
}

// A KRB-ERROR with KRB_AP_ERR_SKEW at the TGS step must surface from the
// public InitializeSecurityContext call as a TimeSkew failure.
func TestInitializeSecurityContextMapsTGSErrorToTimeSkew(t *testing.T) {
	ke := messages.NewKRBError(types.PrincipalName{}, mockRealm, errorcode.KRB_AP_ERR_SKEW, "clock skew too great")
	kdcSrv := &mockKDC{t: t, tgsError: &ke}

	cred := &CredentialsHandle{
		identity: mockIdentity(),
		cfg:      &Config{KDCURL: "https://kdc.example.com/KdcProxy"},
		kdcCl:    newKDCClient(memTransport{handle: kdcSrv.handle}, config.New(), mockIdentity()),
	}

	c := &Context{cfg: cred.cfg}
	out := []sspi.SecurityBuffer{sspi.NewSecurityBuffer(nil, sspi.SecurityBufferToken)}
	b := sspi.NewInitializeSecurityContextBuilder().
		WithCredentialsHandle(cred).
		WithTargetName(mockSPN).
		WithContextRequirements(sspi.ClientRequestMutualAuth | sspi.ClientRequestAllocateMemory).
		WithOutput(out)

	_, err := c.InitializeSecurityContextBuilder(b)
	require.Error(t, err)
	var sspiErr *sspi.Error
	require.ErrorAs(t, err, &sspiErr)
	require.Equal(t, sspi.ErrorKindTimeSkew, sspiErr.Kind)
}
