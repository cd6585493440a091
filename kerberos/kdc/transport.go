// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

// Package kdc implements a pluggable transport for reaching a Key
// Distribution Center: a scheme-dispatched Transport that turns one
// marshaled request into one marshaled reply, over TCP (RFC 4120 §7.2.2
// 4-byte length prefix), UDP (a single datagram), or HTTP(S) (content-type
// application/kerberos, or the [MS-KKDCP] proxy envelope on HTTPS).
package kdc

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/jcmturner/gofork/encoding/asn1"

	"github.com/jake-scott/go-sspi"
)

// Transport sends one KDC request and returns its reply. Implementations
// do not interpret the bytes; the kerberos package is responsible for
// marshaling AS-REQ/TGS-REQ and unmarshaling AS-REP/TGS-REP/KRB-ERROR.
type Transport interface {
	Send(ctx context.Context, req []byte) ([]byte, error)
}

// maxPDULen bounds a single KDC reply; RFC 4120 doesn't fix a limit but
// every real KDC response fits comfortably under 1 MiB, and this keeps a
// misbehaving or malicious peer from forcing an unbounded read.
const maxPDULen = 1 << 20

// NewFromURL builds a Transport from a KDC endpoint URL. A URL with no
// scheme is treated as tcp://. Recognized schemes are tcp, udp, http and
// https; https is dispatched to the [MS-KKDCP] proxy envelope, the others
// talk the KDC wire protocols directly.
func NewFromURL(rawURL string) (Transport, error) {
	if rawURL == "" {
		return nil, sspi.NewError(sspi.ErrorKindInternalError, "no KDC URL configured")
	}
	if !hasScheme(rawURL) {
		rawURL = "tcp://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, sspi.WrapError(sspi.ErrorKindInternalError, "invalid KDC URL", err)
	}
	switch u.Scheme {
	case "tcp":
		return &tcpTransport{addr: u.Host}, nil
	case "udp":
		return &udpTransport{addr: u.Host}, nil
	case "http":
		return &httpTransport{url: u.String(), proxy: false}, nil
	case "https":
		return &httpTransport{url: u.String(), proxy: true}, nil
	default:
		return nil, sspi.NewError(sspi.ErrorKindInternalError, fmt.Sprintf("unsupported KDC transport scheme %q", u.Scheme))
	}
}

func hasScheme(s string) bool {
	i := bytes.IndexByte([]byte(s), ':')
	return i > 0 && i+2 < len(s) && s[i+1] == '/' && s[i+2] == '/'
}

// tcpTransport dials a KDC over TCP, framing requests and replies with the
// 4-byte big-endian length prefix RFC 4120 §7.2.2 specifies.
type tcpTransport struct {
	addr   string
	Dialer net.Dialer
}

func (t *tcpTransport) Send(ctx context.Context, req []byte) ([]byte, error) {
	conn, err := t.Dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return nil, sspi.WrapError(sspi.ErrorKindInternalError, "dialing KDC over tcp", err)
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(req)))
	if _, err := conn.Write(hdr[:]); err != nil {
		return nil, sspi.WrapError(sspi.ErrorKindInternalError, "writing KDC request length", err)
	}
	if _, err := conn.Write(req); err != nil {
		return nil, sspi.WrapError(sspi.ErrorKindInternalError, "writing KDC request", err)
	}

	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return nil, sspi.WrapError(sspi.ErrorKindInternalError, "reading KDC reply length", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 || n > maxPDULen {
		return nil, sspi.NewError(sspi.ErrorKindInternalError, "KDC reply length out of range")
	}
	reply := make([]byte, n)
	if _, err := io.ReadFull(conn, reply); err != nil {
		return nil, sspi.WrapError(sspi.ErrorKindInternalError, "reading KDC reply", err)
	}
	return reply, nil
}

// udpTransport sends a single unframed datagram and waits for one reply
// datagram, matching RFC 4120 §7.2.1.
type udpTransport struct {
	addr    string
	Timeout time.Duration
}

func (t *udpTransport) Send(ctx context.Context, req []byte) ([]byte, error) {
	conn, err := net.Dial("udp", t.addr)
	if err != nil {
		return nil, sspi.WrapError(sspi.ErrorKindInternalError, "dialing KDC over udp", err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		timeout := t.Timeout
		if timeout == 0 {
			timeout = 5 * time.Second
		}
		deadline = time.Now().Add(timeout)
	}
	_ = conn.SetDeadline(deadline)

	if _, err := conn.Write(req); err != nil {
		return nil, sspi.WrapError(sspi.ErrorKindInternalError, "writing KDC request", err)
	}
	buf := make([]byte, maxPDULen)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, sspi.WrapError(sspi.ErrorKindInternalError, "reading KDC reply", err)
	}
	return buf[:n], nil
}

// httpTransport POSTs a KDC request as content-type application/kerberos.
// When proxy is set (the https scheme), the request and
// reply are each wrapped in the minimal [MS-KKDCP] KDC-PROXY-MESSAGE
// envelope, a two-field ASN.1 SEQUENCE carrying the raw PDU and an
// optional target-domain hint.
type httpTransport struct {
	url    string
	proxy  bool
	Client http.Client
}

// kdcProxyMessage is the [MS-KKDCP] § 2.2.1 KDC-PROXY-MESSAGE structure,
// trimmed to the two fields this client needs.
type kdcProxyMessage struct {
	KerbMessage  []byte `asn1:"tag:0"`
	TargetDomain string `asn1:"tag:1,optional"`
}

func (t *httpTransport) Send(ctx context.Context, req []byte) ([]byte, error) {
	body := req
	if t.proxy {
		wrapped, err := asn1.Marshal(kdcProxyMessage{KerbMessage: req})
		if err != nil {
			return nil, sspi.WrapError(sspi.ErrorKindCannotPack, "marshaling KDC-PROXY-MESSAGE", err)
		}
		body = wrapped
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, sspi.WrapError(sspi.ErrorKindInternalError, "building KDC HTTP request", err)
	}
	httpReq.Header.Set("Content-Type", "application/kerberos")

	resp, err := t.Client.Do(httpReq)
	if err != nil {
		return nil, sspi.WrapError(sspi.ErrorKindInternalError, "KDC HTTP round-trip", err)
	}
	defer resp.Body.Close()

	reply, err := io.ReadAll(io.LimitReader(resp.Body, maxPDULen))
	if err != nil {
		return nil, sspi.WrapError(sspi.ErrorKindInternalError, "reading KDC HTTP reply", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, sspi.NewError(sspi.ErrorKindInternalError, fmt.Sprintf("KDC proxy returned HTTP %d", resp.StatusCode))
	}

	if !t.proxy {
		return reply, nil
	}
	var msg kdcProxyMessage
	if _, err := asn1.Unmarshal(reply, &msg); err != nil {
		return nil, sspi.WrapError(sspi.ErrorKindInvalidToken, "unmarshaling KDC-PROXY-MESSAGE", err)
	}
	return msg.KerbMessage, nil
}
