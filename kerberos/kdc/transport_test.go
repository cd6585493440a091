// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package kdc

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jcmturner/gofork/encoding/asn1"
	"github.com/stretchr/testify/require"
)

func TestNewFromURLDispatchesByScheme(t *testing.T) {
	cases := []struct {
		url  string
		want interface{}
	}{
		{"tcp://kdc.example.com:88", &tcpTransport{}},
		{"udp://kdc.example.com:88", &udpTransport{}},
		{"http://kdc.example.com/KdcProxy", &httpTransport{}},
		{"https://kdc.example.com/KdcProxy", &httpTransport{}},
		{"kdc.example.com:88", &tcpTransport{}}, // no scheme defaults to tcp
	}
	for _, c := range cases {
		tr, err := NewFromURL(c.url)
		require.NoError(t, err, c.url)
		require.IsType(t, c.want, tr, c.url)
	}
}

func TestNewFromURLRejectsUnknownScheme(t *testing.T) {
	_, err := NewFromURL("ldap://kdc.example.com")
	require.Error(t, err)
}

func TestNewFromURLRejectsEmpty(t *testing.T) {
	_, err := NewFromURL("")
	require.Error(t, err)
}

func TestHTTPTransportProxyEnvelope(t *testing.T) {
	const reqPDU = "hello-kdc"
	const repPDU = "hello-client"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var msg kdcProxyMessage
		_, err = asn1.Unmarshal(body, &msg)
		require.NoError(t, err)
		require.Equal(t, reqPDU, string(msg.KerbMessage))

		reply, err := asn1.Marshal(kdcProxyMessage{KerbMessage: []byte(repPDU)})
		require.NoError(t, err)
		w.Write(reply)
	}))
	defer srv.Close()

	tr := &httpTransport{url: srv.URL, proxy: true}
	got, err := tr.Send(context.Background(), []byte(reqPDU))
	require.NoError(t, err)
	require.Equal(t, repPDU, string(got))
}

func TestHTTPTransportDirect(t *testing.T) {
	const reqPDU = "as-req-bytes"
	const repPDU = "as-rep-bytes"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/kerberos", r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Equal(t, reqPDU, string(body))
		w.Write([]byte(repPDU))
	}))
	defer srv.Close()

	tr := &httpTransport{url: srv.URL, proxy: false}
	got, err := tr.Send(context.Background(), []byte(reqPDU))
	require.NoError(t, err)
	require.Equal(t, repPDU, string(got))
}

func TestHTTPTransportNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tr := &httpTransport{url: srv.URL}
	_, err := tr.Send(context.Background(), []byte("x"))
	require.Error(t, err)
}

func TestTCPTransportRoundTrip(t *testing.T) {
	const reqPDU = "tcp-req"
	const repPDU = "tcp-rep"

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		var hdr [4]byte
		if _, err := io.ReadFull(conn, hdr[:]); err != nil {
			return
		}
		n := binary.BigEndian.Uint32(hdr[:])
		body := make([]byte, n)
		if _, err := io.ReadFull(conn, body); err != nil {
			return
		}
		require.Equal(t, reqPDU, string(body))

		binary.BigEndian.PutUint32(hdr[:], uint32(len(repPDU)))
		conn.Write(hdr[:])
		conn.Write([]byte(repPDU))
	}()

	tr := &tcpTransport{addr: ln.Addr().String()}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := tr.Send(ctx, []byte(reqPDU))
	require.NoError(t, err)
	require.Equal(t, repPDU, string(got))
}

func TestUDPTransportRoundTrip(t *testing.T) {
	const reqPDU = "udp-req"
	const repPDU = "udp-rep"

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()

	go func() {
		buf := make([]byte, 1500)
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			return
		}
		require.Equal(t, reqPDU, string(buf[:n]))
		conn.WriteTo([]byte(repPDU), addr)
	}()

	tr := &udpTransport{addr: conn.LocalAddr().String(), Timeout: 2 * time.Second}
	got, err := tr.Send(context.Background(), []byte(reqPDU))
	require.NoError(t, err)
	require.Equal(t, repPDU, string(got))
}
