// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package kerberos

import (
	"testing"

	"github.com/jcmturner/gokrb5/v8/config"
	"github.com/stretchr/testify/require"

	"github.com/jake-scott/go-sspi"
)

func TestResolveKDCHostPortAddsDefaultPort(t *testing.T) {
	got, err := resolveKDCHostPort("tcp://kdc.example.com")
	require.NoError(t, err)
	require.Equal(t, "kdc.example.com:88", got)
}

func TestResolveKDCHostPortKeepsExplicitPort(t *testing.T) {
	got, err := resolveKDCHostPort("kdc.example.com:750")
	require.NoError(t, err)
	require.Equal(t, "kdc.example.com:750", got)
}

func TestOverrideRealmKDCAppendsNewRealm(t *testing.T) {
	kcfg := config.New()
	overrideRealmKDC(kcfg, "EXAMPLE.COM", "kdc.example.com:88")

	require.Len(t, kcfg.Realms, 1)
	require.Equal(t, "EXAMPLE.COM", kcfg.Realms[0].Realm)
	require.Equal(t, []string{"kdc.example.com:88"}, kcfg.Realms[0].KDC)
	require.Equal(t, "EXAMPLE.COM", kcfg.LibDefaults.DefaultRealm)
}

func TestOverrideRealmKDCUpdatesExistingRealm(t *testing.T) {
	kcfg := config.New()
	kcfg.Realms = append(kcfg.Realms, config.Realm{Realm: "EXAMPLE.COM", KDC: []string{"old:88"}})

	overrideRealmKDC(kcfg, "EXAMPLE.COM", "new:88")

	require.Len(t, kcfg.Realms, 1)
	require.Equal(t, []string{"new:88"}, kcfg.Realms[0].KDC)
}

func TestOverrideRealmKDCNoopWhenRealmEmpty(t *testing.T) {
	kcfg := config.New()
	overrideRealmKDC(kcfg, "", "kdc.example.com:88")
	require.Empty(t, kcfg.Realms)
}

func TestAcquireCredentialsHandleRequiresRealm(t *testing.T) {
	b := sspi.NewAcquireCredentialsHandleBuilder().
		WithCredentialUse(sspi.CredentialUseOutbound).
		WithAuthData(&sspi.AuthIdentity{Username: "alice", Password: "secret"})

	_, err := acquireCredentialsHandle(b, ConfigFromEnv())
	require.Error(t, err)
}

func TestAcquireCredentialsHandleAcceptsRealm(t *testing.T) {
	b := sspi.NewAcquireCredentialsHandleBuilder().
		WithCredentialUse(sspi.CredentialUseOutbound).
		WithAuthData(&sspi.AuthIdentity{Username: "alice", Password: "secret", Domain: "EXAMPLE.COM"})

	cred, err := acquireCredentialsHandle(b, ConfigFromEnv())
	require.NoError(t, err)
	require.NotNil(t, cred)
}
