// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package kerberos

import (
	"net"
	"net/url"
	"strings"

	"github.com/jcmturner/gokrb5/v8/client"
	"github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/credentials"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/jake-scott/go-sspi"
	"github.com/jake-scott/go-sspi/kerberos/kdc"
)

// CredentialsHandle is the opaque handle AcquireCredentialsHandle returns.
// Unlike ntlm.CredentialsHandle, it may cache a logged-in *client.Client
// (and therefore a TGT) across many outbound contexts, so a process that
// opens several connections to different services logs in once.
type CredentialsHandle struct {
	identity *sspi.AuthIdentity
	use      sspi.CredentialUse
	cfg      *Config

	// krbClient is populated lazily on first InitializeSecurityContext and
	// reused by later contexts sharing this handle.
	krbClient *client.Client

	// kdcCl replaces krbClient when the KDC endpoint is an http(s) proxy
	// that gokrb5's own client cannot dial; see serviceTicket.
	kdcCl *kdcClient

	// keytab is loaded lazily on first AcceptSecurityContext for an
	// inbound-use handle.
	kt *keytab.Keytab
}

func (c *CredentialsHandle) IsCredentialsHandle() {}

// acquireCredentialsHandle validates identity for Kerberos (a realm is
// always required) and stores it for lazy login.
func acquireCredentialsHandle(b *sspi.AcquireCredentialsHandleBuilder, cfg *Config) (*CredentialsHandle, error) {
	if b.AuthData != nil && b.AuthData.Domain == "" {
		return nil, sspi.NewError(sspi.ErrorKindUnknownCredentials,
			"kerberos requires a realm (AuthIdentity.Domain) for explicit credentials")
	}
	return &CredentialsHandle{identity: b.AuthData, use: b.CredentialUse, cfg: cfg}, nil
}

// serviceTicket obtains a service ticket for spn. Direct tcp/udp KDC
// endpoints (and plain krb5.conf/DNS discovery) go through gokrb5's own
// client, which handles its own dialing and retries; an http or https
// SSPI_KDC_URL is a KDC proxy gokrb5 cannot reach, so those go through the
// kdc transport layer instead.
func (c *CredentialsHandle) serviceTicket(spn string) (messages.Ticket, types.EncryptionKey, error) {
	if isProxyKDCURL(c.cfg.KDCURL) {
		kcl, err := c.kdcClientForOutbound()
		if err != nil {
			return messages.Ticket{}, types.EncryptionKey{}, err
		}
		return kcl.serviceTicket(spn)
	}

	kc, err := c.clientForOutbound()
	if err != nil {
		return messages.Ticket{}, types.EncryptionKey{}, err
	}
	tkt, key, err := kc.GetServiceTicket(spn)
	if err != nil {
		return messages.Ticket{}, types.EncryptionKey{}, classifyClientError(err)
	}
	return tkt, key, nil
}

func isProxyKDCURL(rawURL string) bool {
	return strings.HasPrefix(rawURL, "http://") || strings.HasPrefix(rawURL, "https://")
}

// kdcClientForOutbound returns the transport-based KDC client for this
// handle, building it on first use. The proxy path has no ccache support:
// it always performs a fresh AS exchange from explicit credentials.
func (c *CredentialsHandle) kdcClientForOutbound() (*kdcClient, error) {
	if c.kdcCl != nil {
		return c.kdcCl, nil
	}
	if c.identity == nil {
		return nil, sspi.NewError(sspi.ErrorKindNoCredentials,
			"the KDC proxy path requires explicit AuthIdentity credentials")
	}
	tr, err := kdc.NewFromURL(c.cfg.KDCURL)
	if err != nil {
		return nil, err
	}
	kcfg, err := config.Load(c.cfg.KrbConfPath)
	if err != nil {
		kcfg = config.New()
	}
	c.kdcCl = newKDCClient(tr, kcfg, c.identity)
	return c.kdcCl, nil
}

// clientForOutbound returns a logged-in *client.Client for this handle,
// building one from AuthIdentity (password login) or, when no AuthIdentity
// was supplied, from the configured credential cache.
func (c *CredentialsHandle) clientForOutbound() (*client.Client, error) {
	if c.krbClient != nil {
		return c.krbClient, nil
	}

	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}

	var kc *client.Client
	if c.identity != nil {
		realm := strings.ToUpper(c.identity.Domain)
		kc = client.NewWithPassword(c.identity.Username, realm, c.identity.Password, cfg)
	} else {
		ccache, err := credentials.LoadCCache(c.cfg.CCachePath)
		if err != nil {
			return nil, sspi.WrapError(sspi.ErrorKindNoCredentials, "loading Kerberos credential cache", err)
		}
		kc, err = client.NewFromCCache(ccache, cfg)
		if err != nil {
			return nil, sspi.WrapError(sspi.ErrorKindNoCredentials, "building client from credential cache", err)
		}
	}

	if err := kc.AffirmLogin(); err != nil {
		return nil, sspi.WrapError(sspi.ErrorKindLogonDenied, "Kerberos AS exchange failed", err)
	}
	c.krbClient = kc
	return kc, nil
}

// keytabForInbound returns the acceptor's long-term key source, loading it
// from KeytabPath on first use.
func (c *CredentialsHandle) keytabForInbound() (*keytab.Keytab, error) {
	if c.kt != nil {
		return c.kt, nil
	}
	path := c.cfg.KeytabPath
	kt, err := keytab.Load(path)
	if err != nil {
		return nil, sspi.WrapError(sspi.ErrorKindNoKerdKey, "loading acceptor keytab", err)
	}
	c.kt = kt
	return kt, nil
}

// loadConfig resolves a *config.Config from KrbConfPath, then overrides the
// realm's KDC address when KDCURL is set. gokrb5's client.Client has no
// pluggable-transport seam of its own (see kerberos/kdc and DESIGN.md): the
// override works by injecting a literal "host:port" into config.Realm.KDC
// so the client's normal AS/TGS exchange dials it directly instead of
// resolving KDCs from DNS SRV records or the parsed krb5.conf.
func (c *CredentialsHandle) loadConfig() (*config.Config, error) {
	return loadConfigFor(c.cfg, c.identity)
}

func loadConfigFor(cfg *Config, identity *sspi.AuthIdentity) (*config.Config, error) {
	kcfg, err := config.Load(cfg.KrbConfPath)
	if err != nil {
		kcfg = config.New()
	}
	if cfg.KDCURL == "" {
		return kcfg, nil
	}

	hostPort, err := resolveKDCHostPort(cfg.KDCURL)
	if err != nil {
		return nil, err
	}
	realm := ""
	if identity != nil {
		realm = strings.ToUpper(identity.Domain)
	}
	overrideRealmKDC(kcfg, realm, hostPort)
	return kcfg, nil
}

// resolveKDCHostPort extracts a dialable "host:port" from a KDC transport
// URL (tcp://, udp://, http(s)://), the same scheme dispatch as
// kdc.NewFromURL, but returning an address rather than a Transport since
// this path feeds gokrb5's own client rather than the kdc abstraction.
func resolveKDCHostPort(rawURL string) (string, error) {
	u := rawURL
	if !strings.Contains(u, "://") {
		u = "tcp://" + u
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return "", sspi.WrapError(sspi.ErrorKindInternalError, "invalid SSPI_KDC_URL", err)
	}
	host := parsed.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "88")
	}
	return host, nil
}

func overrideRealmKDC(kcfg *config.Config, realm, hostPort string) {
	if realm == "" {
		return
	}
	for i := range kcfg.Realms {
		if kcfg.Realms[i].Realm == realm {
			kcfg.Realms[i].KDC = []string{hostPort}
			kcfg.Realms[i].KPasswdServer = []string{hostPort}
			return
		}
	}
	kcfg.Realms = append(kcfg.Realms, config.Realm{
		Realm: realm,
		KDC:   []string{hostPort},
	})
	if kcfg.LibDefaults.DefaultRealm == "" {
		kcfg.LibDefaults.DefaultRealm = realm
	}
}

// ticketPrincipal formats a principal name and realm for logging and
// QueryContextNames.
func ticketPrincipal(cname types.PrincipalName, crealm string) string {
	return cname.PrincipalNameString() + "@" + crealm
}
