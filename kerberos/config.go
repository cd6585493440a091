// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

// Package kerberos implements the Kerberos V5 ([RFC 4120]) security
// package over a GSS-API ([RFC 2743]) / RFC 4121 token encoding, built on
// github.com/jcmturner/gokrb5/v8.
package kerberos

import (
	"os"
	"strconv"
	"time"
)

// ClockSkew is the maximum tolerated difference between the clocks of the
// two peers when verifying an AP-REQ's Authenticator timestamp.
var ClockSkew = 5 * time.Minute

// Config carries the file-system locations and KDC dial target this
// package needs; it mirrors the environment variables the reference
// implementation reads (KRB5_CONFIG, KRB5CCNAME, KRB5_KTNAME), adding
// SSPI_KDC_URL to drive the kdc subpackage's transport selection.
type Config struct {
	// KrbConfPath is the path to krb5.conf. Defaults to $KRB5_CONFIG, then
	// /etc/krb5.conf.
	KrbConfPath string
	// CCachePath is the path to the initiator's credential cache. Defaults
	// to $KRB5CCNAME, then /tmp/krb5cc_<uid>.
	CCachePath string
	// KeytabPath is the path to the acceptor's keytab. Defaults to
	// $KRB5_KTNAME, then /etc/krb5.keytab.
	KeytabPath string
	// KDCURL overrides KDC discovery with a literal transport URL
	// (tcp://host:88, udp://host:88, http(s)://host/KdcProxy), read from
	// $SSPI_KDC_URL when empty. See kerberos/kdc.
	KDCURL string
	// ClientComputerName is read from $COMPUTERNAME by ConfigFromEnv. It is
	// carried on the Config only; AP-REQ construction does not read it.
	ClientComputerName string
}

// ConfigFromEnv resolves a Config from the environment, falling back to
// the same defaults as the MIT and Heimdal client tools.
func ConfigFromEnv() *Config {
	return &Config{
		KrbConfPath:        envOrDefault("KRB5_CONFIG", "/etc/krb5.conf"),
		CCachePath:         envOrDefault("KRB5CCNAME", defaultCCachePath()),
		KeytabPath:         envOrDefault("KRB5_KTNAME", "/etc/krb5.keytab"),
		KDCURL:             os.Getenv("SSPI_KDC_URL"),
		ClientComputerName: os.Getenv("COMPUTERNAME"),
	}
}

func envOrDefault(name, def string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	return def
}

func defaultCCachePath() string {
	return "/tmp/krb5cc_" + strconv.Itoa(os.Getuid())
}
