/*
smailer - Relay of telephony events to email.
Copyright © 2019-2020 Max Mazurov <fox.cpp@disroot.org>, Maddy Mail Server contributors
Copyright © 2024 smailer contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package tls

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"
)

func TestBuildDefaults(t *testing.T) {
	var c *ClientConfig
	cfg, err := c.Build()
	if err != nil || cfg != nil {
		t.Fatalf("nil config: %v %v", cfg, err)
	}

	cfg, err = (&ClientConfig{}).Build()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MinVersion != 0 || cfg.MaxVersion != 0 || cfg.RootCAs != nil {
		t.Errorf("unexpected non-default values: %+v", cfg)
	}
}

func TestBuildProtocols(t *testing.T) {
	cfg, err := (&ClientConfig{
		Protocols: []string{"tls1.2", "tls1.3"},
		Ciphers:   []string{"ECDHE-RSA-WITH-AES128-GCM-SHA256"},
		Curves:    []string{"X25519"},
	}).Build()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MinVersion != tls.VersionTLS12 || cfg.MaxVersion != tls.VersionTLS13 {
		t.Errorf("wrong versions: %x %x", cfg.MinVersion, cfg.MaxVersion)
	}
	if len(cfg.CipherSuites) != 1 || cfg.CipherSuites[0] != tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256 {
		t.Errorf("wrong ciphers: %v", cfg.CipherSuites)
	}
	if len(cfg.CurvePreferences) != 1 || cfg.CurvePreferences[0] != tls.X25519 {
		t.Errorf("wrong curves: %v", cfg.CurvePreferences)
	}

	cfg, err = (&ClientConfig{Protocols: []string{"tls1.3"}}).Build()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MinVersion != tls.VersionTLS13 || cfg.MaxVersion != tls.VersionTLS13 {
		t.Errorf("wrong versions: %x %x", cfg.MinVersion, cfg.MaxVersion)
	}
}

func TestBuildErrors(t *testing.T) {
	for _, c := range []ClientConfig{
		{Protocols: []string{"ssl3"}},
		{Protocols: []string{"tls1.2", "tls1.3", "tls1.3"}},
		{Ciphers: []string{"NULL"}},
		{Curves: []string{"p999"}},
		{RootCA: []string{"/nonexistent/ca.pem"}},
		{Cert: "/nonexistent/cert.pem"},
	} {
		if _, err := c.Build(); err == nil {
			t.Errorf("expected failure for %+v", c)
		}
	}

	path := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(path, []byte("not a certificate"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := (&ClientConfig{RootCA: []string{path}}).Build(); err == nil {
		t.Error("expected failure for malformed CA file")
	}
}
