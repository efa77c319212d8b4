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


// Package tls builds client TLS configurations for outgoing mail
// connections.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/smailer/smailer/framework/log"
)

// ClientConfig is the YAML representation of a client TLS configuration.
type ClientConfig struct {
	RootCA    []string `yaml:"root_ca"`
	Cert      string   `yaml:"cert"`
	Key       string   `yaml:"key"`
	Protocols []string `yaml:"protocols"`
	Ciphers   []string `yaml:"ciphers"`
	Curves    []string `yaml:"curves"`
	// Server name to verify instead of the connection host.
	ServerName string `yaml:"server_name"`
}

// Build returns the tls.Config, nil if the configuration is empty and the
// crypto/tls defaults should be used.
func (c *ClientConfig) Build() (*tls.Config, error) {
	if c == nil {
		return nil, nil
	}

	cfg := tls.Config{ServerName: c.ServerName}

	tlsVersions, err := parseVersions(c.Protocols)
	if err != nil {
		return nil, err
	}
	if cfg.CipherSuites, err = parseCiphers(c.Ciphers); err != nil {
		return nil, err
	}
	if cfg.CurvePreferences, err = parseCurves(c.Curves); err != nil {
		return nil, err
	}

	if len(c.RootCA) != 0 {
		pool := x509.NewCertPool()
		for _, path := range c.RootCA {
			blob, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			if !pool.AppendCertsFromPEM(blob) {
				return nil, fmt.Errorf("tls: no certificates was loaded from %s", path)
			}
		}
		cfg.RootCAs = pool
	}

	if c.Cert != "" || c.Key != "" {
		keypair, err := tls.LoadX509KeyPair(c.Cert, c.Key)
		if err != nil {
			return nil, err
		}
		log.Debugf("using client keypair %s/%s", c.Cert, c.Key)
		cfg.GetClientCertificate = func(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
			return &keypair, nil
		}
	}

	cfg.MinVersion = tlsVersions[0]
	cfg.MaxVersion = tlsVersions[1]
	log.Debugf("tls: min version: %x, max version: %x", tlsVersions[0], tlsVersions[1])

	return &cfg, nil
}
