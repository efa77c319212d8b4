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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smailer/smailer/internal/format"
	"github.com/smailer/smailer/internal/smtpconn"
)

func TestReadEmpty(t *testing.T) {
	cfg, err := Read(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestRead(t *testing.T) {
	cfg, err := Read([]byte(`
state_dir: /tmp/smailer
device:
  name: office
  time_zone: UTC
smtp:
  host: smtp.example.org
  port: 465
  tls: implicit
  sender: phone@example.org
  recipients: [a@example.org, b@example.org]
  timeout: 30s
content: [time, location]
location:
  static: {lat: 52.5, lon: 13.4}
resend_interval: 1m
`))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/smailer", cfg.StateDir)
	assert.Equal(t, "office", cfg.Device.Name)
	assert.Equal(t, "en", cfg.Device.Locale)
	assert.Equal(t, 30*time.Second, cfg.SMTP.Timeout.D())
	assert.Equal(t, time.Minute, cfg.ResendInterval.D())
	assert.Equal(t, []string{"a@example.org", "b@example.org"}, cfg.SMTP.Recipients)
	assert.Equal(t, format.ContentOptions{format.OptionTime: true, format.OptionLocation: true}, cfg.ContentOptions())
	require.NotNil(t, cfg.Location.Static)
	assert.Equal(t, 52.5, cfg.Location.Static.Latitude)
	assert.Equal(t, time.UTC, cfg.TimeZone())

	endp, mode := cfg.SMTP.Endpoint()
	assert.Equal(t, "tls", endp.Scheme)
	assert.Equal(t, "smtp.example.org", endp.Host)
	assert.Equal(t, "465", endp.Port)
	assert.Equal(t, smtpconn.TLSNone, mode)
}

func TestSMTPEndpointModes(t *testing.T) {
	for tls, expected := range map[string]smtpconn.TLSMode{
		TLSStartTLS:      smtpconn.TLSRequired,
		TLSOpportunistic: smtpconn.TLSOpportunistic,
		TLSNone:          smtpconn.TLSNone,
	} {
		endp, mode := SMTP{Host: "mx", Port: 25, TLS: tls}.Endpoint()
		assert.Equal(t, "tcp", endp.Scheme, tls)
		assert.Equal(t, expected, mode, tls)
	}
}

func TestIMAPEndpoint(t *testing.T) {
	endp, startTLS := IMAP{Host: "imap", Port: 143, TLS: TLSStartTLS}.Endpoint()
	assert.Equal(t, "tcp", endp.Scheme)
	assert.True(t, startTLS)

	endp, startTLS = Default().IMAP.Endpoint()
	assert.Equal(t, "tls", endp.Scheme)
	assert.False(t, startTLS)
}

func TestReadUnknownField(t *testing.T) {
	_, err := Read([]byte("smtp:\n  hots: example.org\n"))
	assert.Error(t, err)
}

func TestReadMalformedDuration(t *testing.T) {
	_, err := Read([]byte("resend_interval: soon\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	for name, mutate := range map[string]func(c *Config){
		"smtp tls":        func(c *Config) { c.SMTP.TLS = "maybe" },
		"imap tls":        func(c *Config) { c.IMAP.TLS = TLSOpportunistic },
		"content":         func(c *Config) { c.Content = []string{"weather"} },
		"time zone":       func(c *Config) { c.Device.TimeZone = "Mars/Olympus" },
		"sms provider":    func(c *Config) { c.SMS.Provider = "pigeon" },
		"twilio":          func(c *Config) { c.SMS.Provider = "twilio" },
		"sms rate limit":  func(c *Config) { c.SMS.RateLimit.Interval = 0 },
		"api secret":      func(c *Config) { c.API.Listen = []string{"tcp://127.0.0.1:8080"} },
		"remote":          func(c *Config) { c.Remote.Enabled = true },
		"capacity":        func(c *Config) { c.Storage.Capacity = 0 },
		"memory database": func(c *Config) { c.Storage.DSN = ":memory:" },
		"smtp sender":     func(c *Config) { c.SMTP.Sender = "phone" },
		"smtp recipients": func(c *Config) { c.SMTP.Recipients = []string{"me@example.org", "me@@"} },
		"metrics address": func(c *Config) { c.Metrics.Listen = []string{"udp://[::1"} },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestReadEnvironment(t *testing.T) {
	t.Setenv("SMAILER_TEST_PASSWORD", "hunter2")
	t.Setenv("SMAILER_TEST_RCPTS", "a@example.org,b@example.org")

	cfg, err := Read([]byte(`
smtp:
  password: "{env:SMAILER_TEST_PASSWORD}"
  username: "user-{env:SMAILER_TEST_UNSET}"
  recipients:
    - "{env_split:SMAILER_TEST_RCPTS}"
    - c@example.org
`))
	require.NoError(t, err)
	assert.Equal(t, "hunter2", cfg.SMTP.Password)
	assert.Equal(t, "user-", cfg.SMTP.Username)
	assert.Equal(t, []string{"a@example.org", "b@example.org", "c@example.org"}, cfg.SMTP.Recipients)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "smailer.yml")
	require.NoError(t, os.WriteFile(path, []byte("device:\n  name: hall\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "hall", cfg.Device.Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestStorageDSN(t *testing.T) {
	cfg := Default()
	cfg.StateDir = "/state"
	assert.Equal(t, filepath.Join("/state", "events.db"), cfg.StorageDSN())

	cfg.Storage.DSN = "file:/var/db/events.db?_busy_timeout=1000"
	assert.Equal(t, "file:/var/db/events.db?_busy_timeout=1000", cfg.StorageDSN())

	cfg.Storage.Driver = "postgres"
	cfg.Storage.DSN = "postgres://localhost/smailer"
	assert.Equal(t, "postgres://localhost/smailer", cfg.StorageDSN())
}
