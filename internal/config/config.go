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

// Package config loads the smailer configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/smailer/smailer/framework/address"
	"github.com/smailer/smailer/framework/config"
	tlsconfig "github.com/smailer/smailer/framework/config/tls"
	"github.com/smailer/smailer/internal/event"
	"github.com/smailer/smailer/internal/format"
	"github.com/smailer/smailer/internal/smtpconn"
	"github.com/smailer/smailer/internal/storage/eventlog"
)

// Duration is a time.Duration written as a Go duration string ("90s").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) D() time.Duration {
	return time.Duration(d)
}

type Log struct {
	Debug      bool   `yaml:"debug"`
	File       string `yaml:"file"`
	Rotate     bool   `yaml:"rotate"`
	Timestamps bool   `yaml:"timestamps"`
	Syslog     bool   `yaml:"syslog"`
}

type Device struct {
	Name     string `yaml:"name"`
	Locale   string `yaml:"locale"`
	AppName  string `yaml:"app_name"`
	TimeZone string `yaml:"time_zone"`
}

type Storage struct {
	Driver      string   `yaml:"driver"`
	DSN         string   `yaml:"dsn"`
	Capacity    int      `yaml:"capacity"`
	PurgePeriod Duration `yaml:"purge_period"`
}

// TLS modes of the SMTP connection.
const (
	TLSImplicit      = "implicit"
	TLSStartTLS      = "starttls"
	TLSOpportunistic = "opportunistic"
	TLSNone          = "none"
)

type SMTP struct {
	Host       string                  `yaml:"host"`
	Port       int                     `yaml:"port"`
	TLS        string                  `yaml:"tls"`
	Username   string                  `yaml:"username"`
	Password   string                  `yaml:"password"`
	Sender     string                  `yaml:"sender"`
	Recipients []string                `yaml:"recipients"`
	Timeout    Duration                `yaml:"timeout"`
	Hostname   string                  `yaml:"hostname"`
	TLSClient  *tlsconfig.ClientConfig `yaml:"tls_client"`
}

// Endpoint returns the server address and the STARTTLS mode.
func (s SMTP) Endpoint() (config.Endpoint, smtpconn.TLSMode) {
	switch s.TLS {
	case TLSImplicit:
		return config.TCPEndpoint(s.Host, s.Port, true), smtpconn.TLSNone
	case TLSStartTLS:
		return config.TCPEndpoint(s.Host, s.Port, false), smtpconn.TLSRequired
	case TLSNone:
		return config.TCPEndpoint(s.Host, s.Port, false), smtpconn.TLSNone
	default:
		return config.TCPEndpoint(s.Host, s.Port, false), smtpconn.TLSOpportunistic
	}
}

type IMAP struct {
	Host         string                  `yaml:"host"`
	Port         int                     `yaml:"port"`
	TLS          string                  `yaml:"tls"`
	Username     string                  `yaml:"username"`
	Password     string                  `yaml:"password"`
	Mailbox      string                  `yaml:"mailbox"`
	TrashMailbox string                  `yaml:"trash_mailbox"`
	Timeout      Duration                `yaml:"timeout"`
	PollInterval Duration                `yaml:"poll_interval"`
	TLSClient    *tlsconfig.ClientConfig `yaml:"tls_client"`
}

// Endpoint returns the server address and whether STARTTLS should be
// used.
func (i IMAP) Endpoint() (endp config.Endpoint, startTLS bool) {
	switch i.TLS {
	case TLSImplicit:
		return config.TCPEndpoint(i.Host, i.Port, true), false
	case TLSNone:
		return config.TCPEndpoint(i.Host, i.Port, false), false
	default:
		return config.TCPEndpoint(i.Host, i.Port, false), true
	}
}

type Maildir struct {
	Path string `yaml:"path"`
}

type Remote struct {
	Enabled       bool `yaml:"enabled"`
	FilterSenders bool `yaml:"filter_senders"`
	NotifyActions bool `yaml:"notify_actions"`
}

type Notify struct {
	OnSuccess bool `yaml:"on_success"`
}

type Contacts struct {
	File string `yaml:"file"`
}

type Location struct {
	Static *event.GeoCoordinates `yaml:"static"`
	// Do not report the location at all.
	Disabled bool `yaml:"disabled"`
}

type Twilio struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	From       string `yaml:"from"`
	BaseURL    string `yaml:"base_url"`
}

type SMSRateLimit struct {
	// Maximum amount of messages per interval, 0 disables the limit.
	Burst    int      `yaml:"burst"`
	Interval Duration `yaml:"interval"`
}

type SMS struct {
	Provider  string       `yaml:"provider"`
	Twilio    Twilio       `yaml:"twilio"`
	RateLimit SMSRateLimit `yaml:"rate_limit"`
}

type API struct {
	Listen    []string `yaml:"listen"`
	JWTSecret string   `yaml:"jwt_secret"`
	TokenTTL  Duration `yaml:"token_ttl"`
}

type Metrics struct {
	Listen []string `yaml:"listen"`
}

type Connectivity struct {
	// Address to probe, the SMTP server by default.
	Probe    string   `yaml:"probe"`
	Interval Duration `yaml:"interval"`
	Timeout  Duration `yaml:"timeout"`
	// Assume the network is always available.
	Disabled bool `yaml:"disabled"`
}

type Config struct {
	StateDir       string       `yaml:"state_dir"`
	Log            Log          `yaml:"log"`
	Device         Device       `yaml:"device"`
	Storage        Storage      `yaml:"storage"`
	SMTP           SMTP         `yaml:"smtp"`
	IMAP           IMAP         `yaml:"imap"`
	Maildir        Maildir      `yaml:"maildir"`
	Remote         Remote       `yaml:"remote"`
	Content        []string     `yaml:"content"`
	Notify         Notify       `yaml:"notify"`
	Contacts       Contacts     `yaml:"contacts"`
	Location       Location     `yaml:"location"`
	SMS            SMS          `yaml:"sms"`
	API            API          `yaml:"api"`
	Metrics        Metrics      `yaml:"metrics"`
	ResendInterval Duration     `yaml:"resend_interval"`
	Connectivity   Connectivity `yaml:"connectivity"`
}

const DefaultStateDir = "/var/lib/smailer"

// Default returns the configuration used for values missing in the file.
func Default() Config {
	return Config{
		StateDir: DefaultStateDir,
		Device: Device{
			AppName: "SMailer",
			Locale:  "en",
		},
		Storage: Storage{
			Driver:      eventlog.DefaultDriver,
			DSN:         "events.db",
			Capacity:    eventlog.DefaultCapacity,
			PurgePeriod: Duration(eventlog.DefaultPurgePeriod),
		},
		SMTP: SMTP{
			Port:    587,
			TLS:     TLSStartTLS,
			Timeout: Duration(time.Minute),
		},
		IMAP: IMAP{
			Port:         993,
			TLS:          TLSImplicit,
			Mailbox:      "INBOX",
			Timeout:      Duration(time.Minute),
			PollInterval: Duration(5 * time.Minute),
		},
		Remote: Remote{
			FilterSenders: true,
			NotifyActions: true,
		},
		Content: []string{string(format.OptionTime), string(format.OptionDeviceName),
			string(format.OptionLocation), string(format.OptionContactName)},
		SMS: SMS{
			Provider: "log",
			RateLimit: SMSRateLimit{
				Burst:    10,
				Interval: Duration(time.Hour),
			},
		},
		API: API{
			TokenTTL: Duration(30 * 24 * time.Hour),
		},
		ResendInterval: Duration(15 * time.Minute),
		Connectivity: Connectivity{
			Interval: Duration(30 * time.Second),
			Timeout:  Duration(5 * time.Second),
		},
	}
}

// Read parses the YAML document on top of Default. {env:NAME} references
// in scalar values are replaced with environment variables.
func Read(data []byte) (Config, error) {
	cfg := Default()

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if root.Kind == 0 {
		// Empty document.
		return cfg, cfg.Validate()
	}
	expandEnvironment(&root, buildEnvMap())

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	if err := enc.Encode(&root); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	dec := yaml.NewDecoder(&buf)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Load reads the configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Default(), fmt.Errorf("config: %w", err)
	}
	return Read(data)
}

// Validate checks the structure of the configuration. Completeness of the
// delivery settings is checked by the relay since they can be changed at
// runtime.
func (c *Config) Validate() error {
	var errs []error

	if c.StateDir == "" {
		errs = append(errs, errors.New("state_dir is required"))
	}
	if c.Storage.Capacity <= 0 {
		errs = append(errs, errors.New("storage.capacity must be positive"))
	}
	if c.Storage.PurgePeriod <= 0 {
		errs = append(errs, errors.New("storage.purge_period must be positive"))
	}
	if (c.Storage.Driver == "sqlite3" || c.Storage.Driver == "sqlite") && eventlog.IsMemoryDSN(c.Storage.DSN) {
		errs = append(errs, errors.New("storage.dsn: in-memory databases cannot hold pending events"))
	}
	switch c.SMTP.TLS {
	case TLSImplicit, TLSStartTLS, TLSOpportunistic, TLSNone:
	default:
		errs = append(errs, fmt.Errorf("smtp.tls: unknown mode %q", c.SMTP.TLS))
	}
	switch c.IMAP.TLS {
	case TLSImplicit, TLSStartTLS, TLSNone:
	default:
		errs = append(errs, fmt.Errorf("imap.tls: unknown mode %q", c.IMAP.TLS))
	}
	if c.SMTP.Port < 0 || c.SMTP.Port > 65535 {
		errs = append(errs, errors.New("smtp.port is out of range"))
	}
	if c.IMAP.Port < 0 || c.IMAP.Port > 65535 {
		errs = append(errs, errors.New("imap.port is out of range"))
	}
	if c.SMTP.Sender != "" && !address.Valid(c.SMTP.Sender) {
		errs = append(errs, fmt.Errorf("smtp.sender: malformed address %q", c.SMTP.Sender))
	}
	for _, rcpt := range c.SMTP.Recipients {
		if !address.Valid(rcpt) {
			errs = append(errs, fmt.Errorf("smtp.recipients: malformed address %q", rcpt))
		}
	}
	if c.Remote.Enabled && c.IMAP.Host == "" {
		errs = append(errs, errors.New("remote.enabled requires imap.host"))
	}
	if _, err := format.ParseContentOptions(c.Content); err != nil {
		errs = append(errs, fmt.Errorf("content: %w", err))
	}
	if c.Device.TimeZone != "" {
		if _, err := time.LoadLocation(c.Device.TimeZone); err != nil {
			errs = append(errs, fmt.Errorf("device.time_zone: %w", err))
		}
	}
	switch c.SMS.Provider {
	case "log", "":
	case "twilio":
		if c.SMS.Twilio.AccountSID == "" || c.SMS.Twilio.AuthToken == "" || c.SMS.Twilio.From == "" {
			errs = append(errs, errors.New("sms.twilio: account_sid, auth_token and from are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("sms.provider: unknown provider %q", c.SMS.Provider))
	}
	if c.SMS.RateLimit.Burst < 0 || (c.SMS.RateLimit.Burst > 0 && c.SMS.RateLimit.Interval <= 0) {
		errs = append(errs, errors.New("sms.rate_limit: burst must not be negative and interval must be positive"))
	}
	if len(c.API.Listen) != 0 && c.API.JWTSecret == "" {
		errs = append(errs, errors.New("api.jwt_secret is required when api.listen is set"))
	}
	for _, a := range append(append([]string(nil), c.API.Listen...), c.Metrics.Listen...) {
		if _, err := config.ParseEndpoint(a); err != nil {
			errs = append(errs, fmt.Errorf("malformed endpoint %q: %w", a, err))
		}
	}
	if c.ResendInterval < 0 || c.Connectivity.Interval < 0 || c.IMAP.PollInterval < 0 {
		errs = append(errs, errors.New("intervals must not be negative"))
	}

	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
}

// ContentOptions returns the parsed content option set.
func (c *Config) ContentOptions() format.ContentOptions {
	opts, _ := format.ParseContentOptions(c.Content)
	return opts
}

// TimeZone returns the configured time zone, time.Local if unset.
func (c *Config) TimeZone() *time.Location {
	if c.Device.TimeZone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Device.TimeZone)
	if err != nil {
		return time.Local
	}
	return loc
}

// StorageDSN returns the data source name for the event log. Relative
// SQLite file names are resolved against the state directory.
func (c *Config) StorageDSN() string {
	if c.Storage.Driver != eventlog.DefaultDriver {
		return c.Storage.DSN
	}
	if strings.HasPrefix(c.Storage.DSN, "file:") {
		return c.Storage.DSN
	}
	if filepath.IsAbs(c.Storage.DSN) {
		return c.Storage.DSN
	}
	return filepath.Join(c.StateDir, c.Storage.DSN)
}
