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

// Package smailer assembles the relay daemon from its configuration.
package smailer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/smailer/smailer/framework/log"
	"github.com/smailer/smailer/internal/config"
	"github.com/smailer/smailer/internal/connectivity"
	"github.com/smailer/smailer/internal/contacts"
	"github.com/smailer/smailer/internal/endpoint/api"
	"github.com/smailer/smailer/internal/endpoint/openmetrics"
	"github.com/smailer/smailer/internal/format"
	"github.com/smailer/smailer/internal/location"
	"github.com/smailer/smailer/internal/notify"
	"github.com/smailer/smailer/internal/relay"
	"github.com/smailer/smailer/internal/remote"
	"github.com/smailer/smailer/internal/rules"
	"github.com/smailer/smailer/internal/settings"
	"github.com/smailer/smailer/internal/sms"
	"github.com/smailer/smailer/internal/storage/eventlog"
	"github.com/smailer/smailer/internal/transport"
	"github.com/smailer/smailer/internal/transport/imap"
	"github.com/smailer/smailer/internal/transport/maildir"
	"github.com/smailer/smailer/internal/transport/smtp"
)

const workerQueueSize = 64

// Daemon holds the assembled components. Components that are not
// configured are nil.
type Daemon struct {
	Config config.Config
	Log    log.Logger

	Store         *eventlog.Store
	Settings      *settings.SQLTable
	Rules         *rules.Repository
	Formatter     *format.Formatter
	Notifications *notify.Tracker
	Connectivity  connectivity.Checker
	Processor     *relay.Processor
	Worker        *relay.Worker
	Executor      *remote.Executor
	API           *api.Server
	Metrics       *openmetrics.Endpoint

	closers []io.Closer
}

// Build opens the storage and creates all components described by cfg.
// Nothing is started.
func Build(cfg config.Config, logger log.Logger) (*Daemon, error) {
	d := &Daemon{Config: cfg, Log: logger}
	if err := d.build(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) build() error {
	cfg := &d.Config

	store, err := eventlog.Open(cfg.Storage.Driver, cfg.StorageDSN(), eventlog.Options{
		Capacity:    cfg.Storage.Capacity,
		PurgePeriod: cfg.Storage.PurgePeriod.D(),
		Log:         d.Log.Sublogger("eventlog"),
	})
	if err != nil {
		return err
	}
	d.Store = store
	d.closers = append(d.closers, store)

	d.Settings, err = settings.NewSQLTable(store.DB(), store.Driver(), "settings")
	if err != nil {
		return err
	}
	d.closers = append(d.closers, d.Settings)

	d.Rules = rules.NewRepository(d.Settings)
	d.Formatter = format.New(cfg.Device.AppName)

	d.Notifications = notify.NewTracker(d.Log.Sublogger("notify"))
	d.Notifications.Localize = func(code string, args ...interface{}) string {
		return d.Formatter.Localize(cfg.Device.Locale, code, args...)
	}

	sender, err := d.sender()
	if err != nil {
		return err
	}
	d.Connectivity = d.connectivity()

	var book contacts.Book
	if cfg.Contacts.File != "" {
		f, err := contacts.OpenFile(cfg.Contacts.File, d.Log.Sublogger("contacts"))
		if err != nil {
			return err
		}
		d.closers = append(d.closers, f)
		book = f
	}

	var loc location.Source
	if !cfg.Location.Disabled {
		loc = &location.Fallback{
			Live:  location.Static{Location: cfg.Location.Static},
			Store: store,
			Log:   d.Log.Sublogger("location"),
		}
	}

	profile := d.profile()
	d.Processor = &relay.Processor{
		Store:        store,
		Rules:        rules.NewEngine(d.Rules, d.Log.Sublogger("rules")),
		Formatter:    d.Formatter,
		Sender:       sender,
		Connectivity: d.Connectivity,
		Notify:       d.Notifications,
		Contacts:     book,
		Location:     loc,
		Settings:     d.Settings,
		Profile:      profile,
		TimeZone:     cfg.TimeZone(),
		Log:          d.Log.Sublogger("relay"),
	}
	d.Worker = relay.NewWorker(workerQueueSize, d.Log.Sublogger("worker"))

	if cfg.Remote.Enabled {
		inbox, err := d.inbox()
		if err != nil {
			return err
		}
		d.Executor = &remote.Executor{
			Inbox:         inbox,
			Rules:         d.Rules,
			SMS:           d.smsSender(),
			Notify:        d.Notifications,
			Settings:      d.Settings,
			Profile:       profile,
			Query:         "[" + cfg.Device.AppName + "]",
			FilterSenders: cfg.Remote.FilterSenders,
			NotifyActions: cfg.Remote.NotifyActions,
			Log:           d.Log.Sublogger("remote"),
		}
	}

	if len(cfg.API.Listen) != 0 {
		d.API = &api.Server{
			Processor:     d.Processor,
			Worker:        d.Worker,
			Store:         store,
			Rules:         d.Rules,
			Notifications: d.Notifications,
			Secret:        []byte(cfg.API.JWTSecret),
			Log:           d.Log.Sublogger("api"),
		}
	}
	if len(cfg.Metrics.Listen) != 0 {
		d.Metrics = openmetrics.New(cfg.Metrics.Listen, d.Log.Sublogger("openmetrics"))
	}

	return nil
}

func (d *Daemon) profile() relay.Profile {
	cfg := &d.Config

	name := cfg.Device.Name
	if name == "" {
		name, _ = os.Hostname()
	}
	delivery := relay.Delivery{
		Sender:     cfg.SMTP.Sender,
		Recipients: cfg.SMTP.Recipients,
		Host:       cfg.SMTP.Host,
		Port:       cfg.SMTP.Port,
	}
	if cfg.Maildir.Path != "" && delivery.Host == "" {
		// The maildir sender has no server, the directory stands in for it.
		delivery.Host = cfg.Maildir.Path
	}

	return relay.Profile{
		Delivery:        delivery,
		DeviceName:      name,
		Locale:          cfg.Device.Locale,
		Options:         cfg.ContentOptions(),
		NotifyOnSuccess: cfg.Notify.OnSuccess,
	}
}

func (d *Daemon) sender() (transport.Sender, error) {
	cfg := &d.Config
	if cfg.Maildir.Path != "" {
		return &maildir.Sender{
			Path:     cfg.Maildir.Path,
			Hostname: cfg.SMTP.Hostname,
			Log:      d.Log.Sublogger("maildir"),
		}, nil
	}

	tlsConfig, err := cfg.SMTP.TLSClient.Build()
	if err != nil {
		return nil, fmt.Errorf("smtp: %w", err)
	}
	endp, mode := cfg.SMTP.Endpoint()
	return &smtp.Sender{
		Endpoint:          endp,
		TLSMode:           mode,
		Username:          cfg.SMTP.Username,
		Password:          cfg.SMTP.Password,
		Hostname:          cfg.SMTP.Hostname,
		CommandTimeout:    cfg.SMTP.Timeout.D(),
		SubmissionTimeout: cfg.SMTP.Timeout.D(),
		TLSConfig:         tlsConfig,
		Log:               d.Log.Sublogger("smtp"),
	}, nil
}

func (d *Daemon) inbox() (transport.Inbox, error) {
	cfg := &d.Config
	tlsConfig, err := cfg.IMAP.TLSClient.Build()
	if err != nil {
		return nil, fmt.Errorf("imap: %w", err)
	}
	endp, startTLS := cfg.IMAP.Endpoint()
	return &imap.Inbox{
		Endpoint:     endp,
		StartTLS:     startTLS,
		Username:     cfg.IMAP.Username,
		Password:     cfg.IMAP.Password,
		Mailbox:      cfg.IMAP.Mailbox,
		TrashMailbox: cfg.IMAP.TrashMailbox,
		Timeout:      cfg.IMAP.Timeout.D(),
		TLSConfig:    tlsConfig,
		Log:          d.Log.Sublogger("imap"),
	}, nil
}

func (d *Daemon) smsSender() sms.Sender {
	cfg := &d.Config

	var sender sms.Sender = sms.LogSender{Log: d.Log.Sublogger("sms")}
	if cfg.SMS.Provider == "twilio" {
		sender = &sms.Twilio{
			AccountSID: cfg.SMS.Twilio.AccountSID,
			AuthToken:  cfg.SMS.Twilio.AuthToken,
			From:       cfg.SMS.Twilio.From,
			BaseURL:    cfg.SMS.Twilio.BaseURL,
			Log:        d.Log.Sublogger("sms"),
		}
	}

	throttled := sms.NewThrottled(sender, cfg.SMS.RateLimit.Burst, cfg.SMS.RateLimit.Interval.D())
	d.closers = append(d.closers, throttled)
	return throttled
}

func (d *Daemon) connectivity() connectivity.Checker {
	cfg := &d.Config
	if cfg.Connectivity.Disabled {
		return connectivity.NewStatic(true)
	}

	addr := cfg.Connectivity.Probe
	if addr == "" {
		if cfg.Maildir.Path != "" || cfg.SMTP.Host == "" {
			return connectivity.NewStatic(true)
		}
		addr = net.JoinHostPort(cfg.SMTP.Host, strconv.Itoa(cfg.SMTP.Port))
	}
	return &connectivity.Probe{
		Address: addr,
		Timeout: cfg.Connectivity.Timeout.D(),
		Log:     d.Log.Sublogger("connectivity"),
	}
}

// ProcessPending queues a resend of the pending events.
func (d *Daemon) ProcessPending() {
	err := d.Worker.Submit("process pending", func(ctx context.Context) error {
		n, err := d.Processor.ProcessPending(ctx)
		if n != 0 {
			d.Log.Msg("pending events delivered", "count", n)
		}
		if err != nil && !errors.As(err, &relay.ConnectivityError{}) {
			d.Log.Error("failed to process pending events", err)
		}
		return err
	})
	if err != nil {
		d.Log.Error("failed to queue pending events", err)
	}
}

// PollInbox queues a check of the inbox for remote commands.
func (d *Daemon) PollInbox() {
	if d.Executor == nil {
		return
	}
	err := d.Worker.Submit("poll inbox", func(ctx context.Context) error {
		n, err := d.Executor.HandleInbox(ctx)
		if n != 0 {
			d.Log.Msg("remote commands handled", "count", n)
		}
		if err != nil {
			d.Log.Error("failed to handle remote commands", err)
		}
		return err
	})
	if err != nil {
		d.Log.Error("failed to queue inbox poll", err)
	}
}

func every(ctx context.Context, interval time.Duration, fn func()) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn()
		}
	}
}

// Run starts all components and blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if d.API != nil {
		if err := d.API.Listen(d.Config.API.Listen); err != nil {
			return err
		}
	}
	if d.Metrics != nil {
		if err := d.Metrics.Start(); err != nil {
			if d.API != nil {
				d.API.Shutdown(context.Background())
			}
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return d.Worker.Run(ctx)
	})

	// Events left over from the previous run.
	d.ProcessPending()

	if interval := d.Config.ResendInterval.D(); interval > 0 {
		g.Go(func() error {
			every(ctx, interval, d.ProcessPending)
			return nil
		})
	}
	if interval := d.Config.Connectivity.Interval.D(); interval > 0 {
		g.Go(func() error {
			connectivity.Watch(ctx, d.Connectivity, interval, func() {
				d.Log.Msg("connection restored")
				d.ProcessPending()
			})
			return nil
		})
	}
	if d.Executor != nil {
		d.PollInbox()
		if interval := d.Config.IMAP.PollInterval.D(); interval > 0 {
			g.Go(func() error {
				every(ctx, interval, d.PollInbox)
				return nil
			})
		}
	}

	if d.API != nil {
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return d.API.Shutdown(shutdownCtx)
		})
	}
	if d.Metrics != nil {
		g.Go(func() error {
			<-ctx.Done()
			return d.Metrics.Close()
		})
	}

	systemdStatus(SDReady, "Relaying events.")
	d.Log.Msg("relay started", "version", BuildInfo(), "device", d.Processor.Profile.DeviceName)

	err := g.Wait()
	systemdStatus(SDStopping, "Waiting for running jobs to complete...")
	return err
}

// RunWithSignals runs d until a termination signal is received. SIGUSR1
// calls reopenLog.
func RunWithSignals(ctx context.Context, d *Daemon, reopenLog func()) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		handleSignals(reopenLog)
		cancel()
	}()

	if err := d.Run(ctx); err != nil {
		systemdStatusErr(err)
		return err
	}
	return nil
}

// Close releases the storage and the contact book.
func (d *Daemon) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}
