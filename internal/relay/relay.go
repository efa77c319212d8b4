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

// Package relay implements the delivery pipeline: events are filtered,
// formatted and sent by email, failed deliveries stay pending and are
// retried by ProcessPending.
package relay

import (
	"context"
	"errors"
	"time"

	"github.com/smailer/smailer/framework/exterrors"
	"github.com/smailer/smailer/framework/log"
	"github.com/smailer/smailer/internal/connectivity"
	"github.com/smailer/smailer/internal/contacts"
	"github.com/smailer/smailer/internal/event"
	"github.com/smailer/smailer/internal/format"
	"github.com/smailer/smailer/internal/location"
	"github.com/smailer/smailer/internal/notify"
	"github.com/smailer/smailer/internal/rules"
	"github.com/smailer/smailer/internal/settings"
	"github.com/smailer/smailer/internal/storage/eventlog"
	"github.com/smailer/smailer/internal/transport"
)

// Details stored in an event that could not be sent because the network
// was down.
const detailsNoConnection = "no connection"

type Processor struct {
	Store        *eventlog.Store
	Rules        *rules.Engine
	Formatter    *format.Formatter
	Sender       transport.Sender
	Connectivity connectivity.Checker
	Notify       notify.Sink

	// Optional collaborators. Nil Contacts renders the "no access"
	// placeholder for the contact name, nil Location the same for the
	// location.
	Contacts contacts.Book
	Location location.Source

	// Settings overrides Profile if not nil.
	Settings settings.Store
	Profile  Profile
	TimeZone *time.Location

	Log log.Logger
}

func (p *Processor) profile(ctx context.Context) (Profile, error) {
	prof, err := LoadProfile(ctx, p.Settings, p.Profile)
	if err != nil {
		return prof, storageErr("load settings", err)
	}
	return prof, nil
}

// Process runs the whole pipeline for a newly captured event.
//
// A *ConfigurationError is returned without touching the store. Rejected
// events are stored as ignored. If the network is down, accepted events are
// stored as pending and ConnectivityError is returned. Delivery failures are
// recorded in the event details and returned as *DeliveryError.
func (p *Processor) Process(ctx context.Context, ev *event.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	prof, err := p.profile(ctx)
	if err != nil {
		return err
	}

	if err := prof.Delivery.Validate(); err != nil {
		p.Notify.ShowError(notify.KindConfiguration, format.MsgNoParameters)
		p.Log.Error("event not processed", err, "event", ev.FormatLog())
		return err
	}
	p.Notify.ClearError(notify.KindConfiguration)

	online := p.Connectivity.IsConnected(ctx)
	if online {
		p.Notify.ClearError(notify.KindConnectivity)
	} else {
		p.Notify.ShowError(notify.KindConnectivity, format.MsgNoConnection)
	}

	// Pending events are not filtered again by ProcessPending.
	accepted, err := p.Rules.Accept(ctx, ev)
	if err != nil {
		return storageErr("load rules", err)
	}
	if !accepted {
		ev.State = event.StateIgnored
		ev.Details = nil
		if err := p.Store.Put(ctx, ev); err != nil {
			return storageErr("put", err)
		}
		eventsTotal.WithLabelValues("ignored").Inc()
		p.Log.DebugMsg("event ignored", "event", ev.FormatLog(), "id", ev.ID)
		return nil
	}

	if !online {
		ev.State = event.StatePending
		ev.SetDetails(detailsNoConnection)
		if err := p.Store.Put(ctx, ev); err != nil {
			return storageErr("put", err)
		}
		p.updatePending(ctx)
		p.Log.Msg("event deferred, no connection", "event", ev.FormatLog(), "id", ev.ID)
		return ConnectivityError{}
	}

	err = p.deliver(ctx, ev, prof)
	p.updatePending(ctx)
	return err
}

// ProcessPending resends all pending events, most recent first.
//
// Delivery failures are recorded and the loop continues with the next
// event. Loss of connectivity aborts the batch with ConnectivityError,
// events that were not attempted stay pending.
func (p *Processor) ProcessPending(ctx context.Context) (delivered int, err error) {
	defer p.updatePending(ctx)

	prof, err := p.profile(ctx)
	if err != nil {
		return 0, err
	}
	if err := prof.Delivery.Validate(); err != nil {
		return 0, err
	}
	p.Notify.ClearError(notify.KindConfiguration)

	it, err := p.Store.Pending(ctx)
	if err != nil {
		return 0, storageErr("list pending", err)
	}
	pending, err := it.Collect(0)
	if err != nil {
		return 0, storageErr("list pending", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}
	p.Log.DebugMsg("resending pending events", "count", len(pending))

	for _, ev := range pending {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		if !p.Connectivity.IsConnected(ctx) {
			p.Log.Msg("resend aborted, no connection", "delivered", delivered, "left", len(pending)-delivered)
			return delivered, ConnectivityError{}
		}

		err := p.deliver(ctx, ev, prof)
		if err == nil {
			delivered++
			continue
		}
		var delErr *DeliveryError
		if !errors.As(err, &delErr) {
			return delivered, err
		}
	}
	p.Notify.ClearError(notify.KindConnectivity)
	return delivered, nil
}

func (p *Processor) params(ctx context.Context, ev *event.Event, prof Profile) format.Params {
	params := format.Params{
		Locale:     prof.Locale,
		DeviceName: prof.DeviceName,
		Options:    prof.Options,
		TimeZone:   p.TimeZone,
	}

	if prof.Options[format.OptionContactName] {
		if p.Contacts == nil {
			params.ContactsDenied = true
		} else if name, ok := p.Contacts.ContactName(ctx, ev.Phone); ok {
			params.ContactName = name
		}
	}

	if prof.Options[format.OptionLocation] {
		switch {
		case ev.Location != nil:
			params.Location = ev.Location
		case p.Location == nil:
			params.LocationDenied = true
		default:
			loc, err := p.Location.LastKnownLocation(ctx)
			switch {
			case errors.Is(err, location.ErrDenied):
				params.LocationDenied = true
			case err != nil:
				p.Log.Error("location lookup failed", err)
			case loc != nil:
				ev.Location = loc
				params.Location = loc
			}
		}
	}

	return params
}

func (p *Processor) deliver(ctx context.Context, ev *event.Event, prof Profile) error {
	subject, body := p.Formatter.Format(ev, p.params(ctx, ev, prof))

	sendErr := p.Sender.Send(ctx, transport.Mail{
		From:    prof.Sender,
		To:      prof.Recipients,
		Subject: subject,
		HTML:    body,
		Date:    ev.Start(),
	})

	outcome := transport.Classify(sendErr)
	switch outcome {
	case transport.OutcomeOK:
		ev.State = event.StateProcessed
		ev.Details = nil
	case transport.OutcomeAuth:
		ev.State = event.StatePending
		ev.SetDetails(p.Formatter.Localize(prof.Locale, format.MsgAuthFailed))
	default:
		ev.State = event.StatePending
		ev.SetDetails(sendErr.Error())
	}

	if err := p.Store.Put(ctx, ev); err != nil {
		return storageErr("put", err)
	}

	switch outcome {
	case transport.OutcomeOK:
		eventsTotal.WithLabelValues("processed").Inc()
		p.Log.Msg("event delivered", "event", ev.FormatLog(), "id", ev.ID)
		p.Notify.ClearError(notify.KindAuthentication)
		p.Notify.ClearError(notify.KindTransport)
		if prof.NotifyOnSuccess {
			p.Notify.ShowSuccess()
		}
		return nil
	case transport.OutcomeAuth:
		eventsTotal.WithLabelValues("failed").Inc()
		p.Log.Error("delivery failed", sendErr, "event", ev.FormatLog(), "id", ev.ID)
		p.Notify.ShowError(notify.KindAuthentication, format.MsgAuthFailed)
	default:
		eventsTotal.WithLabelValues("failed").Inc()
		p.Log.Error("delivery failed", sendErr, "event", ev.FormatLog(), "id", ev.ID,
			"temporary", exterrors.IsTemporaryOrUnspec(sendErr))
		p.Notify.ShowError(notify.KindTransport, format.MsgSendFailed)
	}
	return &DeliveryError{Outcome: outcome, Err: sendErr}
}

func (p *Processor) updatePending(ctx context.Context) {
	n, err := p.Store.Count(ctx, true)
	if err != nil {
		p.Log.Error("failed to count pending events", err)
		return
	}
	pendingGauge.Set(float64(n))
}
