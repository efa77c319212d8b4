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

// Package remote executes commands sent to the device in replies to its
// notifications.
package remote

import (
	"context"
	"strings"

	"github.com/smailer/smailer/framework/address"
	"github.com/smailer/smailer/framework/log"
	"github.com/smailer/smailer/internal/notify"
	"github.com/smailer/smailer/internal/relay"
	"github.com/smailer/smailer/internal/remote/command"
	"github.com/smailer/smailer/internal/rules"
	"github.com/smailer/smailer/internal/settings"
	"github.com/smailer/smailer/internal/sms"
	"github.com/smailer/smailer/internal/transport"
)

type Executor struct {
	Inbox  transport.Inbox
	Rules  *rules.Repository
	SMS    sms.Sender
	Notify notify.Sink

	// Device name and recipients are taken from the profile.
	Settings settings.Store
	Profile  relay.Profile

	// Subject query of the replies, usually "[AppName]".
	Query string
	// Accept commands only from the configured recipients.
	FilterSenders bool
	// Show a notification for each rule change.
	NotifyActions bool

	Log log.Logger
}

// HandleInbox executes commands from unread replies addressed to this
// device. Messages addressed to other devices are left unread.
func (e *Executor) HandleInbox(ctx context.Context) (handled int, err error) {
	prof, err := relay.LoadProfile(ctx, e.Settings, e.Profile)
	if err != nil {
		return 0, err
	}

	msgs, err := e.Inbox.List(ctx, e.Query)
	if err != nil {
		return 0, err
	}

	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			return handled, err
		}

		if e.FilterSenders && !e.trustedSender(prof, m.From) {
			e.Log.Msg("command from untrusted sender ignored", "from", m.From, "uid", m.UID)
			continue
		}

		cmd := command.Parse(m.Body)
		if cmd.Acceptor == "" || !strings.EqualFold(strings.TrimSpace(cmd.Acceptor), strings.TrimSpace(prof.DeviceName)) {
			e.Log.DebugMsg("message is not for this device", "acceptor", cmd.Acceptor, "uid", m.UID)
			continue
		}

		// A failed command stays unread and is retried on the next poll.
		if err := e.execute(ctx, m, cmd); err != nil {
			return handled, err
		}
		if err := e.Inbox.MarkRead(ctx, m); err != nil {
			return handled, err
		}
		if err := e.Inbox.Trash(ctx, m); err != nil {
			return handled, err
		}
		handled++
	}
	return handled, nil
}

func (e *Executor) trustedSender(prof relay.Profile, from string) bool {
	for _, addr := range address.ParseAddressList(from) {
		if address.ContainsEmail(prof.Recipients, addr) {
			return true
		}
	}
	return false
}

func (e *Executor) execute(ctx context.Context, m transport.Message, cmd command.Command) error {
	commandsTotal.WithLabelValues(cmd.Action.String()).Inc()

	if l, add, ok := cmd.Action.RuleChange(); ok {
		var (
			changed bool
			err     error
		)
		if add {
			changed, err = e.Rules.Add(ctx, l, cmd.Argument)
		} else {
			changed, err = e.Rules.Remove(ctx, l, cmd.Argument)
		}
		if err != nil {
			return err
		}

		e.Log.Msg("remote command executed", "action", cmd.Action.String(), "value", cmd.Argument, "changed", changed)
		if changed && e.NotifyActions {
			e.Notify.ShowRemoteActionPerformed(cmd.Action.String(), cmd.Argument)
		}
		return nil
	}

	switch cmd.Action {
	case command.ActionSendSMSToCaller:
		phone := cmd.Phone
		if phone == "" {
			// Reply to the caller from the notification subject.
			phone, _ = address.FindPhone(m.Subject)
		}
		if phone == "" || cmd.Text == "" {
			e.Log.Msg("sms command ignored, missing phone or text", "uid", m.UID)
			return nil
		}
		if err := e.SMS.SendSMS(ctx, phone, cmd.Text); err != nil {
			e.Log.Error("sms command failed", err, "phone", phone)
			return nil
		}
		e.Log.Msg("remote command executed", "action", cmd.Action.String(), "phone", phone)
		if e.NotifyActions {
			e.Notify.ShowRemoteActionPerformed(cmd.Action.String(), phone)
		}
	default:
		e.Log.Msg("not a command, ignored", "uid", m.UID)
	}
	return nil
}
