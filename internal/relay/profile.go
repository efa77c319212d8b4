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

package relay

import (
	"context"
	"strings"

	"github.com/smailer/smailer/framework/address"
	"github.com/smailer/smailer/internal/format"
	"github.com/smailer/smailer/internal/rules"
	"github.com/smailer/smailer/internal/settings"
)

// Keys of the settings store overriding the static Profile.
const (
	KeySender          = "delivery.sender"
	KeyRecipients      = "delivery.recipients"
	KeyDeviceName      = "device.name"
	KeyLocale          = "device.locale"
	KeyNotifyOnSuccess = "notify.on_success"
	KeyContent         = "content.options"
)

// Delivery is the mail account used to send notifications.
type Delivery struct {
	Sender     string
	Recipients []string
	Host       string
	Port       int
}

// Validate returns *ConfigurationError listing the missing and malformed
// settings.
func (d Delivery) Validate() error {
	var missing, invalid []string
	if strings.TrimSpace(d.Sender) == "" {
		missing = append(missing, "sender")
	} else if !address.Valid(d.Sender) {
		invalid = append(invalid, "sender")
	}
	if len(d.Recipients) == 0 {
		missing = append(missing, "recipients")
	} else {
		for _, rcpt := range d.Recipients {
			if !address.Valid(rcpt) {
				invalid = append(invalid, "recipients")
				break
			}
		}
	}
	if strings.TrimSpace(d.Host) == "" {
		missing = append(missing, "host")
	}
	if d.Port <= 0 {
		missing = append(missing, "port")
	}
	if len(missing) != 0 || len(invalid) != 0 {
		return &ConfigurationError{Missing: missing, Invalid: invalid}
	}
	return nil
}

// Profile is the user-adjustable part of the relay configuration.
type Profile struct {
	Delivery
	DeviceName      string
	Locale          string
	Options         format.ContentOptions
	NotifyOnSuccess bool
}

// LoadProfile returns def with the values present in the settings store
// applied on top.
func LoadProfile(ctx context.Context, s settings.Store, def Profile) (Profile, error) {
	p := def
	if s == nil {
		return p, nil
	}

	if v, ok, err := s.Lookup(ctx, KeySender); err != nil {
		return p, err
	} else if ok {
		p.Sender = v
	}
	if v, ok, err := s.Lookup(ctx, KeyRecipients); err != nil {
		return p, err
	} else if ok {
		p.Recipients = nil
		for _, item := range rules.DecodeSet(v).Items() {
			p.Recipients = append(p.Recipients, address.ParseAddressList(item)...)
		}
	}
	if v, ok, err := s.Lookup(ctx, KeyDeviceName); err != nil {
		return p, err
	} else if ok {
		p.DeviceName = v
	}
	if v, ok, err := s.Lookup(ctx, KeyLocale); err != nil {
		return p, err
	} else if ok {
		p.Locale = v
	}
	if v, ok, err := s.Lookup(ctx, KeyContent); err != nil {
		return p, err
	} else if ok {
		opts, err := format.ParseContentOptions(rules.DecodeSet(v).Items())
		if err != nil {
			return p, err
		}
		p.Options = opts
	}

	onSuccess, err := settings.Bool(ctx, s, KeyNotifyOnSuccess, def.NotifyOnSuccess)
	if err != nil {
		return p, err
	}
	p.NotifyOnSuccess = onSuccess
	return p, nil
}
