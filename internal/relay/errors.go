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
	"errors"
	"strings"

	"github.com/smailer/smailer/internal/transport"
)

// ConfigurationError means delivery settings are incomplete or malformed.
// It is not retried until the user fixes the settings.
type ConfigurationError struct {
	Missing []string
	Invalid []string
}

func (e *ConfigurationError) Error() string {
	var parts []string
	if len(e.Missing) != 0 {
		parts = append(parts, "missing: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) != 0 {
		parts = append(parts, "invalid: "+strings.Join(e.Invalid, ", "))
	}
	return "relay: delivery is not configured, " + strings.Join(parts, "; ")
}

func (e *ConfigurationError) Fields() map[string]interface{} {
	fields := map[string]interface{}{}
	if len(e.Missing) != 0 {
		fields["missing"] = e.Missing
	}
	if len(e.Invalid) != 0 {
		fields["invalid"] = e.Invalid
	}
	return fields
}

// ConnectivityError means the network is unavailable. Affected events stay
// pending and are delivered by the resend path.
type ConnectivityError struct{}

func (ConnectivityError) Error() string {
	return "relay: no network connection"
}

func (ConnectivityError) Temporary() bool {
	return true
}

// StorageError wraps failures of the event store or the settings store. It
// is fatal for the current operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "relay: " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// DeliveryError is returned by Process when the transport failed to send
// the notification. The event is kept pending.
type DeliveryError struct {
	Outcome transport.Outcome
	Err     error
}

func (e *DeliveryError) Error() string {
	return "relay: delivery failed (" + e.Outcome.String() + "): " + e.Err.Error()
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

func (e *DeliveryError) Fields() map[string]interface{} {
	return map[string]interface{}{"outcome": e.Outcome.String()}
}

func (e *DeliveryError) Temporary() bool {
	return true
}

// IsRetryable reports whether the event affected by err will be picked up by
// ProcessPending later.
func IsRetryable(err error) bool {
	var (
		connErr ConnectivityError
		delErr  *DeliveryError
	)
	return errors.As(err, &connErr) || errors.As(err, &delErr)
}
