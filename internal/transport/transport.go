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

// Package transport defines the mail transport contracts used by the relay
// and the remote control executor, and the classification of transport
// failures.
package transport

import (
	"context"
	"errors"
	"time"
)

// Mail is an outgoing notification.
type Mail struct {
	From    string
	To      []string
	Subject string
	HTML    string

	// In-Reply-To header value, optional.
	InReplyTo string
	Date      time.Time
}

// Message is an inbound message as seen by the remote control executor.
type Message struct {
	UID       uint32
	MessageID string
	From      string
	Subject   string
	Body      string
	Date      time.Time
}

type Sender interface {
	Send(ctx context.Context, m Mail) error
}

type Inbox interface {
	// List returns unread messages with subject containing query.
	List(ctx context.Context, query string) ([]Message, error)
	MarkRead(ctx context.Context, m Message) error
	Trash(ctx context.Context, m Message) error
}

// AuthError is returned when the server rejected the credentials.
type AuthError struct {
	Server string
	Err    error
}

func (e *AuthError) Error() string {
	return "transport: authentication failed on " + e.Server + ": " + e.Err.Error()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

func (e *AuthError) Fields() map[string]interface{} {
	return map[string]interface{}{"remote_server": e.Server, "auth_failed": true}
}

// Error is any other transport failure: network, protocol or timeout.
type Error struct {
	Server string
	Op     string
	Err    error
}

func (e *Error) Error() string {
	return "transport: " + e.Op + " " + e.Server + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Fields() map[string]interface{} {
	return map[string]interface{}{"remote_server": e.Server, "transport_op": e.Op}
}

// Temporary reports true: transport failures are retried by the resend
// path.
func (e *Error) Temporary() bool {
	return true
}

// Outcome is the result of a send attempt.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeAuth
	OutcomeTransport
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeAuth:
		return "auth_error"
	case OutcomeTransport:
		return "transport_error"
	}
	return "unknown"
}

// Classify maps the error returned by Sender.Send to an Outcome. Errors that
// are neither *AuthError nor *Error are transport failures too.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeOK
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return OutcomeAuth
	}
	return OutcomeTransport
}

// Wrap converts err into *Error unless it is already classified.
func Wrap(server, op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		authErr *AuthError
		trErr   *Error
	)
	if errors.As(err, &authErr) || errors.As(err, &trErr) {
		return err
	}
	return &Error{Server: server, Op: op, Err: err}
}
