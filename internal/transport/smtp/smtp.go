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

// Package smtp implements transport.Sender over SMTP submission.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"time"

	"github.com/smailer/smailer/framework/config"
	"github.com/smailer/smailer/framework/log"
	"github.com/smailer/smailer/internal/smtpconn"
	"github.com/smailer/smailer/internal/transport"
)

type Sender struct {
	Endpoint config.Endpoint
	TLSMode  smtpconn.TLSMode
	// Credentials, AUTH is skipped if Username is empty.
	Username string
	Password string

	// EHLO hostname and the right side of generated Message-Ids.
	Hostname string

	ConnectTimeout    time.Duration
	CommandTimeout    time.Duration
	SubmissionTimeout time.Duration

	TLSConfig *tls.Config
	Dialer    func(ctx context.Context, network, addr string) (net.Conn, error)
	Log       log.Logger
}

func (s *Sender) conn() *smtpconn.C {
	c := smtpconn.New()
	if s.Dialer != nil {
		c.Dialer = s.Dialer
	}
	if s.ConnectTimeout != 0 {
		c.ConnectTimeout = s.ConnectTimeout
	}
	if s.CommandTimeout != 0 {
		c.CommandTimeout = s.CommandTimeout
	}
	if s.SubmissionTimeout != 0 {
		c.SubmissionTimeout = s.SubmissionTimeout
	}
	if s.Hostname != "" {
		c.Hostname = s.Hostname
	}
	if s.TLSConfig != nil {
		c.TLSConfig = s.TLSConfig
	}
	c.Log = s.Log
	return c
}

// Send submits the message to all recipients. Rejected credentials are
// reported as *transport.AuthError, any other failure as *transport.Error.
func (s *Sender) Send(ctx context.Context, m transport.Mail) error {
	server := s.Endpoint.Address()

	hdr, body, err := transport.ComposeParts(m, s.Hostname)
	if err != nil {
		return transport.Wrap(server, "compose", err)
	}

	c := s.conn()
	if _, err := c.Connect(ctx, s.Endpoint, s.TLSMode); err != nil {
		return s.classify(server, "connect", err)
	}

	if s.Username != "" {
		if err := c.Auth(ctx, s.Username, s.Password); err != nil {
			c.DirectClose()
			return s.classify(server, "auth", err)
		}
	}

	if err := c.Mail(ctx, m.From); err != nil {
		c.DirectClose()
		return s.classify(server, "mail", err)
	}
	for _, rcpt := range m.To {
		if err := c.Rcpt(ctx, rcpt); err != nil {
			c.DirectClose()
			return s.classify(server, "rcpt", err)
		}
	}
	if err := c.Data(ctx, hdr, body); err != nil {
		c.DirectClose()
		return s.classify(server, "data", err)
	}

	// Message is accepted at this point, QUIT errors are only logged.
	c.Close()

	s.Log.DebugMsg("message submitted", "remote_server", server, "rcpts", len(m.To))
	return nil
}

func (s *Sender) classify(server, op string, err error) error {
	var smtpErr *smtpconn.SMTPError
	if errors.As(err, &smtpErr) && smtpErr.IsAuthFailure() {
		return &transport.AuthError{Server: server, Err: smtpErr}
	}
	var authErr smtpconn.AuthError
	if errors.As(err, &authErr) {
		return &transport.AuthError{Server: server, Err: authErr}
	}
	return transport.Wrap(server, op, err)
}
