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

// The package smtpconn implements the wrapper over the SMTP client connection
// (go-smtp.Client) used to submit notifications.
//
// The following features are added on top of go-smtp:
// - Connect, command and submission timeouts.
// - Implicit TLS, STARTTLS (required or opportunistic) and plaintext modes.
// - AUTH PLAIN using go-sasl.
// - Logging of QUIT errors and annotation of errors with the server name.
package smtpconn

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/emersion/go-message/textproto"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/smailer/smailer/framework/config"
	"github.com/smailer/smailer/framework/exterrors"
	"github.com/smailer/smailer/framework/log"
)

// TLSMode specifies how a plaintext endpoint is upgraded.
type TLSMode int

const (
	// TLSOpportunistic uses STARTTLS if the server supports it.
	TLSOpportunistic TLSMode = iota
	// TLSRequired fails if STARTTLS is not supported.
	TLSRequired
	// TLSNone never uses STARTTLS.
	TLSNone
)

// The C object represents the SMTP connection.
//
// Currently, the C object represents one session and cannot be reused.
type C struct {
	// Dialer to use to estabilish new network connections. Set to net.Dialer
	// DialContext by New.
	Dialer func(ctx context.Context, network, addr string) (net.Conn, error)

	// Timeout for most session commands (EHLO, AUTH, MAIL, RCPT, DATA,
	// STARTTLS). Set to 1 min by New.
	CommandTimeout time.Duration

	// Timeout for the initial TCP connection establishment.
	ConnectTimeout time.Duration

	// Timeout for the final dot. Set to 5 mins by New.
	SubmissionTimeout time.Duration

	// Hostname to sent in the EHLO/HELO command. Set to
	// 'localhost.localdomain' by New. Expected to be encoded in ACE form.
	Hostname string

	// tls.Config to use. Can be nil if no special changes are required.
	TLSConfig *tls.Config

	// Logger to use for debug log and certain errors.
	Log log.Logger

	serverName string
	cl         *smtp.Client
	rcpts      []string
}

// New creates the new instance of the C object, populating the required fields
// with resonable default values.
func New() *C {
	return &C{
		Dialer:            (&net.Dialer{}).DialContext,
		ConnectTimeout:    30 * time.Second,
		CommandTimeout:    1 * time.Minute,
		SubmissionTimeout: 5 * time.Minute,
		TLSConfig:         &tls.Config{},
		Hostname:          "localhost.localdomain",
	}
}

// SMTPError annotates a negative server reply.
type SMTPError struct {
	Code         int
	EnhancedCode smtp.EnhancedCode
	Message      string
	Server       string
	Err          error
}

func (err *SMTPError) Error() string {
	return fmt.Sprintf("%s said: %d %s", err.Server, err.Code, err.Message)
}

func (err *SMTPError) Unwrap() error {
	return err.Err
}

func (err *SMTPError) Fields() map[string]interface{} {
	return map[string]interface{}{
		"smtp_code":     err.Code,
		"smtp_enchcode": fmt.Sprintf("%d.%d.%d", err.EnhancedCode[0], err.EnhancedCode[1], err.EnhancedCode[2]),
		"smtp_msg":      err.Message,
		"remote_server": err.Server,
	}
}

// IsAuthFailure reports whether the reply code means the credentials were
// rejected or authentication is required.
func (err *SMTPError) IsAuthFailure() bool {
	switch err.Code {
	case 530, 534, 535:
		return true
	}
	return false
}

// AuthError is returned by Auth when authentication cannot be performed.
type AuthError struct {
	Err error
}

func (err AuthError) Error() string {
	return "smtpconn: auth: " + err.Err.Error()
}

func (err AuthError) Unwrap() error {
	return err.Err
}

func (c *C) wrapClientErr(err error, serverName string) error {
	if err == nil {
		return nil
	}

	switch err := err.(type) {
	case TLSError, AuthError, *SMTPError:
		return err
	case *smtp.SMTPError:
		return &SMTPError{
			Code:         err.Code,
			EnhancedCode: err.EnhancedCode,
			Message:      err.Message,
			Server:       serverName,
			Err:          err,
		}
	case *net.OpError:
		return exterrors.WithTemporary(exterrors.WithFields(err, map[string]interface{}{
			"remote_server": serverName,
			"io_op":         err.Op,
		}), true)
	default:
		return exterrors.WithFields(err, map[string]interface{}{
			"remote_server": serverName,
		})
	}
}

// TLSError is returned by Connect to indicate the error during STARTTLS
// command execution.
//
// If the endpoint uses Implicit TLS, TLS errors are threated as connection
// errors and thus are not returned as TLSError.
type TLSError struct {
	Err error
}

func (err TLSError) Error() string {
	return "smtpconn: " + err.Err.Error()
}

func (err TLSError) Unwrap() error {
	return err.Err
}

// Connect actually estabilishes the network connection with the remote host,
// executes HELO/EHLO and optionally STARTTLS command.
func (c *C) Connect(ctx context.Context, endp config.Endpoint, mode TLSMode) (didTLS bool, err error) {
	didTLS, cl, err := c.attemptConnect(ctx, endp, mode)
	if err != nil {
		return false, c.wrapClientErr(err, endp.Host)
	}

	c.serverName = endp.Host
	c.cl = cl
	return didTLS, nil
}

func (c *C) tlsConfig(serverName string) *tls.Config {
	var cfg *tls.Config
	if c.TLSConfig != nil {
		cfg = c.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = serverName
	}
	return cfg
}

func (c *C) attemptConnect(ctx context.Context, endp config.Endpoint, mode TLSMode) (didTLS bool, cl *smtp.Client, err error) {
	var conn net.Conn

	dialCtx, cancel := context.WithTimeout(ctx, c.ConnectTimeout)
	conn, err = c.Dialer(dialCtx, endp.Network(), endp.Address())
	cancel()
	if err != nil {
		return false, nil, err
	}

	if endp.IsTLS() {
		conn = tls.Client(conn, c.tlsConfig(endp.Host))
	}

	// Greeting is subject to the command timeout too.
	conn.SetDeadline(time.Now().Add(c.CommandTimeout))
	cl, err = smtp.NewClient(conn, endp.Host)
	if err != nil {
		conn.Close()
		return false, nil, err
	}
	conn.SetDeadline(time.Time{})

	cl.CommandTimeout = c.CommandTimeout
	cl.SubmissionTimeout = c.SubmissionTimeout

	// i18n: hostname is already expected to be in A-labels form.
	if err := cl.Hello(c.Hostname); err != nil {
		cl.Close()
		return false, nil, err
	}

	if endp.IsTLS() || mode == TLSNone {
		return endp.IsTLS(), cl, nil
	}

	if ok, _ := cl.Extension("STARTTLS"); !ok {
		if mode == TLSRequired {
			cl.Close()
			return false, nil, TLSError{errors.New("STARTTLS is not supported by the server")}
		}
		return false, cl, nil
	}

	if err := cl.StartTLS(c.tlsConfig(endp.Host)); err != nil {
		// After the handshake failure, the connection may be in a bad state.
		// We attempt to send the proper QUIT command though, in case the error happened
		// *after* the handshake (e.g. PKI verification fail), we don't log the error in
		// this case though.
		if err := cl.Quit(); err != nil {
			cl.Close()
		}

		return false, nil, TLSError{err}
	}

	return true, cl, nil
}

// Auth authenticates using AUTH PLAIN.
func (c *C) Auth(ctx context.Context, username, password string) error {
	if ok, _ := c.cl.Extension("AUTH"); !ok {
		return AuthError{errors.New("server does not support AUTH")}
	}
	if err := c.cl.Auth(sasl.NewPlainClient("", username, password)); err != nil {
		var smtpErr *smtp.SMTPError
		if errors.As(err, &smtpErr) {
			return c.wrapClientErr(smtpErr, c.serverName)
		}
		return AuthError{err}
	}

	c.Log.DebugMsg("authenticated", "remote_server", c.serverName, "username", username)
	return nil
}

// Mail sends the MAIL FROM command to the remote server.
func (c *C) Mail(ctx context.Context, from string) error {
	if err := c.cl.Mail(from, &smtp.MailOptions{}); err != nil {
		return c.wrapClientErr(err, c.serverName)
	}

	c.Log.DebugMsg("sender accepted", "remote_server", c.serverName)
	return nil
}

// Rcpts returns the list of recipients that were accepted by the remote server.
func (c *C) Rcpts() []string {
	return c.rcpts
}

func (c *C) ServerName() string {
	return c.serverName
}

// Rcpt sends the RCPT TO command to the remote server.
func (c *C) Rcpt(ctx context.Context, to string) error {
	if err := c.cl.Rcpt(to); err != nil {
		return c.wrapClientErr(err, c.serverName)
	}

	c.rcpts = append(c.rcpts, to)

	return nil
}

// Data sends the DATA command to the remote server and then sends the message header
// and body.
//
// If the Data command fails, the connection may be in a unclean state (e.g. in
// the middle of message data stream). It is not safe to continue using it.
func (c *C) Data(ctx context.Context, hdr textproto.Header, body io.Reader) error {
	wc, err := c.cl.Data()
	if err != nil {
		return c.wrapClientErr(err, c.serverName)
	}

	if err := textproto.WriteHeader(wc, hdr); err != nil {
		return c.wrapClientErr(err, c.serverName)
	}

	if _, err := io.Copy(wc, body); err != nil {
		return c.wrapClientErr(err, c.serverName)
	}

	if err := wc.Close(); err != nil {
		return c.wrapClientErr(err, c.serverName)
	}

	return nil
}

// Close sends the QUIT command, if it fail - it directly closes the
// connection.
func (c *C) Close() error {
	if c.cl == nil {
		return nil
	}
	if err := c.cl.Quit(); err != nil {
		c.Log.Error("QUIT error", c.wrapClientErr(err, c.serverName))
		err := c.cl.Close()
		c.cl = nil
		return err
	}

	c.cl = nil
	c.serverName = ""

	return nil
}

// DirectClose closes the underlying connection without sending the QUIT
// command.
func (c *C) DirectClose() error {
	if c.cl == nil {
		return nil
	}
	c.cl.Close()
	c.cl = nil
	c.serverName = ""
	return nil
}
