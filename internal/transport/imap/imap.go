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

// Package imap implements transport.Inbox over IMAP4rev1.
//
// Every operation uses its own connection: dial, login, select, act, logout.
// Polling happens rarely so there is no point in keeping an idle session.
package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/commands"
	"github.com/emersion/go-imap/responses"
	"github.com/smailer/smailer/framework/config"
	"github.com/smailer/smailer/framework/log"
	"github.com/smailer/smailer/internal/transport"
)

// imapClient is the subset of *client.Client used by Inbox.
type imapClient interface {
	Login(username, password string) error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
	UidCopy(seqset *imap.SeqSet, dest string) error
	Support(cap string) (bool, error)
	Execute(cmdr imap.Commander, h responses.Handler) (*imap.StatusResp, error)
	Logout() error
}

type Inbox struct {
	Endpoint config.Endpoint
	// Use STARTTLS on plaintext endpoints if the server supports it.
	StartTLS bool
	Username string
	Password string

	// Mailbox to poll, INBOX by default.
	Mailbox string
	// If set, Trash copies messages there before deleting them.
	TrashMailbox string

	Timeout   time.Duration
	TLSConfig *tls.Config
	Log       log.Logger

	// dial is replaced in tests.
	dial func(ctx context.Context) (imapClient, error)
}

func (in *Inbox) server() string {
	return in.Endpoint.Address()
}

func (in *Inbox) mailbox() string {
	if in.Mailbox == "" {
		return imap.InboxName
	}
	return in.Mailbox
}

func (in *Inbox) tlsConfig() *tls.Config {
	var cfg *tls.Config
	if in.TLSConfig != nil {
		cfg = in.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = in.Endpoint.Host
	}
	return cfg
}

func (in *Inbox) dialClient(ctx context.Context) (imapClient, error) {
	timeout := in.Timeout
	if timeout == 0 {
		timeout = time.Minute
	}
	dialer := &dialer{ctx: ctx, timeout: timeout}

	var (
		c   *client.Client
		err error
	)
	if in.Endpoint.IsTLS() {
		c, err = client.DialWithDialerTLS(dialer, in.Endpoint.Address(), in.tlsConfig())
	} else {
		c, err = client.DialWithDialer(dialer, in.Endpoint.Address())
	}
	if err != nil {
		return nil, err
	}
	c.Timeout = timeout

	if !in.Endpoint.IsTLS() && in.StartTLS {
		ok, err := c.SupportStartTLS()
		if err != nil {
			c.Logout()
			return nil, err
		}
		if ok {
			if err := c.StartTLS(in.tlsConfig()); err != nil {
				c.Logout()
				return nil, err
			}
		}
	}
	return c, nil
}

// dialer adapts net.Dialer to the go-imap client.Dialer interface.
type dialer struct {
	ctx     context.Context
	timeout time.Duration
}

func (d *dialer) Dial(network, addr string) (net.Conn, error) {
	return (&net.Dialer{Timeout: d.timeout}).DialContext(d.ctx, network, addr)
}

// session runs fn on a logged in connection with the mailbox selected.
func (in *Inbox) session(ctx context.Context, op string, fn func(c imapClient) error) error {
	dial := in.dial
	if dial == nil {
		dial = in.dialClient
	}

	c, err := dial(ctx)
	if err != nil {
		return transport.Wrap(in.server(), op, err)
	}
	defer func() {
		if err := c.Logout(); err != nil {
			in.Log.DebugMsg("logout failed", "remote_server", in.server(), "reason", err.Error())
		}
	}()

	if err := c.Login(in.Username, in.Password); err != nil {
		return &transport.AuthError{Server: in.server(), Err: err}
	}
	if _, err := c.Select(in.mailbox(), false); err != nil {
		return transport.Wrap(in.server(), op, fmt.Errorf("select %s: %w", in.mailbox(), err))
	}

	if err := fn(c); err != nil {
		return transport.Wrap(in.server(), op, err)
	}
	return nil
}

// List returns unseen messages whose Subject contains query. Message bodies
// are fetched with BODY.PEEK so listing does not mark anything as read.
func (in *Inbox) List(ctx context.Context, query string) ([]transport.Message, error) {
	var res []transport.Message
	err := in.session(ctx, "list", func(c imapClient) error {
		criteria := imap.NewSearchCriteria()
		criteria.WithoutFlags = []string{imap.SeenFlag}
		if query != "" {
			criteria.Header.Add("Subject", query)
		}
		uids, err := c.UidSearch(criteria)
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}
		if len(uids) == 0 {
			return nil
		}

		seqset := new(imap.SeqSet)
		seqset.AddNum(uids...)
		section := &imap.BodySectionName{Peek: true}
		items := []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope, section.FetchItem()}

		ch := make(chan *imap.Message, 10)
		done := make(chan error, 1)
		go func() {
			done <- c.UidFetch(seqset, items, ch)
		}()
		for msg := range ch {
			m, err := convertMessage(msg, section)
			if err != nil {
				in.Log.Error("malformed message skipped", err, "uid", msg.Uid)
				continue
			}
			res = append(res, m)
		}
		if err := <-done; err != nil {
			return fmt.Errorf("fetch: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func uidSet(m transport.Message) *imap.SeqSet {
	seqset := new(imap.SeqSet)
	seqset.AddNum(m.UID)
	return seqset
}

func (in *Inbox) MarkRead(ctx context.Context, m transport.Message) error {
	return in.session(ctx, "mark read", func(c imapClient) error {
		item := imap.FormatFlagsOp(imap.AddFlags, true)
		return c.UidStore(uidSet(m), item, []interface{}{imap.SeenFlag}, nil)
	})
}

// Trash deletes the message, copying it to TrashMailbox first if
// configured.
//
// Only the message itself is expunged, using UID EXPUNGE (RFC 4315). On
// servers without UIDPLUS the message is left flagged as \Deleted, since a
// plain EXPUNGE removes every deleted message in the mailbox.
func (in *Inbox) Trash(ctx context.Context, m transport.Message) error {
	return in.session(ctx, "trash", func(c imapClient) error {
		if in.TrashMailbox != "" && in.TrashMailbox != in.mailbox() {
			if err := c.UidCopy(uidSet(m), in.TrashMailbox); err != nil {
				return fmt.Errorf("copy to %s: %w", in.TrashMailbox, err)
			}
		}
		item := imap.FormatFlagsOp(imap.AddFlags, true)
		if err := c.UidStore(uidSet(m), item, []interface{}{imap.DeletedFlag}, nil); err != nil {
			return err
		}

		ok, err := c.Support("UIDPLUS")
		if err != nil {
			return fmt.Errorf("capability: %w", err)
		}
		if !ok {
			in.Log.DebugMsg("no UIDPLUS, message left flagged as deleted", "remote_server", in.server(), "uid", m.UID)
			return nil
		}
		cmd := &commands.Uid{Cmd: &imap.Command{
			Name:      "EXPUNGE",
			Arguments: []interface{}{uidSet(m)},
		}}
		status, err := c.Execute(cmd, nil)
		if err != nil {
			return fmt.Errorf("uid expunge: %w", err)
		}
		return status.Err()
	})
}
