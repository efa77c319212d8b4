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

package testutils

import (
	"context"
	"strings"
	"sync"

	"github.com/smailer/smailer/internal/transport"
)

// Transport is a transport.Sender recording sent mail. Send fails with Err
// if it is set.
type Transport struct {
	mu   sync.Mutex
	err  error
	sent []transport.Mail
}

func (t *Transport) Send(_ context.Context, m transport.Mail) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.sent = append(t.sent, m)
	return nil
}

func (t *Transport) SetErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
}

func (t *Transport) Sent() []transport.Mail {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]transport.Mail(nil), t.sent...)
}

// Inbox is an in-memory transport.Inbox. Messages are unread until
// MarkRead is called, trashed messages disappear from List.
type Inbox struct {
	mu      sync.Mutex
	msgs    []transport.Message
	read    map[uint32]bool
	trashed map[uint32]bool
	nextUID uint32
}

// Add appends the message and returns its UID.
func (in *Inbox) Add(m transport.Message) uint32 {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.nextUID++
	m.UID = in.nextUID
	in.msgs = append(in.msgs, m)
	return m.UID
}

func (in *Inbox) List(_ context.Context, query string) ([]transport.Message, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	var res []transport.Message
	for _, m := range in.msgs {
		if in.read[m.UID] || in.trashed[m.UID] {
			continue
		}
		if query != "" && !containsFold(m.Subject, query) {
			continue
		}
		res = append(res, m)
	}
	return res, nil
}

func (in *Inbox) MarkRead(_ context.Context, m transport.Message) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.read == nil {
		in.read = make(map[uint32]bool)
	}
	in.read[m.UID] = true
	return nil
}

func (in *Inbox) Trash(_ context.Context, m transport.Message) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.trashed == nil {
		in.trashed = make(map[uint32]bool)
	}
	in.trashed[m.UID] = true
	return nil
}

func (in *Inbox) IsRead(uid uint32) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.read[uid]
}

func (in *Inbox) IsTrashed(uid uint32) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.trashed[uid]
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
