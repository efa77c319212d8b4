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

package remote

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smailer/smailer/internal/notify"
	"github.com/smailer/smailer/internal/relay"
	"github.com/smailer/smailer/internal/rules"
	"github.com/smailer/smailer/internal/settings"
	"github.com/smailer/smailer/internal/testutils"
	"github.com/smailer/smailer/internal/transport"
)

type sentSMS struct{ phone, text string }

type fakeSMS struct {
	mu   sync.Mutex
	sent []sentSMS
}

func (f *fakeSMS) SendSMS(_ context.Context, phone, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentSMS{phone, text})
	return nil
}

// brokenStore fails all writes while broken is set.
type brokenStore struct {
	*settings.Static
	mu     sync.Mutex
	broken bool
}

func (s *brokenStore) setBroken(b bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broken = b
}

func (s *brokenStore) SetKey(ctx context.Context, key, value string) error {
	s.mu.Lock()
	broken := s.broken
	s.mu.Unlock()
	if broken {
		return errors.New("disk full")
	}
	return s.Static.SetKey(ctx, key, value)
}

type testEnv struct {
	e       *Executor
	inbox   *testutils.Inbox
	repo    *rules.Repository
	sms     *fakeSMS
	tracker *notify.Tracker
}

func newTestEnv(t *testing.T) *testEnv {
	kv := settings.NewStatic(nil)
	env := &testEnv{
		inbox:   &testutils.Inbox{},
		repo:    rules.NewRepository(kv),
		sms:     &fakeSMS{},
		tracker: notify.NewTracker(testutils.Logger(t, "notify")),
	}
	env.e = &Executor{
		Inbox:    env.inbox,
		Rules:    env.repo,
		SMS:      env.sms,
		Notify:   env.tracker,
		Settings: kv,
		Profile: relay.Profile{
			Delivery:   relay.Delivery{Recipients: []string{"me@example.org"}},
			DeviceName: "Phone",
		},
		Query:         "[SMAILER]",
		FilterSenders: true,
		NotifyActions: true,
		Log:           testutils.Logger(t, "remote"),
	}
	return env
}

func reply(body string) transport.Message {
	return transport.Message{
		From:    "Me <me@example.org>",
		Subject: "Re: [SMAILER] Incoming SMS from +70123456789",
		Body:    body,
	}
}

func TestAddPhoneRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	body := `To device "Phone": add phone +7905-09441 to blacklist`
	uid1 := env.inbox.Add(reply(body))
	uid2 := env.inbox.Add(reply(body))

	handled, err := env.e.HandleInbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, handled)

	r, err := env.repo.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"+7905-09441"}, r.PhoneBlacklist.Items())

	for _, uid := range []uint32{uid1, uid2} {
		assert.True(t, env.inbox.IsRead(uid))
		assert.True(t, env.inbox.IsTrashed(uid))
	}

	// Only the change is reported.
	actions := env.tracker.RemoteActions()
	require.Len(t, actions, 1)
	assert.Equal(t, "add_phone_to_blacklist", actions[0].Action)
	assert.Equal(t, "+7905-09441", actions[0].Value)
}

func TestRemoveText(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.repo.Add(context.Background(), rules.TextWhitelist, "code")
	require.NoError(t, err)

	env.inbox.Add(reply(`device "Phone" remove text "code" from whitelist`))
	env.inbox.Add(reply(`device "Phone" remove text "absent" from whitelist`))
	handled, err := env.e.HandleInbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, handled)

	r, err := env.repo.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, r.TextWhitelist.Empty())
}

func TestOtherDevice(t *testing.T) {
	env := newTestEnv(t)
	uid := env.inbox.Add(reply(`device "Tablet" add phone 1 to blacklist`))

	handled, err := env.e.HandleInbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, handled)
	assert.False(t, env.inbox.IsRead(uid))
	assert.False(t, env.inbox.IsTrashed(uid))

	r, err := env.repo.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, r.PhoneBlacklist.Empty())
}

func TestAcceptorCaseInsensitive(t *testing.T) {
	env := newTestEnv(t)
	env.inbox.Add(reply(`device "PHONE" add phone 1 to whitelist`))

	handled, err := env.e.HandleInbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, handled)
}

func TestSenderFilter(t *testing.T) {
	env := newTestEnv(t)
	m := reply(`device "Phone" add phone 1 to blacklist`)
	m.From = "stranger@example.com"
	uid := env.inbox.Add(m)

	m = reply(`device "Phone" add phone 2 to blacklist`)
	m.From = `"Me" <M.E@Example.org>`
	env.inbox.Add(m)

	handled, err := env.e.HandleInbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, handled)
	assert.False(t, env.inbox.IsRead(uid))

	r, err := env.repo.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, r.PhoneBlacklist.Items())

	env.e.FilterSenders = false
	handled, err = env.e.HandleInbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, handled)
}

func TestSendSMS(t *testing.T) {
	env := newTestEnv(t)
	env.inbox.Add(reply(`device "Phone" send sms "Call you later"`))
	env.inbox.Add(reply(`device "Phone" send sms "Hi" to +1 555 0100`))
	env.inbox.Add(reply(`device "Phone" send sms`))

	handled, err := env.e.HandleInbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, handled)
	assert.Equal(t, []sentSMS{
		{"+70123456789", "Call you later"},
		{"+1 555 0100", "Hi"},
	}, env.sms.sent)
}

func TestNotACommand(t *testing.T) {
	env := newTestEnv(t)
	uid := env.inbox.Add(reply(`device "Phone" thanks for the update`))
	other := env.inbox.Add(transport.Message{From: "me@example.org", Subject: "Unrelated", Body: `device "Phone" add phone 1 to blacklist`})

	handled, err := env.e.HandleInbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, handled)
	assert.True(t, env.inbox.IsTrashed(uid))
	assert.False(t, env.inbox.IsRead(other))
	assert.Empty(t, env.tracker.RemoteActions())
}

func TestDeviceNameFromSettings(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.e.Settings.SetKey(context.Background(), relay.KeyDeviceName, "Work"))
	env.inbox.Add(reply(`device "Phone" add phone 1 to blacklist`))
	env.inbox.Add(reply(`device "Work" add phone 2 to blacklist`))

	handled, err := env.e.HandleInbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, handled)
}

func TestFailedCommandStaysUnread(t *testing.T) {
	env := newTestEnv(t)
	kv := &brokenStore{Static: settings.NewStatic(nil), broken: true}
	env.repo = rules.NewRepository(kv)
	env.e.Rules = env.repo

	uid := env.inbox.Add(reply(`device "Phone" add phone +100 to blacklist`))
	_, err := env.e.HandleInbox(context.Background())
	require.Error(t, err)
	assert.False(t, env.inbox.IsRead(uid))
	assert.False(t, env.inbox.IsTrashed(uid))

	// The next poll picks the command up again.
	kv.setBroken(false)
	handled, err := env.e.HandleInbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, handled)
	assert.True(t, env.inbox.IsRead(uid))
	assert.True(t, env.inbox.IsTrashed(uid))

	r, err := env.repo.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"+100"}, r.PhoneBlacklist.Items())
}
