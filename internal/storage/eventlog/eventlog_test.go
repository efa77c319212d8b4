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

package eventlog

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/smailer/smailer/internal/event"
	"github.com/smailer/smailer/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func openTestStore(t *testing.T, capacity int) (*Store, *fakeClock) {
	t.Helper()

	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s, err := Open(DefaultDriver, filepath.Join(t.TempDir(), "events.db"), Options{
		Capacity:    capacity,
		PurgePeriod: time.Hour,
		Clock:       clock.Now,
		Log:         testutils.Logger(t, "eventlog"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func collect(t *testing.T, it *Iterator, err error) []*event.Event {
	t.Helper()
	require.NoError(t, err)
	evs, err := it.Collect(0)
	require.NoError(t, err)
	return evs
}

func smsEvent(phone string, start int64, text string) *event.Event {
	return &event.Event{Phone: phone, StartTime: start, SMS: true, Incoming: true, Text: &text}
}

func TestPutIsIdempotent(t *testing.T) {
	s, _ := openTestStore(t, 100)
	ctx := context.Background()

	ev := smsEvent("+100", 1000, "hello")
	require.NoError(t, s.Put(ctx, ev))
	firstID := ev.ID
	require.NotZero(t, firstID)

	again := smsEvent("+100", 1000, "hello")
	again.SetDetails("connection refused")
	require.NoError(t, s.Put(ctx, again))
	assert.Equal(t, firstID, again.ID)

	n, err := s.Count(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := s.Get(ctx, firstID)
	require.NoError(t, err)
	require.NotNil(t, stored.Details)
	assert.Equal(t, "connection refused", *stored.Details)
	assert.Equal(t, "hello", stored.TextOrEmpty())
}

func TestPutUpdatesStateByID(t *testing.T) {
	s, _ := openTestStore(t, 100)
	ctx := context.Background()

	ev := smsEvent("+100", 1000, "hello")
	require.NoError(t, s.Put(ctx, ev))

	ev.State = event.StateProcessed
	require.NoError(t, s.Put(ctx, ev))

	// Not pending anymore, but known by id.
	ev.SetDetails("resent")
	require.NoError(t, s.Put(ctx, ev))

	n, err := s.Count(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.Count(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDescendingOrder(t *testing.T) {
	s, _ := openTestStore(t, 100)
	ctx := context.Background()

	for _, start := range []int64{3000, 1000, 5000, 3000, 2000} {
		require.NoError(t, s.Put(ctx, &event.Event{Phone: "+1" + time.UnixMilli(start).Format("150405.000"), StartTime: start, Missed: true}))
	}
	// Same natural key as an existing row but a different phone: a new row
	// with an equal timestamp.
	tie := &event.Event{Phone: "+999", StartTime: 3000, Missed: true}
	require.NoError(t, s.Put(ctx, tie))

	it, err := s.All(ctx)
	evs := collect(t, it, err)
	require.Len(t, evs, 5)

	for i := 1; i < len(evs); i++ {
		prev, cur := evs[i-1], evs[i]
		require.GreaterOrEqual(t, prev.StartTime, cur.StartTime)
		if prev.StartTime == cur.StartTime {
			assert.Greater(t, prev.ID, cur.ID, "ties must be ordered by insertion, newest first")
		}
	}
	assert.Equal(t, int64(5000), evs[0].StartTime)
	assert.Equal(t, tie.ID, evs[1].ID)
}

func TestPendingOnly(t *testing.T) {
	s, _ := openTestStore(t, 100)
	ctx := context.Background()

	for i, state := range []event.State{event.StatePending, event.StateProcessed, event.StateIgnored, event.StatePending} {
		ev := smsEvent("+100", int64(1000+i), "x")
		ev.State = state
		require.NoError(t, s.Put(ctx, ev))
	}

	it, err := s.Pending(ctx)
	evs := collect(t, it, err)
	require.Len(t, evs, 2)
	assert.Equal(t, int64(1003), evs[0].StartTime)
	assert.Equal(t, int64(1000), evs[1].StartTime)
	for _, ev := range evs {
		assert.Equal(t, event.StatePending, ev.State)
	}
}

func TestPurgeKeepsNewest(t *testing.T) {
	s, clock := openTestStore(t, 5)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		require.NoError(t, s.Put(ctx, smsEvent("+100", int64(1000+i), "x")))
	}

	// The first Put purged and started the period, nothing else happened yet.
	n, err := s.Count(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	deleted, err := s.Purge(ctx)
	require.NoError(t, err)
	assert.Zero(t, deleted, "purge period has not passed")

	clock.Advance(2 * time.Hour)
	deleted, err = s.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, deleted)

	it, err := s.All(ctx)
	evs := collect(t, it, err)
	require.Len(t, evs, 5)
	assert.Equal(t, int64(1011), evs[0].StartTime)
	assert.Equal(t, int64(1007), evs[4].StartTime)
}

func TestClear(t *testing.T) {
	s, _ := openTestStore(t, 100)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, smsEvent("+100", 1, "x")))
	require.NoError(t, s.Clear(ctx))
	n, err := s.Count(ctx, false)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLastLocation(t *testing.T) {
	s, _ := openTestStore(t, 100)
	ctx := context.Background()

	loc, err := s.LastLocation(ctx)
	require.NoError(t, err)
	assert.Nil(t, loc)

	require.NoError(t, s.SaveLastLocation(ctx, event.GeoCoordinates{Latitude: 55.75, Longitude: 37.61}))
	require.NoError(t, s.SaveLastLocation(ctx, event.GeoCoordinates{Latitude: 59.93, Longitude: 30.33}))

	loc, err = s.LastLocation(ctx)
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, event.GeoCoordinates{Latitude: 59.93, Longitude: 30.33}, *loc)
}

func TestRoundTripFields(t *testing.T) {
	s, _ := openTestStore(t, 100)
	ctx := context.Background()

	end := int64(65000)
	ev := &event.Event{
		Phone:     "+7 905 000",
		Incoming:  true,
		StartTime: 1000,
		EndTime:   &end,
		Location:  &event.GeoCoordinates{Latitude: 1.5, Longitude: -2.25},
	}
	require.NoError(t, s.Put(ctx, ev))

	got, err := s.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, ev, got)
}

func TestIteratorEarlyClose(t *testing.T) {
	s, _ := openTestStore(t, 100)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Put(ctx, smsEvent("+100", int64(i+1), "x")))
	}

	it, err := s.All(ctx)
	require.NoError(t, err)
	require.True(t, it.Next())
	require.NoError(t, it.Close())
	require.NoError(t, it.Close())
	assert.False(t, it.Next())

	// Writes are not blocked by the released iterator.
	require.NoError(t, s.Put(ctx, smsEvent("+100", 10, "x")))
}

func TestRebind(t *testing.T) {
	d, err := dialectFor("postgres")
	require.NoError(t, err)
	assert.Equal(t, "SELECT a FROM t WHERE b = $1 AND c = $2", d.rebind("SELECT a FROM t WHERE b = ? AND c = ?"))

	d, err = dialectFor("sqlite3")
	require.NoError(t, err)
	assert.Equal(t, "SELECT ?", d.rebind("SELECT ?"))

	_, err = dialectFor("mysql")
	assert.Error(t, err)
}

func TestOpenRejectsMemoryDatabase(t *testing.T) {
	for _, dsn := range []string{":memory:", "file::memory:?cache=shared", "file:events?mode=memory"} {
		_, err := Open(DefaultDriver, dsn, Options{})
		require.Error(t, err, dsn)
		assert.ErrorIs(t, err, ErrMemoryDatabase, dsn)

		var storeErr *StorageError
		assert.ErrorAs(t, err, &storeErr, dsn)
	}
	assert.False(t, IsMemoryDSN("events.db"))
}
