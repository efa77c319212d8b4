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

/*
Package eventlog implements the durable event store.

Events are kept in a single SQL table and returned most recent first
(start_time DESC, id DESC). The store is bounded: after every Put it checks
how long ago the last purge happened and, once the purge period has passed,
deletes the oldest rows beyond the configured capacity.

Supported drivers are "sqlite3" (cgo, mattn/go-sqlite3), "sqlite" (pure Go,
modernc.org/sqlite) and "postgres" (lib/pq).
*/
package eventlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/smailer/smailer/framework/log"
	"github.com/smailer/smailer/internal/event"
	_ "github.com/lib/pq"
)

const (
	DefaultCapacity    = 10000
	DefaultPurgePeriod = 7 * 24 * time.Hour

	keyLastPurge    = "last_purge"
	keyLastLocation = "last_location"
)

// ErrMemoryDatabase is returned by Open for in-memory SQLite databases.
// Every pooled connection to such a database sees its own empty copy.
var ErrMemoryDatabase = errors.New("in-memory SQLite database is not supported")

// IsMemoryDSN reports whether dsn names an in-memory SQLite database.
func IsMemoryDSN(dsn string) bool {
	return dsn == ":memory:" ||
		strings.HasPrefix(dsn, "file::memory:") ||
		strings.Contains(dsn, "mode=memory")
}

// StorageError is returned by all Store methods on failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "eventlog: " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Fields() map[string]interface{} {
	return map[string]interface{}{"storage_op": e.Op}
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

type Options struct {
	// Maximum amount of events kept after purge.
	Capacity int
	// Minimal interval between purges.
	PurgePeriod time.Duration
	// Clock used for purge bookkeeping. time.Now if nil.
	Clock func() time.Time

	Log log.Logger
}

type Store struct {
	db      *sql.DB
	dialect dialect
	opts    Options
	log     log.Logger
}

// Open opens the database and creates the schema if necessary.
//
// For sqlite drivers dsn may be a plain file path, WAL mode and busy timeout
// are enabled in this case.
func Open(driver, dsn string, opts Options) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	if d.sqlite && IsMemoryDSN(dsn) {
		return nil, storageErr("open", ErrMemoryDatabase)
	}
	if d.sqlite && !strings.Contains(dsn, "?") && !strings.HasPrefix(dsn, "file:") {
		dsn = SQLiteDSN(dsn)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, storageErr("open", err)
	}

	s, err := New(db, driver, opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already opened database handle.
func New(db *sql.DB, driver string, opts Options) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.PurgePeriod <= 0 {
		opts.PurgePeriod = DefaultPurgePeriod
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Log.Name == "" {
		opts.Log.Name = "eventlog"
	}

	s := &Store{db: db, dialect: d, opts: opts, log: opts.Log}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	if err := s.db.Ping(); err != nil {
		return storageErr("ping", err)
	}
	for _, q := range s.dialect.schema() {
		if _, err := s.db.Exec(q); err != nil {
			return storageErr("init schema", err)
		}
	}
	return nil
}

// DB returns the underlying database handle so other tables (settings) can
// live in the same database.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Driver returns the name of the database/sql driver in use.
func (s *Store) Driver() string {
	return s.dialect.driver
}

func (s *Store) Close() error {
	return s.db.Close()
}

const eventColumns = `id, phone, incoming, start_time, end_time, missed, sms, text, lat, lon, details, state`

// Put stores the event.
//
// If a PENDING row with the same phone and start time exists, it is
// updated in place, so repeated failed send attempts do not create
// duplicates. Otherwise a new row is inserted and ev.ID is set.
func (s *Store) Put(ctx context.Context, ev *event.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("put", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT id FROM events WHERE phone = ? AND start_time = ? AND state = ? ORDER BY id DESC LIMIT 1`),
		ev.Phone, ev.StartTime, int(event.StatePending)).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if ev.ID != 0 {
			// The event came from the store, but it is not pending anymore.
			var exists int
			err := tx.QueryRowContext(ctx, s.dialect.rebind(`SELECT 1 FROM events WHERE id = ?`), ev.ID).Scan(&exists)
			if err == nil {
				id = ev.ID
				break
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return storageErr("put", err)
			}
		}
	case err != nil:
		return storageErr("put", err)
	}

	args := eventArgs(ev)
	if id != 0 {
		_, err = tx.ExecContext(ctx, s.dialect.rebind(`UPDATE events SET
			phone = ?, incoming = ?, start_time = ?, end_time = ?, missed = ?, sms = ?,
			text = ?, lat = ?, lon = ?, details = ?, state = ?
			WHERE id = ?`), append(args, id)...)
		if err != nil {
			return storageErr("put", err)
		}
	} else {
		err = tx.QueryRowContext(ctx, s.dialect.rebind(`INSERT INTO events
			(phone, incoming, start_time, end_time, missed, sms, text, lat, lon, details, state)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`), args...).Scan(&id)
		if err != nil {
			return storageErr("put", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("put", err)
	}
	ev.ID = id

	if _, err := s.Purge(ctx); err != nil {
		return err
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func eventArgs(ev *event.Event) []interface{} {
	var (
		endTime sql.NullInt64
		text    sql.NullString
		lat     sql.NullFloat64
		lon     sql.NullFloat64
		details sql.NullString
	)
	if ev.EndTime != nil {
		endTime = sql.NullInt64{Int64: *ev.EndTime, Valid: true}
	}
	if ev.Text != nil {
		text = sql.NullString{String: *ev.Text, Valid: true}
	}
	if ev.Location != nil {
		lat = sql.NullFloat64{Float64: ev.Location.Latitude, Valid: true}
		lon = sql.NullFloat64{Float64: ev.Location.Longitude, Valid: true}
	}
	if ev.Details != nil {
		details = sql.NullString{String: *ev.Details, Valid: true}
	}
	return []interface{}{
		ev.Phone, boolInt(ev.Incoming), ev.StartTime, endTime, boolInt(ev.Missed), boolInt(ev.SMS),
		text, lat, lon, details, int(ev.State),
	}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row scanner) (*event.Event, error) {
	var (
		ev                   event.Event
		incoming, missed, sm int
		state                int
		endTime              sql.NullInt64
		text, details        sql.NullString
		lat, lon             sql.NullFloat64
	)
	if err := row.Scan(&ev.ID, &ev.Phone, &incoming, &ev.StartTime, &endTime, &missed, &sm,
		&text, &lat, &lon, &details, &state); err != nil {
		return nil, err
	}
	ev.Incoming = incoming != 0
	ev.Missed = missed != 0
	ev.SMS = sm != 0
	ev.State = event.State(state)
	if endTime.Valid {
		v := endTime.Int64
		ev.EndTime = &v
	}
	if text.Valid {
		v := text.String
		ev.Text = &v
	}
	if lat.Valid && lon.Valid {
		ev.Location = &event.GeoCoordinates{Latitude: lat.Float64, Longitude: lon.Float64}
	}
	if details.Valid {
		v := details.String
		ev.Details = &v
	}
	return &ev, nil
}

// Get returns the event with the specified row id. Returned error wraps
// sql.ErrNoRows if there is no such event.
func (s *Store) Get(ctx context.Context, id int64) (*event.Event, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT `+eventColumns+` FROM events WHERE id = ?`), id)
	ev, err := scanEvent(row)
	if err != nil {
		return nil, storageErr("get", err)
	}
	return ev, nil
}

// All returns all stored events, most recent first.
func (s *Store) All(ctx context.Context) (*Iterator, error) {
	return s.query(ctx, "all", `SELECT `+eventColumns+` FROM events ORDER BY start_time DESC, id DESC`)
}

// Pending returns events not delivered yet, most recent first.
func (s *Store) Pending(ctx context.Context) (*Iterator, error) {
	return s.query(ctx, "pending", `SELECT `+eventColumns+` FROM events WHERE state = ? ORDER BY start_time DESC, id DESC`,
		int(event.StatePending))
}

// Count returns the amount of stored events, only pending ones if
// onlyPending is set.
func (s *Store) Count(ctx context.Context, onlyPending bool) (int, error) {
	var (
		n   int
		err error
	)
	if onlyPending {
		err = s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT COUNT(*) FROM events WHERE state = ?`),
			int(event.StatePending)).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	}
	if err != nil {
		return 0, storageErr("count", err)
	}
	return n, nil
}

// Clear deletes all events.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM events`)
	return storageErr("clear", err)
}

// Purge deletes the oldest events beyond capacity if the purge period has
// passed since the last purge. It returns the amount of deleted rows.
func (s *Store) Purge(ctx context.Context) (int, error) {
	now := s.opts.Clock()

	lastStr, ok, err := s.getKV(ctx, keyLastPurge)
	if err != nil {
		return 0, storageErr("purge", err)
	}
	if ok {
		lastMs, err := strconv.ParseInt(lastStr, 10, 64)
		if err == nil && now.Sub(time.UnixMilli(lastMs)) < s.opts.PurgePeriod {
			return 0, nil
		}
	}

	deleted, err := s.Trim(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.setKV(ctx, keyLastPurge, strconv.FormatInt(now.UnixMilli(), 10)); err != nil {
		return deleted, storageErr("purge", err)
	}
	if deleted != 0 {
		s.log.Msg("purged old events", "deleted", deleted, "capacity", s.opts.Capacity)
	}
	return deleted, nil
}

// Trim unconditionally deletes the oldest events beyond capacity.
func (s *Store) Trim(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(s.dialect.trimQuery()), s.opts.Capacity)
	if err != nil {
		return 0, storageErr("trim", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("trim", err)
	}
	return int(n), nil
}

// SaveLastLocation stores the last known location independently of the
// event log.
func (s *Store) SaveLastLocation(ctx context.Context, loc event.GeoCoordinates) error {
	val := strconv.FormatFloat(loc.Latitude, 'g', -1, 64) + "," + strconv.FormatFloat(loc.Longitude, 'g', -1, 64)
	return storageErr("save location", s.setKV(ctx, keyLastLocation, val))
}

// LastLocation returns the location saved by SaveLastLocation, nil if there
// is none.
func (s *Store) LastLocation(ctx context.Context) (*event.GeoCoordinates, error) {
	val, ok, err := s.getKV(ctx, keyLastLocation)
	if err != nil {
		return nil, storageErr("get location", err)
	}
	if !ok {
		return nil, nil
	}

	parts := strings.SplitN(val, ",", 2)
	if len(parts) != 2 {
		return nil, storageErr("get location", fmt.Errorf("malformed value %q", val))
	}
	lat, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return nil, storageErr("get location", err)
	}
	lon, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return nil, storageErr("get location", err)
	}
	return &event.GeoCoordinates{Latitude: lat, Longitude: lon}, nil
}

func (s *Store) getKV(ctx context.Context, key string) (string, bool, error) {
	var val string
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT value FROM kv WHERE key = ?`), key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *Store) setKV(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT (key) DO UPDATE SET value = excluded.value`),
		key, value)
	return err
}
