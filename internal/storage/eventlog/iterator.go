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
	"database/sql"

	"github.com/smailer/smailer/internal/event"
)

// Iterator lazily walks over a query result.
//
// The whole walk happens inside a single transaction, so a concurrent writer
// does not change what the iterator returns. Close must be called on all
// paths, including early exits. It is safe to call Close multiple times.
type Iterator struct {
	tx   *sql.Tx
	rows *sql.Rows
	cur  *event.Event
	err  error
}

func (s *Store) query(ctx context.Context, op, query string, args ...interface{}) (*Iterator, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr(op, err)
	}
	rows, err := tx.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		tx.Rollback()
		return nil, storageErr(op, err)
	}
	return &Iterator{tx: tx, rows: rows}, nil
}

// Next advances the iterator. It returns false when there are no more events
// or an error happened, see Err.
func (it *Iterator) Next() bool {
	if it.rows == nil || it.err != nil {
		return false
	}
	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			it.err = storageErr("iterate", err)
		}
		return false
	}
	ev, err := scanEvent(it.rows)
	if err != nil {
		it.err = storageErr("iterate", err)
		return false
	}
	it.cur = ev
	return true
}

// Event returns the event loaded by the last Next call.
func (it *Iterator) Event() *event.Event {
	return it.cur
}

func (it *Iterator) Err() error {
	return it.err
}

func (it *Iterator) Close() error {
	if it.rows == nil {
		return nil
	}
	rowsErr := it.rows.Close()
	it.rows = nil
	// Nothing was written, there is nothing to commit.
	txErr := it.tx.Rollback()
	if rowsErr != nil {
		return storageErr("close", rowsErr)
	}
	if txErr != nil && txErr != sql.ErrTxDone {
		return storageErr("close", txErr)
	}
	return nil
}

// Collect reads at most limit events (all if limit <= 0) and closes the
// iterator.
func (it *Iterator) Collect(limit int) ([]*event.Event, error) {
	defer it.Close()

	var res []*event.Event
	for it.Next() {
		res = append(res, it.Event())
		if limit > 0 && len(res) >= limit {
			break
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return res, it.Close()
}
