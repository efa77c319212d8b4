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
	"fmt"
	"strconv"
	"strings"
)

type dialect struct {
	driver string
	sqlite bool
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case "sqlite3", "sqlite":
		return dialect{driver: driver, sqlite: true}, nil
	case "postgres":
		return dialect{driver: driver}, nil
	}
	return dialect{}, fmt.Errorf("eventlog: unsupported driver %q", driver)
}

// rebind converts '?' placeholders into '$N' for PostgreSQL.
func (d dialect) rebind(query string) string {
	if d.sqlite {
		return query
	}

	var (
		b strings.Builder
		n int
	)
	b.Grow(len(query) + 8)
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func (d dialect) schema() []string {
	idCol := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	if !d.sqlite {
		idCol = "id BIGSERIAL PRIMARY KEY"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS events (
			` + idCol + `,
			phone TEXT NOT NULL,
			incoming INTEGER NOT NULL,
			start_time BIGINT NOT NULL,
			end_time BIGINT,
			missed INTEGER NOT NULL,
			sms INTEGER NOT NULL,
			text TEXT,
			lat DOUBLE PRECISION,
			lon DOUBLE PRECISION,
			details TEXT,
			state INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS events_natural_key ON events (phone, start_time)`,
		`CREATE INDEX IF NOT EXISTS events_order ON events (start_time, id)`,
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY NOT NULL,
			value TEXT NOT NULL
		)`,
	}
}

func (d dialect) trimQuery() string {
	limit := "LIMIT -1 OFFSET ?"
	if !d.sqlite {
		limit = "OFFSET ?"
	}
	return `DELETE FROM events WHERE id IN (
		SELECT id FROM events ORDER BY start_time DESC, id DESC ` + limit + `)`
}
