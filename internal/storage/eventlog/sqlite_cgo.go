//go:build cgo && !no_sqlite3
// +build cgo,!no_sqlite3

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
	"net/url"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultDriver is the SQLite driver compiled into this build.
const DefaultDriver = "sqlite3"

// SQLiteDSN builds the DSN for the database file at path with WAL mode and
// busy timeout enabled.
func SQLiteDSN(path string) string {
	return "file:" + (&url.URL{Path: path}).EscapedPath() + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
}
