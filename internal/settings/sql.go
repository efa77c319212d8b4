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

package settings

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

// SQLTable stores settings in a two-column table of an existing database.
// It is normally opened on the event store handle so all persistent state
// lives in one file.
type SQLTable struct {
	db       *sql.DB
	table    string
	postgres bool

	lookup *sql.Stmt
	add    *sql.Stmt
	list   *sql.Stmt
	set    *sql.Stmt
	del    *sql.Stmt
}

// NewSQLTable creates the table if needed and prepares the queries. driver
// selects the placeholder syntax, "postgres" uses $N, everything else uses
// '?'.
func NewSQLTable(db *sql.DB, driver, tableName string) (*SQLTable, error) {
	if tableName == "" {
		tableName = "settings"
	}

	var (
		lookupQuery string
		addQuery    string
		listQuery   string
		setQuery    string
		delQuery    string
	)
	if driver == "postgres" {
		lookupQuery = fmt.Sprintf("SELECT value FROM %s WHERE key = $1", tableName)
		addQuery = fmt.Sprintf("INSERT INTO %s(key, value) VALUES($1, $2)", tableName)
		setQuery = fmt.Sprintf("UPDATE %s SET value = $2 WHERE key = $1", tableName)
		delQuery = fmt.Sprintf("DELETE FROM %s WHERE key = $1", tableName)
	} else {
		lookupQuery = fmt.Sprintf("SELECT value FROM %s WHERE key = ?", tableName)
		addQuery = fmt.Sprintf("INSERT INTO %s(key, value) VALUES(?, ?)", tableName)
		setQuery = fmt.Sprintf("UPDATE %s SET value = ? WHERE key = ?", tableName)
		delQuery = fmt.Sprintf("DELETE FROM %s WHERE key = ?", tableName)
	}
	listQuery = fmt.Sprintf("SELECT key FROM %s", tableName)

	_, err := db.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		key TEXT PRIMARY KEY NOT NULL,
		value TEXT NOT NULL
	)`, tableName))
	if err != nil {
		return nil, fmt.Errorf("settings: init query failed: %w", err)
	}

	s := &SQLTable{db: db, table: tableName}
	for _, q := range []struct {
		stmt  **sql.Stmt
		name  string
		query string
	}{
		{&s.lookup, "lookup", lookupQuery},
		{&s.add, "add", addQuery},
		{&s.list, "list", listQuery},
		{&s.set, "set", setQuery},
		{&s.del, "del", delQuery},
	} {
		*q.stmt, err = db.Prepare(q.query)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("settings: failed to prepare %s query: %w", q.name, err)
		}
	}
	s.postgres = driver == "postgres"
	return s, nil
}

// Close releases prepared statements. The database handle is owned by the
// caller and stays open.
func (s *SQLTable) Close() error {
	for _, stmt := range []*sql.Stmt{s.lookup, s.add, s.list, s.set, s.del} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return nil
}

func (s *SQLTable) Lookup(ctx context.Context, key string) (string, bool, error) {
	var val string
	if err := s.lookup.QueryRowContext(ctx, key).Scan(&val); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("settings: lookup %s: %w", key, err)
	}
	return val, true, nil
}

func (s *SQLTable) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.list.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("settings: list: %w", err)
	}
	defer rows.Close()
	var list []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("settings: list: %w", err)
		}
		list = append(list, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("settings: list: %w", err)
	}
	sort.Strings(list)
	return list, nil
}

func (s *SQLTable) RemoveKey(ctx context.Context, key string) error {
	if _, err := s.del.ExecContext(ctx, key); err != nil {
		return fmt.Errorf("settings: del %s: %w", key, err)
	}
	return nil
}

func (s *SQLTable) SetKey(ctx context.Context, key, value string) error {
	var setArgs []interface{}
	if s.postgres {
		setArgs = []interface{}{key, value}
	} else {
		setArgs = []interface{}{value, key}
	}

	res, err := s.set.ExecContext(ctx, setArgs...)
	if err != nil {
		return fmt.Errorf("settings: set %s: %w", key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n != 0 {
		return nil
	}
	if _, err := s.add.ExecContext(ctx, key, value); err != nil {
		return fmt.Errorf("settings: add %s: %w", key, err)
	}
	return nil
}
