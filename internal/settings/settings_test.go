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
	"path/filepath"
	"testing"

	"github.com/smailer/smailer/internal/storage/eventlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()

	events, err := eventlog.Open(eventlog.DefaultDriver, filepath.Join(t.TempDir(), "state.db"), eventlog.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { events.Close() })

	tbl, err := NewSQLTable(events.DB(), events.Driver(), "")
	require.NoError(t, err)
	t.Cleanup(func() { tbl.Close() })

	return map[string]Store{
		"sql":    tbl,
		"static": NewStatic(nil),
	}
}

func TestStore(t *testing.T) {
	for name, s := range testStores(t) {
		s := s
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, ok, err := s.Lookup(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.SetKey(ctx, "b", "1"))
			require.NoError(t, s.SetKey(ctx, "a", "2"))
			require.NoError(t, s.SetKey(ctx, "b", "3"))

			val, ok, err := s.Lookup(ctx, "b")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "3", val)

			keys, err := s.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, keys)

			require.NoError(t, s.RemoveKey(ctx, "b"))
			require.NoError(t, s.RemoveKey(ctx, "b"))
			_, ok, err = s.Lookup(ctx, "b")
			require.NoError(t, err)
			assert.False(t, ok)

			// Empty values are values.
			require.NoError(t, s.SetKey(ctx, "empty", ""))
			val, ok, err = s.Lookup(ctx, "empty")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "", val)
		})
	}
}

func TestBool(t *testing.T) {
	ctx := context.Background()
	s := NewStatic(map[string]string{"garbage": "maybe"})

	v, err := Bool(ctx, s, "missing", true)
	require.NoError(t, err)
	assert.True(t, v)

	v, err = Bool(ctx, s, "garbage", true)
	require.NoError(t, err)
	assert.True(t, v)

	require.NoError(t, SetBool(ctx, s, "flag", false))
	v, err = Bool(ctx, s, "flag", true)
	require.NoError(t, err)
	assert.False(t, v)
}
