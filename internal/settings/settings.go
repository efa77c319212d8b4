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

// Package settings provides key-value persistence for user-editable
// preferences: filter rules, feature toggles and similar.
//
// Components get a Store handle in their constructors, there is no global
// preferences object.
package settings

import (
	"context"
	"strconv"
)

type Store interface {
	Lookup(ctx context.Context, key string) (string, bool, error)
	SetKey(ctx context.Context, key, value string) error
	RemoveKey(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// Bool reads a boolean value stored as "true"/"false". def is returned for
// missing or malformed values.
func Bool(ctx context.Context, s Store, key string, def bool) (bool, error) {
	val, ok, err := s.Lookup(ctx, key)
	if err != nil || !ok {
		return def, err
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return def, nil
	}
	return b, nil
}

func SetBool(ctx context.Context, s Store, key string, val bool) error {
	return s.SetKey(ctx, key, strconv.FormatBool(val))
}
