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

package exterrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestFieldsOuterWins(t *testing.T) {
	inner := WithFields(errors.New("io"), map[string]interface{}{"op": "inner", "host": "mx"})
	outer := WithFields(fmt.Errorf("send: %w", inner), map[string]interface{}{"op": "outer"})

	f := Fields(outer)
	if f["op"] != "outer" {
		t.Errorf("outer field should win, got %v", f["op"])
	}
	if f["host"] != "mx" {
		t.Errorf("inner field lost, got %v", f)
	}
	if WithFields(nil, nil) != nil {
		t.Error("WithFields(nil) should be nil")
	}
}

func TestTemporary(t *testing.T) {
	base := errors.New("x")
	if !IsTemporaryOrUnspec(base) {
		t.Error("unspecified errors are temporary by default")
	}
	if IsTemporary(base) {
		t.Error("unspecified errors are not IsTemporary")
	}
	perm := fmt.Errorf("wrap: %w", WithTemporary(base, false))
	if IsTemporaryOrUnspec(perm) {
		t.Error("explicitly permanent error reported as temporary")
	}
	if !errors.Is(perm, base) {
		t.Error("original error is not reachable")
	}
}

func TestFieldsJoined(t *testing.T) {
	a := WithFields(errors.New("a"), map[string]interface{}{"store": "events"})
	b := WithFields(errors.New("b"), map[string]interface{}{"file": "contacts"})

	f := Fields(WithFields(errors.Join(a, b), map[string]interface{}{"op": "close"}))
	for _, k := range []string{"store", "file", "op"} {
		if _, ok := f[k]; !ok {
			t.Errorf("field %s is missing: %v", k, f)
		}
	}
	if WithTemporary(nil, true) != nil {
		t.Error("WithTemporary(nil) should be nil")
	}
}
