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

package contacts

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/smailer/smailer/internal/testutils"
)

func TestReadFile(t *testing.T) {
	test := func(file string, expected map[string]string) {
		t.Helper()

		path := filepath.Join(t.TempDir(), "contacts")
		if err := os.WriteFile(path, []byte(file), 0o600); err != nil {
			t.Fatal(err)
		}

		actual := map[string]string{}
		err := readFile(path, actual)
		if expected == nil {
			if err == nil {
				t.Errorf("expected failure, got %+v", actual)
			}
			return
		}
		if err != nil {
			t.Errorf("unexpected failure: %v", err)
			return
		}

		if !reflect.DeepEqual(actual, expected) {
			t.Errorf("wrong results\n want %+v\n got %+v", expected, actual)
		}
	}

	test("+1 (234) 567: John Doe", map[string]string{"1234567": "John Doe"})
	test("+7905: Doe, John", map[string]string{"7905": "Doe, John"})
	test("BANK: My bank", map[string]string{"BANK": "My bank"})
	test(`# skip comments
+1: a`, map[string]string{"1": "a"})
	test("# with whitespace too\n    \n+1: a", map[string]string{"1": "a"})
	test("+1: a\n+1: b", map[string]string{"1": "b"})
	test(": b", nil)
	test("+1:", nil)
	test("+1 John", nil)
}

func TestFileLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts")
	if err := os.WriteFile(path, []byte("+7 (905) 000-11-22: Alice\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	f, err := OpenFile(path, testutils.Logger(t, "contacts"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if name, ok := f.ContactName(context.Background(), "+79050001122"); !ok || name != "Alice" {
		t.Errorf("ContactName = %q, %v", name, ok)
	}
	if _, ok := f.ContactName(context.Background(), "+79050001123"); ok {
		t.Error("unexpected match")
	}
}

func TestFileReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts")
	if err := os.WriteFile(path, []byte("+1: Old"), 0o600); err != nil {
		t.Fatal(err)
	}

	f, err := OpenFile(path, testutils.Logger(t, "contacts"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if err := os.WriteFile(path, []byte("+1: New"), 0o600); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}
	f.reload()

	if name, _ := f.ContactName(context.Background(), "+1"); name != "New" {
		t.Errorf("not reloaded, got %q", name)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	f.reload()
	if _, ok := f.ContactName(context.Background(), "+1"); ok {
		t.Error("removed file should drop all contacts")
	}
}

func TestMissingFile(t *testing.T) {
	f, err := OpenFile(filepath.Join(t.TempDir(), "none"), testutils.Logger(t, "contacts"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if _, ok := f.ContactName(context.Background(), "+1"); ok {
		t.Error("unexpected match")
	}
}

func TestStatic(t *testing.T) {
	s := Static{"+1 (11)": "Bob"}
	if name, ok := s.ContactName(context.Background(), "111"); !ok || name != "Bob" {
		t.Errorf("ContactName = %q, %v", name, ok)
	}
}
