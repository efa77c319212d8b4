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

package address

import (
	"regexp"
	"testing"
)

func TestNormalizePhone(t *testing.T) {
	test := func(in, want string) {
		t.Helper()
		if got := NormalizePhone(in); got != want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", in, got, want)
		}
	}

	test("+1(11)", "111")
	test("1 11", "111")
	test("+7 (905) 094-41", "790509441")
	test("info", "INFO")
	test("12*34", "12*34")
	test("1.2", "1.2")
	test("", "")
}

func TestPhonesEqual(t *testing.T) {
	if !PhonesEqual("+1(11)", "1 11") {
		t.Error("normalized phones should be equal")
	}
	if PhonesEqual("111", "1113") {
		t.Error("different phones reported equal")
	}

	a, b := "+100", "100"
	if !PhonesEqualPtr(nil, nil) {
		t.Error("two nils must be equal")
	}
	if PhonesEqualPtr(&a, nil) || PhonesEqualPtr(nil, &b) {
		t.Error("nil is never equal to a value")
	}
	if !PhonesEqualPtr(&a, &b) {
		t.Error("PhonesEqualPtr should normalize")
	}
}

func TestPhoneToRegexp(t *testing.T) {
	re := PhoneToRegexp("+7 905*")
	if re != "^7905(.*)$" {
		t.Errorf("unexpected regexp: %s", re)
	}
	if !regexp.MustCompile(PhoneToRegexp("1.2*")).MatchString("1.23") {
		t.Error("dot must be literal and wildcard must match")
	}
	if regexp.MustCompile(PhoneToRegexp("1.2*")).MatchString("1X23") {
		t.Error("dot must not act as a regexp metacharacter")
	}
}

func TestPhoneMatches(t *testing.T) {
	test := func(pattern, phone string, want bool) {
		t.Helper()
		if got := PhoneMatches(pattern, phone); got != want {
			t.Errorf("PhoneMatches(%q, %q) = %v, want %v", pattern, phone, got, want)
		}
	}

	test("+1(11)", "1 11", true)
	test("111", "1113", false)
	test("111*", "1113", true)
	test("*13", "1113", true)
	test("*", "anything", true)
	test("+7905*", "+7 905 123 45 67", true)
	test("+7905*", "+7 906 123 45 67", false)
	test("INFO", "info", true)
}

func TestFindPhone(t *testing.T) {
	test := func(s, want string, ok bool) {
		t.Helper()
		got, gotOk := FindPhone(s)
		if got != want || gotOk != ok {
			t.Errorf("FindPhone(%q) = %q, %v; want %q, %v", s, got, gotOk, want, ok)
		}
	}

	test("Re: [SMailer] Incoming SMS from +70123456789", "+70123456789", true)
	test("call +7905-09441 now", "+7905-09441", true)
	test("no digits", "", false)
}

func TestNormalizeEmail(t *testing.T) {
	test := func(in, want string) {
		t.Helper()
		if got := NormalizeEmail(in); got != want {
			t.Errorf("NormalizeEmail(%q) = %q, want %q", in, got, want)
		}
	}

	test("John.Doe@Example.org", "johndoe@example.org")
	test(" <john.doe@example.org> ", "johndoe@example.org")
	test(`"john.doe"@example.org`, `"john.doe"@example.org`)
	test("test@xn--e1aybc.example.org", "test@тест.example.org")
	test("É@example.org", "é@example.org")
	test("NotAnAddress", "notanaddress")
}

func TestEmailsEqual(t *testing.T) {
	if !EmailsEqual("j.doe@gmail.com", "JDOE@gmail.com") {
		t.Error("dots and case should be ignored")
	}
	if EmailsEqual("jdoe@gmail.com", "jdoe2@gmail.com") {
		t.Error("different mailboxes reported equal")
	}
	if !ContainsEmail([]string{"a@example.org", "Owner.Name@example.org"}, "ownername@EXAMPLE.org") {
		t.Error("ContainsEmail should normalize")
	}
}

func TestValid(t *testing.T) {
	for addr, want := range map[string]bool{
		"user@example.org":         true,
		`"user name"@example.org`:  true,
		"user name@example.org":    false,
		"user@":                    false,
		"user@..example.org":       false,
		"@example.org":             false,
		"тест@example.org":         true,
	} {
		if got := Valid(addr); got != want {
			t.Errorf("Valid(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestParseAddressList(t *testing.T) {
	got := ParseAddressList(`"John Doe" <john@example.org>, jane@example.org`)
	if len(got) != 2 || got[0] != "john@example.org" || got[1] != "jane@example.org" {
		t.Errorf("ParseAddressList = %v", got)
	}

	got = ParseAddressList(`broken <<x@example.org>, y@example.org`)
	if len(got) != 2 || got[0] != "x@example.org" || got[1] != "y@example.org" {
		t.Errorf("ParseAddressList fallback = %v", got)
	}
}
