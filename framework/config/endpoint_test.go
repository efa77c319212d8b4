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

package config

import (
	"net"
	"reflect"
	"testing"
)

func TestStandardizeAddress(t *testing.T) {
	for _, expected := range []Endpoint{
		{Original: "tcp://0.0.0.0:10025", Scheme: "tcp", Host: "0.0.0.0", Port: "10025"},
		{Original: "tcp://[::]:10025", Scheme: "tcp", Host: "::", Port: "10025"},
		{Original: "tcp:127.0.0.1:10025", Scheme: "tcp", Host: "127.0.0.1", Port: "10025"},
		{Original: "unix:/path", Scheme: "unix", Host: "", Path: "/path", Port: ""},
		{Original: "unix:///path", Scheme: "unix", Host: "", Path: "/path", Port: ""},
		{Original: "unix:///also/path", Scheme: "unix", Host: "", Path: "/also/path", Port: ""},
		{Original: "tls://0.0.0.0:10025", Scheme: "tls", Host: "0.0.0.0", Port: "10025"},
		{Original: "tls:0.0.0.0:10025", Scheme: "tls", Host: "0.0.0.0", Port: "10025"},
	} {
		actual, err := ParseEndpoint(expected.Original)
		if err != nil {
			t.Errorf("Unexpected failure for %s: %v", expected.Original, err)
			return
		}

		if !reflect.DeepEqual(expected, actual) {
			t.Errorf("Didn't parse URL %q correctly\ngot %#v\nwant %#v", expected.Original, actual, expected)
			continue
		}

		if actual.String() != expected.Original {
			t.Errorf("actual.String() = %s, want %s", actual.String(), expected.Original)
		}
	}
}

func TestSchemelessEndpoint(t *testing.T) {
	for in, want := range map[string]Endpoint{
		"127.0.0.1:8080": {Original: "127.0.0.1:8080", Scheme: "tcp", Host: "127.0.0.1", Port: "8080"},
		":9749":          {Original: ":9749", Scheme: "tcp", Host: "", Port: "9749"},
		"localhost:25":   {Original: "localhost:25", Scheme: "tcp", Host: "localhost", Port: "25"},
	} {
		got, err := ParseEndpoint(in)
		if err != nil {
			t.Errorf("ParseEndpoint(%q): %v", in, err)
			continue
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("ParseEndpoint(%q) = %#v, want %#v", in, got, want)
		}
		if got.Network() != "tcp" || got.Address() != net.JoinHostPort(want.Host, want.Port) {
			t.Errorf("unexpected network address for %q: %s %s", in, got.Network(), got.Address())
		}
	}

	if _, err := ParseEndpoint("127.0.0.1"); err == nil {
		t.Error("expected an error for a missing port")
	}
}

func TestTCPEndpoint(t *testing.T) {
	e := TCPEndpoint("smtp.example.org", 465, true)
	if !e.IsTLS() || e.Address() != "smtp.example.org:465" || e.String() != "tls://smtp.example.org:465" {
		t.Errorf("unexpected endpoint: %#v", e)
	}
	e = TCPEndpoint("smtp.example.org", 587, false)
	if e.IsTLS() || e.String() != "tcp://smtp.example.org:587" {
		t.Errorf("unexpected endpoint: %#v", e)
	}
}
