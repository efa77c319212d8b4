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

package testutils

import (
	"flag"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/smailer/smailer/framework/log"
)

var (
	debugLog  = flag.Bool("test.debuglog", false, "(smailer) Turn on debug log messages")
	directLog = flag.Bool("test.directlog", false, "(smailer) Log to stderr instead of test log")
)

func Logger(t *testing.T, name string) log.Logger {
	if *directLog {
		return log.Logger{
			Out:   log.WriterOutput(os.Stderr, true),
			Name:  name,
			Debug: *debugLog,
		}
	}

	return log.Logger{
		Out: log.FuncOutput(func(_ time.Time, debug bool, str string) {
			t.Helper()
			str = strings.TrimSuffix(str, "\n")
			if debug {
				str = "[debug] " + str
			}
			t.Log(str)
		}, func() error {
			return nil
		}),
		Name:  name,
		Debug: *debugLog,
	}
}

// CaptureLogger returns a logger that records every message into the
// returned slice in addition to the test log.
func CaptureLogger(t *testing.T, name string) (log.Logger, *Captured) {
	c := &Captured{}
	l := Logger(t, name)
	l.Out = log.MultiOutput(l.Out, log.FuncOutput(func(_ time.Time, _ bool, str string) {
		c.add(str)
	}, func() error { return nil }))
	return l, c
}
