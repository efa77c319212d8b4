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

// Package maildir implements transport.Sender that stores notifications in
// a local maildir instead of submitting them. It is used for dry runs and
// for setups where another agent picks messages up from disk.
package maildir

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/emersion/go-maildir"
	"github.com/smailer/smailer/framework/log"
	"github.com/smailer/smailer/internal/transport"
)

type Sender struct {
	Path     string
	Hostname string
	Log      log.Logger
}

func (s *Sender) ensureDir() (maildir.Dir, error) {
	dir := maildir.Dir(s.Path)
	if _, err := os.Stat(filepath.Join(s.Path, "cur")); os.IsNotExist(err) {
		if err := os.MkdirAll(s.Path, 0o700); err != nil {
			return "", err
		}
		if err := dir.Init(); err != nil {
			return "", err
		}
	}
	return dir, nil
}

func (s *Sender) Send(_ context.Context, m transport.Mail) error {
	dir, err := s.ensureDir()
	if err != nil {
		return transport.Wrap(s.Path, "init", err)
	}

	var buf bytes.Buffer
	if err := transport.Compose(&buf, m, s.Hostname); err != nil {
		return transport.Wrap(s.Path, "compose", err)
	}

	delivery, err := maildir.NewDelivery(string(dir))
	if err != nil {
		return transport.Wrap(s.Path, "deliver", err)
	}
	if _, err := io.Copy(delivery, &buf); err != nil {
		delivery.Abort()
		return transport.Wrap(s.Path, "deliver", err)
	}
	if err := delivery.Close(); err != nil {
		return transport.Wrap(s.Path, "deliver", fmt.Errorf("close: %w", err))
	}

	s.Log.DebugMsg("message stored", "maildir", s.Path, "subject", m.Subject)
	return nil
}
