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

package transport

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/google/uuid"
)

// Compose writes m as an RFC 5322 message with a single quoted-printable
// text/html part. hostname is used as the right side of the generated
// Message-Id.
func Compose(w io.Writer, m Mail, hostname string) error {
	if hostname == "" {
		hostname = "localhost"
	}
	date := m.Date
	if date.IsZero() {
		date = time.Now()
	}

	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{{Address: m.From}})
	to := make([]*mail.Address, 0, len(m.To))
	for _, rcpt := range m.To {
		to = append(to, &mail.Address{Address: rcpt})
	}
	h.SetAddressList("To", to)
	h.SetSubject(m.Subject)
	h.SetMessageID(uuid.New().String() + "@" + hostname)
	if m.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{m.InReplyTo})
	}
	h.Set("MIME-Version", "1.0")
	h.SetContentType("text/html", map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	body, err := mail.CreateSingleInlineWriter(w, h)
	if err != nil {
		return fmt.Errorf("transport: compose: %w", err)
	}
	if _, err := io.WriteString(body, m.HTML); err != nil {
		return fmt.Errorf("transport: compose: %w", err)
	}
	if err := body.Close(); err != nil {
		return fmt.Errorf("transport: compose: %w", err)
	}
	return nil
}

// ComposeParts is like Compose but returns the header separately from the
// encoded body, as required by SMTP clients that write headers themselves.
func ComposeParts(m Mail, hostname string) (textproto.Header, io.Reader, error) {
	var buf bytes.Buffer
	if err := Compose(&buf, m, hostname); err != nil {
		return textproto.Header{}, nil, err
	}
	br := bufio.NewReader(&buf)
	hdr, err := textproto.ReadHeader(br)
	if err != nil {
		return textproto.Header{}, nil, fmt.Errorf("transport: compose: %w", err)
	}
	return hdr, br, nil
}
