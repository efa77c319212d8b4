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

package imap

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-message/mail"
	"github.com/smailer/smailer/internal/transport"
	"golang.org/x/net/html"
)

func convertMessage(msg *imap.Message, section *imap.BodySectionName) (transport.Message, error) {
	m := transport.Message{UID: msg.Uid}
	if env := msg.Envelope; env != nil {
		m.Subject = env.Subject
		m.MessageID = env.MessageId
		m.Date = env.Date
		if len(env.From) != 0 {
			m.From = env.From[0].MailboxName + "@" + env.From[0].HostName
		}
	}

	lit := msg.GetBody(section)
	if lit == nil {
		return m, errors.New("imap: server did not return the message body")
	}
	body, err := ExtractText(lit)
	if err != nil {
		return m, err
	}
	m.Body = body
	return m, nil
}

// ExtractText returns the first text/plain part of the message. If there is
// none, the first text/html part is converted to text.
func ExtractText(r io.Reader) (string, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return "", fmt.Errorf("imap: parse message: %w", err)
	}
	defer mr.Close()

	var htmlBody string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("imap: parse message: %w", err)
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, err := h.ContentType()
		if err != nil {
			ct = "text/plain"
		}
		switch ct {
		case "text/plain":
			b, err := io.ReadAll(p.Body)
			if err != nil {
				return "", fmt.Errorf("imap: read part: %w", err)
			}
			return string(b), nil
		case "text/html":
			if htmlBody != "" {
				continue
			}
			b, err := io.ReadAll(p.Body)
			if err != nil {
				return "", fmt.Errorf("imap: read part: %w", err)
			}
			htmlBody = string(b)
		}
	}
	if htmlBody != "" {
		return htmlToText(htmlBody), nil
	}
	return "", nil
}

var blankLines = regexp.MustCompile(`\n{3,}`)

// htmlToText keeps text nodes and turns block elements into line breaks.
// Quoted content (blockquote) is dropped.
func htmlToText(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var (
		b    strings.Builder
		skip int
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			out := strings.ReplaceAll(b.String(), "\r\n", "\n")
			return strings.TrimSpace(blankLines.ReplaceAllString(out, "\n\n"))
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.SelfClosingTagToken:
			name, _ := z.TagName()
			if string(name) == "br" {
				b.WriteByte('\n')
			}
		case html.StartTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "head", "blockquote":
				skip++
			case "br", "p", "div", "tr", "li":
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "head", "blockquote":
				if skip > 0 {
					skip--
				}
			case "p", "div":
				b.WriteByte('\n')
			}
		}
	}
}
