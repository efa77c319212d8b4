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
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	assert.Equal(t, OutcomeOK, Classify(nil))
	assert.Equal(t, OutcomeAuth, Classify(&AuthError{Server: "s", Err: errors.New("bad password")}))
	assert.Equal(t, OutcomeAuth, Classify(fmt.Errorf("relay: %w", &AuthError{Server: "s", Err: errors.New("x")})))
	assert.Equal(t, OutcomeTransport, Classify(&Error{Server: "s", Op: "data", Err: errors.New("timeout")}))
	assert.Equal(t, OutcomeTransport, Classify(errors.New("unclassified")))
}

func TestWrapKeepsClassification(t *testing.T) {
	authErr := &AuthError{Server: "s", Err: errors.New("x")}
	assert.Same(t, authErr, Wrap("s", "op", authErr).(*AuthError))
	assert.Nil(t, Wrap("s", "op", nil))

	err := Wrap("smtp.example.org:465", "connect", errors.New("refused"))
	var trErr *Error
	require.ErrorAs(t, err, &trErr)
	assert.Equal(t, "connect", trErr.Op)
	assert.Equal(t, "transport: connect smtp.example.org:465: refused", err.Error())
}

func TestCompose(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Compose(&buf, Mail{
		From:      "phone@example.org",
		To:        []string{"a@example.org", "b@example.org"},
		Subject:   "Тема",
		HTML:      "<p>" + string(bytes.Repeat([]byte("x"), 200)) + "</p>",
		InReplyTo: "orig@example.org",
		Date:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}, "device.example.org"))

	mr, err := mail.CreateReader(&buf)
	require.NoError(t, err)

	subject, err := mr.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Тема", subject)

	to, err := mr.Header.AddressList("To")
	require.NoError(t, err)
	require.Len(t, to, 2)
	assert.Equal(t, "b@example.org", to[1].Address)

	ids, err := mr.Header.MsgIDList("In-Reply-To")
	require.NoError(t, err)
	assert.Equal(t, []string{"orig@example.org"}, ids)

	p, err := mr.NextPart()
	require.NoError(t, err)
	body, err := io.ReadAll(p.Body)
	require.NoError(t, err)
	assert.Len(t, body, 207)
}
