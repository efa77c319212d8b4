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

// Package sms sends SMS replies requested by remote commands.
package sms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smailer/smailer/framework/exterrors"
	"github.com/smailer/smailer/framework/log"
)

type Sender interface {
	SendSMS(ctx context.Context, phone, text string) error
}

var ErrEmptyMessage = errors.New("sms: empty phone or text")

// LogSender only logs the messages. It is used when no SMS provider is
// configured.
type LogSender struct {
	Log log.Logger
}

func (s LogSender) SendSMS(_ context.Context, phone, text string) error {
	if phone == "" || text == "" {
		return ErrEmptyMessage
	}
	s.Log.Msg("sms not sent, no provider configured", "phone", phone, "text", text)
	return nil
}

const DefaultTwilioURL = "https://api.twilio.com"

// Twilio sends messages using the Twilio REST API.
type Twilio struct {
	AccountSID string
	AuthToken  string
	From       string
	BaseURL    string
	Client     *http.Client
	Log        log.Logger
}

// APIError is the error body returned by the Twilio API.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sms: twilio error %d (HTTP %d): %s", e.Code, e.Status, e.Message)
}

func (e *APIError) Fields() map[string]interface{} {
	return map[string]interface{}{
		"twilio_code": e.Code,
		"http_status": e.Status,
	}
}

func (t *Twilio) SendSMS(ctx context.Context, phone, text string) error {
	if phone == "" || text == "" {
		return ErrEmptyMessage
	}

	base := t.BaseURL
	if base == "" {
		base = DefaultTwilioURL
	}
	endpoint := strings.TrimSuffix(base, "/") + "/2010-04-01/Accounts/" + url.PathEscape(t.AccountSID) + "/Messages.json"

	form := url.Values{}
	form.Set("To", phone)
	form.Set("From", t.From)
	form.Set("Body", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("sms: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(t.AccountSID, t.AuthToken)

	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return exterrors.WithTemporary(fmt.Errorf("sms: %w", err), true)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 2 {
		var msg struct {
			SID string `json:"sid"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
			t.Log.Error("malformed twilio response", err)
		}
		t.Log.Msg("sms sent", "phone", phone, "sid", msg.SID)
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	apiErr.Status = resp.StatusCode
	return exterrors.WithTemporary(apiErr, resp.StatusCode >= 500)
}
