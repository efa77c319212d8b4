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

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smailer/smailer/internal/connectivity"
	"github.com/smailer/smailer/internal/event"
	"github.com/smailer/smailer/internal/format"
	"github.com/smailer/smailer/internal/location"
	"github.com/smailer/smailer/internal/notify"
	"github.com/smailer/smailer/internal/relay"
	"github.com/smailer/smailer/internal/rules"
	"github.com/smailer/smailer/internal/settings"
	"github.com/smailer/smailer/internal/storage/eventlog"
	"github.com/smailer/smailer/internal/testutils"
)

var secret = []byte("test-secret")

type testEnv struct {
	api    *Server
	srv    *httptest.Server
	sender *testutils.Transport
	conn   *connectivity.Static
	repo   *rules.Repository
	token  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := eventlog.Open(eventlog.DefaultDriver, filepath.Join(t.TempDir(), "events.db"), eventlog.Options{
		PurgePeriod: time.Hour,
		Log:         testutils.Logger(t, "eventlog"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	kv := settings.NewStatic(nil)
	repo := rules.NewRepository(kv)
	tracker := notify.NewTracker(testutils.Logger(t, "notify"))
	sender := &testutils.Transport{}
	conn := connectivity.NewStatic(true)

	worker := relay.NewWorker(8, testutils.Logger(t, "worker"))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	s := &Server{
		Processor: &relay.Processor{
			Store:        st,
			Rules:        rules.NewEngine(repo, testutils.Logger(t, "rules")),
			Formatter:    format.New("SMAILER"),
			Sender:       sender,
			Connectivity: conn,
			Notify:       tracker,
			Location:     location.Static{},
			Settings:     kv,
			Profile: relay.Profile{
				Delivery: relay.Delivery{
					Sender:     "phone@example.org",
					Recipients: []string{"me@example.org"},
					Host:       "smtp.example.org",
					Port:       587,
				},
				DeviceName: "Phone",
			},
			Log: testutils.Logger(t, "relay"),
		},
		Worker:        worker,
		Store:         st,
		Rules:         repo,
		Notifications: tracker,
		Secret:        secret,
		Log:           testutils.Logger(t, "api"),
	}

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	token, err := IssueToken(secret, "Phone", time.Hour)
	require.NoError(t, err)

	return &testEnv{api: s, srv: srv, sender: sender, conn: conn, repo: repo, token: token}
}

func (env *testEnv) do(t *testing.T, method, path, body string) (int, map[string]interface{}) {
	t.Helper()

	req, err := http.NewRequest(method, env.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if env.token != "" {
		req.Header.Set("Authorization", "Bearer "+env.token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var res map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	return resp.StatusCode, res
}

const smsJSON = `{"phone": "+70123456789", "incoming": true, "sms": true, "start_time": 1700000000000, "text": "hello"}`

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	env.token = ""
	status, body := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t)

	env.token = ""
	status, _ := env.do(t, http.MethodGet, "/v1/rules", "")
	assert.Equal(t, http.StatusUnauthorized, status)

	env.token = "garbage"
	status, _ = env.do(t, http.MethodGet, "/v1/rules", "")
	assert.Equal(t, http.StatusUnauthorized, status)

	other, err := IssueToken([]byte("other"), "Phone", time.Hour)
	require.NoError(t, err)
	env.token = other
	status, _ = env.do(t, http.MethodGet, "/v1/rules", "")
	assert.Equal(t, http.StatusUnauthorized, status)

	expired, err := IssueToken(secret, "Phone", -time.Minute)
	require.NoError(t, err)
	env.token = expired
	status, body := env.do(t, http.MethodGet, "/v1/rules", "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "token has expired", body["error"].(map[string]interface{})["message"])
}

func TestIssueTokenValidation(t *testing.T) {
	_, err := IssueToken(nil, "Phone", time.Hour)
	assert.ErrorIs(t, err, ErrNoSecret)
	_, err = IssueToken(secret, "", time.Hour)
	assert.Error(t, err)
}

func TestPostEvent(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodPost, "/v1/events", smsJSON)
	require.Equal(t, http.StatusCreated, status)
	ev := body["event"].(map[string]interface{})
	assert.Equal(t, "processed", ev["state"])
	require.Len(t, env.sender.Sent(), 1)
	assert.Equal(t, "[SMAILER] Incoming SMS from +70123456789", env.sender.Sent()[0].Subject)

	status, body = env.do(t, http.MethodGet, "/v1/events", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["events"], 1)
}

func TestPostEventOffline(t *testing.T) {
	env := newTestEnv(t)
	env.conn.Set(false)

	status, body := env.do(t, http.MethodPost, "/v1/events", smsJSON)
	require.Equal(t, http.StatusAccepted, status)
	assert.NotEmpty(t, body["error"])

	status, body = env.do(t, http.MethodGet, "/v1/events?pending=true", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["events"], 1)

	status, body = env.do(t, http.MethodGet, "/v1/notifications", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["errors"], 1)

	status, body = env.do(t, http.MethodPost, "/v1/pending/process", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.EqualValues(t, 0, body["delivered"])

	env.conn.Set(true)
	status, body = env.do(t, http.MethodPost, "/v1/pending/process", "")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["delivered"])

	status, body = env.do(t, http.MethodGet, "/v1/events?pending=true", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["events"], 0)
}

func TestPostEventInvalid(t *testing.T) {
	env := newTestEnv(t)

	status, _ := env.do(t, http.MethodPost, "/v1/events", `{"phone": `)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = env.do(t, http.MethodPost, "/v1/events", `{"phone": "+1"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = env.do(t, http.MethodPost, "/v1/events", `{"phone": "+1", "start_time": 1, "color": "red"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = env.do(t, http.MethodGet, "/v1/events?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestGetRules(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.repo.Add(context.Background(), rules.PhoneBlacklist, "+7905*")
	require.NoError(t, err)

	status, body := env.do(t, http.MethodGet, "/v1/rules", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []interface{}{"+7905*"}, body["phone_blacklist"])
	assert.Equal(t, []interface{}{}, body["text_whitelist"])
	assert.Equal(t, false, body["use_whitelist"])

	// Blacklisted events are stored as ignored.
	status, body = env.do(t, http.MethodPost, "/v1/events",
		`{"phone": "+7 905 111", "missed": true, "incoming": true, "start_time": 1700000000000}`)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, event.StateIgnored.String(), body["event"].(map[string]interface{})["state"])
	assert.Empty(t, env.sender.Sent())
}

func TestRequestLogging(t *testing.T) {
	logger, captured := testutils.CaptureLogger(t, "api")
	logger.Debug = true
	s := &Server{Log: logger}
	srv := httptest.NewServer(s.requestLogger(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/brew")
	require.NoError(t, err)
	resp.Body.Close()

	assert.True(t, captured.Contains(`"path":"/brew"`), captured.Lines())
	assert.True(t, captured.Contains(`"status":418`), captured.Lines())
}

func TestProcessPendingCancelled(t *testing.T) {
	env := newTestEnv(t)

	// Keep the worker busy so the request gives up before its job runs.
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, env.api.Worker.Submit("block", func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodPost, "/v1/pending/process", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	env.api.processPending(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	close(release)
	// The abandoned job still runs to completion.
	assert.NoError(t, env.api.Worker.Do(context.Background(), "sync", func(context.Context) error { return nil }))
}
