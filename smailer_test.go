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

package smailer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smailer/smailer/internal/config"
	"github.com/smailer/smailer/internal/event"
	"github.com/smailer/smailer/internal/testutils"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.StateDir = dir
	cfg.Device.Name = "hall"
	cfg.Maildir.Path = filepath.Join(dir, "outbox")
	cfg.SMTP.Sender = "phone@example.org"
	cfg.SMTP.Recipients = []string{"owner@example.org"}
	cfg.Connectivity.Disabled = true
	return cfg
}

func build(t *testing.T, cfg config.Config) *Daemon {
	t.Helper()
	d, err := Build(cfg, testutils.Logger(t, "smailer"))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, d.Close())
	})
	return d
}

func TestBuildDelivers(t *testing.T) {
	cfg := testConfig(t)
	d := build(t, cfg)

	assert.Nil(t, d.Executor)
	assert.Nil(t, d.API)
	assert.Nil(t, d.Metrics)
	assert.Equal(t, "hall", d.Processor.Profile.DeviceName)

	text := "hello"
	ev := &event.Event{Phone: "+70123456789", Incoming: true, SMS: true, StartTime: 1700000000000, Text: &text}
	require.NoError(t, d.Processor.Process(context.Background(), ev))

	entries, err := os.ReadDir(filepath.Join(cfg.Maildir.Path, "new"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	stored, err := d.Store.Get(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Equal(t, event.StateProcessed, stored.State)
}

func TestBuildOptionalComponents(t *testing.T) {
	cfg := testConfig(t)
	cfg.Remote.Enabled = true
	cfg.IMAP.Host = "imap.example.org"
	cfg.API.Listen = []string{"127.0.0.1:0"}
	cfg.API.JWTSecret = "secret"
	cfg.Metrics.Listen = []string{"127.0.0.1:0"}
	d := build(t, cfg)

	require.NotNil(t, d.Executor)
	assert.Equal(t, "[SMailer]", d.Executor.Query)
	assert.NotNil(t, d.API)
	assert.NotNil(t, d.Metrics)
}

func TestRunStops(t *testing.T) {
	cfg := testConfig(t)
	cfg.API.Listen = []string{"127.0.0.1:0"}
	cfg.API.JWTSecret = "secret"
	cfg.Connectivity.Interval = config.Duration(10 * time.Millisecond)
	cfg.ResendInterval = config.Duration(10 * time.Millisecond)
	d := build(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- d.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestLogOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "smailer.log")
	out, err := LogOutput(config.Log{File: path})
	require.NoError(t, err)

	out.Write(time.Now(), false, "hello")
	require.NoError(t, out.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}
