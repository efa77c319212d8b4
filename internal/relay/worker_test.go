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

package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smailer/smailer/internal/testutils"
)

func startWorker(t *testing.T, size int) (*Worker, context.CancelFunc) {
	t.Helper()
	w := NewWorker(size, testutils.Logger(t, "worker"))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w, cancel
}

func TestWorkerSerial(t *testing.T) {
	w, _ := startWorker(t, 16)

	var (
		mu      sync.Mutex
		running int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := w.Do(context.Background(), "job", func(context.Context) error {
				mu.Lock()
				running++
				if running > maxSeen {
					maxSeen = running
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				running--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestWorkerDoReturnsError(t *testing.T) {
	w, _ := startWorker(t, 1)
	want := errors.New("failed")
	assert.Equal(t, want, w.Do(context.Background(), "job", func(context.Context) error { return want }))
}

func TestWorkerRecoversPanic(t *testing.T) {
	w, _ := startWorker(t, 1)
	err := w.Do(context.Background(), "bad", func(context.Context) error { panic("oops") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oops")

	assert.NoError(t, w.Do(context.Background(), "good", func(context.Context) error { return nil }))
}

func TestWorkerPanicLogged(t *testing.T) {
	logger, captured := testutils.CaptureLogger(t, "worker")
	w := NewWorker(1, logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	require.Error(t, w.Do(context.Background(), "resend", func(context.Context) error { panic("boom") }))
	assert.True(t, captured.Contains("worker: panic during resend: boom"), "panic is logged through the worker logger")
}

func TestWorkerSubmit(t *testing.T) {
	w, cancel := startWorker(t, 1)

	done := make(chan struct{})
	require.NoError(t, w.Submit("job", func(context.Context) error {
		close(done)
		return nil
	}))
	<-done

	cancel()
	require.Eventually(t, func() bool {
		return errors.Is(w.Submit("late", func(context.Context) error { return nil }), ErrWorkerStopped)
	}, time.Second, time.Millisecond)
}

func TestWorkerQueueFull(t *testing.T) {
	w := NewWorker(1, testutils.Logger(t, "worker"))
	noop := func(context.Context) error { return nil }
	require.NoError(t, w.Submit("a", noop))
	assert.ErrorIs(t, w.Submit("b", noop), ErrQueueFull)
}
