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
	"fmt"
	"runtime/debug"

	"github.com/smailer/smailer/framework/log"
)

var (
	ErrQueueFull     = errors.New("relay: worker queue is full")
	ErrWorkerStopped = errors.New("relay: worker stopped")
)

type job struct {
	name   string
	fn     func(ctx context.Context) error
	result chan error
}

// Worker runs jobs one at a time so the event store has a single writer.
type Worker struct {
	jobs chan job
	stop chan struct{}
	Log  log.Logger
}

func NewWorker(queueSize int, logger log.Logger) *Worker {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Worker{
		jobs: make(chan job, queueSize),
		stop: make(chan struct{}),
		Log:  logger,
	}
}

// Run executes submitted jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stop)
	for {
		select {
		case <-ctx.Done():
			return nil
		case j := <-w.jobs:
			err := w.run(ctx, j)
			if j.result != nil {
				j.result <- err
			}
		}
	}
}

func (w *Worker) run(ctx context.Context, j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			w.Log.Printf("panic during %s: %v\n%s", j.name, r, stack)
			err = fmt.Errorf("relay: %s: panic: %v", j.name, r)
		}
	}()

	w.Log.DebugMsg("job started", "job", j.name)
	err = j.fn(ctx)
	if err != nil {
		w.Log.DebugMsg("job failed", "job", j.name, "reason", err.Error())
	}
	return err
}

// Submit queues fn without waiting for it.
func (w *Worker) Submit(name string, fn func(ctx context.Context) error) error {
	select {
	case <-w.stop:
		return ErrWorkerStopped
	default:
	}
	select {
	case w.jobs <- job{name: name, fn: fn}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Do queues fn and waits for its result.
func (w *Worker) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	j := job{name: name, fn: fn, result: make(chan error, 1)}
	select {
	case w.jobs <- j:
	case <-w.stop:
		return ErrWorkerStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-j.result:
		return err
	case <-w.stop:
		return ErrWorkerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
