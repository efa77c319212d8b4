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

package sms

import (
	"context"
	"errors"
	"time"
)

var ErrRateLimited = errors.New("sms: rate limit exceeded")

// Throttled limits the amount of messages passed to Sender using the token
// bucket approach: up to burstSize messages per interval. Messages over the
// limit are rejected with ErrRateLimited instead of waiting.
//
// If burstSize = 0, all messages are passed through.
type Throttled struct {
	Sender Sender

	bucket chan struct{}
	stop   chan struct{}
}

func NewThrottled(s Sender, burstSize int, interval time.Duration) *Throttled {
	t := &Throttled{
		Sender: s,
		bucket: make(chan struct{}, burstSize),
		stop:   make(chan struct{}),
	}

	if burstSize == 0 {
		return t
	}

	for i := 0; i < burstSize; i++ {
		t.bucket <- struct{}{}
	}

	go t.fill(burstSize, interval)
	return t
}

func (t *Throttled) fill(burstSize int, interval time.Duration) {
	tick := time.NewTimer(interval)
	defer tick.Stop()
	for {
		tick.Reset(interval)
		select {
		case <-tick.C:
		case <-t.stop:
			return
		}

	fill:
		for i := 0; i < burstSize; i++ {
			select {
			case t.bucket <- struct{}{}:
			default:
				// Bucket is already full.
				break fill
			}
		}
	}
}

func (t *Throttled) take() bool {
	if cap(t.bucket) == 0 {
		return true
	}

	select {
	case <-t.bucket:
		return true
	default:
		return false
	}
}

func (t *Throttled) SendSMS(ctx context.Context, phone, text string) error {
	if !t.take() {
		return ErrRateLimited
	}
	return t.Sender.SendSMS(ctx, phone, text)
}

// Close stops refilling the bucket.
func (t *Throttled) Close() error {
	if cap(t.bucket) != 0 {
		close(t.stop)
	}
	return nil
}
