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
	"sync/atomic"
	"testing"
	"time"
)

type countingSender struct {
	sent atomic.Int32
}

func (s *countingSender) SendSMS(context.Context, string, string) error {
	s.sent.Add(1)
	return nil
}

func TestThrottled(t *testing.T) {
	tests := []struct {
		name      string
		burstSize int
		interval  time.Duration
		count     int
		wantSent  int32
	}{
		{
			name:      "burst",
			burstSize: 3,
			interval:  time.Hour,
			count:     5,
			wantSent:  3,
		},
		{
			name:      "unlimited",
			burstSize: 0,
			interval:  time.Hour,
			count:     20,
			wantSent:  20,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &countingSender{}
			th := NewThrottled(s, tt.burstSize, tt.interval)
			defer th.Close()

			var limited int
			for i := 0; i < tt.count; i++ {
				err := th.SendSMS(context.Background(), "+100", "hi")
				if errors.Is(err, ErrRateLimited) {
					limited++
				} else if err != nil {
					t.Fatal("unexpected error:", err)
				}
			}

			if got := s.sent.Load(); got != tt.wantSent {
				t.Errorf("sent %d messages, want %d", got, tt.wantSent)
			}
			if limited != tt.count-int(tt.wantSent) {
				t.Errorf("%d messages were rate limited, want %d", limited, tt.count-int(tt.wantSent))
			}
		})
	}
}

func TestThrottledRefill(t *testing.T) {
	s := &countingSender{}
	th := NewThrottled(s, 1, 10*time.Millisecond)
	defer th.Close()

	if err := th.SendSMS(context.Background(), "+100", "hi"); err != nil {
		t.Fatal(err)
	}
	if err := th.SendSMS(context.Background(), "+100", "hi"); !errors.Is(err, ErrRateLimited) {
		t.Fatal("expected rate limit, got", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		err := th.SendSMS(context.Background(), "+100", "hi")
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("bucket was not refilled")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
