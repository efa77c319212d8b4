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

// Package connectivity answers whether the mail server is reachable right
// now and notifies about restored connectivity.
package connectivity

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/smailer/smailer/framework/log"
)

type Checker interface {
	IsConnected(ctx context.Context) bool
}

// Probe considers the network available if a TCP connection to Address can
// be established within Timeout.
type Probe struct {
	Address string
	Timeout time.Duration

	Log log.Logger
}

func (p *Probe) IsConnected(ctx context.Context) bool {
	timeout := p.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		p.Log.DebugMsg("probe failed", "address", p.Address, "reason", err.Error())
		return false
	}
	conn.Close()
	return true
}

// Static is a Checker with a manually controlled state. The zero value is
// offline.
type Static struct {
	connected atomic.Bool
}

func NewStatic(connected bool) *Static {
	s := &Static{}
	s.connected.Store(connected)
	return s
}

func (s *Static) Set(connected bool) {
	s.connected.Store(connected)
}

func (s *Static) IsConnected(context.Context) bool {
	return s.connected.Load()
}

// Watch polls the checker every interval and calls onRestore each time
// the state changes from offline to online. It blocks until ctx is done.
func Watch(ctx context.Context, c Checker, interval time.Duration, onRestore func()) {
	t := time.NewTicker(interval)
	defer t.Stop()

	online := c.IsConnected(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		now := c.IsConnected(ctx)
		if now && !online {
			onRestore()
		}
		online = now
	}
}
