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

package connectivity

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smailer/smailer/internal/testutils"
)

func TestProbe(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	p := &Probe{Address: l.Addr().String(), Timeout: time.Second, Log: testutils.Logger(t, "probe")}
	assert.True(t, p.IsConnected(context.Background()))

	l.Close()
	assert.False(t, p.IsConnected(context.Background()))
}

func TestStatic(t *testing.T) {
	var s Static
	assert.False(t, s.IsConnected(context.Background()))
	s.Set(true)
	assert.True(t, s.IsConnected(context.Background()))
	assert.False(t, NewStatic(false).IsConnected(context.Background()))
}

func TestWatchFiresOnRestore(t *testing.T) {
	s := NewStatic(false)
	var restored atomic.Int32

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Watch(ctx, s, 5*time.Millisecond, func() { restored.Add(1) })
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	assert.EqualValues(t, 0, restored.Load())

	s.Set(true)
	require.Eventually(t, func() bool { return restored.Load() == 1 }, time.Second, 5*time.Millisecond)

	// Staying online does not fire again.
	time.Sleep(30 * time.Millisecond)
	assert.EqualValues(t, 1, restored.Load())

	cancel()
	<-done
}
