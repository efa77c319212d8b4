//go:build linux
// +build linux

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
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"syscall"

	"github.com/smailer/smailer/framework/log"
)

type SDStatus string

const (
	SDReady    = "READY=1"
	SDStopping = "STOPPING=1"
)

var ErrNoNotifySock = errors.New("no systemd socket")

func sdNotifySock() (*net.UnixConn, error) {
	sockAddr := os.Getenv("NOTIFY_SOCKET")
	if sockAddr == "" {
		return nil, ErrNoNotifySock
	}
	if strings.HasPrefix(sockAddr, "@") {
		sockAddr = "\x00" + sockAddr[1:]
	}

	return net.DialUnix("unixgram", nil, &net.UnixAddr{
		Name: sockAddr,
		Net:  "unixgram",
	})
}

func setScmPassCred(sock *net.UnixConn) error {
	sConn, err := sock.SyscallConn()
	if err != nil {
		return err
	}

	var sockoptErr error
	if err := sConn.Control(func(fd uintptr) {
		sockoptErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_PASSCRED, 1)
	}); err != nil {
		return err
	}
	return sockoptErr
}

// sdNotify sends the state string to the service manager. It does nothing
// if smailer is not started by systemd.
func sdNotify(state string) {
	sock, err := sdNotifySock()
	if err != nil {
		if !errors.Is(err, ErrNoNotifySock) {
			log.Println("systemd: failed to acquire notify socket:", err)
		}
		return
	}
	defer sock.Close()

	if err := setScmPassCred(sock); err != nil {
		log.Println("systemd: failed to set SCM_PASSCRED on the socket:", err)
	}
	if _, err := io.WriteString(sock, state); err != nil {
		log.Println("systemd: I/O error:", err)
	}
	log.Debugf("systemd: %s", strings.ReplaceAll(state, "\n", " "))
}

func systemdStatus(status SDStatus, desc string) {
	if desc == "" {
		sdNotify(string(status))
		return
	}
	sdNotify(fmt.Sprintf("%s\nSTATUS=%s", status, desc))
}

func systemdStatusErr(reportedErr error) {
	var errno syscall.Errno
	if errors.As(reportedErr, &errno) {
		sdNotify(fmt.Sprintf("ERRNO=%d\nSTATUS=%v", errno, reportedErr))
		return
	}
	sdNotify(fmt.Sprintf("STATUS=%v\n", reportedErr))
}
