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

// Package contacts resolves phone numbers to contact names.
package contacts

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/smailer/smailer/framework/address"
	"github.com/smailer/smailer/framework/log"
)

type Book interface {
	// ContactName returns the name of the contact with the phone number.
	ContactName(ctx context.Context, phone string) (string, bool)
}

// Static is a fixed phone to name mapping.
type Static map[string]string

func (s Static) ContactName(_ context.Context, phone string) (string, bool) {
	for p, name := range s {
		if address.PhonesEqual(p, phone) {
			return name, true
		}
	}
	return "", false
}

// File is a Book backed by a text file with "phone: Name" lines. The file
// is re-read when it changes.
type File struct {
	path string

	m      map[string]string
	mLck   sync.RWMutex
	mStamp time.Time

	stopReloader chan struct{}

	log log.Logger
}

var reloadInterval = 15 * time.Second

// OpenFile reads the file and starts the background reloader. A missing
// file is not an error, it is treated as empty.
func OpenFile(path string, logger log.Logger) (*File, error) {
	f := &File{
		path:         path,
		m:            make(map[string]string),
		stopReloader: make(chan struct{}),
		log:          logger,
	}

	if err := readFile(path, f.m); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		f.log.Printf("ignoring non-existent file: %s", path)
	}
	if info, err := os.Stat(path); err == nil {
		f.mStamp = info.ModTime()
	}

	go f.reloader()
	return f, nil
}

func (f *File) reloader() {
	defer func() {
		if err := recover(); err != nil {
			stack := debug.Stack()
			log.Printf("panic during contacts reload: %v\n%s", err, stack)
		}
	}()

	t := time.NewTicker(reloadInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			f.reload()

		case <-f.stopReloader:
			f.stopReloader <- struct{}{}
			return
		}
	}
}

func (f *File) reload() {
	info, err := os.Stat(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			f.mLck.Lock()
			f.m = map[string]string{}
			f.mLck.Unlock()
			return
		}
		f.log.Error("os stat", err)
		return
	}
	if !info.ModTime().After(f.mStamp) {
		return // reload not necessary
	}

	f.log.Debugf("reloading")

	newm := make(map[string]string, len(f.m)+5)
	if err := readFile(f.path, newm); err != nil {
		f.log.Println(err)
		return
	}
	// after reading we need to check whether file has changed in between
	info2, err := os.Stat(f.path)
	if err != nil {
		f.log.Println(err)
		return
	}
	if !info2.ModTime().Equal(info.ModTime()) {
		return
	}

	f.mLck.Lock()
	f.m = newm
	f.mStamp = info.ModTime()
	f.mLck.Unlock()
}

func (f *File) Close() error {
	f.stopReloader <- struct{}{}
	<-f.stopReloader
	return nil
}

func readFile(path string, out map[string]string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scnr := bufio.NewScanner(f)
	lineCounter := 0

	parseErr := func(text string) error {
		return fmt.Errorf("%s:%d: %s", path, lineCounter, text)
	}

	for scnr.Scan() {
		lineCounter++
		if strings.HasPrefix(scnr.Text(), "#") {
			continue
		}

		text := strings.TrimSpace(scnr.Text())
		if text == "" {
			continue
		}

		parts := strings.SplitN(text, ":", 2)
		if len(parts) == 1 {
			return parseErr("missing colon")
		}

		phone := address.NormalizePhone(parts[0])
		if phone == "" {
			return parseErr("empty phone number before colon")
		}
		name := strings.TrimSpace(parts[1])
		if name == "" {
			return parseErr("empty contact name")
		}
		out[phone] = name
	}
	return scnr.Err()
}

func (f *File) ContactName(_ context.Context, phone string) (string, bool) {
	// The existing map is never modified, instead it is replaced with a new
	// one if reload is performed.
	f.mLck.RLock()
	usedFile := f.m
	f.mLck.RUnlock()

	name, ok := usedFile[address.NormalizePhone(phone)]
	return name, ok
}
