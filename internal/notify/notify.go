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

// Package notify keeps track of user-visible notifications about delivery
// problems and remote actions.
package notify

import (
	"sort"
	"sync"
	"time"

	"github.com/smailer/smailer/framework/log"
)

// Kind is the class of an error notification. At most one error
// notification per kind is active.
type Kind string

const (
	KindConfiguration  Kind = "configuration"
	KindConnectivity   Kind = "connectivity"
	KindAuthentication Kind = "authentication"
	KindTransport      Kind = "transport"
)

func Kinds() []Kind {
	return []Kind{KindConfiguration, KindConnectivity, KindAuthentication, KindTransport}
}

type Sink interface {
	ShowError(kind Kind, code string)
	ShowSuccess()
	ClearError(kind Kind)
	ShowRemoteActionPerformed(action, value string)
}

type Notification struct {
	Kind  Kind      `json:"kind"`
	Code  string    `json:"code"`
	Text  string    `json:"text"`
	Since time.Time `json:"since"`
}

type RemoteAction struct {
	Action string    `json:"action"`
	Value  string    `json:"value"`
	Time   time.Time `json:"time"`
}

// Tracker is a Sink that records the notifications, logs them and exports
// the active errors as metrics.
type Tracker struct {
	// Localize turns a code into the text shown to the user. Code is used
	// as is if nil.
	Localize func(code string, args ...interface{}) string
	Clock    func() time.Time
	Log      log.Logger

	mu          sync.Mutex
	active      map[Kind]Notification
	lastSuccess time.Time
	actions     []RemoteAction
}

const maxActions = 50

func NewTracker(logger log.Logger) *Tracker {
	return &Tracker{
		Clock:  time.Now,
		Log:    logger,
		active: make(map[Kind]Notification),
	}
}

func (t *Tracker) text(code string, args ...interface{}) string {
	if t.Localize == nil {
		return code
	}
	return t.Localize(code, args...)
}

func (t *Tracker) ShowError(kind Kind, code string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.active[kind]; ok && prev.Code == code {
		return
	}
	n := Notification{
		Kind:  kind,
		Code:  code,
		Text:  t.text(code),
		Since: t.Clock(),
	}
	t.active[kind] = n
	activeErrors.WithLabelValues(string(kind)).Set(1)
	t.Log.Msg("error notification", "kind", kind, "text", n.Text)
}

func (t *Tracker) ClearError(kind Kind) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.active[kind]; !ok {
		return
	}
	delete(t.active, kind)
	activeErrors.WithLabelValues(string(kind)).Set(0)
	t.Log.DebugMsg("error notification cleared", "kind", kind)
}

func (t *Tracker) ShowSuccess() {
	t.mu.Lock()
	t.lastSuccess = t.Clock()
	t.mu.Unlock()

	t.Log.Msg("success notification")
}

func (t *Tracker) ShowRemoteActionPerformed(action, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.actions = append(t.actions, RemoteAction{Action: action, Value: value, Time: t.Clock()})
	if len(t.actions) > maxActions {
		t.actions = t.actions[len(t.actions)-maxActions:]
	}
	t.Log.Msg("remote action notification", "action", action, "value", value)
}

// Active returns the active error notifications sorted by kind.
func (t *Tracker) Active() []Notification {
	t.mu.Lock()
	defer t.mu.Unlock()

	res := make([]Notification, 0, len(t.active))
	for _, n := range t.active {
		res = append(res, n)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Kind < res[j].Kind })
	return res
}

// Error returns the active notification of the kind.
func (t *Tracker) Error(kind Kind) (Notification, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.active[kind]
	return n, ok
}

func (t *Tracker) LastSuccess() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSuccess
}

func (t *Tracker) RemoteActions() []RemoteAction {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]RemoteAction(nil), t.actions...)
}
