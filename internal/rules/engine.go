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

package rules

import (
	"context"

	"github.com/smailer/smailer/framework/log"
	"github.com/smailer/smailer/internal/event"
)

// Engine makes filtering decisions using the current persisted rules. Rules
// are read on every call so changes made remotely take effect immediately.
type Engine struct {
	Repo *Repository
	Log  log.Logger
}

func NewEngine(repo *Repository, logger log.Logger) *Engine {
	return &Engine{Repo: repo, Log: logger}
}

func (e *Engine) Accept(ctx context.Context, ev *event.Event) (bool, error) {
	d, err := e.Decide(ctx, ev)
	if err != nil {
		return false, err
	}
	return d.Accepted, nil
}

func (e *Engine) Decide(ctx context.Context, ev *event.Event) (Decision, error) {
	rules, err := e.Repo.Load(ctx)
	if err != nil {
		return Decision{}, err
	}

	d := Decide(rules, ev)
	for _, bad := range d.Invalid {
		e.Log.Msg("invalid text rule ignored", "rule", bad)
	}
	if !d.Accepted {
		e.Log.DebugMsg("event rejected", "event", ev, "reason", string(d.Reason), "rule", d.Entry)
	}
	return d, nil
}
