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
	"fmt"
	"sync"

	"github.com/smailer/smailer/internal/settings"
)

// KeyPrefix is prepended to list names to get the settings keys.
const KeyPrefix = "filter."

const keyUseWhitelist = KeyPrefix + "use_whitelist"

// Repository persists Rules in a settings.Store. Each list is stored under
// its own key in the delimited wire format.
type Repository struct {
	Store settings.Store

	// Serializes read-modify-write cycles of Update.
	mu sync.Mutex
}

func NewRepository(store settings.Store) *Repository {
	return &Repository{Store: store}
}

func (r *Repository) Load(ctx context.Context) (Rules, error) {
	var res Rules
	for _, l := range Lists() {
		val, _, err := r.Store.Lookup(ctx, KeyPrefix+l.String())
		if err != nil {
			return Rules{}, fmt.Errorf("rules: load %v: %w", l, err)
		}
		*res.List(l) = DecodeSet(val)
	}

	useWhitelist, err := settings.Bool(ctx, r.Store, keyUseWhitelist, false)
	if err != nil {
		return Rules{}, fmt.Errorf("rules: load: %w", err)
	}
	res.UseWhitelist = useWhitelist
	return res, nil
}

func (r *Repository) Save(ctx context.Context, rules Rules) error {
	for _, l := range Lists() {
		set := rules.List(l)
		key := KeyPrefix + l.String()
		var err error
		if set.Empty() {
			err = r.Store.RemoveKey(ctx, key)
		} else {
			err = r.Store.SetKey(ctx, key, EncodeSet(*set))
		}
		if err != nil {
			return fmt.Errorf("rules: save %v: %w", l, err)
		}
	}
	if err := settings.SetBool(ctx, r.Store, keyUseWhitelist, rules.UseWhitelist); err != nil {
		return fmt.Errorf("rules: save: %w", err)
	}
	return nil
}

// Update loads the rules, calls fn and saves the result if fn reports a
// change.
func (r *Repository) Update(ctx context.Context, fn func(*Rules) bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rules, err := r.Load(ctx)
	if err != nil {
		return false, err
	}
	if !fn(&rules) {
		return false, nil
	}
	if err := r.Save(ctx, rules); err != nil {
		return false, err
	}
	return true, nil
}

// Add adds value to the list. Adding an already present value is not an
// error and reports false.
func (r *Repository) Add(ctx context.Context, l List, value string) (bool, error) {
	return r.Update(ctx, func(rules *Rules) bool {
		return rules.List(l).Add(value)
	})
}

// Remove removes value from the list. Removing a missing value is not an
// error and reports false.
func (r *Repository) Remove(ctx context.Context, l List, value string) (bool, error) {
	return r.Update(ctx, func(rules *Rules) bool {
		return rules.List(l).Remove(value)
	})
}

func (r *Repository) SetUseWhitelist(ctx context.Context, use bool) (bool, error) {
	return r.Update(ctx, func(rules *Rules) bool {
		if rules.UseWhitelist == use {
			return false
		}
		rules.UseWhitelist = use
		return true
	})
}
