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

// Package location provides the last known device location.
package location

import (
	"context"
	"errors"

	"github.com/smailer/smailer/framework/log"
	"github.com/smailer/smailer/internal/event"
)

// ErrDenied is returned by sources that are not allowed to read the
// location.
var ErrDenied = errors.New("location: access denied")

type Source interface {
	// LastKnownLocation returns nil without error if the location is
	// unknown.
	LastKnownLocation(ctx context.Context) (*event.GeoCoordinates, error)
}

// Static always reports the same location, nil means unknown.
type Static struct {
	Location *event.GeoCoordinates
}

func (s Static) LastKnownLocation(context.Context) (*event.GeoCoordinates, error) {
	if s.Location == nil {
		return nil, nil
	}
	loc := *s.Location
	return &loc, nil
}

// Denied is a Source without access to the location.
type Denied struct{}

func (Denied) LastKnownLocation(context.Context) (*event.GeoCoordinates, error) {
	return nil, ErrDenied
}

// Store keeps the last known fix across restarts.
type Store interface {
	SaveLastLocation(ctx context.Context, loc event.GeoCoordinates) error
	LastLocation(ctx context.Context) (*event.GeoCoordinates, error)
}

// Fallback asks Live first and remembers each fix in Store. If Live has
// nothing, the stored fix is returned.
type Fallback struct {
	Live  Source
	Store Store
	Log   log.Logger
}

func (f *Fallback) LastKnownLocation(ctx context.Context) (*event.GeoCoordinates, error) {
	loc, err := f.Live.LastKnownLocation(ctx)
	if err != nil {
		if errors.Is(err, ErrDenied) {
			return nil, err
		}
		f.Log.Error("live location unavailable", err)
	}
	if loc != nil {
		if err := f.Store.SaveLastLocation(ctx, *loc); err != nil {
			f.Log.Error("failed to save last location", err)
		}
		return loc, nil
	}

	return f.Store.LastLocation(ctx)
}
