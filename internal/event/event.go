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

// Package event defines the telephony event record relayed by smailer.
package event

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// State is the delivery state of an Event.
type State int

const (
	// StatePending means the event was not delivered yet.
	StatePending State = iota
	// StateProcessed means the event was delivered successfully.
	StateProcessed
	// StateIgnored means the event was rejected by the filter rules and will
	// never be delivered.
	StateIgnored
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateProcessed:
		return "processed"
	case StateIgnored:
		return "ignored"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

func ParseState(s string) (State, error) {
	switch s {
	case "pending":
		return StatePending, nil
	case "processed":
		return StateProcessed, nil
	case "ignored":
		return StateIgnored, nil
	}
	return 0, fmt.Errorf("event: unknown state %q", s)
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	parsed, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// GeoCoordinates is an immutable latitude/longitude pair.
type GeoCoordinates struct {
	Latitude  float64 `json:"lat" yaml:"lat"`
	Longitude float64 `json:"lon" yaml:"lon"`
}

func (g GeoCoordinates) String() string {
	return strconv.FormatFloat(g.Latitude, 'f', 6, 64) + ", " + strconv.FormatFloat(g.Longitude, 'f', 6, 64)
}

// MapURL returns a link to the point on a public map.
func (g GeoCoordinates) MapURL() string {
	return "https://www.google.com/maps/place/" +
		strconv.FormatFloat(g.Latitude, 'f', 6, 64) + "+" +
		strconv.FormatFloat(g.Longitude, 'f', 6, 64)
}

// Kind is the kind of the event used to choose the message template.
type Kind int

const (
	KindIncomingCall Kind = iota
	KindOutgoingCall
	KindMissedCall
	KindIncomingSMS
	KindOutgoingSMS
)

func (k Kind) String() string {
	switch k {
	case KindIncomingCall:
		return "incoming_call"
	case KindOutgoingCall:
		return "outgoing_call"
	case KindMissedCall:
		return "missed_call"
	case KindIncomingSMS:
		return "incoming_sms"
	case KindOutgoingSMS:
		return "outgoing_sms"
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Event is one captured call or SMS.
//
// Times are Unix milliseconds, EndTime is nil for SMS and missed calls.
type Event struct {
	ID        int64           `json:"id"`
	Phone     string          `json:"phone"`
	Incoming  bool            `json:"incoming"`
	StartTime int64           `json:"start_time"`
	EndTime   *int64          `json:"end_time,omitempty"`
	Missed    bool            `json:"missed"`
	SMS       bool            `json:"sms"`
	Text      *string         `json:"text,omitempty"`
	Location  *GeoCoordinates `json:"location,omitempty"`
	Details   *string         `json:"details,omitempty"`
	State     State           `json:"state"`
}

var (
	ErrNoStartTime   = errors.New("event: start time is required")
	ErrSMSAndMissed  = errors.New("event: event cannot be both SMS and missed call")
	ErrSMSWithEnd    = errors.New("event: SMS cannot have end time")
	ErrMissedWithEnd = errors.New("event: missed call cannot have end time")
)

// Validate checks the invariants of the event kind.
func (e *Event) Validate() error {
	if e.StartTime <= 0 {
		return ErrNoStartTime
	}
	if e.SMS && e.Missed {
		return ErrSMSAndMissed
	}
	if e.SMS && e.EndTime != nil {
		return ErrSMSWithEnd
	}
	if e.Missed && e.EndTime != nil {
		return ErrMissedWithEnd
	}
	return nil
}

func (e *Event) Kind() Kind {
	switch {
	case e.SMS && e.Incoming:
		return KindIncomingSMS
	case e.SMS:
		return KindOutgoingSMS
	case e.Missed:
		return KindMissedCall
	case e.Incoming:
		return KindIncomingCall
	default:
		return KindOutgoingCall
	}
}

func (e *Event) Start() time.Time {
	return time.UnixMilli(e.StartTime)
}

// Duration returns the call duration, zero if the event has no end time.
func (e *Event) Duration() time.Duration {
	if e.EndTime == nil || *e.EndTime < e.StartTime {
		return 0
	}
	return time.Duration(*e.EndTime-e.StartTime) * time.Millisecond
}

func (e *Event) TextOrEmpty() string {
	if e.Text == nil {
		return ""
	}
	return *e.Text
}

func (e *Event) SetDetails(details string) {
	if details == "" {
		e.Details = nil
		return
	}
	e.Details = &details
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	c := *e
	if e.EndTime != nil {
		v := *e.EndTime
		c.EndTime = &v
	}
	if e.Text != nil {
		v := *e.Text
		c.Text = &v
	}
	if e.Location != nil {
		v := *e.Location
		c.Location = &v
	}
	if e.Details != nil {
		v := *e.Details
		c.Details = &v
	}
	return &c
}

func (e *Event) FormatLog() string {
	return fmt.Sprintf("%s %s at %d", e.Kind(), e.Phone, e.StartTime)
}
