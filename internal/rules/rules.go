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

// Package rules implements filtering of events by phone number and message
// text.
//
// Phone entries are patterns where '*' matches any sequence, compared on
// normalized numbers. Text entries are case-sensitive substrings, an entry
// starting with '~' is a regular expression that must match the whole text.
//
// Evaluation order:
//  1. text blacklist: reject on any match
//  2. text whitelist: reject if non-empty and nothing matches
//  3. phone blacklist: reject on any match, in both modes
//  4. whitelist mode: accept only phones matching the phone whitelist
//  5. otherwise accept
//
// Text rules only apply to events that carry text.
package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/smailer/smailer/framework/address"
	"github.com/smailer/smailer/internal/event"
)

// List identifies one of the rule lists.
type List int

const (
	PhoneBlacklist List = iota
	PhoneWhitelist
	TextBlacklist
	TextWhitelist
)

var listNames = map[List]string{
	PhoneBlacklist: "phone_blacklist",
	PhoneWhitelist: "phone_whitelist",
	TextBlacklist:  "text_blacklist",
	TextWhitelist:  "text_whitelist",
}

func (l List) String() string {
	if name, ok := listNames[l]; ok {
		return name
	}
	return fmt.Sprintf("List(%d)", int(l))
}

// Lists returns all list identifiers in a stable order.
func Lists() []List {
	return []List{PhoneBlacklist, PhoneWhitelist, TextBlacklist, TextWhitelist}
}

func ParseList(s string) (List, error) {
	for l, name := range listNames {
		if name == s {
			return l, nil
		}
	}
	return 0, fmt.Errorf("rules: unknown list: %s", s)
}

// IsPhoneList reports whether the list holds phone patterns.
func (l List) IsPhoneList() bool {
	return l == PhoneBlacklist || l == PhoneWhitelist
}

type Rules struct {
	PhoneBlacklist Set
	PhoneWhitelist Set
	TextBlacklist  Set
	TextWhitelist  Set
	UseWhitelist   bool
}

// List returns the pointer to the set identified by l.
func (r *Rules) List(l List) *Set {
	switch l {
	case PhoneBlacklist:
		return &r.PhoneBlacklist
	case PhoneWhitelist:
		return &r.PhoneWhitelist
	case TextBlacklist:
		return &r.TextBlacklist
	case TextWhitelist:
		return &r.TextWhitelist
	}
	panic("rules: unknown list")
}

func (r Rules) Clone() Rules {
	return Rules{
		PhoneBlacklist: NewSet(r.PhoneBlacklist.items...),
		PhoneWhitelist: NewSet(r.PhoneWhitelist.items...),
		TextBlacklist:  NewSet(r.TextBlacklist.items...),
		TextWhitelist:  NewSet(r.TextWhitelist.items...),
		UseWhitelist:   r.UseWhitelist,
	}
}

func (r Rules) Equal(other Rules) bool {
	return r.UseWhitelist == other.UseWhitelist &&
		r.PhoneBlacklist.Equal(other.PhoneBlacklist) &&
		r.PhoneWhitelist.Equal(other.PhoneWhitelist) &&
		r.TextBlacklist.Equal(other.TextBlacklist) &&
		r.TextWhitelist.Equal(other.TextWhitelist)
}

// Reason of the filtering decision.
type Reason string

const (
	ReasonAccepted       Reason = "accepted"
	ReasonTextBlacklist  Reason = "text_blacklist"
	ReasonTextWhitelist  Reason = "text_whitelist"
	ReasonPhoneBlacklist Reason = "phone_blacklist"
	ReasonPhoneWhitelist Reason = "phone_whitelist"
)

type Decision struct {
	Accepted bool
	Reason   Reason
	// Entry that caused the rejection, empty for whitelist misses.
	Entry string
	// Text rules that are not valid regular expressions. They never match.
	Invalid []string
}

func reject(reason Reason, entry string, invalid []string) Decision {
	return Decision{Reason: reason, Entry: entry, Invalid: invalid}
}

// Decide evaluates ev against r.
func Decide(r Rules, ev *event.Event) Decision {
	var invalid []string

	if ev.Text != nil {
		text := *ev.Text

		if !r.TextBlacklist.Empty() {
			entry, ok, bad := matchText(r.TextBlacklist, text)
			invalid = append(invalid, bad...)
			if ok {
				return reject(ReasonTextBlacklist, entry, invalid)
			}
		}
		if !r.TextWhitelist.Empty() {
			_, ok, bad := matchText(r.TextWhitelist, text)
			invalid = append(invalid, bad...)
			if !ok {
				return reject(ReasonTextWhitelist, "", invalid)
			}
		}
	}

	if entry, ok := matchPhone(r.PhoneBlacklist, ev.Phone); ok {
		return reject(ReasonPhoneBlacklist, entry, invalid)
	}
	if r.UseWhitelist {
		if _, ok := matchPhone(r.PhoneWhitelist, ev.Phone); !ok {
			return reject(ReasonPhoneWhitelist, "", invalid)
		}
	}

	return Decision{Accepted: true, Reason: ReasonAccepted, Invalid: invalid}
}

func matchPhone(s Set, phone string) (string, bool) {
	for _, pattern := range s.items {
		if address.PhoneMatches(pattern, phone) {
			return pattern, true
		}
	}
	return "", false
}

// RegexpPrefix marks a text entry as a regular expression.
const RegexpPrefix = "~"

func matchText(s Set, text string) (entry string, ok bool, invalid []string) {
	for _, e := range s.items {
		if expr, isRe := strings.CutPrefix(e, RegexpPrefix); isRe {
			re, err := regexp.Compile("^(?s:" + expr + ")$")
			if err != nil {
				invalid = append(invalid, e)
				continue
			}
			if re.MatchString(text) {
				return e, true, invalid
			}
			continue
		}
		if strings.Contains(text, e) {
			return e, true, invalid
		}
	}
	return "", false, invalid
}
