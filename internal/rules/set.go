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
	"sort"
	"strings"
)

// Set is an ordered set of strings. Insertion order is kept so rule lists
// are shown the way the user entered them.
type Set struct {
	items []string
}

func NewSet(items ...string) Set {
	var s Set
	for _, it := range items {
		s.Add(it)
	}
	return s
}

func (s *Set) index(item string) int {
	for i, it := range s.items {
		if it == item {
			return i
		}
	}
	return -1
}

// Add adds item to the set. It returns false if the item is empty or is
// already present.
func (s *Set) Add(item string) bool {
	if item == "" || s.index(item) != -1 {
		return false
	}
	s.items = append(s.items, item)
	return true
}

// Remove removes item from the set. It returns false if there was no such
// item.
func (s *Set) Remove(item string) bool {
	i := s.index(item)
	if i == -1 {
		return false
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	return true
}

func (s Set) Contains(item string) bool {
	return s.index(item) != -1
}

func (s Set) Len() int {
	return len(s.items)
}

func (s Set) Empty() bool {
	return len(s.items) == 0
}

// Items returns a copy of the set elements in insertion order.
func (s Set) Items() []string {
	return append([]string(nil), s.items...)
}

// Sorted returns a sorted copy of the set elements.
func (s Set) Sorted() []string {
	items := s.Items()
	sort.Strings(items)
	return items
}

func (s Set) Equal(other Set) bool {
	if len(s.items) != len(other.items) {
		return false
	}
	for _, it := range s.items {
		if !other.Contains(it) {
			return false
		}
	}
	return true
}

func (s Set) String() string {
	return EncodeSet(s)
}

// EncodeSet joins the elements with ',', a ',' inside an element is written
// as "/,".
func EncodeSet(s Set) string {
	var b strings.Builder
	for i, it := range s.items {
		if i != 0 {
			b.WriteByte(',')
		}
		b.WriteString(strings.ReplaceAll(it, ",", "/,"))
	}
	return b.String()
}

// DecodeSet is the inverse of EncodeSet. Empty elements are dropped.
//
// The format cannot represent an element that ends with '/': "a/" followed
// by another element decodes as a single element containing a comma.
func DecodeSet(value string) Set {
	var (
		s   Set
		cur strings.Builder
	)
	for i := 0; i < len(value); i++ {
		switch {
		case value[i] == '/' && i+1 < len(value) && value[i+1] == ',':
			cur.WriteByte(',')
			i++
		case value[i] == ',':
			s.Add(cur.String())
			cur.Reset()
		default:
			cur.WriteByte(value[i])
		}
	}
	s.Add(cur.String())
	return s
}
