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

package address

import (
	"strings"

	"github.com/emersion/go-message/mail"
	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/norm"
)

// NormalizeEmail transforms the address into a canonical form usable for
// comparisons of sender addresses.
//
// The address is trimmed, converted to NFC and case-folded. Dots are
// removed from the local-part unless it is quoted, so "John.Doe@example.org"
// and "johndoe@example.org" compare equal. The domain is converted to
// U-labels.
//
// Malformed addresses are only trimmed and case-folded.
func NormalizeEmail(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.TrimSuffix(strings.TrimPrefix(addr, "<"), ">")

	mbox, domain, err := Split(addr)
	if err != nil {
		return strings.ToLower(addr)
	}

	mbox = strings.ToLower(norm.NFC.String(mbox))
	if !IsQuoted(mbox) {
		mbox = strings.ReplaceAll(mbox, ".", "")
	}

	uDomain, err := idna.ToUnicode(domain)
	if err != nil {
		uDomain = domain
	}
	uDomain = strings.ToLower(norm.NFC.String(uDomain))

	return mbox + "@" + uDomain
}

// EmailsEqual reports whether addr1 and addr2 are the same mailbox after
// NormalizeEmail.
func EmailsEqual(addr1, addr2 string) bool {
	// Short circuit. If they are bit-equivalent, then they are also canonically
	// equivalent.
	if addr1 == addr2 {
		return true
	}
	return NormalizeEmail(addr1) == NormalizeEmail(addr2)
}

// ContainsEmail reports whether list contains addr according to EmailsEqual.
func ContainsEmail(list []string, addr string) bool {
	normAddr := NormalizeEmail(addr)
	for _, a := range list {
		if NormalizeEmail(a) == normAddr {
			return true
		}
	}
	return false
}

// ParseAddressList extracts bare addresses from a header value such as
// `"John" <john@example.org>, jane@example.org`. Unparsable values are
// split on commas and trimmed.
func ParseAddressList(value string) []string {
	list, err := mail.ParseAddressList(value)
	if err == nil {
		res := make([]string, 0, len(list))
		for _, a := range list {
			res = append(res, a.Address)
		}
		return res
	}

	var res []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if i := strings.LastIndexByte(part, '<'); i != -1 {
			part = strings.TrimSuffix(part[i+1:], ">")
		}
		if part != "" {
			res = append(res, part)
		}
	}
	return res
}
