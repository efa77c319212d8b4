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
	"regexp"
	"strings"
	"unicode"
)

// NormalizePhone strips everything except letters, digits, '*' and '.'
// from the phone number and upper-cases the result.
//
// Letters are kept because caller IDs are not always numeric ("INFO",
// "BANK").
func NormalizePhone(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, ch := range phone {
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '*' || ch == '.' {
			b.WriteRune(unicode.ToUpper(ch))
		}
	}
	return b.String()
}

// PhonesEqual reports whether the two phone numbers are equal either
// literally or after NormalizePhone.
func PhonesEqual(a, b string) bool {
	if a == b {
		return true
	}
	return NormalizePhone(a) == NormalizePhone(b)
}

// PhonesEqualPtr is the nil-safe version of PhonesEqual. Two nils are
// equal, nil is never equal to a non-nil value.
func PhonesEqualPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return PhonesEqual(*a, *b)
}

// PhoneToRegexp converts the phone pattern into a regular expression
// matching the whole normalized phone number. '*' is the only wildcard and
// matches any (possibly empty) sequence.
func PhoneToRegexp(pattern string) string {
	parts := strings.Split(NormalizePhone(pattern), "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return "^" + strings.Join(parts, "(.*)") + "$"
}

// PhoneMatches reports whether the phone number matches the pattern.
//
// Without wildcards the match is done on the whole normalized string so "111"
// matches "+1(11)" but not "1113".
func PhoneMatches(pattern, phone string) bool {
	if PhonesEqual(pattern, phone) {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return false
	}

	re, err := regexp.Compile(PhoneToRegexp(pattern))
	if err != nil {
		return false
	}
	return re.MatchString(NormalizePhone(phone))
}

// phonePattern is the shared notion of how a phone number looks in
// free-form text.
var phonePattern = regexp.MustCompile(`\+?[0-9*][0-9*().\- ]*[0-9*)]|\+?[0-9*]`)

// FindPhone returns the first phone-looking substring of s.
func FindPhone(s string) (string, bool) {
	m := phonePattern.FindString(s)
	if m == "" {
		return "", false
	}
	return strings.TrimSpace(m), true
}
