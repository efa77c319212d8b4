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

// Package format renders events into localized email messages.
package format

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/smailer/smailer/internal/event"
	"golang.org/x/text/language"
	"golang.org/x/text/message/catalog"
)

const (
	htmlHead = `<!DOCTYPE html><html><head><meta http-equiv="Content-Type" content="text/html; charset=utf-8"></head><body>`
	htmlTail = `</body></html>`
)

// ContentOption enables an optional clause in the message footer.
type ContentOption string

const (
	OptionTime        ContentOption = "time"
	OptionDeviceName  ContentOption = "device_name"
	OptionLocation    ContentOption = "location"
	OptionContactName ContentOption = "contact_name"
)

// ContentOptions is a set of enabled footer clauses.
type ContentOptions map[ContentOption]bool

// ParseContentOptions validates option names.
func ParseContentOptions(names []string) (ContentOptions, error) {
	opts := make(ContentOptions, len(names))
	for _, name := range names {
		opt := ContentOption(strings.ToLower(strings.TrimSpace(name)))
		switch opt {
		case OptionTime, OptionDeviceName, OptionLocation, OptionContactName:
			opts[opt] = true
		default:
			return nil, fmt.Errorf("format: unknown content option: %s", name)
		}
	}
	return opts, nil
}

// AllContentOptions returns a set with every option enabled.
func AllContentOptions() ContentOptions {
	return ContentOptions{
		OptionTime:        true,
		OptionDeviceName:  true,
		OptionLocation:    true,
		OptionContactName: true,
	}
}

type Params struct {
	Locale      string
	DeviceName  string
	ContactName string
	Location    *event.GeoCoordinates
	Options     ContentOptions

	// Set if the corresponding data could not be obtained because access
	// was denied. A placeholder explaining that is rendered instead.
	LocationDenied bool
	ContactsDenied bool

	// Time zone used to render the event time, time.Local if nil.
	TimeZone *time.Location
}

type Formatter struct {
	AppName string

	cat     catalog.Catalog
	matcher language.Matcher
}

func New(appName string) *Formatter {
	return &Formatter{
		AppName: appName,
		cat:     buildCatalog(),
		matcher: language.NewMatcher(supported),
	}
}

// Localize formats the message key using the locale, falling back to
// English.
func (f *Formatter) Localize(locale, key string, args ...interface{}) string {
	return newPrinter(f.cat, matchLocale(f.matcher, locale)).Sprintf(key, args...)
}

// Format returns the subject and HTML body of the notification for ev.
func (f *Formatter) Format(ev *event.Event, p Params) (subject, body string) {
	tag := matchLocale(f.matcher, p.Locale)
	pr := newPrinter(f.cat, tag)

	phone := ev.Phone
	if strings.TrimSpace(phone) == "" {
		phone = pr.Sprintf(unknownNumber)
	}

	var subjKey, sentence string
	switch ev.Kind() {
	case event.KindIncomingSMS:
		subjKey = subjIncomingSMS
		sentence = formatText(ev.TextOrEmpty())
	case event.KindOutgoingSMS:
		subjKey = subjOutgoingSMS
		sentence = formatText(ev.TextOrEmpty())
	case event.KindIncomingCall:
		subjKey = subjIncomingCall
		sentence = html.EscapeString(pr.Sprintf(bodyIncomingCall, formatDuration(ev.Duration())))
	case event.KindOutgoingCall:
		subjKey = subjOutgoingCall
		sentence = html.EscapeString(pr.Sprintf(bodyOutgoingCall, formatDuration(ev.Duration())))
	case event.KindMissedCall:
		subjKey = subjMissedCall
		sentence = html.EscapeString(pr.Sprintf(bodyMissedCall))
	}
	subject = pr.Sprintf(subjKey, f.AppName, phone)

	var b strings.Builder
	b.WriteString(htmlHead)
	b.WriteString(sentence)

	footer := f.footer(ev, p, tag)
	if len(footer) != 0 {
		b.WriteString(`<hr style="border: none; background-color: #cccccc; height: 1px;">`)
		b.WriteString(strings.Join(footer, "<br>"))
	}
	b.WriteString(htmlTail)

	return subject, b.String()
}

func (f *Formatter) footer(ev *event.Event, p Params, tag language.Tag) []string {
	pr := newPrinter(f.cat, tag)
	var lines []string

	if p.Options[OptionContactName] {
		name := html.EscapeString(p.ContactName)
		switch {
		case p.ContactsDenied:
			name = "<i>" + html.EscapeString(pr.Sprintf(noContactsAccess)) + "</i>"
		case p.ContactName == "":
			name = "<i>" + html.EscapeString(pr.Sprintf(noContact)) + "</i>"
		}
		key := footerCaller
		if !ev.Incoming {
			key = footerRecipient
		}
		lines = append(lines, pr.Sprintf(key, name))
	}

	if p.Options[OptionLocation] {
		var loc string
		switch {
		case p.LocationDenied:
			loc = "<i>" + html.EscapeString(pr.Sprintf(noLocationAccess)) + "</i>"
		case p.Location == nil:
			loc = "<i>" + html.EscapeString(pr.Sprintf(noLocation)) + "</i>"
		default:
			loc = `<a href="` + html.EscapeString(p.Location.MapURL()) + `">` + html.EscapeString(p.Location.String()) + `</a>`
		}
		lines = append(lines, pr.Sprintf(footerLocation, loc))
	}

	if p.Options[OptionTime] {
		tz := p.TimeZone
		if tz == nil {
			tz = time.Local
		}
		lines = append(lines, pr.Sprintf(footerTime, ev.Start().In(tz).Format(timeLayouts[tag])))
	}

	if p.Options[OptionDeviceName] {
		name := html.EscapeString(p.DeviceName)
		if strings.TrimSpace(p.DeviceName) == "" {
			name = "<i>" + html.EscapeString(pr.Sprintf(noDeviceName)) + "</i>"
		}
		lines = append(lines, pr.Sprintf(footerDevice, name))
	}

	return lines
}

func formatText(text string) string {
	text = html.EscapeString(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\n", "<br>")
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs/60%60, secs%60)
}
