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

package format

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys. English text is used as the key itself.
const (
	subjIncomingSMS  = "[%s] Incoming SMS from %s"
	subjOutgoingSMS  = "[%s] Outgoing SMS to %s"
	subjIncomingCall = "[%s] Incoming call from %s"
	subjOutgoingCall = "[%s] Outgoing call to %s"
	subjMissedCall   = "[%s] Missed call from %s"
	unknownNumber    = "unknown number"

	bodyIncomingCall = "You had an incoming call of %s duration."
	bodyOutgoingCall = "You had an outgoing call of %s duration."
	bodyMissedCall   = "You had a missed call."

	footerTime         = "Time: %s"
	footerCaller       = "Caller: %s"
	footerRecipient    = "Recipient: %s"
	footerLocation     = "Last known device location: %s"
	footerDevice       = "Sent from %s"
	noContact          = "not in address book"
	noContactsAccess   = "no permission to read contacts"
	noLocation         = "location unknown"
	noLocationAccess   = "no permission to read location"
	noDeviceName       = "device name not specified"
	MsgAuthFailed      = "Authentication failed"
	MsgNoConnection    = "No internet connection"
	MsgNoParameters    = "Email delivery is not configured"
	MsgSendFailed      = "Unable to send email"
	MsgRemoteAction    = "Remote command performed: %s %s"
	MsgDelivered       = "Email sent"
	MsgInvalidTextRule = "Invalid text filter rule: %s"
)

var supported = []language.Tag{language.English, language.Russian}

var timeLayouts = map[language.Tag]string{
	language.English: "Jan 2, 2006 3:04:05 PM MST",
	language.Russian: "02.01.2006 15:04:05 MST",
}

var russian = map[string]string{
	subjIncomingSMS:    "[%s] Входящее SMS от %s",
	subjOutgoingSMS:    "[%s] Исходящее SMS для %s",
	subjIncomingCall:   "[%s] Входящий звонок от %s",
	subjOutgoingCall:   "[%s] Исходящий звонок на %s",
	subjMissedCall:     "[%s] Пропущенный звонок от %s",
	unknownNumber:      "неизвестный номер",
	bodyIncomingCall:   "Входящий звонок длительностью %s.",
	bodyOutgoingCall:   "Исходящий звонок длительностью %s.",
	bodyMissedCall:     "Пропущенный звонок.",
	footerTime:         "Время: %s",
	footerCaller:       "Абонент: %s",
	footerRecipient:    "Получатель: %s",
	footerLocation:     "Последнее известное местоположение устройства: %s",
	footerDevice:       "Отправлено с %s",
	noContact:          "нет в адресной книге",
	noContactsAccess:   "нет разрешения на чтение контактов",
	noLocation:         "местоположение неизвестно",
	noLocationAccess:   "нет разрешения на определение местоположения",
	noDeviceName:       "имя устройства не указано",
	MsgAuthFailed:      "Ошибка аутентификации",
	MsgNoConnection:    "Нет подключения к интернету",
	MsgNoParameters:    "Отправка почты не настроена",
	MsgSendFailed:      "Не удалось отправить письмо",
	MsgRemoteAction:    "Выполнена удалённая команда: %s %s",
	MsgDelivered:       "Письмо отправлено",
	MsgInvalidTextRule: "Неверное правило фильтра текста: %s",
}

func buildCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for key, msg := range russian {
		if err := b.SetString(language.Russian, key, msg); err != nil {
			panic(err)
		}
	}
	return b
}

// matchLocale returns the supported tag closest to the locale string.
// Unparsable or unsupported locales resolve to English.
func matchLocale(matcher language.Matcher, locale string) language.Tag {
	if locale == "" {
		return language.English
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return language.English
	}
	_, idx, conf := matcher.Match(tag)
	if conf == language.No {
		return language.English
	}
	return supported[idx]
}

func newPrinter(cat catalog.Catalog, tag language.Tag) *message.Printer {
	return message.NewPrinter(tag, message.Catalog(cat))
}
