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

// Package command parses remote control commands from reply email bodies.
//
// Grammar, keywords are case-insensitive and the clauses may be
// surrounded by arbitrary words:
//
//	DEVICE "<name>" SEND SMS "<text>" [TO <phone>]
//	DEVICE "<name>" ADD PHONE <phone> TO {BLACKLIST|WHITELIST}
//	DEVICE "<name>" ADD TEXT "<text>" TO {BLACKLIST|WHITELIST}
//	DEVICE "<name>" REMOVE PHONE <phone> FROM {BLACKLIST|WHITELIST}
//	DEVICE "<name>" REMOVE TEXT "<text>" FROM {BLACKLIST|WHITELIST}
//
// A body that does not fully match the grammar yields ActionNone with the
// arguments that were recognized.
package command

import (
	"strings"
	"unicode"

	"github.com/smailer/smailer/framework/address"
	"github.com/smailer/smailer/internal/rules"
)

type Action int

const (
	ActionNone Action = iota
	ActionAddPhoneToBlacklist
	ActionAddPhoneToWhitelist
	ActionAddTextToBlacklist
	ActionAddTextToWhitelist
	ActionRemovePhoneFromBlacklist
	ActionRemovePhoneFromWhitelist
	ActionRemoveTextFromBlacklist
	ActionRemoveTextFromWhitelist
	ActionSendSMSToCaller
)

var actionNames = map[Action]string{
	ActionNone:                     "none",
	ActionAddPhoneToBlacklist:      "add_phone_to_blacklist",
	ActionAddPhoneToWhitelist:      "add_phone_to_whitelist",
	ActionAddTextToBlacklist:       "add_text_to_blacklist",
	ActionAddTextToWhitelist:       "add_text_to_whitelist",
	ActionRemovePhoneFromBlacklist: "remove_phone_from_blacklist",
	ActionRemovePhoneFromWhitelist: "remove_phone_from_whitelist",
	ActionRemoveTextFromBlacklist:  "remove_text_from_blacklist",
	ActionRemoveTextFromWhitelist:  "remove_text_from_whitelist",
	ActionSendSMSToCaller:          "send_sms_to_caller",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "unknown"
}

// RuleChange describes how the action modifies the filter rules. ok is
// false for actions that do not change rules.
func (a Action) RuleChange() (list rules.List, add bool, ok bool) {
	switch a {
	case ActionAddPhoneToBlacklist:
		return rules.PhoneBlacklist, true, true
	case ActionAddPhoneToWhitelist:
		return rules.PhoneWhitelist, true, true
	case ActionAddTextToBlacklist:
		return rules.TextBlacklist, true, true
	case ActionAddTextToWhitelist:
		return rules.TextWhitelist, true, true
	case ActionRemovePhoneFromBlacklist:
		return rules.PhoneBlacklist, false, true
	case ActionRemovePhoneFromWhitelist:
		return rules.PhoneWhitelist, false, true
	case ActionRemoveTextFromBlacklist:
		return rules.TextBlacklist, false, true
	case ActionRemoveTextFromWhitelist:
		return rules.TextWhitelist, false, true
	}
	return 0, false, false
}

// Command is the result of Parse.
type Command struct {
	// Name of the device the command is addressed to.
	Acceptor string
	Action   Action
	// Phone or text of the rule actions.
	Argument string

	// Arguments of ActionSendSMSToCaller.
	Text  string
	Phone string
}

const (
	kwDevice    = "device"
	kwSend      = "send"
	kwSMS       = "sms"
	kwAdd       = "add"
	kwRemove    = "remove"
	kwPhone     = "phone"
	kwText      = "text"
	kwTo        = "to"
	kwFrom      = "from"
	kwBlacklist = "blacklist"
	kwWhitelist = "whitelist"
)

// keyword returns the lower-cased unquoted token with surrounding
// punctuation removed, or "" for quoted tokens.
func keyword(t Token) string {
	if t.Quoted {
		return ""
	}
	return strings.ToLower(strings.TrimFunc(t.Text, unicode.IsPunct))
}

type parser struct {
	tokens []Token
	pos    int
}

// find advances to the token after the first keyword from kws and returns
// that keyword.
func (p *parser) find(kws ...string) string {
	for ; p.pos < len(p.tokens); p.pos++ {
		kw := keyword(p.tokens[p.pos])
		for _, want := range kws {
			if kw == want {
				p.pos++
				return kw
			}
		}
	}
	return ""
}

// peek returns the keyword of the next token without consuming it.
func (p *parser) peek() string {
	if p.pos >= len(p.tokens) {
		return ""
	}
	return keyword(p.tokens[p.pos])
}

// quoted consumes the next token if it is a quoted string.
func (p *parser) quoted() (string, bool) {
	if p.pos >= len(p.tokens) || !p.tokens[p.pos].Quoted {
		return "", false
	}
	p.pos++
	return p.tokens[p.pos-1].Text, true
}

// phone consumes unquoted tokens up to the first keyword from stop and
// returns the first phone number found in them.
func (p *parser) phone(stop ...string) (string, bool) {
	var words []string
loop:
	for ; p.pos < len(p.tokens); p.pos++ {
		t := p.tokens[p.pos]
		if t.Quoted {
			break
		}
		kw := keyword(t)
		for _, s := range stop {
			if kw == s {
				break loop
			}
		}
		words = append(words, t.Text)
	}
	return address.FindPhone(strings.Join(words, " "))
}

// Parse extracts the command from a message body.
func Parse(body string) Command {
	tokens, err := Tokenize(body)
	if err != nil {
		return Command{}
	}
	return parseTokens(tokens)
}

func parseTokens(tokens []Token) Command {
	var cmd Command
	p := &parser{tokens: tokens}

	for p.find(kwDevice) != "" {
		if name, ok := p.quoted(); ok {
			cmd.Acceptor = name
			break
		}
	}
	if cmd.Acceptor == "" {
		return cmd
	}

	switch p.find(kwSend, kwAdd, kwRemove) {
	case kwSend:
		if p.peek() != kwSMS {
			return cmd
		}
		p.pos++
		cmd.Action = ActionSendSMSToCaller
		cmd.Text, _ = p.quoted()
		if p.peek() == kwTo {
			p.pos++
			cmd.Phone, _ = p.phone()
		}
	case kwAdd:
		parseRuleChange(p, &cmd, true)
	case kwRemove:
		parseRuleChange(p, &cmd, false)
	}
	return cmd
}

func parseRuleChange(p *parser, cmd *Command, add bool) {
	prep := kwFrom
	if add {
		prep = kwTo
	}

	var phone bool
	switch p.peek() {
	case kwPhone:
		p.pos++
		phone = true
		arg, ok := p.phone(prep, kwBlacklist, kwWhitelist)
		if !ok {
			return
		}
		cmd.Argument = arg
	case kwText:
		p.pos++
		arg, ok := p.quoted()
		if !ok {
			return
		}
		cmd.Argument = arg
	default:
		return
	}

	if p.peek() != prep {
		return
	}
	p.pos++

	var black bool
	switch p.peek() {
	case kwBlacklist:
		black = true
	case kwWhitelist:
	default:
		return
	}

	switch {
	case add && phone && black:
		cmd.Action = ActionAddPhoneToBlacklist
	case add && phone:
		cmd.Action = ActionAddPhoneToWhitelist
	case add && black:
		cmd.Action = ActionAddTextToBlacklist
	case add:
		cmd.Action = ActionAddTextToWhitelist
	case phone && black:
		cmd.Action = ActionRemovePhoneFromBlacklist
	case phone:
		cmd.Action = ActionRemovePhoneFromWhitelist
	case black:
		cmd.Action = ActionRemoveTextFromBlacklist
	default:
		cmd.Action = ActionRemoveTextFromWhitelist
	}
}
