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

// Package exterrors attaches structured context to errors without losing
// the ability to unwrap them.
//
// Fields are merged into log records by log.Logger.Error. The temporary
// flag decides whether a failed delivery is worth retrying.
package exterrors

import (
	"errors"
)

type fieldsErr interface {
	Fields() map[string]interface{}
}

type fieldsWrap struct {
	err    error
	fields map[string]interface{}
}

func (fw fieldsWrap) Error() string {
	return fw.err.Error()
}

func (fw fieldsWrap) Unwrap() error {
	return fw.err
}

func (fw fieldsWrap) Fields() map[string]interface{} {
	return fw.fields
}

// Fields collects fields attached to err and all errors it wraps, including
// the members of errors.Join trees. Outer errors override fields of the
// inner ones.
func Fields(err error) map[string]interface{} {
	fields := make(map[string]interface{}, 5)
	collectFields(err, fields)
	return fields
}

func collectFields(err error, fields map[string]interface{}) {
	for err != nil {
		if errFields, ok := err.(fieldsErr); ok {
			for k, v := range errFields.Fields() {
				if _, ok := fields[k]; ok {
					continue
				}
				fields[k] = v
			}
		}

		switch e := err.(type) {
		case interface{ Unwrap() []error }:
			for _, member := range e.Unwrap() {
				collectFields(member, fields)
			}
			return
		case interface{ Unwrap() error }:
			err = e.Unwrap()
		default:
			return
		}
	}
}

func WithFields(err error, fields map[string]interface{}) error {
	if err == nil {
		return nil
	}
	return fieldsWrap{err: err, fields: fields}
}

type TemporaryErr interface {
	Temporary() bool
}

// IsTemporaryOrUnspec is similar to IsTemporary except that errors without
// a Temporary method are assumed to be temporary.
func IsTemporaryOrUnspec(err error) bool {
	var temp TemporaryErr
	if errors.As(err, &temp) {
		return temp.Temporary()
	}
	return true
}

// IsTemporary reports whether err has a Temporary method returning true.
func IsTemporary(err error) bool {
	var temp TemporaryErr
	if errors.As(err, &temp) {
		return temp.Temporary()
	}
	return false
}

type temporaryErr struct {
	err  error
	temp bool
}

func (t temporaryErr) Unwrap() error {
	return t.err
}

func (t temporaryErr) Error() string {
	return t.err.Error()
}

func (t temporaryErr) Temporary() bool {
	return t.temp
}

// WithTemporary overrides the temporary flag of err. The original error is
// still reachable with errors.Is and errors.As.
func WithTemporary(err error, temporary bool) error {
	if err == nil {
		return nil
	}
	return temporaryErr{err, temporary}
}
