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

// Package clitools contains terminal helpers for the ctl subcommands.
package clitools

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

var stdinScanner = bufio.NewScanner(os.Stdin)

// Confirmation asks a yes/no question on stderr and returns def if the
// answer is empty or not recognized.
func Confirmation(prompt string, def bool) bool {
	selection := "y/N"
	if def {
		selection = "Y/n"
	}

	fmt.Fprintf(os.Stderr, "%s [%s]: ", prompt, selection)
	if !stdinScanner.Scan() {
		fmt.Fprintln(os.Stderr, stdinScanner.Err())
		return false
	}

	switch strings.TrimSpace(stdinScanner.Text()) {
	case "Y", "y":
		return true
	case "N", "n":
		return false
	default:
		return def
	}
}

// ReadPassword reads a secret without echo if stdin is a terminal,
// otherwise the first line of stdin is used.
func ReadPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		if !stdinScanner.Scan() {
			if err := stdinScanner.Err(); err != nil {
				return "", err
			}
			return "", errors.New("ReadPassword: empty input")
		}
		return stdinScanner.Text(), nil
	}

	fmt.Fprint(os.Stderr, prompt, ": ")
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("ReadPassword: %w", err)
	}
	if len(pass) == 0 {
		return "", errors.New("ReadPassword: empty password")
	}
	return string(pass), nil
}
