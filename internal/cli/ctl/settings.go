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

package ctl

import (
	"fmt"
	"sort"
	"strings"

	smailercli "github.com/smailer/smailer/internal/cli"
	"github.com/smailer/smailer/internal/relay"
	"github.com/smailer/smailer/internal/rules"
	"github.com/smailer/smailer/internal/settings"
	"github.com/urfave/cli/v2"
)

// Keys holding a list of values.
var listKeys = map[string]bool{
	relay.KeyRecipients: true,
	relay.KeyContent:    true,
}

var profileKeys = []string{
	relay.KeySender,
	relay.KeyRecipients,
	relay.KeyDeviceName,
	relay.KeyLocale,
	relay.KeyNotifyOnSuccess,
	relay.KeyContent,
}

func init() {
	smailercli.AddSubcommand(
		&cli.Command{
			Name:  "settings",
			Usage: "Runtime settings management",
			Description: `Values in the settings table override the configuration file.

Known keys: ` + strings.Join(profileKeys, ", ") + `.
Filter rules are changed with the 'rules' subcommands.
`,
			Subcommands: []*cli.Command{
				{
					Name:  "list",
					Usage: "Print all stored settings",
					Action: func(ctx *cli.Context) error {
						d, err := openDaemon(ctx)
						if err != nil {
							return err
						}
						defer closeDaemon(d)
						return settingsList(d.Settings, ctx)
					},
				},
				{
					Name:      "set",
					Usage:     "Change a setting",
					ArgsUsage: "KEY VALUE...",
					Action: func(ctx *cli.Context) error {
						if ctx.NArg() < 2 {
							return cli.Exit("Error: KEY and VALUE are required", 2)
						}
						key := ctx.Args().First()
						if !isProfileKey(key) {
							return cli.Exit(fmt.Sprintf("Error: unknown key: %s", key), 2)
						}

						d, err := openDaemon(ctx)
						if err != nil {
							return err
						}
						defer closeDaemon(d)
						return d.Settings.SetKey(ctx.Context, key, encodeValue(key, ctx.Args().Tail()))
					},
				},
				{
					Name:      "unset",
					Usage:     "Revert a setting to the configuration file value",
					ArgsUsage: "KEY",
					Action: func(ctx *cli.Context) error {
						key := ctx.Args().First()
						if key == "" {
							return cli.Exit("Error: KEY is required", 2)
						}

						d, err := openDaemon(ctx)
						if err != nil {
							return err
						}
						defer closeDaemon(d)
						return d.Settings.RemoveKey(ctx.Context, key)
					},
				},
			},
		})
}

func isProfileKey(key string) bool {
	for _, k := range profileKeys {
		if k == key {
			return true
		}
	}
	return false
}

func encodeValue(key string, args []string) string {
	if listKeys[key] {
		return rules.EncodeSet(rules.NewSet(args...))
	}
	return strings.Join(args, " ")
}

func settingsList(s *settings.SQLTable, ctx *cli.Context) error {
	keys, err := s.Keys(ctx.Context)
	if err != nil {
		return err
	}
	sort.Strings(keys)

	for _, key := range keys {
		val, _, err := s.Lookup(ctx.Context, key)
		if err != nil {
			return err
		}
		if listKeys[key] || strings.HasPrefix(key, rules.KeyPrefix) {
			val = strings.Join(rules.DecodeSet(val).Items(), ", ")
		}
		fmt.Printf("%s: %s\n", key, val)
	}
	return nil
}
