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
	"strings"

	smailercli "github.com/smailer/smailer/internal/cli"
	"github.com/smailer/smailer/internal/rules"
	"github.com/urfave/cli/v2"
)

func listNames() string {
	names := make([]string, 0, len(rules.Lists()))
	for _, l := range rules.Lists() {
		names = append(names, l.String())
	}
	return strings.Join(names, ", ")
}

func init() {
	smailercli.AddSubcommand(
		&cli.Command{
			Name:  "rules",
			Usage: "Filter rules management",
			Description: `These commands manipulate the filter rules stored in the settings
table of the event database. The same changes can be made remotely by
replying to a notification.

Valid lists: ` + listNames() + `.
`,
			Subcommands: []*cli.Command{
				{
					Name:  "list",
					Usage: "Print all rule lists",
					Action: func(ctx *cli.Context) error {
						d, err := openDaemon(ctx)
						if err != nil {
							return err
						}
						defer closeDaemon(d)
						return rulesList(d.Rules, ctx)
					},
				},
				{
					Name:      "add",
					Usage:     "Add an entry to a list",
					ArgsUsage: "LIST VALUE",
					Action: func(ctx *cli.Context) error {
						d, err := openDaemon(ctx)
						if err != nil {
							return err
						}
						defer closeDaemon(d)
						return rulesChange(d.Rules, ctx, true)
					},
				},
				{
					Name:      "remove",
					Usage:     "Remove an entry from a list",
					ArgsUsage: "LIST VALUE",
					Action: func(ctx *cli.Context) error {
						d, err := openDaemon(ctx)
						if err != nil {
							return err
						}
						defer closeDaemon(d)
						return rulesChange(d.Rules, ctx, false)
					},
				},
				{
					Name:      "whitelist-mode",
					Usage:     "Accept only whitelisted phones",
					ArgsUsage: "on|off",
					Action: func(ctx *cli.Context) error {
						var use bool
						switch ctx.Args().First() {
						case "on":
							use = true
						case "off":
						default:
							return cli.Exit("Error: on or off is required", 2)
						}

						d, err := openDaemon(ctx)
						if err != nil {
							return err
						}
						defer closeDaemon(d)

						_, err = d.Rules.SetUseWhitelist(ctx.Context, use)
						return err
					},
				},
			},
		})
}

func rulesList(repo *rules.Repository, ctx *cli.Context) error {
	r, err := repo.Load(ctx.Context)
	if err != nil {
		return err
	}

	mode := "off"
	if r.UseWhitelist {
		mode = "on"
	}
	fmt.Println("whitelist mode:", mode)
	for _, l := range rules.Lists() {
		fmt.Printf("%s:\n", l)
		for _, item := range r.List(l).Sorted() {
			fmt.Printf("\t%s\n", item)
		}
	}
	return nil
}

func rulesChange(repo *rules.Repository, ctx *cli.Context, add bool) error {
	if ctx.NArg() != 2 {
		return cli.Exit("Error: LIST and VALUE are required", 2)
	}
	l, err := rules.ParseList(ctx.Args().Get(0))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 2)
	}
	value := ctx.Args().Get(1)

	var changed bool
	if add {
		changed, err = repo.Add(ctx.Context, l, value)
	} else {
		changed, err = repo.Remove(ctx.Context, l, value)
	}
	if err != nil {
		return err
	}
	if !changed {
		fmt.Println("No changes.")
	}
	return nil
}
