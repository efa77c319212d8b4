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
	"encoding/json"
	"fmt"
	"os"
	"time"

	smailercli "github.com/smailer/smailer/internal/cli"
	"github.com/smailer/smailer/internal/cli/clitools"
	"github.com/smailer/smailer/internal/event"
	"github.com/smailer/smailer/internal/storage/eventlog"
	"github.com/urfave/cli/v2"
)

func init() {
	smailercli.AddSubcommand(
		&cli.Command{
			Name:  "events",
			Usage: "Event log inspection",
			Description: `These commands read and clean the log of captured events.

Do not run destructive commands while the relay is delivering events.
`,
			Subcommands: []*cli.Command{
				{
					Name:  "list",
					Usage: "List stored events, newest first",
					Flags: []cli.Flag{
						&cli.BoolFlag{
							Name:  "pending",
							Usage: "Show only events that were not delivered yet",
						},
						&cli.IntFlag{
							Name:  "limit",
							Usage: "Show at most `N` events, 0 means all",
							Value: 50,
						},
						&cli.BoolFlag{
							Name:  "json",
							Usage: "Print events as JSON lines",
						},
					},
					Action: func(ctx *cli.Context) error {
						d, err := openDaemon(ctx)
						if err != nil {
							return err
						}
						defer closeDaemon(d)
						return eventsList(d.Store, ctx)
					},
				},
				{
					Name:  "clear",
					Usage: "Delete all events",
					Flags: []cli.Flag{
						&cli.BoolFlag{
							Name:    "yes",
							Aliases: []string{"y"},
							Usage:   "Don't ask for confirmation",
						},
					},
					Action: func(ctx *cli.Context) error {
						d, err := openDaemon(ctx)
						if err != nil {
							return err
						}
						defer closeDaemon(d)

						if !ctx.Bool("yes") {
							if !clitools.Confirmation("Are you sure you want to delete all events?", false) {
								return cli.Exit("Cancelled", 2)
							}
						}
						return d.Store.Clear(ctx.Context)
					},
				},
				{
					Name:  "purge",
					Usage: "Delete the oldest events beyond the capacity",
					Description: `Normally the log is purged after each stored event once the
purge period has passed. --force trims the log right away.
`,
					Flags: []cli.Flag{
						&cli.BoolFlag{
							Name:    "force",
							Aliases: []string{"f"},
							Usage:   "Ignore the purge period",
						},
					},
					Action: func(ctx *cli.Context) error {
						d, err := openDaemon(ctx)
						if err != nil {
							return err
						}
						defer closeDaemon(d)

						var deleted int
						if ctx.Bool("force") {
							deleted, err = d.Store.Trim(ctx.Context)
						} else {
							deleted, err = d.Store.Purge(ctx.Context)
						}
						if err != nil {
							return err
						}
						fmt.Println("Deleted", deleted, "events")
						return nil
					},
				},
			},
		})
}

func eventsList(store *eventlog.Store, ctx *cli.Context) error {
	var (
		it  *eventlog.Iterator
		err error
	)
	if ctx.Bool("pending") {
		it, err = store.Pending(ctx.Context)
	} else {
		it, err = store.All(ctx.Context)
	}
	if err != nil {
		return err
	}
	events, err := it.Collect(ctx.Int("limit"))
	if err != nil {
		return err
	}

	if len(events) == 0 && !ctx.Bool("json") {
		fmt.Fprintln(os.Stderr, "No events.")
	}

	if ctx.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		for _, ev := range events {
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
		return nil
	}

	for _, ev := range events {
		fmt.Println(formatEvent(ev))
	}
	return nil
}

func formatEvent(ev *event.Event) string {
	line := fmt.Sprintf("%d\t%s\t%s\t%s\t%s", ev.ID, ev.Start().Format(time.RFC3339), ev.State, ev.Kind(), ev.Phone)
	if ev.Details != nil {
		line += "\t" + *ev.Details
	}
	return line
}
