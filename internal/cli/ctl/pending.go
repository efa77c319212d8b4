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
	"errors"
	"fmt"

	smailercli "github.com/smailer/smailer/internal/cli"
	"github.com/smailer/smailer/internal/relay"
	"github.com/urfave/cli/v2"
)

func init() {
	smailercli.AddSubcommand(
		&cli.Command{
			Name:  "pending",
			Usage: "Pending events delivery",
			Subcommands: []*cli.Command{
				{
					Name:  "process",
					Usage: "Try to deliver all pending events now",
					Action: func(ctx *cli.Context) error {
						d, err := openDaemon(ctx)
						if err != nil {
							return err
						}
						defer closeDaemon(d)

						delivered, err := d.Processor.ProcessPending(ctx.Context)
						fmt.Println("Delivered", delivered, "events")
						var cfgErr *relay.ConfigurationError
						if errors.As(err, &cfgErr) {
							return cli.Exit(fmt.Sprintf("Error: %v", err), 2)
						}
						return err
					},
				},
			},
		})
	smailercli.AddSubcommand(
		&cli.Command{
			Name:  "inbox",
			Usage: "Remote commands",
			Subcommands: []*cli.Command{
				{
					Name:  "poll",
					Usage: "Execute the commands found in the inbox once",
					Action: func(ctx *cli.Context) error {
						d, err := openDaemon(ctx)
						if err != nil {
							return err
						}
						defer closeDaemon(d)

						if d.Executor == nil {
							return cli.Exit("Error: remote commands are disabled in the configuration", 2)
						}
						handled, err := d.Executor.HandleInbox(ctx.Context)
						if err != nil {
							return err
						}
						fmt.Println("Handled", handled, "commands")
						return nil
					},
				},
			},
		})
}
