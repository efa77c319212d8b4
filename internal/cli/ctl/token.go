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
	"os"

	smailercli "github.com/smailer/smailer/internal/cli"
	"github.com/smailer/smailer/internal/cli/clitools"
	"github.com/smailer/smailer/internal/endpoint/api"
	"github.com/urfave/cli/v2"
)

func init() {
	smailercli.AddSubcommand(
		&cli.Command{
			Name:  "token",
			Usage: "HTTP API credentials",
			Subcommands: []*cli.Command{
				{
					Name:  "issue",
					Usage: "Print a bearer token for the HTTP API",
					Description: `The token is signed with api.jwt_secret. If the configuration has no
secret, it is read from the terminal.
`,
					ArgsUsage: "DEVICE",
					Flags: []cli.Flag{
						&cli.DurationFlag{
							Name:  "ttl",
							Usage: "Token lifetime, api.token_ttl by default",
						},
					},
					Action: func(ctx *cli.Context) error {
						device := ctx.Args().First()
						if device == "" {
							return cli.Exit("Error: DEVICE is required", 2)
						}

						cfg, err := loadConfig(ctx)
						if err != nil {
							return err
						}

						secret := cfg.API.JWTSecret
						if secret == "" {
							secret, err = clitools.ReadPassword("Enter API secret")
							if err != nil {
								return err
							}
						}

						ttl := cfg.API.TokenTTL.D()
						if ctx.IsSet("ttl") {
							ttl = ctx.Duration("ttl")
						}

						token, err := api.IssueToken([]byte(secret), device, ttl)
						if err != nil {
							return err
						}
						fmt.Fprintln(os.Stdout, token)
						return nil
					},
				},
			},
		})
}
