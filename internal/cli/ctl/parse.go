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
	"io"
	"os"

	smailercli "github.com/smailer/smailer/internal/cli"
	"github.com/smailer/smailer/internal/remote/command"
	"github.com/urfave/cli/v2"
)

func init() {
	smailercli.AddSubcommand(
		&cli.Command{
			Name:      "parse",
			Usage:     "Show how a reply body is understood",
			ArgsUsage: "[FILE]",
			Description: `Reads the reply text from FILE or stdin and prints the recognized
command. Useful to check the wording of remote commands.
`,
			Action: func(ctx *cli.Context) error {
				var r io.Reader = os.Stdin
				if path := ctx.Args().First(); path != "" && path != "-" {
					f, err := os.Open(path)
					if err != nil {
						return err
					}
					defer f.Close()
					r = f
				}

				body, err := io.ReadAll(r)
				if err != nil {
					return err
				}
				printCommand(command.Parse(string(body)))
				return nil
			},
		})
}

func printCommand(cmd command.Command) {
	fmt.Println("action:", cmd.Action)
	fmt.Printf("device: %q\n", cmd.Acceptor)
	if cmd.Argument != "" {
		fmt.Printf("argument: %q\n", cmd.Argument)
	}
	if cmd.Text != "" {
		fmt.Printf("text: %q\n", cmd.Text)
	}
	if cmd.Phone != "" {
		fmt.Printf("phone: %q\n", cmd.Phone)
	}
}
