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

package smailercli

import (
	"fmt"
	"os"

	"github.com/smailer/smailer/framework/log"
	"github.com/urfave/cli/v2"
)

var app *cli.App

const DefaultConfigPath = "/etc/smailer/smailer.yml"

func init() {
	app = cli.NewApp()
	app.Usage = "relay of telephony events to email"
	app.Description = `smailer delivers notifications about calls and text messages to a mail
account and executes filter commands sent back as replies.

This executable can be used to start the relay ('run') and to inspect and
modify its state (all other subcommands).
`
	app.Authors = []*cli.Author{
		{
			Name: "smailer contributors",
		},
	}
	app.ExitErrHandler = func(c *cli.Context, err error) {
		cli.HandleExitCoder(err)
		if err != nil {
			log.Println(err)
			cli.OsExiter(1)
		}
	}
	app.EnableBashCompletion = true
	app.Flags = []cli.Flag{
		&cli.PathFlag{
			Name:    "config",
			Usage:   "Configuration file to use",
			EnvVars: []string{"SMAILER_CONFIG"},
			Value:   DefaultConfigPath,
		},
		&cli.BoolFlag{
			Name:    "debug",
			Usage:   "Enable debug logging early",
			EnvVars: []string{"SMAILER_DEBUG"},
		},
		&cli.StringFlag{
			Name:  "log",
			Usage: "Write log to `FILE` instead of the configured target",
		},
	}
	app.Commands = []*cli.Command{
		{
			Name:   "generate-man",
			Hidden: true,
			Action: func(c *cli.Context) error {
				man, err := app.ToMan()
				if err != nil {
					return err
				}
				fmt.Println(man)
				return nil
			},
		},
		{
			Name:   "generate-fish-completion",
			Hidden: true,
			Action: func(c *cli.Context) error {
				cp, err := app.ToFishCompletion()
				if err != nil {
					return err
				}
				fmt.Println(cp)
				return nil
			},
		},
	}
}

func AddSubcommand(cmd *cli.Command) {
	app.Commands = append(app.Commands, cmd)
}

// App returns the application with all registered subcommands.
func App() *cli.App {
	return app
}

func Run() {
	// Subcommands are registered by the ctl package.
	mapStdlibFlags(app)

	if len(os.Args) == 1 {
		if err := app.Run([]string{os.Args[0], "help"}); err != nil {
			log.DefaultLogger.Error("app.Run failed", err)
		}
		return
	}

	if err := app.Run(os.Args); err != nil {
		log.DefaultLogger.Error("app.Run failed", err)
	}
}
