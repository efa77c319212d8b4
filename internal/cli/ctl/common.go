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

	"github.com/smailer/smailer"
	"github.com/smailer/smailer/framework/log"
	"github.com/smailer/smailer/internal/config"
	"github.com/urfave/cli/v2"
)

func loadConfig(ctx *cli.Context) (config.Config, error) {
	cfgPath := ctx.Path("config")
	if cfgPath == "" {
		return config.Config{}, cli.Exit("Error: config is required", 2)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return cfg, cli.Exit(fmt.Sprintf("Error: failed to load config: %v", err), 2)
	}
	log.DefaultLogger.Debug = cfg.Log.Debug || ctx.Bool("debug")
	return cfg, nil
}

// openDaemon builds the components without starting them.
func openDaemon(ctx *cli.Context) (*smailer.Daemon, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	return buildDaemon(cfg)
}

func buildDaemon(cfg config.Config) (*smailer.Daemon, error) {
	if err := smailer.InitDirs(&cfg); err != nil {
		return nil, fmt.Errorf("Error: %w", err)
	}
	d, err := smailer.Build(cfg, log.DefaultLogger)
	if err != nil {
		return nil, fmt.Errorf("Error: initialization failed: %w", err)
	}
	return d, nil
}

func closeDaemon(d *smailer.Daemon) {
	if err := d.Close(); err != nil {
		log.DefaultLogger.Error("close failed", err)
	}
}
