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

package smailer

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/smailer/smailer/framework/config"
	"github.com/smailer/smailer/framework/log"
	smailerconfig "github.com/smailer/smailer/internal/config"
)

// InitDirs creates the state directory and makes it the working directory
// so relative paths in the configuration are resolved against it.
func InitDirs(cfg *smailerconfig.Config) error {
	if cfg.StateDir == "" {
		cfg.StateDir = smailerconfig.DefaultStateDir
	}
	stateDir, err := filepath.Abs(cfg.StateDir)
	if err != nil {
		return err
	}
	cfg.StateDir = stateDir
	config.StateDirectory = stateDir

	if err := ensureDirectoryWritable(config.StateDirectory); err != nil {
		return err
	}
	if !filepath.IsAbs(config.StateDirectory) {
		return errors.New("state_dir should be absolute")
	}

	if err := os.Chdir(config.StateDirectory); err != nil {
		log.Println(err)
	}

	return nil
}

func ensureDirectoryWritable(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return err
	}

	testFile, err := os.Create(filepath.Join(path, "writeable-test"))
	if err != nil {
		return err
	}
	testFile.Close()
	if err := os.Remove(testFile.Name()); err != nil {
		return err
	}
	return nil
}

// LogOutput builds the log output described by the log section. Messages go
// to stderr unless a file or syslog is configured.
func LogOutput(cfg smailerconfig.Log) (log.Output, error) {
	var outs []log.Output
	if cfg.File != "" {
		out, err := log.FileOutput(cfg.File, cfg.Rotate)
		if err != nil {
			return nil, err
		}
		outs = append(outs, out)
	}
	if cfg.Syslog {
		out, err := log.SyslogOutput("smailer")
		if err != nil {
			for _, o := range outs {
				o.Close()
			}
			return nil, err
		}
		outs = append(outs, out)
	}

	switch len(outs) {
	case 0:
		return log.WriterOutput(os.Stderr, cfg.Timestamps), nil
	case 1:
		return outs[0], nil
	default:
		return log.MultiOutput(outs...), nil
	}
}
