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
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/smailer/smailer"
	"github.com/smailer/smailer/framework/log"
	smailercli "github.com/smailer/smailer/internal/cli"
	"github.com/smailer/smailer/internal/config"
	"github.com/urfave/cli/v2"
)

var (
	profileEndpoint   = flag.String("debug.pprof", "", "enable live profiler HTTP endpoint and listen on the specified endpoint")
	blockProfileRate  = flag.Int("debug.blockprofrate", 0, "set blocking profile rate")
	mutexProfileFract = flag.Int("debug.mutexproffract", 0, "set mutex profile fraction")
)

func init() {
	smailercli.AddSubcommand(&cli.Command{
		Name:  "run",
		Usage: "Start the relay",
		Description: `Starts the delivery worker, the resend timer, the connectivity watcher,
the inbox poller and the configured HTTP listeners.

Pending events are resent on start. SIGUSR1 reopens the log file.
`,
		Action: runDaemon,
	})
	smailercli.AddSubcommand(&cli.Command{
		Name:  "version",
		Usage: "Print version and build metadata",
		Action: func(ctx *cli.Context) error {
			fmt.Println("smailer", smailer.BuildInfo())
			return nil
		},
	})
}

// logTarget is a log.Output that can be reopened, loggers copied from
// log.DefaultLogger keep writing to it.
type logTarget struct {
	mu  sync.RWMutex
	cfg config.Log
	out log.Output
}

func (t *logTarget) open() error {
	out, err := smailer.LogOutput(t.cfg)
	if err != nil {
		return err
	}

	t.mu.Lock()
	old := t.out
	t.out = out
	t.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

func (t *logTarget) reopen() {
	if err := t.open(); err != nil {
		log.Println("failed to reopen log:", err)
	}
}

func (t *logTarget) Write(stamp time.Time, debug bool, msg string) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	t.out.Write(stamp, debug, msg)
}

func (t *logTarget) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.out.Close()
}

func runDaemon(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if path := ctx.String("log"); path != "" {
		cfg.Log.File = path
	}

	target := &logTarget{cfg: cfg.Log}
	if err := target.open(); err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 2)
	}
	log.DefaultLogger.Out = target
	defer func() {
		log.DefaultLogger.Out = log.WriterOutput(os.Stderr, false)
		target.Close()
	}()

	initDebug()

	d, err := buildDaemon(cfg)
	if err != nil {
		return err
	}
	defer closeDaemon(d)

	return smailer.RunWithSignals(ctx.Context, d, target.reopen)
}

func initDebug() {
	if *profileEndpoint != "" {
		go func() {
			log.Println("listening on", "http://"+*profileEndpoint, "for profiler requests")
			log.Println("failed to listen on profiler endpoint:", http.ListenAndServe(*profileEndpoint, nil))
		}()
	}

	// These values can also be affected by environment so set them
	// only if argument is specified.
	if *mutexProfileFract != 0 {
		runtime.SetMutexProfileFraction(*mutexProfileFract)
	}
	if *blockProfileRate != 0 {
		runtime.SetBlockProfileRate(*blockProfileRate)
	}
}
