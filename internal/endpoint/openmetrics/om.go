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

// Package openmetrics serves the Prometheus metrics of the process.
package openmetrics

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smailer/smailer/framework/config"
	"github.com/smailer/smailer/framework/log"
)

const modName = "openmetrics"

type Endpoint struct {
	addrs  []string
	logger log.Logger

	listenersWg sync.WaitGroup
	serv        http.Server
	mux         *http.ServeMux
}

func New(addrs []string, logger log.Logger) *Endpoint {
	if logger.Name == "" {
		logger.Name = modName
	}
	return &Endpoint{
		addrs:  addrs,
		logger: logger,
	}
}

// Start listens on all addresses and serves /metrics in background
// goroutines.
func (e *Endpoint) Start() error {
	e.mux = http.NewServeMux()
	e.mux.Handle("/metrics", promhttp.Handler())
	e.serv.Handler = e.mux

	var listeners []net.Listener
	for _, a := range e.addrs {
		endp, err := config.ParseEndpoint(a)
		if err != nil {
			closeAll(listeners)
			return fmt.Errorf("%s: malformed endpoint: %v", modName, err)
		}
		if endp.IsTLS() {
			closeAll(listeners)
			return fmt.Errorf("%s: TLS is not supported yet", modName)
		}
		l, err := net.Listen(endp.Network(), endp.Address())
		if err != nil {
			closeAll(listeners)
			return fmt.Errorf("%s: %v", modName, err)
		}
		listeners = append(listeners, l)
	}

	for _, l := range listeners {
		l := l
		e.listenersWg.Add(1)
		go func() {
			e.logger.Println("listening on", l.Addr().String())
			err := e.serv.Serve(l)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				e.logger.Error("serve failed", err, "endpoint", l.Addr().String())
			}
			e.listenersWg.Done()
		}()
	}

	return nil
}

func closeAll(ls []net.Listener) {
	for _, l := range ls {
		l.Close()
	}
}

func (e *Endpoint) Close() error {
	if err := e.serv.Close(); err != nil {
		return err
	}
	e.listenersWg.Wait()
	return nil
}
