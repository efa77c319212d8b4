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

// Package api implements the HTTP interface used by capture agents to
// submit events and by operators to inspect the relay state.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smailer/smailer/framework/config"
	"github.com/smailer/smailer/framework/log"
	"github.com/smailer/smailer/internal/event"
	"github.com/smailer/smailer/internal/notify"
	"github.com/smailer/smailer/internal/relay"
	"github.com/smailer/smailer/internal/rules"
	"github.com/smailer/smailer/internal/storage/eventlog"
)

const defaultListLimit = 100

type Server struct {
	Processor     *relay.Processor
	Worker        *relay.Worker
	Store         *eventlog.Store
	Rules         *rules.Repository
	Notifications *notify.Tracker
	Secret        []byte
	Log           log.Logger

	listenersWg sync.WaitGroup
	serv        http.Server
}

// Handler returns the router of the API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/events", s.postEvent)
		r.Get("/events", s.listEvents)
		r.Get("/rules", s.getRules)
		r.Get("/notifications", s.getNotifications)
		r.Post("/pending/process", s.processPending)
	})
	return r
}

// Listen serves the API on all addresses in background goroutines.
func (s *Server) Listen(addrs []string) error {
	if len(s.Secret) == 0 {
		return ErrNoSecret
	}
	s.serv.Handler = s.Handler()

	var listeners []net.Listener
	for _, a := range addrs {
		endp, err := config.ParseEndpoint(a)
		if err != nil {
			closeAll(listeners)
			return fmt.Errorf("api: malformed endpoint: %v", err)
		}
		if endp.IsTLS() {
			closeAll(listeners)
			return errors.New("api: TLS is not supported, use a reverse proxy")
		}
		l, err := net.Listen(endp.Network(), endp.Address())
		if err != nil {
			closeAll(listeners)
			return fmt.Errorf("api: %v", err)
		}
		listeners = append(listeners, l)
	}

	for _, l := range listeners {
		l := l
		s.listenersWg.Add(1)
		go func() {
			defer s.listenersWg.Done()
			s.Log.Println("listening on", l.Addr().String())
			if err := s.serv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Log.Error("serve failed", err, "endpoint", l.Addr().String())
			}
		}()
	}
	return nil
}

func closeAll(ls []net.Listener) {
	for _, l := range ls {
		l.Close()
	}
}

// Shutdown stops accepting requests and waits for the running ones.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.serv.Shutdown(ctx)
	s.listenersWg.Wait()
	return err
}

type eventResponse struct {
	Event *event.Event `json:"event"`
	Error string       `json:"error,omitempty"`
}

func (s *Server) postEvent(w http.ResponseWriter, r *http.Request) {
	var ev event.Event
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "malformed event: "+err.Error())
		return
	}
	ev.ID = 0
	ev.State = event.StatePending
	ev.Details = nil
	if err := ev.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.Log.DebugMsg("event submitted", "device", DeviceFromContext(r.Context()), "event", ev.FormatLog())

	err := s.Worker.Do(r.Context(), "process event", func(ctx context.Context) error {
		return s.Processor.Process(ctx, &ev)
	})

	var cfgErr *relay.ConfigurationError
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, eventResponse{Event: &ev})
	case relay.IsRetryable(err):
		writeJSON(w, http.StatusAccepted, eventResponse{Event: &ev, Error: err.Error()})
	case errors.As(err, &cfgErr):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.Log.Error("event processing failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	var (
		it  *eventlog.Iterator
		err error
	)
	if pending, _ := strconv.ParseBool(r.URL.Query().Get("pending")); pending {
		it, err = s.Store.Pending(r.Context())
	} else {
		it, err = s.Store.All(r.Context())
	}
	if err != nil {
		s.Log.Error("list events failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	events, err := it.Collect(limit)
	if err != nil {
		s.Log.Error("list events failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if events == nil {
		events = []*event.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

type rulesResponse struct {
	PhoneBlacklist []string `json:"phone_blacklist"`
	PhoneWhitelist []string `json:"phone_whitelist"`
	TextBlacklist  []string `json:"text_blacklist"`
	TextWhitelist  []string `json:"text_whitelist"`
	UseWhitelist   bool     `json:"use_whitelist"`
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (s *Server) getRules(w http.ResponseWriter, r *http.Request) {
	rs, err := s.Rules.Load(r.Context())
	if err != nil {
		s.Log.Error("load rules failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, rulesResponse{
		PhoneBlacklist: nonNil(rs.PhoneBlacklist.Items()),
		PhoneWhitelist: nonNil(rs.PhoneWhitelist.Items()),
		TextBlacklist:  nonNil(rs.TextBlacklist.Items()),
		TextWhitelist:  nonNil(rs.TextWhitelist.Items()),
		UseWhitelist:   rs.UseWhitelist,
	})
}

func (s *Server) getNotifications(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"errors":         s.Notifications.Active(),
		"remote_actions": s.Notifications.RemoteActions(),
		"last_success":   s.Notifications.LastSuccess(),
	})
}

func (s *Server) processPending(w http.ResponseWriter, r *http.Request) {
	// The job may outlive the request, the count is passed back by value.
	result := make(chan int, 1)
	err := s.Worker.Do(r.Context(), "process pending", func(ctx context.Context) error {
		delivered, err := s.Processor.ProcessPending(ctx)
		result <- delivered
		return err
	})

	var delivered int
	select {
	case delivered = <-result:
	default:
	}

	resp := map[string]interface{}{"delivered": delivered}
	var (
		connErr relay.ConnectivityError
		cfgErr  *relay.ConfigurationError
	)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.As(err, &connErr):
		resp["error"] = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
	case errors.As(err, &cfgErr):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.Log.Error("process pending failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"code":    status,
		},
	})
}
