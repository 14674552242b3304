// Package inspector serves run state over HTTP: the last verification
// session, session history, the audit report, registries, and a live
// server-sent event stream of runner, session and pipeline events.
package inspector

import (
	gocontext "context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cgast/dsverify/pkg/audit"
	"github.com/cgast/dsverify/pkg/check"
	"github.com/cgast/dsverify/pkg/events"
	"github.com/cgast/dsverify/pkg/session"
)

// HistoryStore lists past sessions, newest first.
type HistoryStore interface {
	History(n int) ([]session.Session, error)
}

// Options configures a Server. Nil fields disable their endpoints.
type Options struct {
	Sessions  session.Store
	History   HistoryStore
	Runner    *check.Runner
	AuditPath string
	Log       *zap.Logger
}

// Server is the inspector HTTP + SSE server.
type Server struct {
	bus       *events.MemoryBus
	opts      Options
	log       *zap.Logger
	mux       *http.ServeMux
	clients   map[*client]bool
	clientsMu sync.Mutex
	startTime time.Time
}

type client struct {
	send chan []byte
}

// New creates a new inspector server.
func New(bus *events.MemoryBus, opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		bus:       bus,
		opts:      opts,
		log:       log,
		mux:       http.NewServeMux(),
		clients:   make(map[*client]bool),
		startTime: time.Now(),
	}

	s.mux.HandleFunc("GET /events", s.handleStream)

	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/session", s.handleSession)
	s.mux.HandleFunc("GET /api/history", s.handleHistory)
	s.mux.HandleFunc("GET /api/registries", s.handleRegistries)
	s.mux.HandleFunc("GET /api/audit", s.handleAudit)
	return s
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler { return s.mux }

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx gocontext.Context, addr string) error {
	ch := s.bus.Subscribe()
	defer s.bus.Unsubscribe(ch)
	go s.broadcast(ch)

	srv := &http.Server{Addr: addr, Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("inspector listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := gocontext.WithTimeout(gocontext.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) broadcast(ch <-chan events.Event) {
	for ev := range ch {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}

		s.clientsMu.Lock()
		for c := range s.clients {
			select {
			case c.send <- data:
			default:
				// Slow client, drop the event.
			}
		}
		s.clientsMu.Unlock()
	}
}

// handleStream replays retained events, then streams new ones until the
// request ends.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	c := &client{send: make(chan []byte, 64)}
	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()
	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, c)
		s.clientsMu.Unlock()
	}()

	for _, ev := range s.bus.History(time.Time{}) {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.send:
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	history := s.bus.History(time.Time{})
	var registryRuns, registryFailures, sessions, failedSessions int
	for _, ev := range history {
		switch ev.Type {
		case events.EventRegistryEnd:
			registryRuns++
			if !ev.OK {
				registryFailures++
			}
		case events.EventSessionEnd:
			sessions++
			if !ev.OK {
				failedSessions++
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"uptime":            time.Since(s.startTime).Round(time.Second).String(),
		"events":            len(history),
		"registry_runs":     registryRuns,
		"registry_failures": registryFailures,
		"sessions":          sessions,
		"failed_sessions":   failedSessions,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "since must be RFC3339", http.StatusBadRequest)
			return
		}
		since = t
	}
	evs := s.bus.History(since)
	if evs == nil {
		evs = []events.Event{}
	}
	writeJSON(w, http.StatusOK, evs)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.opts.Sessions == nil {
		http.Error(w, "no session store", http.StatusNotFound)
		return
	}
	last, err := s.opts.Sessions.LoadLast()
	if errors.Is(err, session.ErrNoSession) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, last)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		writeJSON(w, http.StatusOK, []session.Session{})
		return
	}
	n := 20
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			http.Error(w, "n must be a positive integer", http.StatusBadRequest)
			return
		}
		n = parsed
	}
	sessions, err := s.opts.History.History(n)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []session.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleRegistries(w http.ResponseWriter, r *http.Request) {
	infos := []map[string]any{}
	if s.opts.Runner != nil {
		for _, name := range s.opts.Runner.Names() {
			reg, err := s.opts.Runner.Registry(name)
			if err != nil {
				continue
			}
			infos = append(infos, map[string]any{
				"name":    reg.Name(),
				"concern": reg.Concern(),
				"rules":   reg.Len(),
			})
		}
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.opts.AuditPath == "" {
		http.Error(w, "no audit report configured", http.StatusNotFound)
		return
	}
	rep, err := audit.Load(s.opts.AuditPath)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
