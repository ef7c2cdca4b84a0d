// Package web provides an HTTP status server for the kettle-filler daemon.
package web

import (
	"context"
	"net"
	"net/http"

	"github.com/sweeney/kettle-filler/internal/status"
)

// Server serves the status page over HTTP and a live status feed over
// websocket at /ws.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	feed       *hub
}

// New creates a Server that reads state from the given tracker.
func New(addr string, tracker *status.Tracker) *Server {
	s := &Server{tracker: tracker, feed: newHub()}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/ws", s.handleWS)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Broadcast pushes the current snapshot to every live feed client.
// It never blocks on a slow client.
func (s *Server) Broadcast() {
	if s.feed.len() == 0 {
		return
	}
	s.feed.broadcast(status.FormatJSON(s.tracker.Snapshot()))
}

// Shutdown closes live feed clients and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.feed.close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}
