// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package stats merges compositor and buffer counters into snapshots and
// serves them to a live plot.
package stats

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"
)

// clientQueue is the number of snapshots buffered per websocket client.
const clientQueue = 16

// Server pushes snapshots to websocket clients for real-time plotting.
type Server struct {
	upgrader *websocket.Upgrader
	log      logging.LeveledLogger

	mu      sync.Mutex
	clients map[chan Snapshot]struct{}
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLoggerFactory sets the logger factory.
func WithServerLoggerFactory(f logging.LoggerFactory) ServerOption {
	return func(s *Server) {
		s.log = f.NewLogger("stats")
	}
}

// NewServer creates a new statistics server.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		upgrader: &websocket.Upgrader{},
		log:      logging.NewDefaultLoggerFactory().NewLogger("stats"),
		clients:  map[chan Snapshot]struct{}{},
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Publish hands snap to every connected client. Slow clients miss
// snapshots rather than block the caller.
func (s *Server) Publish(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.clients {
		select {
		case ch <- snap:
		default:
			s.log.Debug("dropping snapshot for slow client")
		}
	}
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.clients)
}

// Handler serves the plot page on / and the snapshot feed on /update.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.home)
	mux.HandleFunc("/update", s.update)

	return mux
}

// Start serves on addr until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warnf("stats server shutdown: %v", err)
		}
	}()

	s.log.Infof("stats server listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *Server) subscribe() chan Snapshot {
	ch := make(chan Snapshot, clientQueue)
	s.mu.Lock()
	s.clients[ch] = struct{}{}
	s.mu.Unlock()

	return ch
}

func (s *Server) unsubscribe(ch chan Snapshot) {
	s.mu.Lock()
	delete(s.clients, ch)
	s.mu.Unlock()
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("s.upgrader.Upgrade: %v", err)

		return
	}
	defer func() {
		if err = wsConn.Close(); err != nil {
			s.log.Errorf("failed to close websocket connection: %v", err)
		}
	}()

	ch := s.subscribe()
	defer s.unsubscribe(ch)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := wsConn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case snap := <-ch:
			if err = wsConn.WriteJSON(snap); err != nil {
				s.log.Errorf("c.WriteJSON: %v", err)

				return
			}
		case <-closed:
			return
		}
	}
}

func (s *Server) home(respWriter http.ResponseWriter, req *http.Request) {
	homeTemplate := template.Must(template.New("").Parse(`
<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Time Machine</title>
    <script src="https://cdn.plot.ly/plotly-latest.min.js"></script>
  </head>
  <body>
    <div id="fps"></div>
    <div id="buffer"></div>
    <script>
      Plotly.newPlot('fps', [
        {x: [], y: [], mode: 'lines', name: 'fps'},
        {x: [], y: [], mode: 'lines', name: 'dropped frames'}
      ]);
      Plotly.newPlot('buffer', [
        {x: [], y: [], mode: 'lines', name: 'estimated bitrate (Mbps)'},
        {x: [], y: [], mode: 'lines', name: 'retained seconds'}
      ]);

      const socket = new WebSocket("{{.}}");
      socket.onmessage = function(event) {
        const data = JSON.parse(event.data);
        Plotly.extendTraces('fps', {
          x: [[data.timestamp], [data.timestamp]],
          y: [[data.fps], [data.droppedFrames]]
        }, [0, 1]);
        if (data.buffer) {
          Plotly.extendTraces('buffer', {
            x: [[data.timestamp], [data.timestamp]],
            y: [[data.buffer.estimatedBitrateBps / 1e6], [data.buffer.durationMs / 1000]]
          }, [0, 1]);
        }
      }
    </script>
  </body>
</html>
`))

	if err := homeTemplate.Execute(respWriter, "ws://"+req.Host+"/update"); err != nil {
		s.log.Errorf("failed to execute template: %v", err)
		http.Error(respWriter, "Internal server error", http.StatusInternalServerError)
	}
}
