// Package dashboard streams served predictions to browser clients over
// WebSocket so the frontend can show scoring activity live.
package dashboard

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"churn-service/internal/features"
	"churn-service/internal/ml"
)

const (
	writeWait      = 5 * time.Second
	defaultBacklog = 50
)

// Event is one served prediction as pushed to clients.
type Event struct {
	RequestID  string                 `json:"request_id,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Input      features.CustomerInput `json:"input"`
	Prediction ml.Prediction          `json:"prediction"`
}

// Feed fans prediction events out to connected WebSocket clients. New
// clients first receive the most recent events.
type Feed struct {
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	backlog   []Event
	maxLog    int
	clientsMu sync.Mutex // guards clients, backlog and all writes to conns

	events    chan Event
	stop      chan struct{}
	isRunning bool
	mu        sync.Mutex
}

// NewFeed creates a feed accepting connections from the given origins; "*"
// accepts any origin.
func NewFeed(origins []string) *Feed {
	f := &Feed{
		clients: make(map[*websocket.Conn]bool),
		maxLog:  defaultBacklog,
		events:  make(chan Event, 100),
	}
	f.upgrader = websocket.Upgrader{CheckOrigin: originChecker(origins)}
	return f
}

func originChecker(origins []string) func(*http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}

// Start launches the broadcaster.
func (f *Feed) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.isRunning {
		return fmt.Errorf("prediction feed is already running")
	}
	f.stop = make(chan struct{})
	go f.broadcaster(f.stop)
	f.isRunning = true
	log.Info().Msg("prediction feed started")
	return nil
}

// Stop ends the broadcaster and disconnects every client.
func (f *Feed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.isRunning {
		return
	}
	close(f.stop)

	f.clientsMu.Lock()
	for client := range f.clients {
		client.Close()
	}
	f.clients = make(map[*websocket.Conn]bool)
	f.clientsMu.Unlock()

	f.isRunning = false
	log.Info().Msg("prediction feed stopped")
}

// Publish queues an event. It never blocks; events are dropped while the
// queue is full.
func (f *Feed) Publish(ev Event) {
	select {
	case f.events <- ev:
	default:
		log.Debug().Msg("prediction feed queue full, event dropped")
	}
}

// Clients returns the number of connected clients.
func (f *Feed) Clients() int {
	f.clientsMu.Lock()
	defer f.clientsMu.Unlock()
	return len(f.clients)
}

func (f *Feed) broadcaster(stop <-chan struct{}) {
	for {
		select {
		case ev := <-f.events:
			f.broadcast(ev)
		case <-stop:
			return
		}
	}
}

func (f *Feed) broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal prediction event")
		return
	}

	f.clientsMu.Lock()
	defer f.clientsMu.Unlock()

	f.backlog = append(f.backlog, ev)
	if len(f.backlog) > f.maxLog {
		f.backlog = f.backlog[len(f.backlog)-f.maxLog:]
	}

	for client := range f.clients {
		if err := write(client, data); err != nil {
			log.Debug().Err(err).Msg("dropping prediction feed client")
			client.Close()
			delete(f.clients, client)
		}
	}
}

func write(conn *websocket.Conn, data []byte) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// ServeHTTP upgrades the request and keeps the client registered until it
// disconnects.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("failed to upgrade prediction feed connection")
		return
	}
	defer conn.Close()
	// Clear any deadline inherited from the HTTP server.
	conn.SetReadDeadline(time.Time{})

	f.clientsMu.Lock()
	for _, ev := range f.backlog {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if err := write(conn, data); err != nil {
			f.clientsMu.Unlock()
			return
		}
	}
	f.clients[conn] = true
	f.clientsMu.Unlock()

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	f.clientsMu.Lock()
	delete(f.clients, conn)
	f.clientsMu.Unlock()
}
