package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// EventMessage is a single event frame pushed over the /events stream
type EventMessage struct {
	Type      string      `json:"type"`
	Event     string      `json:"event"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
	Seq       int64       `json:"seq"`
}

type streamClient struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *streamClient) writeMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Streamer pushes interview events (entries appended, session transitions)
// to connected websocket clients. Slow or broken clients are dropped, never
// waited on.
type Streamer struct {
	upgrader websocket.Upgrader
	clients  map[string]*streamClient
	mu       sync.RWMutex
	seq      uint64
	logger   zerolog.Logger
}

// NewStreamer creates a new event streamer
func NewStreamer(logger zerolog.Logger) *Streamer {
	return &Streamer{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[string]*streamClient),
		logger:  logger.With().Str("component", "event-stream").Logger(),
	}
}

// HandleWebSocket upgrades the request and keeps the connection registered
// until the peer goes away.
func (s *Streamer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	client := &streamClient{
		id:   uuid.New().String(),
		conn: conn,
	}

	s.mu.Lock()
	s.clients[client.id] = client
	count := len(s.clients)
	s.mu.Unlock()

	s.logger.Debug().
		Str("client_id", client.id).
		Int("clients", count).
		Msg("Event stream client connected")

	// Drain inbound frames so pings and close handshakes are processed
	go func() {
		defer s.remove(client.id)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast fans an event out to all connected clients
func (s *Streamer) Broadcast(event string, data interface{}) {
	msg := EventMessage{
		Type:      "event",
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
		Seq:       int64(atomic.AddUint64(&s.seq, 1)),
	}

	jsonData, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error().Err(err).Str("event", event).Msg("Failed to marshal event")
		return
	}

	s.mu.RLock()
	clients := make([]*streamClient, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, client := range clients {
		if err := client.writeMessage(jsonData); err != nil {
			s.logger.Warn().
				Err(err).
				Str("client_id", client.id).
				Str("event", event).
				Msg("Dropping unreachable event stream client")
			s.remove(client.id)
		}
	}
}

// ClientCount returns the number of connected clients
func (s *Streamer) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Close disconnects all clients
func (s *Streamer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, client := range s.clients {
		client.conn.Close()
		delete(s.clients, id)
	}
}

func (s *Streamer) remove(id string) {
	s.mu.Lock()
	client, exists := s.clients[id]
	if exists {
		delete(s.clients, id)
	}
	count := len(s.clients)
	s.mu.Unlock()

	if exists {
		client.conn.Close()
		s.logger.Debug().
			Str("client_id", id).
			Int("clients", count).
			Msg("Event stream client disconnected")
	}
}
