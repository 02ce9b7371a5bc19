// Package overlay publishes task shape markers to map viewers over WebSocket.
//
// A client connecting to the hub first receives a SNAPSHOT of every marker,
// then one message per change:
//
//	{"type":"ADD","world":"overworld","shape":{...},"box":{...}}
//	{"type":"REMOVE","world":"overworld"}
//	{"type":"CLEAR"}
//
// Markers are informational: a slow client is dropped, never waited for.
package overlay

import (
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tutu-network/pregen/internal/domain"
	"github.com/tutu-network/pregen/internal/infra/metrics"
)

const (
	clientBuffer = 64
	writeTimeout = 5 * time.Second
	readTimeout  = 60 * time.Second
)

// Marker is one world's shape outline.
type Marker struct {
	World string       `json:"world"`
	Shape domain.Shape `json:"shape"`
	Box   domain.Box   `json:"box"`
}

// Message is one frame sent to viewers.
type Message struct {
	Type    string   `json:"type"` // SNAPSHOT, ADD, REMOVE, CLEAR
	World   string   `json:"world,omitempty"`
	Shape   any      `json:"shape,omitempty"`
	Box     any      `json:"box,omitempty"`
	Markers []Marker `json:"markers,omitempty"`
}

type client struct {
	out chan []byte
}

// Hub implements domain.MapOverlay and fans marker changes out to clients.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	markers map[string]Marker
	clients map[*client]struct{}
}

var _ domain.MapOverlay = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		markers: make(map[string]Marker),
		clients: make(map[*client]struct{}),
	}
}

// AddShapeMarker sets the marker for world.
func (h *Hub) AddShapeMarker(world string, shape domain.Shape) {
	m := Marker{World: world, Shape: shape, Box: shape.BoundingBox()}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.markers[world] = m
	h.broadcastLocked(Message{Type: "ADD", World: world, Shape: m.Shape, Box: m.Box})
}

// RemoveShapeMarker drops the marker for world.
func (h *Hub) RemoveShapeMarker(world string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.markers[world]; !ok {
		return
	}
	delete(h.markers, world)
	h.broadcastLocked(Message{Type: "REMOVE", World: world})
}

// RemoveAllShapeMarkers drops every marker.
func (h *Hub) RemoveAllShapeMarkers() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.markers = make(map[string]Marker)
	h.broadcastLocked(Message{Type: "CLEAR"})
}

// Markers returns the current markers sorted by world.
func (h *Hub) Markers() []Marker {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.markersLocked()
}

// Clients returns the number of connected viewers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Handler upgrades the request and streams marker updates until the client
// disconnects.
func (h *Hub) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		c := &client{out: make(chan []byte, clientBuffer)}
		h.mu.Lock()
		snap, _ := json.Marshal(Message{Type: "SNAPSHOT", Markers: h.markersLocked()})
		c.out <- snap
		h.clients[c] = struct{}{}
		metrics.OverlayClients.Set(float64(len(h.clients)))
		h.mu.Unlock()

		defer h.drop(c)

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for b := range c.out {
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					writeErr <- err
					return
				}
			}
			// Dropped by the hub: ask the viewer to go away.
			writeErr <- conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "dropped"), time.Now().Add(time.Second))
		}()

		// Reader loop only notices the client going away.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		h.drop(c)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (h *Hub) broadcastLocked(msg Message) {
	if len(h.clients) == 0 {
		return
	}
	b, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[overlay] WARNING: encode %s: %v", msg.Type, err)
		return
	}
	for c := range h.clients {
		select {
		case c.out <- b:
		default:
			log.Printf("[overlay] dropping slow viewer")
			h.dropLocked(c)
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

func (h *Hub) dropLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.out)
	metrics.OverlayClients.Set(float64(len(h.clients)))
}

func (h *Hub) markersLocked() []Marker {
	out := make([]Marker, 0, len(h.markers))
	for _, m := range h.markers {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].World < out[j].World })
	return out
}
