// Package adws pushes controller events to UI observers over WebSocket.
// Screens subscribe to a single socket and receive entitlementChanged and
// adReadinessChanged frames as they happen.
package adws

import (
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/open-rails/adkit/events"
)

// Frame is the wire envelope for one event.
type Frame struct {
	Topic   string      `json:"topic"`
	Payload interface{} `json:"payload"`
}

// Hub fans bus events out to connected clients. Run must be started before
// serving connections and stops when Close is called.
type Hub struct {
	log *logrus.Logger

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}

	unsubs []func()
}

// NewHub creates a hub subscribed to both controller topics.
func NewHub(bus *events.Bus, log *logrus.Logger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	h := &Hub{
		log:        log,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
	}
	h.unsubs = append(h.unsubs,
		bus.Entitlement.Subscribe(func(e events.EntitlementChange) {
			h.publish("entitlementChanged", e)
		}),
		bus.AdReadiness.Subscribe(func(e events.ReadinessChange) {
			h.publish("adReadinessChanged", e)
		}),
	)
	return h
}

func (h *Hub) publish(topic string, payload interface{}) {
	b, err := json.Marshal(Frame{Topic: topic, Payload: payload})
	if err != nil {
		h.log.WithError(err).Warn("ws: marshal frame failed")
		return
	}
	select {
	case h.broadcast <- b:
	case <-h.done:
	default:
		h.log.Warn("ws: broadcast queue full, dropping frame")
	}
}

// Run owns the client set. It exits when Close is called.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
		case c := <-h.unregister:
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow consumer; drop it rather than block the hub.
					delete(h.clients, c)
					close(c.send)
				}
			}
		case <-h.done:
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			return
		}
	}
}

// Close unsubscribes from the bus and stops Run, closing every client.
func (h *Hub) Close() {
	for _, u := range h.unsubs {
		u()
	}
	close(h.done)
}
