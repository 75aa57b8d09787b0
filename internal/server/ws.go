package server

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nexusgeo/tablewatch/internal/app"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboards are served from other origins on the LAN
	},
}

// EventSource publishes alert events.
type EventSource interface {
	Subscribe() (<-chan app.Event, func())
}

// eventMessage is the JSON frame pushed to clients.
type eventMessage struct {
	Type  string    `json:"type"`
	Alert app.Event `json:"alert"`
}

// EventsHandler pushes alerts to WebSocket clients as they are raised.
type EventsHandler struct {
	events EventSource
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(events EventSource) *EventsHandler {
	return &EventsHandler{events: events}
}

// ServeHTTP upgrades the connection and forwards events until either side
// closes.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Subscribed before the handshake completes so no event raised after
	// the client connects is missed.
	events, unsubscribe := h.events.Subscribe()
	defer unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	// Reading is only needed to notice the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(eventMessage{Type: "alert", Alert: ev}); err != nil {
				return
			}
		}
	}
}
