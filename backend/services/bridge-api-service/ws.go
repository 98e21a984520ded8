package main

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsMessage is the envelope pushed to websocket subscribers.
type wsMessage struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Hub fans bridge events out to connected websocket clients. Slow clients
// are dropped rather than allowed to block the broadcast.
type Hub struct {
	clients    map[*websocket.Conn]chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan []byte
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]chan []byte),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		broadcast:  make(chan []byte, 64),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.clients[conn] = make(chan []byte, 16)
			go h.writeLoop(conn, h.clients[conn])
		case conn := <-h.unregister:
			if send, ok := h.clients[conn]; ok {
				close(send)
				delete(h.clients, conn)
				conn.Close()
			}
		case message := <-h.broadcast:
			for conn, send := range h.clients {
				select {
				case send <- message:
				default:
					close(send)
					delete(h.clients, conn)
					conn.Close()
				}
			}
		}
	}
}

func (h *Hub) Broadcast(event string, payload []byte) {
	message, err := json.Marshal(wsMessage{Event: event, Payload: payload})
	if err != nil {
		log.Printf("Failed to marshal ws message: %v", err)
		return
	}
	h.broadcast <- message
}

func (h *Hub) writeLoop(conn *websocket.Conn, send <-chan []byte) {
	for message := range send {
		if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

// handleWS upgrades the connection and parks it in the hub. The read loop
// exists only to detect disconnects.
func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Websocket upgrade failed: %v", err)
		return
	}
	h.register <- conn

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.unregister <- conn
				return
			}
		}
	}()
}
