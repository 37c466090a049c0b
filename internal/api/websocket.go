package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"nt-bridge/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocket streams order updates and protection changes to the client as
// JSON frames, one event per frame.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("api: ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	orders, unsubOrders := s.Bus.Subscribe(events.EventOrderUpdate, 100)
	defer unsubOrders()
	prot, unsubProt := s.Bus.Subscribe(events.EventProtectionChange, 100)
	defer unsubProt()

	// Read pump: the client never sends data, but the read is what notices a
	// closed connection, so the subscriptions are released even when the bus
	// is quiet.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		var msg any
		var ok bool
		select {
		case msg, ok = <-orders:
		case msg, ok = <-prot:
		case <-done:
			return
		}
		if !ok {
			return
		}
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("api: ws write error: %v", err)
			return
		}
	}
}
