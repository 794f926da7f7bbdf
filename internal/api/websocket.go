package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"tradecore/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// topics streamed to connected clients.
var wsTopics = []events.Event{
	events.EventStatusChange,
	events.EventLog,
	events.EventCoinsUpdate,
	events.EventTradeExecuted,
	events.EventWarning,
}

type wsFrame struct {
	Event   events.Event `json:"event"`
	Payload any          `json:"payload"`
}

// websocket streams the caller's engine events. The token rides in a
// query parameter.
func (s *Server) websocket(c *gin.Context) {
	userID, err := parseToken(c.Query("token"), s.JWTSecret)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"code":  "INVALID_TOKEN",
			"error": "invalid or expired token",
		})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	merged := make(chan wsFrame, 100)
	done := make(chan struct{})
	defer close(done)

	for _, topic := range wsTopics {
		sub := s.Bus.Subscribe(topic, 100)
		defer sub.Cancel()
		go func(topic events.Event, stream <-chan any) {
			for msg := range stream {
				if payloadUser(msg) != userID {
					continue
				}
				select {
				case merged <- wsFrame{Event: topic, Payload: msg}:
				case <-done:
					return
				}
			}
		}(topic, sub.C)
	}

	// Detect client disconnects; inbound frames are ignored.
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
		case frame := <-merged:
			if err := conn.WriteJSON(frame); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}
}

func payloadUser(msg any) string {
	switch p := msg.(type) {
	case events.StatusChange:
		return p.UserID
	case events.LogLine:
		return p.UserID
	case events.CoinsUpdate:
		return p.UserID
	case events.TradeExecuted:
		return p.UserID
	case events.Warning:
		return p.UserID
	default:
		return ""
	}
}
