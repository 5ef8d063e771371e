package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"clanker/internal/domain"
	"clanker/internal/metrics"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

// wsFrame is the envelope for every WebSocket frame, both directions.
type wsFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Frame types sent by the server.
const (
	frameWelcome = "welcome"
	frameMessage = "message"
	framePong    = "pong"
	frameError   = "error"
)

// Frame types accepted from clients.
const (
	frameSendMessage = "send_message"
	framePing        = "ping"
)

type welcomeData struct {
	ConnectionID string `json:"connection_id"`
	Status       string `json:"status"`
}

// wsConn is one upgraded connection. A write mutex serializes the broadcast
// pump and the reader's direct replies.
type wsConn struct {
	conn   *websocket.Conn
	id     string
	mu     sync.Mutex
	logger *slog.Logger
}

func (c *wsConn) writeFrame(frameType string, data any) error {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return err
		}
		raw = b
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(wsFrame{Type: frameType, Data: raw})
}

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(s.allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range s.allowedOrigins {
				if allowed == "*" || strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// handleWS upgrades the connection, subscribes it to the broadcast hub, and
// serves it until the client goes away or the hub drops it for lagging.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	sub := s.hub.Subscribe()
	client := &wsConn{conn: conn, id: sub.ID, logger: s.logger}

	metrics.WSConnections.Inc()
	metrics.HubSubscribers.Set(int64(s.hub.Count()))
	s.logger.Info("websocket connected", "connection_id", sub.ID)

	defer func() {
		s.hub.Unsubscribe(sub.ID)
		conn.Close()
		metrics.WSConnections.Dec()
		metrics.HubSubscribers.Set(int64(s.hub.Count()))
		s.logger.Info("websocket disconnected", "connection_id", sub.ID)
	}()

	if err := client.writeFrame(frameWelcome, welcomeData{ConnectionID: sub.ID, Status: "connected"}); err != nil {
		return
	}

	// Broadcast pump: every hub message becomes a frame. When sub.C closes
	// the hub dropped us (or is shutting down); tell the client and leave.
	done := make(chan struct{})
	go func() {
		defer close(done)
		// Closing the conn unblocks the read loop below.
		defer conn.Close()
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case msg, ok := <-sub.C:
				if !ok {
					client.mu.Lock()
					conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
					conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "subscription closed"))
					client.mu.Unlock()
					return
				}
				if err := client.writeFrame(frameMessage, msg); err != nil {
					return
				}
			case <-ticker.C:
				client.mu.Lock()
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				client.mu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		return nil
	})

	for {
		select {
		case <-done:
			return
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.handleClientFrame(client, raw)
	}
}

// handleClientFrame processes one inbound frame from a WebSocket client.
func (s *Server) handleClientFrame(client *wsConn, raw []byte) {
	var frame wsFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		client.writeFrame(frameError, map[string]string{"error": "invalid frame"})
		return
	}

	switch frame.Type {
	case framePing:
		client.writeFrame(framePong, nil)

	case frameSendMessage:
		var req messageRequest
		if len(frame.Data) > 0 {
			if err := json.Unmarshal(frame.Data, &req); err != nil {
				client.writeFrame(frameError, map[string]string{"error": "invalid send_message data"})
				return
			}
		}
		if strings.TrimSpace(req.Text) == "" {
			client.writeFrame(frameError, map[string]string{"error": "text must not be empty"})
			return
		}

		kind := domain.KindWebSocket
		if req.Channel != "" {
			parsed, err := domain.ParseChannelKind(req.Channel)
			if err != nil {
				client.writeFrame(frameError, map[string]string{"error": err.Error()})
				return
			}
			kind = parsed
		}
		channelID := req.ChannelID
		if channelID == "" {
			channelID = client.id
		}
		sender := req.Sender
		if sender == "" {
			sender = client.id
		}

		msg := domain.NewMessage(kind, channelID, sender, req.Text)
		if err := s.sink.Publish(msg); err != nil {
			client.writeFrame(frameError, map[string]string{"error": "gateway is shutting down"})
			return
		}

	default:
		client.writeFrame(frameError, map[string]string{"error": "unknown frame type: " + frame.Type})
	}
}
