package api

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/thereceipt/bleprint/internal/printer"
	"github.com/thereceipt/bleprint/pkg/receiptformat"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 256
)

// WSMessage represents a WebSocket message
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type wsEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// WSClient is one WebSocket connection. Status changes are queued to send
// from the publisher callback without blocking; a slow client drops them.
type WSClient struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	server *Server
	log    *zap.Logger
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &WSClient{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		server: s,
		log:    s.log.With(zap.String("remote", conn.RemoteAddr().String())),
	}

	// Snapshot first, then every change after it.
	client.push("status", s.service.Manager().Status())
	unsubscribe := s.service.Manager().Publisher().Subscribe(func(st printer.Status) {
		client.push("status", st)
	})

	go client.writePump()
	go func() {
		defer unsubscribe()
		client.readPump()
	}()
}

// push queues an event without blocking the caller.
func (c *WSClient) push(event string, data any) {
	payload, err := json.Marshal(wsEvent{Event: event, Data: data})
	if err != nil {
		c.log.Error("encode websocket event", zap.String("event", event), zap.Error(err))
		return
	}
	select {
	case <-c.done:
	case c.send <- payload:
	default:
		c.log.Warn("websocket client too slow, dropping event", zap.String("event", event))
	}
}

func (c *WSClient) readPump() {
	defer func() {
		close(c.done)
		c.conn.Close()
	}()

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("websocket read", zap.Error(err))
			}
			return
		}
		c.handleMessage(msg)
	}
}

func (c *WSClient) writePump() {
	defer c.conn.Close()

	for {
		select {
		case <-c.done:
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		}
	}
}

// handleMessage runs client requests. Prints run off the read loop so
// status events keep flowing while the job is in progress.
func (c *WSClient) handleMessage(msg WSMessage) {
	switch msg.Event {
	case "status":
		c.push("status", c.server.service.Manager().Status())

	case "print":
		receipt, err := receiptformat.Parse(msg.Data)
		if err != nil {
			c.push("print_error", gin.H{"error": "invalid receipt: " + err.Error()})
			return
		}
		go func() {
			res, err := c.server.service.PrintReceipt(receipt)
			c.pushJob(res, err)
		}()

	case "selftest":
		go func() {
			res, err := c.server.service.PrintSelfTest()
			c.pushJob(res, err)
		}()

	default:
		c.push("error", gin.H{"error": "unknown event: " + msg.Event})
	}
}

func (c *WSClient) pushJob(res *printer.JobResult, err error) {
	if err != nil {
		c.push("print_error", gin.H{"error": err.Error(), "job": res})
		return
	}
	c.push("print_complete", res)
}
