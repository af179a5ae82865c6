package network

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coasim/coasim/internal/domain/grid"
	"github.com/coasim/coasim/internal/events"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

// Command types accepted from clients.
const (
	CmdAddObstacle   = "ADD_OBSTACLE"
	CmdClearObstacle = "CLEAR_OBSTACLE"
	CmdSetObjective  = "SET_OBJECTIVE"
	CmdForcePlan     = "FORCE_PLAN"
)

var errRateLimited = errors.New("rate limit exceeded")

// Command represents an incoming operator command.
type Command struct {
	Type   string     `json:"type"`
	UnitID string     `json:"unit_id,omitempty"` // SET_OBJECTIVE, FORCE_PLAN
	At     grid.Point `json:"at"`                // Cell, or the new objective
}

// CommandResult acknowledges a command to the client that sent it.
type CommandResult struct {
	Command string `json:"command"`
	EventID string `json:"event_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Client is one WebSocket connection.
type Client struct {
	hub             *Hub
	conn            *websocket.Conn
	send            chan []byte
	lastCommandTime time.Time
}

// NewClient creates a new WebSocket client and returns it.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, hub.clientBuffer),
	}
}

// Register adds the client to the hub.
func (c *Client) Register() {
	select {
	case c.hub.register <- c:
	case <-c.hub.done:
		close(c.send)
	}
}

// ReadPump pumps messages from the websocket connection to the hub.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warnf("websocket read: %v", err)
				c.hub.metrics.RecordWSError()
			}
			break
		}
		c.hub.metrics.RecordWSMessage(true)

		var cmd Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.hub.logger.Error("Failed to parse Command from WebSocket. err: " + err.Error())
			continue
		}

		res := c.handleCommand(cmd)
		msgType := MsgTypeAck
		if res.Error != "" {
			msgType = MsgTypeError
		}
		c.hub.sendTo(c, Message{Type: msgType, Payload: res})
	}
}

func (c *Client) handleCommand(cmd Command) CommandResult {
	res := CommandResult{Command: cmd.Type}

	// 1. Rate Limiting Check
	if time.Since(c.lastCommandTime) < c.hub.rateLimit() {
		c.hub.logger.Warn("Rate limit exceeded for client command " + cmd.Type)
		res.Error = errRateLimited.Error()
		return res
	}
	c.lastCommandTime = time.Now()

	ops := c.hub.operator
	if ops == nil {
		res.Error = "commands disabled"
		return res
	}

	var ev events.SimEvent
	var err error
	switch cmd.Type {
	case CmdAddObstacle:
		ev, err = ops.AddObstacle(cmd.At)
	case CmdClearObstacle:
		ev, err = ops.ClearObstacle(cmd.At)
	case CmdSetObjective:
		ev, err = ops.SetObjective(cmd.UnitID, cmd.At)
	case CmdForcePlan:
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		_, err = ops.ForcePlan(ctx, cmd.UnitID)
		cancel()
	default:
		c.hub.logger.Warn("Unknown Command type: " + cmd.Type)
		res.Error = "unknown command " + cmd.Type
		return res
	}

	res.EventID = ev.ID
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

// WritePump pumps messages from the hub to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One JSON message per frame so clients can decode frames directly.
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
