package network

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coasim/coasim/internal/engine"
	"github.com/coasim/coasim/internal/events"
	"github.com/coasim/coasim/internal/platform/logger"
	"github.com/coasim/coasim/internal/platform/metrics"
)

// Message types sent to clients.
const (
	MsgTypeEvent = "EVENT"
	MsgTypeState = "STATE"
	MsgTypeAck   = "ACK"
	MsgTypeError = "ERROR"
)

// DefaultCommandInterval is the minimum spacing between commands from one client.
const DefaultCommandInterval = 250 * time.Millisecond

// Message is the envelope for everything pushed over the socket.
type Message struct {
	Type      string `json:"type"`
	Tick      int64  `json:"tick"`
	Timestamp int64  `json:"timestamp"`
	Payload   any    `json:"payload,omitempty"`
}

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.Mutex
	logger     *logger.Logger
	metrics    *metrics.Collector
	operator   *Operator

	commandInterval time.Duration
	clientBuffer    int
}

// NewHub initializes a new WebSocket Hub. ops may be nil for a read-only feed.
func NewHub(log *logger.Logger, m *metrics.Collector, ops *Operator) *Hub {
	if m == nil {
		m = metrics.Get()
	}
	return &Hub{
		broadcast:       make(chan []byte, 256),
		register:        make(chan *Client),
		unregister:      make(chan *Client),
		done:            make(chan struct{}),
		clients:         make(map[*Client]bool),
		logger:          log,
		metrics:         m,
		operator:        ops,
		commandInterval: DefaultCommandInterval,
		clientBuffer:    256,
	}
}

// Tune resizes the broadcast queue and per-client send buffers.
// It must be called before Run.
func (h *Hub) Tune(broadcastBuffer, clientBuffer int) {
	if broadcastBuffer > 0 {
		h.broadcast = make(chan []byte, broadcastBuffer)
	}
	if clientBuffer > 0 {
		h.clientBuffer = clientBuffer
	}
}

// SetCommandInterval changes the per-client rate limit.
func (h *Hub) SetCommandInterval(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commandInterval = d
}

func (h *Hub) rateLimit() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.commandInterval
}

// Run starts the Hub's main loop to handle client connections and broadcasts.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("WebSocket Hub shutting down.")
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.metrics.RecordWSConnection(1)
			h.logger.Info("New WebSocket client connected")
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.metrics.RecordWSConnection(-1)
				h.logger.Info("WebSocket client disconnected")
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
					h.metrics.RecordWSMessage(false)
				default:
					// Slow consumer.
					close(client.send)
					delete(h.clients, client)
					h.metrics.RecordWSConnection(-1)
					h.metrics.RecordWSError()
				}
			}
			h.mu.Unlock()
		}
	}
}

// sendTo queues a message for one client, if it is still connected.
func (h *Hub) sendTo(c *Client, msg Message) {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().Unix()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Errorf("Failed to serialize %s message: %v", msg.Type, err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c] {
		return
	}
	select {
	case c.send <- payload:
		h.metrics.RecordWSMessage(false)
	default:
		h.metrics.RecordWSError()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues a message for every client. It never blocks the caller:
// if the queue is full the message is dropped.
func (h *Hub) Broadcast(msg Message) {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().Unix()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Errorf("Failed to serialize %s message for WebSocket broadcast: %v", msg.Type, err)
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warnf("Broadcast queue full, dropped %s message", msg.Type)
		h.metrics.RecordWSError()
	}
}

// BroadcastEvent pushes one event to all connected clients.
func (h *Hub) BroadcastEvent(event events.SimEvent) {
	h.Broadcast(Message{Type: MsgTypeEvent, Tick: event.Tick, Payload: event})
}

// BroadcastState pushes the world after a tick. Register it with
// engine.OnTick.
func (h *Hub) BroadcastState(snap engine.Snapshot) {
	h.Broadcast(Message{Type: MsgTypeState, Tick: snap.Tick, Payload: snap})
}

// StartEventPoller spawns a goroutine to poll the EventLog and push new events to the Hub.
// This allows the Hub to run independently from the Engine's dispatch loop while picking up the same events.
func (h *Hub) StartEventPoller(ctx context.Context, eventLog *events.EventLog, interval time.Duration) {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	go func() {
		pollInterval := time.NewTicker(interval)
		defer pollInterval.Stop()

		lastProcessedEvent := eventLog.Len()

		for {
			select {
			case <-ctx.Done():
				return
			case <-pollInterval.C:
				newEvents := eventLog.Since(lastProcessedEvent)
				for _, event := range newEvents {
					// Clock ticks are implied by STATE messages.
					if event.Type == events.EventTypeTimeTick {
						continue
					}
					h.BroadcastEvent(event)
				}
				lastProcessedEvent += len(newEvents)
			}
		}
	}()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Viewers may be served from another origin
	},
}

// ServeWS handles websocket requests from the peer.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket connection")
		h.metrics.RecordWSError()
		return
	}

	client := NewClient(h, conn)
	client.Register()

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.WritePump()
	go client.ReadPump()
}
