package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"kpiledger/internal/infrastructure"
)

// Message types pushed to dashboard clients
const (
	TypeConnection = "connection"
	TypeJobUpdated = "job:updated"
)

// Message is the envelope of every frame the hub sends
type Message struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// Hub maintains the set of active clients and broadcasts messages to them.
// The client set is only mutated from Run.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu    sync.RWMutex
	count int

	logger  *slog.Logger
	metrics *infrastructure.BusinessMetrics
	now     func() time.Time
}

// NewHub creates a hub. metrics may be nil.
func NewHub(logger *slog.Logger, metrics *infrastructure.BusinessMetrics) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "websocket.hub")),
		metrics:    metrics,
		now:        time.Now,
	}
}

// Run serves register, unregister and broadcast requests until ctx is done.
// All remaining clients are closed on return.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(ctx, client)
			}
			h.logger.InfoContext(ctx, "hub stopped")
			return nil

		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.setCount(ctx, 1)

			h.logger.InfoContext(ctx, "client registered",
				slog.String("client_id", client.id),
				slog.String("remote_addr", client.remoteAddr),
				slog.Int("clients", h.ClientCount()))

			welcome, err := h.encode(Message{
				Type: TypeConnection,
				Data: map[string]string{"status": "connected", "client_id": client.id},
			})
			if err == nil {
				select {
				case client.send <- welcome:
				default:
				}
			}

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(ctx, client)
				h.logger.InfoContext(ctx, "client unregistered",
					slog.String("client_id", client.id),
					slog.Duration("connection_duration", time.Since(client.connectedAt)),
					slog.Int("clients", h.ClientCount()))
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					h.logger.WarnContext(ctx, "dropping slow client",
						slog.String("client_id", client.id))
					h.drop(ctx, client)
				}
			}
		}
	}
}

func (h *Hub) drop(ctx context.Context, client *Client) {
	delete(h.clients, client)
	close(client.send)
	h.setCount(ctx, -1)
}

func (h *Hub) setCount(ctx context.Context, delta int) {
	h.mu.Lock()
	h.count += delta
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.WebSocketClients.Add(ctx, int64(delta))
	}
}

// ClientCount returns the number of registered clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Broadcast queues a message of the given type for every client. It never
// blocks the caller: when the queue is full the message is dropped and
// false is returned.
func (h *Hub) Broadcast(ctx context.Context, msgType string, data any) bool {
	payload, err := h.encode(Message{
		Type:      msgType,
		Data:      data,
		RequestID: infrastructure.GetRequestID(ctx),
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to encode message",
			slog.String("type", msgType),
			slog.String("error", err.Error()))
		return false
	}

	select {
	case h.broadcast <- payload:
		return true
	case <-h.done:
		return false
	default:
		h.logger.WarnContext(ctx, "broadcast queue full, message dropped",
			slog.String("type", msgType))
		return false
	}
}

func (h *Hub) encode(msg Message) ([]byte, error) {
	msg.Timestamp = h.now().UTC()
	return json.Marshal(msg)
}

// join hands a client to Run. It reports false once the hub has stopped.
func (h *Hub) join(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}
