package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/grumpy-ui/listado/internal/model"
)

// Feed is the live list source the hub fans out from.
type Feed interface {
	Subscribe(id string, fn func(*model.List)) (cancel func())
}

// Message is one frame on a list watch socket.
type Message struct {
	Type   string      `json:"type"`
	ListID string      `json:"list_id"`
	List   *model.List `json:"list,omitempty"`
}

// NewListMessage builds the frame for a list snapshot. A nil list
// means the document no longer exists.
func NewListMessage(listID string, l *model.List) Message {
	typ := "list"
	if l == nil {
		typ = "list_deleted"
	}
	return Message{Type: typ, ListID: listID, List: l}
}

type room struct {
	clients map[*Client]struct{}
	cancel  func()
}

// Hub groups watch clients into per-list rooms. The first client of a
// room opens a feed subscription for its list; the last one out closes
// it.
type Hub struct {
	feed   Feed
	logger *slog.Logger

	mu    sync.Mutex
	rooms map[string]*room
}

func NewHub(feed Feed, logger *slog.Logger) *Hub {
	return &Hub{
		feed:   feed,
		logger: logger,
		rooms:  make(map[string]*room),
	}
}

// Register adds a client to its list's room, opening the room's feed
// subscription if it is the first.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rm := h.rooms[c.listID]
	if rm == nil {
		rm = &room{clients: make(map[*Client]struct{})}
		h.rooms[c.listID] = rm
		id := c.listID
		rm.cancel = h.feed.Subscribe(id, func(l *model.List) {
			h.broadcast(id, l)
		})
	}
	rm.clients[c] = struct{}{}
}

// Unregister removes a client and closes its send channel. The room's
// feed subscription is dropped once it empties out.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rm := h.rooms[c.listID]
	if rm == nil {
		return
	}
	if _, ok := rm.clients[c]; !ok {
		return
	}
	delete(rm.clients, c)
	close(c.send)

	if len(rm.clients) == 0 {
		delete(h.rooms, c.listID)
		if rm.cancel != nil {
			rm.cancel()
		}
	}
}

func (h *Hub) broadcast(listID string, l *model.List) {
	data, err := json.Marshal(NewListMessage(listID, l))
	if err != nil {
		h.logger.Error("marshal list frame", "list_id", listID, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	rm := h.rooms[listID]
	if rm == nil {
		return
	}
	for c := range rm.clients {
		select {
		case c.send <- data:
		default:
			// Slow client; the feed will deliver a fresh snapshot on
			// the next change anyway.
		}
	}
}

// ClientCount returns the number of clients watching a list.
func (h *Hub) ClientCount(listID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	rm := h.rooms[listID]
	if rm == nil {
		return 0
	}
	return len(rm.clients)
}

// RoomCount returns the number of lists with at least one watcher.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}
