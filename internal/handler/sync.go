package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	ws "github.com/coder/websocket"

	"github.com/grumpy-ui/listado/internal/auth"
	"github.com/grumpy-ui/listado/internal/items"
	"github.com/grumpy-ui/listado/internal/live"
	"github.com/grumpy-ui/listado/internal/model"
	"github.com/grumpy-ui/listado/internal/session"
)

// SyncHandler hosts one session controller per connection on the
// session socket. The client streams route changes, edits, and auth
// refreshes up; the controller streams navigation and snapshots back
// down.
type SyncHandler struct {
	feed    *live.Feed
	service *auth.Service
	grace   time.Duration
	logger  *slog.Logger
}

func NewSyncHandler(feed *live.Feed, svc *auth.Service, grace time.Duration, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{feed: feed, service: svc, grace: grace, logger: logger}
}

type command struct {
	Op    string       `json:"op"`
	ID    string       `json:"id,omitempty"`
	Name  string       `json:"name,omitempty"`
	Text  string       `json:"text,omitempty"`
	Qty   string       `json:"quantity,omitempty"`
	Unit  string       `json:"unit,omitempty"`
	Index int          `json:"index,omitempty"`
	Items []model.Item `json:"items,omitempty"`
	Token string       `json:"token,omitempty"`
}

type frame struct {
	Type     string            `json:"type"`
	ListID   string            `json:"list_id,omitempty"`
	Snapshot *session.Snapshot `json:"snapshot,omitempty"`
	Lists    []model.List      `json:"lists,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// wsEvents bridges controller outputs onto the connection's send
// channel. Frames are dropped rather than blocking the controller; the
// next snapshot always carries the full state.
type wsEvents struct {
	out    chan frame
	logger *slog.Logger
}

func (e *wsEvents) Navigate(listID string) {
	e.push(frame{Type: "navigate", ListID: listID})
}

func (e *wsEvents) Update(s session.Snapshot) {
	e.push(frame{Type: "snapshot", Snapshot: &s})
}

func (e *wsEvents) push(f frame) {
	select {
	case e.out <- f:
	default:
		e.logger.Warn("session frame dropped", "type", f.Type)
	}
}

// syncConn is the per-connection mutable state. All fields are touched
// only from the read pump, so no lock is needed.
type syncConn struct {
	state  *auth.State
	ctrl   *session.Controller
	events *wsEvents

	watchingHistory bool
	cancelHistory   func()
}

func (sc *syncConn) stopHistory() {
	if sc.cancelHistory != nil {
		sc.cancelHistory()
		sc.cancelHistory = nil
	}
}

// Serve handles GET /ws/session.
func (h *SyncHandler) Serve(w http.ResponseWriter, r *http.Request) {
	user := auth.CurrentUser(r.Context())

	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		InsecureSkipVerify: true, // Lists are shared by URL across origins
	})
	if err != nil {
		h.logger.Error("session accept", "error", err)
		return
	}
	defer conn.Close(ws.StatusNormalClosure, "")

	logger := h.logger.With("user_id", auth.UserID(r.Context()))

	state := auth.NewState()
	state.Set(user)

	events := &wsEvents{out: make(chan frame, 32), logger: logger}
	ctrl := session.NewController(h.feed, state, events, h.grace, logger)
	ctrl.Start()
	defer ctrl.Close()

	sc := &syncConn{state: state, ctrl: ctrl, events: events}
	defer sc.stopHistory()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.writePump(ctx, conn, events.out)
	h.readPump(ctx, conn, sc, logger)
}

func (h *SyncHandler) writePump(ctx context.Context, conn *ws.Conn, out <-chan frame) {
	for {
		select {
		case f := <-out:
			data, err := json.Marshal(f)
			if err != nil {
				h.logger.Error("marshal session frame", "error", err)
				continue
			}
			if err := conn.Write(ctx, ws.MessageText, data); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *SyncHandler) readPump(ctx context.Context, conn *ws.Conn, sc *syncConn, logger *slog.Logger) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			logger.Warn("bad session command", "error", err)
			continue
		}
		h.apply(sc, cmd, logger)
	}
}

func (h *SyncHandler) apply(sc *syncConn, cmd command, logger *slog.Logger) {
	switch cmd.Op {
	case "set_route":
		sc.ctrl.SetRoute(cmd.ID)

	case "create_named":
		if _, err := sc.ctrl.CreateNamed(cmd.Name); err != nil {
			// The one edit failure the user must see.
			sc.events.push(frame{Type: "error", Error: err.Error()})
		}

	case "refresh_auth":
		h.refreshAuth(sc, cmd.Token, logger)

	case "watch_history":
		sc.watchingHistory = true
		h.watchHistory(sc)

	case "add_item":
		h.edit(sc.ctrl, logger, func(list []model.Item) ([]model.Item, error) {
			qty, err := items.ParseQuantity(cmd.Qty)
			if err != nil {
				return list, err
			}
			return items.Add(list, cmd.Text, qty, cmd.Unit)
		})

	case "toggle_item":
		h.edit(sc.ctrl, logger, func(list []model.Item) ([]model.Item, error) {
			return items.Toggle(list, cmd.Index)
		})

	case "delete_item":
		h.edit(sc.ctrl, logger, func(list []model.Item) ([]model.Item, error) {
			return items.Delete(list, cmd.Index), nil
		})

	case "replace_items":
		h.edit(sc.ctrl, logger, func(list []model.Item) ([]model.Item, error) {
			return items.Sort(cmd.Items), nil
		})

	default:
		logger.Warn("unknown session command", "op", cmd.Op)
	}
}

// refreshAuth re-resolves the client's session token and feeds the
// result into the auth state. The client sends this after any sign-in
// or sign-out on the HTTP API so the open socket changes identity with
// it; an empty or dead token means signed out. A lookup failure keeps
// the current identity rather than downgrading it.
func (h *SyncHandler) refreshAuth(sc *syncConn, token string, logger *slog.Logger) {
	var user *model.User
	if token != "" {
		u, _, err := h.service.UserForToken(token)
		if err != nil {
			logger.Error("refresh auth", "error", err)
			return
		}
		user = u
	}
	sc.state.Set(user)
	if sc.watchingHistory {
		h.watchHistory(sc)
	}
}

// watchHistory points the live history subscription at the current
// user. Signed out yields an empty history frame and no subscription.
func (h *SyncHandler) watchHistory(sc *syncConn) {
	sc.stopHistory()
	user := sc.state.Current()
	if user == nil {
		sc.events.push(frame{Type: "history", Lists: []model.List{}})
		return
	}
	events := sc.events
	sc.cancelHistory = h.feed.SubscribeOwner(user.ID, func(lists []model.List) {
		events.push(frame{Type: "history", Lists: lists})
	})
}

// edit applies a pure item transformation to the currently subscribed
// list and writes the whole array back. Validation failures are silent
// no-ops; the next snapshot simply shows the unchanged list.
func (h *SyncHandler) edit(ctrl *session.Controller, logger *slog.Logger, fn func([]model.Item) ([]model.Item, error)) {
	snap := ctrl.Snapshot()
	if snap.State != session.Subscribed {
		return
	}

	var current []model.Item
	if snap.List != nil {
		current = snap.List.Items
	}

	next, err := fn(current)
	if err != nil {
		return
	}

	if _, err := h.feed.ReplaceItems(snap.ListID, next); err != nil {
		logger.Error("replace items", "list_id", snap.ListID, "error", err)
	}
}
