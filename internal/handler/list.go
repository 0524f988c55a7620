package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/grumpy-ui/listado/internal/auth"
	"github.com/grumpy-ui/listado/internal/items"
	"github.com/grumpy-ui/listado/internal/live"
	"github.com/grumpy-ui/listado/internal/model"
)

type ListHandler struct {
	feed   *live.Feed
	logger *slog.Logger
}

func NewListHandler(feed *live.Feed, logger *slog.Logger) *ListHandler {
	return &ListHandler{feed: feed, logger: logger}
}

type createListRequest struct {
	Name string `json:"name"`
}

// Create handles POST /api/lists. Signed-in users get an owned, named
// list; anonymous callers get an unnamed one reachable only by URL.
func (h *ListHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createListRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}
	req.Name = strings.TrimSpace(req.Name)

	var ownerID, ownerName string
	if user := auth.CurrentUser(r.Context()); user != nil {
		if req.Name == "" {
			writeError(w, http.StatusBadRequest, "name is required")
			return
		}
		ownerID = user.ID
		ownerName = user.DisplayName()
	}

	list, err := h.feed.Create(ownerID, ownerName, req.Name)
	if err != nil {
		h.logger.Error("create list", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create list")
		return
	}
	writeJSON(w, http.StatusCreated, list)
}

// Get handles GET /api/lists/{id}.
func (h *ListHandler) Get(w http.ResponseWriter, r *http.Request) {
	list, err := h.feed.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get list")
		return
	}
	if list == nil {
		writeError(w, http.StatusNotFound, "list not found")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Mine handles GET /api/lists, newest first.
func (h *ListHandler) Mine(w http.ResponseWriter, r *http.Request) {
	lists, err := h.feed.ListByOwner(auth.UserID(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list lists")
		return
	}
	writeJSON(w, http.StatusOK, lists)
}

type renameRequest struct {
	Name string `json:"name"`
}

// Rename handles PATCH /api/lists/{id}.
func (h *ListHandler) Rename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	list, ok := h.writable(w, r)
	if !ok {
		return
	}

	list, err := h.feed.Rename(list.ID, req.Name)
	if err != nil {
		h.logger.Error("rename list", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to rename list")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Delete handles DELETE /api/lists/{id}.
func (h *ListHandler) Delete(w http.ResponseWriter, r *http.Request) {
	list, ok := h.writable(w, r)
	if !ok {
		return
	}
	if err := h.feed.Delete(list.ID); err != nil {
		h.logger.Error("delete list", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete list")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Claim handles POST /api/lists/{id}/claim: a signed-in user attaches
// their ownership to an anonymous list. Claiming a list twice is
// idempotent; claiming someone else's list is refused.
func (h *ListHandler) Claim(w http.ResponseWriter, r *http.Request) {
	user := auth.CurrentUser(r.Context())

	list, err := h.feed.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get list")
		return
	}
	if list == nil {
		writeError(w, http.StatusNotFound, "list not found")
		return
	}
	if list.OwnerID != nil {
		if *list.OwnerID == user.ID {
			writeJSON(w, http.StatusOK, list)
			return
		}
		writeError(w, http.StatusConflict, "list already has an owner")
		return
	}

	list, err = h.feed.SetOwner(list.ID, user.ID, user.DisplayName())
	if err != nil {
		h.logger.Error("claim list", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to claim list")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type replaceItemsRequest struct {
	Items []model.Item `json:"items"`
}

// ReplaceItems handles PUT /api/lists/{id}/items. The whole array is
// replaced; last writer wins.
func (h *ListHandler) ReplaceItems(w http.ResponseWriter, r *http.Request) {
	var req replaceItemsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	list, ok := h.writable(w, r)
	if !ok {
		return
	}

	list, err := h.feed.ReplaceItems(list.ID, items.Sort(req.Items))
	if err != nil {
		h.logger.Error("replace items", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to replace items")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type addItemRequest struct {
	Text     string `json:"text"`
	Quantity string `json:"quantity"`
	Unit     string `json:"unit"`
}

// AddItem handles POST /api/lists/{id}/items.
func (h *ListHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	qty, err := items.ParseQuantity(req.Quantity)
	if err != nil {
		writeError(w, http.StatusBadRequest, "quantity must be a positive number")
		return
	}

	list, ok := h.writable(w, r)
	if !ok {
		return
	}

	next, err := items.Add(list.Items, req.Text, qty, req.Unit)
	if err != nil {
		if errors.Is(err, items.ErrBlankText) {
			writeError(w, http.StatusBadRequest, "text is required")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err = h.feed.ReplaceItems(list.ID, next)
	if err != nil {
		h.logger.Error("add item", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to add item")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ToggleItem handles POST /api/lists/{id}/items/{index}/toggle.
func (h *ListHandler) ToggleItem(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid index")
		return
	}

	list, ok := h.writable(w, r)
	if !ok {
		return
	}

	next, err := items.Toggle(list.Items, idx)
	if err != nil {
		writeError(w, http.StatusBadRequest, "index out of range")
		return
	}

	list, err = h.feed.ReplaceItems(list.ID, next)
	if err != nil {
		h.logger.Error("toggle item", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to toggle item")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// DeleteItem handles DELETE /api/lists/{id}/items/{index}. An
// out-of-range index is a no-op, not an error.
func (h *ListHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid index")
		return
	}

	list, ok := h.writable(w, r)
	if !ok {
		return
	}

	list, err = h.feed.ReplaceItems(list.ID, items.Delete(list.Items, idx))
	if err != nil {
		h.logger.Error("delete item", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete item")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// writable loads the list and enforces the write rule: anonymous
// callers may edit any list they hold the URL for, while signed-in
// users only touch lists they own.
func (h *ListHandler) writable(w http.ResponseWriter, r *http.Request) (*model.List, bool) {
	list, err := h.feed.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get list")
		return nil, false
	}
	if list == nil {
		writeError(w, http.StatusNotFound, "list not found")
		return nil, false
	}
	if uid := auth.UserID(r.Context()); uid != "" && !list.BelongsTo(uid) {
		writeError(w, http.StatusForbidden, "list belongs to another user")
		return nil, false
	}
	return list, true
}
