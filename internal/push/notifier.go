package push

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/grumpy-ui/listado/internal/model"
	"github.com/grumpy-ui/listado/internal/store"
)

// minNotifyInterval rate-limits notifications per list so a burst of
// edits produces one message, not one per keystroke.
const minNotifyInterval = 2 * time.Minute

// Notifier pushes "your list changed" messages to the owner's devices.
// Unowned lists have nobody to notify and are skipped.
type Notifier struct {
	service *Service
	subs    *store.PushStore
	logger  *slog.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
}

func NewNotifier(svc *Service, subs *store.PushStore, logger *slog.Logger) *Notifier {
	return &Notifier{
		service:  svc,
		subs:     subs,
		logger:   logger,
		lastSent: make(map[string]time.Time),
	}
}

// ListChanged is the feed's change hook. Expired subscriptions found
// along the way are pruned.
func (n *Notifier) ListChanged(l *model.List) {
	if l == nil || l.OwnerID == nil || !n.service.Configured() {
		return
	}
	if !n.shouldNotify(l.ID) {
		return
	}

	subs, err := n.subs.ListByUser(*l.OwnerID)
	if err != nil {
		n.logger.Error("push list subscriptions", "error", err)
		return
	}

	payload := Payload{
		Title: l.DisplayName(),
		Body:  fmt.Sprintf("%d items on your list", len(l.Items)),
		URL:   "/list/" + l.ID,
		Tag:   "list-" + l.ID,
	}

	for i := range subs {
		sub := &subs[i]
		if err := n.service.Send(sub, payload); err != nil {
			if errors.Is(err, ErrExpired) {
				if derr := n.subs.DeleteByEndpoint(sub.Endpoint); derr != nil {
					n.logger.Error("prune expired subscription", "error", derr)
				}
				continue
			}
			n.logger.Error("send list notification", "list_id", l.ID, "error", err)
		}
	}
}

func (n *Notifier) shouldNotify(listID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := time.Now()
	if last, ok := n.lastSent[listID]; ok && now.Sub(last) < minNotifyInterval {
		return false
	}
	n.lastSent[listID] = now
	return true
}
