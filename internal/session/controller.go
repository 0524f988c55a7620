// Package session implements the reconciliation state machine that
// decides, for one attached client, whether to create a list,
// subscribe to one, or redirect, given a route id and an auth state
// that arrive asynchronously and in any order.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/grumpy-ui/listado/internal/auth"
	"github.com/grumpy-ui/listado/internal/model"
)

// RouteNew is the route sentinel meaning "create or await creation".
const RouteNew = "new"

// State names the controller's position in the lifecycle.
type State string

const (
	Unattached          State = "unattached"
	CreatingAnonymous   State = "creating_anonymous"
	AwaitingWelcome     State = "awaiting_welcome"
	Subscribed          State = "subscribed"
	RedirectingNoAccess State = "redirecting_no_access"
)

var (
	// ErrNameRequired is the one validation failure that must surface
	// as a user-visible message rather than a silent no-op.
	ErrNameRequired = errors.New("list name is required")
	ErrNotSignedIn  = errors.New("sign in to create a named list")
)

// ListStore is the slice of the list feed the controller drives.
type ListStore interface {
	Create(ownerID, ownerName, name string) (*model.List, error)
	Subscribe(id string, fn func(*model.List)) (cancel func())
}

// Snapshot is what the presentation layer renders: always complete,
// never an error state. A missing list shows as empty and unowned.
type Snapshot struct {
	State         State       `json:"state"`
	ListID        string      `json:"list_id,omitempty"`
	List          *model.List `json:"list,omitempty"`
	BelongsToUser bool        `json:"belongs_to_user"`
}

// Events receives the controller's outputs. Implementations must not
// call back into the controller.
type Events interface {
	// Navigate tells the client to change its route. The id is either
	// RouteNew or a concrete list id.
	Navigate(listID string)
	// Update delivers a fresh snapshot after every reconciliation.
	Update(Snapshot)
}

// Controller owns the per-session list state. Inputs are SetRoute
// calls and auth-state changes; outputs flow through Events. It keeps
// at most one live list subscription and discards callbacks from
// subscriptions it has already abandoned.
type Controller struct {
	store  ListStore
	authSt *auth.State
	events Events
	logger *slog.Logger
	grace  time.Duration
	now    func() time.Time

	mu         sync.Mutex
	state      State
	routeID    string
	user       *model.User
	list       *model.List
	belongs    bool
	graceUntil time.Time

	epoch      int
	cancelSub  func()
	cancelAuth func()
	closed     bool
}

func NewController(store ListStore, authSt *auth.State, events Events, grace time.Duration, logger *slog.Logger) *Controller {
	return &Controller{
		store:  store,
		authSt: authSt,
		events: events,
		logger: logger,
		grace:  grace,
		now:    time.Now,
		state:  Unattached,
	}
}

// Start attaches the controller to the auth stream. Call exactly once.
func (c *Controller) Start() {
	c.cancelAuth = c.authSt.Subscribe(c.onAuth)
}

// Close tears the session down. Disposer failures are logged, never
// allowed to escape the teardown path.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	cancelSub := c.cancelSub
	c.cancelSub = nil
	c.epoch++
	c.mu.Unlock()

	c.safeCancel(cancelSub)
	c.safeCancel(c.cancelAuth)
}

func (c *Controller) safeCancel(cancel func()) {
	if cancel == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("subscription dispose", "panic", r)
		}
	}()
	cancel()
}

// Snapshot returns the current renderable state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		State:         c.state,
		ListID:        c.routeID,
		List:          c.list,
		BelongsToUser: c.belongs,
	}
}

// SetRoute feeds a route change into the machine. RouteNew triggers
// creation (anonymous) or a welcome wait (signed in); a concrete id is
// subscribed to. The previous subscription is always disposed first.
func (c *Controller) SetRoute(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || id == c.routeID {
		return
	}
	c.unsubscribeLocked()
	c.routeID = id
	c.reconcileLocked()
}

// CreateNamed performs the explicit "welcome" action: a signed-in user
// on the RouteNew sentinel names and creates their list. The grace
// window opens so the access-redirect rule tolerates the feed not yet
// reflecting the fresh owner field.
func (c *Controller) CreateNamed(name string) (*model.List, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errors.New("session closed")
	}
	if c.user == nil {
		return nil, ErrNotSignedIn
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}

	l, err := c.store.Create(c.user.ID, c.user.DisplayName(), name)
	if err != nil {
		return nil, fmt.Errorf("create named list: %w", err)
	}

	c.graceUntil = c.now().Add(c.grace)
	c.unsubscribeLocked()
	c.routeID = l.ID
	c.events.Navigate(l.ID)
	c.subscribeLocked(l.ID)
	return l, nil
}

func (c *Controller) onAuth(user *model.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	prev := c.user
	c.user = user

	switch {
	case prev != nil && user == nil:
		// Sign-out: discard every trace of the authenticated list and
		// spin up a fresh anonymous one so the UI never points at
		// stale state.
		c.unsubscribeLocked()
		c.list = nil
		c.belongs = false
		c.graceUntil = time.Time{}
		c.routeID = RouteNew
		c.reconcileLocked()
	case user != nil && c.state == Subscribed:
		// Sign-in while attached: re-evaluate ownership right away.
		c.belongs = c.list != nil && c.list.BelongsTo(user.ID)
		c.events.Update(c.snapshotLocked())
		c.enforceAccessLocked()
	case user != nil && c.routeID == RouteNew:
		// A signed-in user on the sentinel waits for an explicit
		// create action.
		c.reconcileLocked()
	default:
		c.events.Update(c.snapshotLocked())
	}
}

// reconcileLocked drives the route/auth pair to a stable state.
func (c *Controller) reconcileLocked() {
	switch {
	case c.routeID == "":
		c.state = Unattached
		c.list = nil
		c.belongs = false
		c.events.Update(c.snapshotLocked())

	case c.routeID == RouteNew && c.user == nil:
		c.state = CreatingAnonymous
		l, err := c.store.Create("", "", "")
		if err != nil {
			// Degrade to a renderable empty view; the client can
			// retry by re-navigating.
			c.logger.Error("create anonymous list", "error", err)
			c.state = Unattached
			c.list = nil
			c.belongs = false
			c.events.Update(c.snapshotLocked())
			return
		}
		c.routeID = l.ID
		c.events.Navigate(l.ID)
		c.subscribeLocked(l.ID)

	case c.routeID == RouteNew:
		c.state = AwaitingWelcome
		c.list = nil
		c.belongs = false
		c.events.Update(c.snapshotLocked())

	default:
		c.subscribeLocked(c.routeID)
	}
}

// subscribeLocked attaches to a concrete list id. The epoch stamp on
// the callback discards late deliveries from subscriptions that have
// since been abandoned.
func (c *Controller) subscribeLocked(id string) {
	c.state = Subscribed
	c.epoch++
	epoch := c.epoch
	c.cancelSub = c.store.Subscribe(id, func(l *model.List) {
		c.onDoc(epoch, l)
	})
}

func (c *Controller) onDoc(epoch int, l *model.List) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || epoch != c.epoch {
		return
	}

	c.list = l
	if l == nil {
		c.belongs = false
	} else {
		c.belongs = c.user != nil && l.BelongsTo(c.user.ID)
	}
	c.events.Update(c.snapshotLocked())
	c.enforceAccessLocked()
}

// enforceAccessLocked applies the ownership rule: signed-in users only
// browse lists they own. Anonymous users are exempt, any holder of the
// id may view and edit. The grace window after a named create
// suppresses the redirect while the feed catches up.
func (c *Controller) enforceAccessLocked() {
	if c.state != Subscribed || c.user == nil || c.belongs {
		return
	}
	if c.now().Before(c.graceUntil) {
		return
	}

	c.state = RedirectingNoAccess
	c.unsubscribeLocked()
	c.list = nil
	c.routeID = RouteNew
	c.events.Navigate(RouteNew)
	c.reconcileLocked()
}

func (c *Controller) unsubscribeLocked() {
	if c.cancelSub == nil {
		return
	}
	cancel := c.cancelSub
	c.cancelSub = nil
	c.epoch++
	c.safeCancel(cancel)
}
