package selection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type Mode int

const (
	ModeNormal Mode = iota
	ModeSelecting
)

func (m Mode) String() string {
	if m == ModeSelecting {
		return "selecting"
	}
	return "normal"
}

// DefaultLongPress is the hold time that turns a press into a long-press.
const DefaultLongPress = 500 * time.Millisecond

var (
	ErrSendInFlight    = errors.New("wait for the current reply to finish")
	ErrNothingSelected = errors.New("no messages selected")
	ErrNoContact       = errors.New("choose a contact to forward to")
	ErrNotSelectable   = errors.New("only saved messages of this conversation can be selected")
)

// Result is the bulk forward response.
type Result struct {
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Forwarder relays a set of messages to a contact in one request.
type Forwarder interface {
	ForwardBulk(ctx context.Context, messageIDs []int64, contactID int64) (Result, error)
}

// Notice is the transient message shown after a forward.
type Notice struct {
	OK   bool
	Text string
}

type press struct {
	id    int64
	start time.Time
	moved bool
	fired bool
}

// Controller tracks the multi-select mode over settled messages. Only
// messages with a server id can be selected.
type Controller struct {
	forwarder  Forwarder
	busy       func() bool
	selectable func(id int64) bool
	notify     func(Notice)
	longPress  time.Duration

	mu       sync.Mutex
	mode     Mode
	selected map[int64]struct{}
	order    []int64
	press    *press
	swallow  *int64
}

type Option func(*Controller)

// WithBusyCheck reports whether a send is in flight in the visible
// conversation.
func WithBusyCheck(fn func() bool) Option {
	return func(c *Controller) { c.busy = fn }
}

// WithMembership restricts selection to ids fn accepts, normally the
// settled messages of the visible transcript.
func WithMembership(fn func(id int64) bool) Option {
	return func(c *Controller) { c.selectable = fn }
}

func WithNotifier(fn func(Notice)) Option {
	return func(c *Controller) { c.notify = fn }
}

func WithLongPress(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.longPress = d
		}
	}
}

func New(forwarder Forwarder, opts ...Option) *Controller {
	c := &Controller{
		forwarder: forwarder,
		longPress: DefaultLongPress,
		selected:  make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Selected returns the selected ids in the order they were chosen.
func (c *Controller) Selected() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.order...)
}

func (c *Controller) IsSelected(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.selected[id]
	return ok
}

// PressStart begins a possible long-press on a message. Unsettled messages
// (nil id) are ignored.
func (c *Controller) PressStart(id *int64, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == nil || !c.member(*id) {
		c.press = nil
		return
	}
	c.press = &press{id: *id, start: at}
}

// PressMove cancels the pending long-press.
func (c *Controller) PressMove() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.press != nil {
		c.press.moved = true
	}
}

// PressCheck fires the long-press once the hold time has elapsed. It is
// meant to be driven by a timer while the press is held.
func (c *Controller) PressCheck(at time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.press
	if p == nil || p.moved || p.fired || at.Sub(p.start) < c.longPress {
		return false
	}
	p.fired = true
	if c.isBusy() {
		return false
	}
	c.enterLocked(p.id)
	id := p.id
	c.swallow = &id
	return true
}

// PressRelease ends the press, firing it first if it was held long enough.
func (c *Controller) PressRelease(at time.Time) bool {
	fired := c.PressCheck(at)
	c.mu.Lock()
	c.press = nil
	c.mu.Unlock()
	return fired
}

// SecondaryClick enters selection mode with the message selected.
func (c *Controller) SecondaryClick(id *int64) error {
	if id == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.member(*id) {
		return ErrNotSelectable
	}
	if c.isBusy() {
		return ErrSendInFlight
	}
	c.enterLocked(*id)
	return nil
}

// Click toggles a message while selecting. The click synthesized right
// after a long-press on the same message is swallowed. It reports whether
// the selection changed.
func (c *Controller) Click(id *int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	swallow := c.swallow
	c.swallow = nil
	if id == nil || c.mode != ModeSelecting {
		return false
	}
	if _, ok := c.selected[*id]; !ok && !c.member(*id) {
		return false
	}
	if swallow != nil && *swallow == *id {
		return false
	}
	if _, ok := c.selected[*id]; ok {
		delete(c.selected, *id)
		for i, v := range c.order {
			if v == *id {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	} else {
		c.addLocked(*id)
	}
	return true
}

// Close leaves selection mode and clears the selection.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exitLocked()
}

// Reset is Close for logout and conversation switches; it also drops any
// gesture in progress.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exitLocked()
	c.press = nil
	c.swallow = nil
}

// Forward sends the selection to a contact in one request and then leaves
// selection mode whatever the outcome.
func (c *Controller) Forward(ctx context.Context, contactID int64) (Result, error) {
	c.mu.Lock()
	if c.isBusy() {
		c.mu.Unlock()
		return Result{}, ErrSendInFlight
	}
	if c.mode != ModeSelecting || len(c.order) == 0 {
		c.mu.Unlock()
		return Result{}, ErrNothingSelected
	}
	if contactID == 0 {
		c.mu.Unlock()
		return Result{}, ErrNoContact
	}
	ids := append([]int64(nil), c.order...)
	c.mu.Unlock()

	res, err := c.forwarder.ForwardBulk(ctx, ids, contactID)

	c.mu.Lock()
	c.exitLocked()
	c.mu.Unlock()

	notice := Notice{OK: err == nil && res.OK}
	switch {
	case err != nil:
		notice.Text = fmt.Sprintf("Forward failed: %v", err)
	case !res.OK:
		notice.Text = "Forward failed"
		if res.Detail != "" {
			notice.Text += ": " + res.Detail
		}
		err = fmt.Errorf("forward rejected: %s", res.Detail)
	default:
		notice.Text = fmt.Sprintf("Forwarded %d message(s)", len(ids))
	}
	if c.notify != nil {
		c.notify(notice)
	}
	return res, err
}

func (c *Controller) member(id int64) bool {
	return c.selectable == nil || c.selectable(id)
}

func (c *Controller) isBusy() bool {
	return c.busy != nil && c.busy()
}

func (c *Controller) enterLocked(id int64) {
	c.mode = ModeSelecting
	c.addLocked(id)
}

func (c *Controller) addLocked(id int64) {
	if _, ok := c.selected[id]; ok {
		return
	}
	c.selected[id] = struct{}{}
	c.order = append(c.order, id)
}

func (c *Controller) exitLocked() {
	c.mode = ModeNormal
	c.selected = make(map[int64]struct{})
	c.order = nil
}
