// Package intercept holds paused flows awaiting operator decisions and
// reconciles their resumption.
package intercept

import (
	"errors"
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"
	"go.uber.org/atomic"

	"github.com/vsthakur101/webapi-moderator/eventbus"
	"github.com/vsthakur101/webapi-moderator/flow"
)

// Phase names the pause point of a slot.
type Phase string

const (
	PhaseRequest  Phase = "request"
	PhaseResponse Phase = "response"
)

// DecisionKind is the operator's verdict for a pending slot.
type DecisionKind string

const (
	DecisionForward         DecisionKind = "forward"
	DecisionDrop            DecisionKind = "drop"
	DecisionForwardModified DecisionKind = "forward_modified"
)

// Decision resolves a slot. Headers/Body/Status are only meaningful for
// forward_modified; Status applies to the response phase.
type Decision struct {
	Kind    DecisionKind
	Headers flow.Header
	Body    []byte
	Status  int
}

var (
	// ErrUnknownSlot is returned when no pending slot matches.
	ErrUnknownSlot = errors.New("intercept: unknown slot")
	// ErrAlreadyResolved is returned for a slot that is still registered but
	// already marked resolved. Decide removes a slot when it resolves it, so
	// deciding the same slot again returns ErrUnknownSlot.
	ErrAlreadyResolved = errors.New("intercept: slot already resolved")
)

type slotKey struct {
	flowID uuid.UUID
	phase  Phase
}

// Slot is one pending pause point.
type Slot struct {
	FlowID   uuid.UUID  `json:"flow_id"`
	Phase    Phase      `json:"phase"`
	Snapshot *flow.Flow `json:"snapshot"`
	Created  time.Time  `json:"created"`

	ch       chan Decision
	resolved bool
}

// Coordinator serializes slot state transitions behind one mutex so they
// are linearizable. Waiters block on single-consumer channels.
type Coordinator struct {
	mu      sync.Mutex
	slots   map[slotKey]*Slot
	order   []slotKey // FIFO across both phases; List filters per phase
	enabled atomic.Bool
	bus     *eventbus.Bus
}

// NewCoordinator creates a Coordinator publishing to bus. Interception
// starts disabled.
func NewCoordinator(bus *eventbus.Bus) *Coordinator {
	return &Coordinator{
		slots: make(map[slotKey]*Slot),
		bus:   bus,
	}
}

// Enabled reports whether interception is globally on.
func (c *Coordinator) Enabled() bool {
	return c.enabled.Load()
}

// Toggle flips global interception and returns the new state. Disabling
// releases every pending slot with a forward decision.
func (c *Coordinator) Toggle() bool {
	next := !c.enabled.Load()
	c.enabled.Store(next)
	if !next {
		c.resolveAll(Decision{Kind: DecisionForward})
	}
	return next
}

// Submit registers a pause point and returns the channel its decision will
// arrive on. While interception is disabled the decision is an immediate
// forward. At most one slot may be outstanding per (flow, phase).
func (c *Coordinator) Submit(f *flow.Flow, phase Phase) <-chan Decision {
	ch := make(chan Decision, 1)
	if !c.enabled.Load() {
		ch <- Decision{Kind: DecisionForward}
		return ch
	}

	key := slotKey{flowID: f.ID, phase: phase}
	slot := &Slot{
		FlowID:   f.ID,
		Phase:    phase,
		Snapshot: f.Snapshot(),
		Created:  time.Now().UTC(),
		ch:       ch,
	}

	c.mu.Lock()
	if existing, ok := c.slots[key]; ok {
		// Never two outstanding slots for the same pause point.
		c.mu.Unlock()
		return existing.ch
	}
	c.slots[key] = slot
	c.order = append(c.order, key)
	c.mu.Unlock()

	c.bus.Publish(eventbus.TopicIntercept, map[string]any{
		"flow_id": f.ID.String(),
		"phase":   string(phase),
		"flow":    slot.Snapshot,
	})
	return ch
}

// Decide resolves a pending slot exactly once.
func (c *Coordinator) Decide(flowID uuid.UUID, phase Phase, d Decision) error {
	key := slotKey{flowID: flowID, phase: phase}

	c.mu.Lock()
	slot, ok := c.slots[key]
	if !ok {
		c.mu.Unlock()
		return ErrUnknownSlot
	}
	if slot.resolved {
		c.mu.Unlock()
		return ErrAlreadyResolved
	}
	slot.resolved = true
	delete(c.slots, key)
	c.removeOrder(key)
	c.mu.Unlock()

	slot.ch <- d
	return nil
}

// Cancel resolves any slots for flowID with drop; used when the client side
// of a flow goes away.
func (c *Coordinator) Cancel(flowID uuid.UUID) {
	for _, phase := range []Phase{PhaseRequest, PhaseResponse} {
		if err := c.Decide(flowID, phase, Decision{Kind: DecisionDrop}); err == nil {
			c.bus.Publish(eventbus.TopicIntercept, map[string]any{
				"flow_id":   flowID.String(),
				"phase":     string(phase),
				"cancelled": true,
			})
		}
	}
}

// List returns pending slots in FIFO order, optionally filtered by phase.
func (c *Coordinator) List(phase Phase) []*Slot {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*Slot, 0, len(c.order))
	for _, key := range c.order {
		slot, ok := c.slots[key]
		if !ok {
			continue
		}
		if phase != "" && slot.Phase != phase {
			continue
		}
		out = append(out, slot)
	}
	return out
}

// Shutdown releases every pending slot with a forward decision.
func (c *Coordinator) Shutdown() {
	c.resolveAll(Decision{Kind: DecisionForward})
}

func (c *Coordinator) resolveAll(d Decision) {
	c.mu.Lock()
	pending := make([]*Slot, 0, len(c.slots))
	for _, slot := range c.slots {
		if !slot.resolved {
			slot.resolved = true
			pending = append(pending, slot)
		}
	}
	c.slots = make(map[slotKey]*Slot)
	c.order = nil
	c.mu.Unlock()

	for _, slot := range pending {
		slot.ch <- d
	}
}

func (c *Coordinator) removeOrder(key slotKey) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
