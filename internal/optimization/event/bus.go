// Package event implements the synchronous observer registry broadcasting
// optimization lifecycle events to zero or more subscribers.
package event

import (
	"fmt"
	"sync"

	"github.com/crestlabs/crest/internal/optimization"
)

// Kind identifies a lifecycle event. The set is closed; there is no dynamic
// registration of new kinds.
type Kind int

const (
	// Start fires when the optimization loop begins.
	Start Kind = iota
	// Step fires after every successful registration.
	Step
	// Skip fires when a probe failed and was discarded.
	Skip
	// End fires when the optimization loop completes.
	End
)

// Kinds lists every event kind.
func Kinds() []Kind { return []Kind{Start, Step, Skip, End} }

// String returns the event name.
func (k Kind) String() string {
	switch k {
	case Start:
		return "start"
	case Step:
		return "step"
	case Skip:
		return "skip"
	case End:
		return "end"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Source is the view of the firing engine handed to callbacks.
type Source interface {
	// Best returns the best observation so far; ok is false while the
	// store is empty.
	Best() (optimization.Observation, bool)
	// Observations returns the number of stored observations.
	Observations() int
}

// Callback is invoked synchronously when a subscribed event fires.
type Callback func(kind Kind, src Source)

// Subscriber is the default-method variant: subscribing one without an
// explicit callback routes events to its Update method.
type Subscriber interface {
	Update(kind Kind, src Source)
}

type registration struct {
	token string
	cb    Callback
}

// Bus dispatches events to subscribers in subscription order. A panicking
// callback never prevents the remaining callbacks from running; the first
// panic is surfaced to the caller of Fire after all callbacks ran.
type Bus struct {
	mu   sync.Mutex
	subs map[Kind][]registration
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Kind][]registration)}
}

// Subscribe registers cb under token for the given event kind.
// Re-subscribing an existing token replaces its callback in place, keeping
// the original dispatch position.
func (b *Bus) Subscribe(kind Kind, token string, cb Callback) error {
	if cb == nil {
		return optimization.NewError("callback must not be nil; use SubscribeUpdater for default-method subscribers").
			WithComponent("event_bus").WithOperation("Subscribe")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	regs := b.subs[kind]
	for i, reg := range regs {
		if reg.token == token {
			regs[i].cb = cb
			return nil
		}
	}
	b.subs[kind] = append(regs, registration{token: token, cb: cb})
	return nil
}

// SubscribeUpdater registers sub's Update method under token.
func (b *Bus) SubscribeUpdater(kind Kind, token string, sub Subscriber) error {
	if sub == nil {
		return optimization.NewError("subscriber must not be nil").
			WithComponent("event_bus").WithOperation("SubscribeUpdater")
	}
	return b.Subscribe(kind, token, sub.Update)
}

// Unsubscribe removes one registration. Removing a token that is not
// registered is a no-op.
func (b *Bus) Unsubscribe(kind Kind, token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	regs := b.subs[kind]
	for i, reg := range regs {
		if reg.token == token {
			b.subs[kind] = append(regs[:i], regs[i+1:]...)
			return
		}
	}
}

// Fire invokes every callback registered for kind, in subscription order.
// Panics are isolated per callback; the first one is returned after the
// full dispatch loop has run.
func (b *Bus) Fire(kind Kind, src Source) error {
	b.mu.Lock()
	regs := make([]registration, len(b.subs[kind]))
	copy(regs, b.subs[kind])
	b.mu.Unlock()

	var firstErr error
	for _, reg := range regs {
		if err := dispatch(reg, kind, src); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func dispatch(reg registration, kind Kind, src Source) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = optimization.NewErrorf("subscriber %q panicked on %s: %v", reg.token, kind, r).
				WithComponent("event_bus").WithOperation("Fire")
		}
	}()
	reg.cb(kind, src)
	return nil
}
