package kernel

import "sync"

// StateChange describes one handler state transition.
type StateChange struct {
	Handler *Handler
	From    HandlerState
	To      HandlerState
}

// eventHub fans kernel events out to subscribers. Callbacks run
// synchronously on the goroutine that caused the event, never under the
// registry lock, so they may call back into the kernel.
type eventHub struct {
	mu           sync.RWMutex
	registered   []func(*Handler)
	stateChanged []func(StateChange)
	created      []func(*Handler, any)
	destroyed    []func(*Handler, any)
	removed      []func(*Handler)
}

// OnComponentRegistered subscribes fn to successful registrations.
func (k *Kernel) OnComponentRegistered(fn func(*Handler)) {
	k.events.mu.Lock()
	defer k.events.mu.Unlock()
	k.events.registered = append(k.events.registered, fn)
}

// OnHandlerStateChanged subscribes fn to handler state transitions.
func (k *Kernel) OnHandlerStateChanged(fn func(StateChange)) {
	k.events.mu.Lock()
	defer k.events.mu.Unlock()
	k.events.stateChanged = append(k.events.stateChanged, fn)
}

// OnComponentCreated subscribes fn to every commissioned instance.
func (k *Kernel) OnComponentCreated(fn func(h *Handler, instance any)) {
	k.events.mu.Lock()
	defer k.events.mu.Unlock()
	k.events.created = append(k.events.created, fn)
}

// OnComponentDestroyed subscribes fn to every decommissioned instance.
func (k *Kernel) OnComponentDestroyed(fn func(h *Handler, instance any)) {
	k.events.mu.Lock()
	defer k.events.mu.Unlock()
	k.events.destroyed = append(k.events.destroyed, fn)
}

// OnComponentRemoved subscribes fn to Remove.
func (k *Kernel) OnComponentRemoved(fn func(*Handler)) {
	k.events.mu.Lock()
	defer k.events.mu.Unlock()
	k.events.removed = append(k.events.removed, fn)
}

func (e *eventHub) fireRegistered(h *Handler) {
	e.mu.RLock()
	subs := e.registered
	e.mu.RUnlock()
	for _, fn := range subs {
		fn(h)
	}
}

func (e *eventHub) fireStateChanged(c StateChange) {
	e.mu.RLock()
	subs := e.stateChanged
	e.mu.RUnlock()
	for _, fn := range subs {
		fn(c)
	}
}

func (e *eventHub) fireCreated(h *Handler, instance any) {
	e.mu.RLock()
	subs := e.created
	e.mu.RUnlock()
	for _, fn := range subs {
		fn(h, instance)
	}
}

func (e *eventHub) fireDestroyed(h *Handler, instance any) {
	e.mu.RLock()
	subs := e.destroyed
	e.mu.RUnlock()
	for _, fn := range subs {
		fn(h, instance)
	}
}

func (e *eventHub) fireRemoved(h *Handler) {
	e.mu.RLock()
	subs := e.removed
	e.mu.RUnlock()
	for _, fn := range subs {
		fn(h)
	}
}
