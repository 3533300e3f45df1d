package kernel

import "sync"

// burden remembers which handler produced each handed-out instance so that
// Release can route an instance back to its lifestyle. Entries are
// reference counted: a singleton resolved n times needs n releases before
// it is forgotten.
type burden struct {
	mu     sync.Mutex
	owners map[any]*burdenEntry
}

type burdenEntry struct {
	handler *Handler
	refs    int
}

func newBurden() *burden {
	return &burden{owners: make(map[any]*burdenEntry)}
}

func (b *burden) track(instance any, h *Handler) {
	if !trackable(instance) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.owners[instance]
	if !ok || e.handler != h {
		e = &burdenEntry{handler: h}
		b.owners[instance] = e
	}
	e.refs++
}

func (b *burden) owner(instance any) (*Handler, bool) {
	if !trackable(instance) {
		return nil, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.owners[instance]
	if !ok {
		return nil, false
	}
	return e.handler, true
}

func (b *burden) forget(instance any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.owners[instance]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(b.owners, instance)
	}
}

// purge drops every instance produced by h.
func (b *burden) purge(h *Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for inst, e := range b.owners {
		if e.handler == h {
			delete(b.owners, inst)
		}
	}
}

func (b *burden) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.owners)
}

func (b *burden) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.owners)
}
