// ABOUTME: Tracks sink id -> dial address, mirroring the engine's own first-seen id assignment
// ABOUTME: The daemon fans out each discovery event to both the engine and this book in the same order, keeping ids in sync
package remotesink

import "sync"

// AddressBook assigns sink ids to discovered names in first-seen order,
// identically to internal/engine.Engine.sinkID, and remembers each
// sink's current dial address. It implements SinkAddress.
type AddressBook struct {
	mu        sync.Mutex
	ids       map[string]uint64
	addresses map[uint64]string
	next      uint64
}

func NewAddressBook() *AddressBook {
	return &AddressBook{ids: map[string]uint64{}, addresses: map[uint64]string{}}
}

// Observe records a discovery advertisement or retraction. Call this
// with the exact same event stream, in the same order, that is fed to
// the engine's discovery channel.
func (b *AddressBook) Observe(name, address string, retracted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.ids[name]
	if !ok {
		b.next++
		id = b.next
		b.ids[name] = id
	}
	if retracted {
		delete(b.addresses, id)
		return
	}
	b.addresses[id] = address
}

func (b *AddressBook) AddressFor(sinkID uint64) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	addr, ok := b.addresses[sinkID]
	return addr, ok
}
