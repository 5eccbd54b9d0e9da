package tinkerforge

import "sync"

// BridgeResolver looks up the bridge handler of a thing. ok is false
// when the bridge does not exist or has no handler yet.
type BridgeResolver func() (bridge *BridgeHandler, ok bool)

// BridgeRef is a handler's reference to its bridge. It starts unbound
// and binds on the first successful Get; later calls return the bound
// bridge without resolving again.
type BridgeRef struct {
	mu      sync.Mutex
	resolve BridgeResolver
	bridge  *BridgeHandler
}

// NewBridgeRef returns an unbound reference resolved by resolve.
func NewBridgeRef(resolve BridgeResolver) *BridgeRef {
	return &BridgeRef{resolve: resolve}
}

// BoundBridgeRef returns a reference already bound to b.
func BoundBridgeRef(b *BridgeHandler) *BridgeRef {
	return &BridgeRef{bridge: b}
}

// Get returns the bridge, resolving it if still unbound. It returns nil
// while the bridge cannot be resolved.
func (r *BridgeRef) Get() *BridgeHandler {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bridge != nil || r.resolve == nil {
		return r.bridge
	}
	if b, ok := r.resolve(); ok && b != nil {
		r.bridge = b
	}
	return r.bridge
}

// Bind binds the reference to b, replacing any earlier binding.
func (r *BridgeRef) Bind(b *BridgeHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bridge = b
}

// Bound reports whether the reference is bound.
func (r *BridgeRef) Bound() bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bridge != nil
}
