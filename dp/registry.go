package dp

import (
	"sync"

	"github.com/packetdp/dp/dperr"
	"github.com/packetdp/dp/netdev"
)

// Registry is the process-wide name -> Datapath map, encapsulated behind
// this type rather than kept as a package-level global, so tests can
// construct an isolated Registry each and never leak state between them.
type Registry struct {
	mu    sync.Mutex
	byName map[string]*Datapath

	worker *worker // lazily started on the first Threaded-mode Open
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Datapath)}
}

// Handle is returned by Open; it carries the requesting class and a
// cached port-change serial. Multiple handles may share
// one Datapath.
type Handle struct {
	reg *Registry
	dp  *Datapath

	class        string
	cachedSerial uint64
	closed       bool
}

// Datapath returns the underlying Datapath this handle refers to.
func (h *Handle) Datapath() *Datapath { return h.dp }

// Class returns the class this handle was opened with.
func (h *Handle) Class() string { return h.class }

// ChangedSince reports whether the datapath's port-change serial has
// advanced past the value cached when the handle was opened or last
// refreshed, and refreshes the cache.
func (h *Handle) ChangedSince() bool {
	cur := h.dp.PortChangeSerial()
	changed := cur != h.cachedSerial
	h.cachedSerial = cur
	return changed
}

// Open implements open semantics: absent+create -> new
// datapath; absent+!create -> NotFound; present+create -> Exists;
// present with a mismatched class -> Invalid; otherwise a fresh handle on
// the shared datapath.
func (r *Registry) Open(name string, class string, create bool, local netdev.Device, opts ...Option) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.byName[name]
	switch {
	case !ok && create:
		d = New(name, local, append(opts, WithClass(class))...)
		r.byName[name] = d
		if d.Mode() == Threaded {
			r.ensureWorkerLocked()
			r.worker.addLocked(d)
		}
	case !ok && !create:
		return nil, dperr.NotFound
	case ok && create:
		return nil, dperr.Exists
	case ok && d.Class() != class:
		return nil, dperr.Invalid
	default:
		d.ref()
	}

	return &Handle{reg: r, dp: d, class: class, cachedSerial: d.PortChangeSerial()}, nil
}

// Close decrements the handle's datapath's reference count, freeing it if
// the count reaches zero and Destroy has been requested.
func (h *Handle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	return h.reg.closeDatapath(h.dp)
}

func (r *Registry) closeDatapath(d *Datapath) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	remaining := d.unref()
	if remaining > 0 || !d.destroyRequested() {
		return nil
	}
	if remaining < 0 {
		d.refCount.Store(0)
	}
	delete(r.byName, d.name)
	if r.worker != nil {
		r.worker.removeLocked(d)
	}
	d.close()
	return nil
}

// Lookup finds a datapath by name without affecting its reference count,
// for read-only enumeration.
func (r *Registry) Lookup(name string) (*Datapath, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byName[name]
	return d, ok
}

// Enumerate returns the names of every registered datapath.
func (r *Registry) Enumerate() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	return out
}

// Shutdown stops the worker thread, if one was started, joining it before
// returning.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	w := r.worker
	r.worker = nil
	r.mu.Unlock()
	if w != nil {
		w.stopAndJoin()
	}
}
