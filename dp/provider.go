package dp

import (
	"sync"
	"time"

	"github.com/packetdp/dp/flowkey"
	"github.com/packetdp/dp/netdev"
)

// Provider is the function-table descriptor a bridge layer drives a class
// of datapaths through, grounded on hkwi/gopenflow's ofp4sw switch
// registry pattern of exposing a fixed operation set by name rather than a
// Go interface the bridge layer would need to type-assert against. Every
// field is bound to a *Registry at construction; the bridge layer never
// sees the concrete Datapath/Handle types beyond what these signatures
// expose.
type Provider struct {
	Type string

	Enumerate func() []string
	Open      func(name, class string, create bool, local netdev.Device, opts ...Option) (*Handle, error)
	Close     func(h *Handle) error
	Destroy   func(h *Handle)

	Run  func(h *Handle)
	Wait func(h *Handle, register func(fd int))

	Stats func(h *Handle) Stats

	PortAdd   func(h *Handle, name string, number uint32, typ string, dev netdev.Device) (*Port, error)
	PortDel   func(h *Handle, number uint32) error
	PortQuery func(h *Handle, number uint32) (*Port, error)
	PortDump  func(h *Handle) []Port
	PortPoll  func(h *Handle) uint64

	FlowGet   func(h *Handle, k flowkey.Key) ([]byte, FlowStats, error)
	FlowPut   func(h *Handle, k flowkey.Key, actions []byte) error
	FlowDel   func(h *Handle, k flowkey.Key) (FlowStats, error)
	FlowFlush func(h *Handle)
	FlowDump  func(h *Handle, cur Cursor, n int) ([]*Entry, Cursor, error)

	Execute func(h *Handle, k flowkey.Key, frame []byte, actions []byte)

	RecvSet   func(h *Handle, enable bool)
	Recv      func(h *Handle) (Upcall, error)
	RecvWait  func(h *Handle, timeout time.Duration) (Upcall, error)
	RecvPurge func(h *Handle)
}

// NewProvider builds the "real" provider descriptor for typ, with every
// operation bound to reg.
func NewProvider(reg *Registry, typ string) *Provider {
	return &Provider{
		Type: typ,

		Enumerate: reg.Enumerate,
		Open: func(name, class string, create bool, local netdev.Device, opts ...Option) (*Handle, error) {
			return reg.Open(name, class, create, local, opts...)
		},
		Close:   func(h *Handle) error { return h.Close() },
		Destroy: func(h *Handle) { h.Datapath().Destroy() },

		Run:  func(h *Handle) { h.Datapath().Run() },
		Wait: func(h *Handle, register func(fd int)) { h.Datapath().Wait(register) },

		Stats: func(h *Handle) Stats { return h.Datapath().Stats() },

		PortAdd: func(h *Handle, name string, number uint32, typ string, dev netdev.Device) (*Port, error) {
			return h.Datapath().AddPort(name, number, typ, dev)
		},
		PortDel:   func(h *Handle, number uint32) error { return h.Datapath().DelPort(number) },
		PortQuery: func(h *Handle, number uint32) (*Port, error) { return h.Datapath().Port(number) },
		PortDump:  func(h *Handle) []Port { return h.Datapath().DumpPorts() },
		PortPoll:  func(h *Handle) uint64 { return h.Datapath().PortChangeSerial() },

		FlowGet: func(h *Handle, k flowkey.Key) ([]byte, FlowStats, error) {
			return h.Datapath().GetFlow(k)
		},
		FlowPut: func(h *Handle, k flowkey.Key, actions []byte) error {
			return h.Datapath().PutFlow(k, actions)
		},
		FlowDel: func(h *Handle, k flowkey.Key) (FlowStats, error) {
			return h.Datapath().DeleteFlow(k)
		},
		FlowFlush: func(h *Handle) { h.Datapath().FlushFlows() },
		FlowDump: func(h *Handle, cur Cursor, n int) ([]*Entry, Cursor, error) {
			return h.Datapath().DumpFlows(cur, n)
		},

		Execute: func(h *Handle, k flowkey.Key, frame []byte, actions []byte) {
			h.Datapath().Execute(k, frame, actions)
		},

		RecvSet:   func(h *Handle, enable bool) { h.Datapath().RecvSet(enable) },
		Recv:      func(h *Handle) (Upcall, error) { return h.Datapath().Recv() },
		RecvWait:  func(h *Handle, timeout time.Duration) (Upcall, error) { return h.Datapath().RecvWait(timeout) },
		RecvPurge: func(h *Handle) { h.Datapath().RecvPurge() },
	}
}

// CloneAsDummy returns a shallow copy of p with its type tag overridden to
// "dummy". The operations themselves are unchanged: a dummy provider
// exists purely for testing, and testing a handle's own dummy-class ports
// already exercises the dummy network-device path, so no operation needs
// a distinct implementation here, only a distinct name clients can select.
func CloneAsDummy(p *Provider) *Provider {
	clone := *p
	clone.Type = "dummy"
	return &clone
}

// ProviderRegistry is the process-wide map from type tag to Provider that
// a bridge layer consults before opening a datapath by class. It exists
// separately from Registry (the name -> Datapath map) because a single
// process may publish several provider types sharing one underlying
// Registry, and because the dummy-override flag is a property of
// "which provider a type tag resolves to", not of any one datapath.
type ProviderRegistry struct {
	mu       sync.Mutex
	byType   map[string]*Provider
	dummy    *Provider
	override bool
}

// NewProviderRegistry creates an empty provider registry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{byType: make(map[string]*Provider)}
}

// Register adds or replaces the provider for its Type tag.
func (pr *ProviderRegistry) Register(p *Provider) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	pr.byType[p.Type] = p
}

// RegisterDummy records the dummy provider clone to substitute when the
// override flag is set.
func (pr *ProviderRegistry) RegisterDummy(p *Provider) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	pr.dummy = p
}

// SetDummyOverride controls whether Lookup returns the dummy provider for
// every type tag, displacing whatever real provider is registered.
func (pr *ProviderRegistry) SetDummyOverride(enable bool) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	pr.override = enable
}

// Lookup resolves typ to its provider, honoring the dummy-override flag.
func (pr *ProviderRegistry) Lookup(typ string) (*Provider, bool) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if pr.override && pr.dummy != nil {
		return pr.dummy, true
	}
	p, ok := pr.byType[typ]
	return p, ok
}
