// Package dp is the datapath core: the registry, flow table, action
// interpreter wiring, port table, upcall queues, and the ingress loop.
// Its overall shape, a struct owning a lock, a set of tables, and a
// handful of methods that take that lock around table mutation, is
// grounded on hkwi/gopenflow's ofp4sw.Pipeline, generalized from
// OpenFlow's multi-table pipeline to a single exact-match flow table per
// datapath, and from Pipeline's single *sync.Mutex to a two-mutex split
// (port list vs. flow table and queues).
package dp

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/packetdp/dp/action"
	"github.com/packetdp/dp/dperr"
	"github.com/packetdp/dp/dpconf"
	"github.com/packetdp/dp/flowkey"
	"github.com/packetdp/dp/internal/ratelimit"
	"github.com/packetdp/dp/netdev"
)

var datapathLog = logrus.WithField("component", "dp")

// Datapath is a named, in-process packet-switching engine.
type Datapath struct {
	name  string
	class string
	mode  Mode

	refCount  atomic.Int32
	destroyed atomic.Bool

	portSerial atomic.Uint64

	portMu sync.Mutex // guards ports (lock order: ports before flows)
	ports  *PortTable

	flowMu sync.Mutex // guards flows and queues together
	flows  *FlowTable
	queues *UpcallQueues
	pipe   *selfPipe

	counters counters

	recvEnabled atomic.Bool

	ioErrLimit *ratelimit.Limiter
	mismatchLimit *ratelimit.Limiter
}

// New constructs a Datapath. The local port (slot 0) is created
// immediately, backed by an in-memory dummy device unless the caller
// passes one in. AddPort treats number 0 as "assign automatically" and
// never assigns slot 0, so the local port's device is fixed at construction.
func New(name string, local netdev.Device, opts ...Option) *Datapath {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if local == nil {
		local = netdev.NewDummy(name + "-local")
	}

	d := &Datapath{
		name:          name,
		class:         cfg.class,
		mode:          cfg.mode,
		ports:         NewPortTable(),
		flows:         NewFlowTable(cfg.flowCapacity),
		queues:        newUpcallQueues(cfg.queueDepth),
		pipe:          newSelfPipe(),
		ioErrLimit:    ratelimit.New(time.Second, 1),
		mismatchLimit: ratelimit.New(time.Second, 1),
	}
	d.ports.AddLocal(local)
	d.refCount.Store(1)
	d.recvEnabled.Store(true)
	return d
}

func (d *Datapath) Name() string  { return d.name }
func (d *Datapath) Class() string { return d.class }
func (d *Datapath) Mode() Mode    { return d.mode }

// PortChangeSerial returns the datapath's current port-change serial.
// It is read without the port-list lock: readers accept
// they may observe a stale value once and recover on the next poll.
func (d *Datapath) PortChangeSerial() uint64 { return d.portSerial.Load() }

// Stats returns a snapshot of the cumulative counters.
func (d *Datapath) Stats() Stats { return d.counters.snapshot() }

func (d *Datapath) lockFlow()   { d.flowMu.Lock() }
func (d *Datapath) unlockFlow() { d.flowMu.Unlock() }
func (d *Datapath) lockPorts()   { d.portMu.Lock() }
func (d *Datapath) unlockPorts() { d.portMu.Unlock() }

func (d *Datapath) withFlowTableRLock(fn func(*FlowTable)) {
	d.lockFlow()
	defer d.unlockFlow()
	fn(d.flows)
}

// --- reference counting / destruction ---

func (d *Datapath) ref()   { d.refCount.Add(1) }
func (d *Datapath) unref() int32 { return d.refCount.Add(-1) }

// Destroy marks the datapath for destruction; it is freed by the registry
// once its reference count also reaches zero.
func (d *Datapath) Destroy() { d.destroyed.Store(true) }

func (d *Datapath) destroyRequested() bool { return d.destroyed.Load() }

func (d *Datapath) close() {
	d.lockPorts()
	d.ports.Each(func(p *Port) { _ = p.Device.Close() })
	d.unlockPorts()
	d.pipe.close()
}

// --- ports ---

// AddPort attaches dev to the datapath under the name/number/type given,
// enabling promiscuous receive. number == 0 means "assign
// automatically"; automatic assignment never picks slot 0.
func (d *Datapath) AddPort(name string, number uint32, typ string, dev netdev.Device) (*Port, error) {
	d.lockPorts()
	p, err := d.ports.Add(name, number, typ, dev)
	if err != nil {
		d.unlockPorts()
		return nil, err
	}
	if lerr := dev.Listen(); lerr != nil {
		if !(dev.Kind() == netdev.KindDummy) {
			// real devices propagate listen failures; dummy devices
			// never fail Listen, so this branch is for the real class
			// only.
			d.ports.Delete(p.Number)
			d.unlockPorts()
			return nil, lerr
		}
	}
	d.portSerial.Add(1)
	d.unlockPorts()
	return p, nil
}

// DelPort removes a port by number.
func (d *Datapath) DelPort(number uint32) error {
	d.lockPorts()
	defer d.unlockPorts()
	p, err := d.ports.Delete(number)
	if err != nil {
		return err
	}
	_ = p.Device.Close()
	d.portSerial.Add(1)
	return nil
}

// Port looks up a port by number.
func (d *Datapath) Port(number uint32) (*Port, error) {
	d.lockPorts()
	defer d.unlockPorts()
	return d.ports.Get(number)
}

// PortByName looks up a port by device name.
func (d *Datapath) PortByName(name string) (*Port, error) {
	d.lockPorts()
	defer d.unlockPorts()
	return d.ports.GetByName(name)
}

// DumpPorts returns a snapshot slice of every attached port.
func (d *Datapath) DumpPorts() []Port {
	d.lockPorts()
	defer d.unlockPorts()
	out := make([]Port, 0, d.ports.Len())
	d.ports.Each(func(p *Port) { out = append(out, *p) })
	return out
}

// --- flows ---

// PutFlow installs a new flow entry.
func (d *Datapath) PutFlow(k flowkey.Key, actions []byte) error {
	if err := flowkey.ValidatePort(k.InPort); err != nil {
		return err
	}
	d.lockFlow()
	defer d.unlockFlow()
	_, err := d.flows.Insert(k, actions)
	return err
}

// GetFlow returns a flow's action blob and stats.
func (d *Datapath) GetFlow(k flowkey.Key) ([]byte, FlowStats, error) {
	d.lockFlow()
	defer d.unlockFlow()
	e, ok := d.flows.Lookup(k)
	if !ok {
		return nil, FlowStats{}, dperr.NotFound
	}
	return append([]byte(nil), e.Actions...), e.Stats(), nil
}

// ModifyFlow replaces a flow's actions, returning its prior stats.
func (d *Datapath) ModifyFlow(k flowkey.Key, actions []byte, flags PutFlags) (FlowStats, error) {
	d.lockFlow()
	defer d.unlockFlow()
	return d.flows.Modify(k, actions, flags)
}

// DeleteFlow removes a flow, returning its final stats.
func (d *Datapath) DeleteFlow(k flowkey.Key) (FlowStats, error) {
	d.lockFlow()
	defer d.unlockFlow()
	return d.flows.Delete(k)
}

// FlushFlows deletes every flow entry.
func (d *Datapath) FlushFlows() {
	d.lockFlow()
	defer d.unlockFlow()
	d.flows.Flush()
}

// DumpFlows returns up to n entries starting at cursor.
func (d *Datapath) DumpFlows(cur Cursor, n int) ([]*Entry, Cursor, error) {
	d.lockFlow()
	defer d.unlockFlow()
	return d.flows.DumpN(cur, n)
}

// Execute runs actions against frame directly, without a flow table
// lookup: the provider's "execute" operation, used by clients that want
// to test an action list against a packet without installing a flow.
func (d *Datapath) Execute(k flowkey.Key, frame []byte, actions []byte) {
	d.runActions(k, frame, actions)
}

// --- upcalls ---

// RecvSet enables or disables upcall delivery. While disabled, Recv and
// RecvWait report TryAgain without dequeuing, so a client that wants to
// stop processing upcalls for a while doesn't lose them to RecvPurge.
func (d *Datapath) RecvSet(enable bool) {
	d.recvEnabled.Store(enable)
}

// Recv dequeues the oldest pending upcall, or dperr.TryAgain if both
// rings are empty.
func (d *Datapath) Recv() (Upcall, error) {
	if !d.recvEnabled.Load() {
		return Upcall{}, dperr.TryAgain
	}
	d.lockFlow()
	u, ok := d.queues.Dequeue()
	empty := d.queues.Empty()
	d.unlockFlow()
	if empty {
		d.pipe.drain(d.logIOErr)
	}
	if !ok {
		return Upcall{}, dperr.TryAgain
	}
	d.checkKeyRoundTrip(u.Key)
	return u, nil
}

// checkKeyRoundTrip re-decodes the wire encoding of k and flags a mismatch
// as a rate-limited error log: encode/decode disagreeing
// with the key the extractor produced is a programming error, not a
// caller error, but it must not be allowed to crash the recv path since
// it can be triggered by attacker-controlled wire input elsewhere in the
// system.
func (d *Datapath) checkKeyRoundTrip(k flowkey.Key) {
	decoded, err := flowkey.Decode(flowkey.Encode(k))
	if err == nil && decoded == k {
		return
	}
	if d.mismatchLimit.Allow() {
		datapathLog.WithField("datapath", d.name).WithError(err).Error("flow key encode/decode round-trip mismatch")
	}
}

// RecvPurge discards every queued upcall.
func (d *Datapath) RecvPurge() {
	d.lockFlow()
	d.queues.Purge()
	d.unlockFlow()
	d.pipe.drain(d.logIOErr)
}

// UpcallFd returns the self-pipe's read end, for a client that wants to
// poll(2) for pending upcalls itself (threaded-mode recv-wait).
func (d *Datapath) UpcallFd() int { return d.pipe.fd() }

// RecvWait blocks up to timeout for an upcall to become available, then
// dequeues one. In cooperative mode there is no separate thread driving
// ingress to wait on, so RecvWait degrades to an immediate, non-blocking
// Recv: the host's own poll loop is what provides the waiting.
func (d *Datapath) RecvWait(timeout time.Duration) (Upcall, error) {
	if d.mode != Threaded {
		return d.Recv()
	}
	if d.HasPendingUpcalls() {
		return d.Recv()
	}
	fd := d.pipe.fd()
	if fd < 0 {
		return d.Recv()
	}
	pollFdWait(fd, timeout)
	return d.Recv()
}

// HasPendingUpcalls reports whether either ring is non-empty, the check
// a cooperative-mode client's "wait" uses to arrange an immediate wake.
func (d *Datapath) HasPendingUpcalls() bool {
	d.lockFlow()
	defer d.unlockFlow()
	return !d.queues.Empty()
}

func (d *Datapath) enqueue(u Upcall) bool {
	d.lockFlow()
	ok := d.queues.Enqueue(u)
	d.unlockFlow()
	if ok {
		d.pipe.wake(d.logIOErr)
	}
	return ok
}

func (d *Datapath) logIOErr(err error) {
	if d.ioErrLimit.Allow() {
		datapathLog.WithField("datapath", d.name).WithError(err).Error("self-pipe I/O error")
	}
}

// --- ingress fast path ---

// processFrame runs the full ingress pipeline for one frame received on
// inPort: discard-if-short, extract, lookup, hit/miss handling.
func (d *Datapath) processFrame(inPort uint32, frame []byte) {
	if len(frame) < dpconf.EthHeaderLen {
		return
	}
	key, err := flowkey.Extract(frame, inPort)
	if err != nil {
		return
	}

	d.lockFlow()
	entry, hit := d.flows.Lookup(key)
	var actions []byte
	if hit {
		entry.Touch(time.Now(), len(frame), key.TCPFlags)
		actions = entry.Actions
	}
	d.unlockFlow()

	d.counters.rxPackets.Add(1)
	d.counters.rxBytes.Add(uint64(len(frame)))

	if hit {
		d.counters.hits.Add(1)
		d.runActions(key, frame, actions)
		return
	}

	d.counters.misses.Add(1)
	ok := d.enqueue(Upcall{Kind: UpcallMiss, Key: key, Packet: append([]byte(nil), frame...)})
	if !ok {
		d.counters.lost.Add(1)
	}
}

func (d *Datapath) runActions(key flowkey.Key, frame []byte, actions []byte) {
	action.Execute(actions, frame, action.Context{
		InPort: key.InPort,
		Key:    key,
		Output: d.output,
		Userspace: func(k flowkey.Key, userdata, f []byte) {
			ok := d.enqueue(Upcall{
				Kind:     UpcallUserspace,
				Key:      k,
				UserData: append([]byte(nil), userdata...),
				Packet:   append([]byte(nil), f...),
			})
			if !ok {
				d.counters.lost.Add(1)
			}
		},
	})
}

func (d *Datapath) output(port uint32, frame []byte) {
	d.lockPorts()
	p, err := d.ports.Get(port)
	d.unlockPorts()
	if err != nil {
		return // silently drop: port absent
	}
	if err := p.Device.Send(frame); err != nil && d.ioErrLimit.Allow() {
		datapathLog.WithField("datapath", d.name).WithField("port", port).WithError(err).Error("send failed")
	}
}

// --- cooperative mode entry points ---

// Run visits every port once and performs a single non-blocking receive
// on each, processing any frame found. It is a no-op in threaded mode.
func (d *Datapath) Run() {
	if d.mode != Cooperative {
		return
	}
	d.lockPorts()
	ports := make([]*Port, 0, d.ports.Len())
	d.ports.Each(func(p *Port) { ports = append(ports, p) })
	d.unlockPorts()

	buf := make([]byte, 65536)
	for _, p := range ports {
		n, err := p.Device.Receive(buf)
		if err != nil {
			if err != netdev.ErrAgain && d.ioErrLimit.Allow() {
				datapathLog.WithField("datapath", d.name).WithField("port", p.Number).WithError(err).Error("receive failed")
			}
			continue
		}
		d.processFrame(p.Number, buf[:n])
	}
}

// Wait registers every port's readable fd with the host's poll set via
// register, and is a no-op in threaded mode.
func (d *Datapath) Wait(register func(fd int)) {
	if d.mode != Cooperative {
		return
	}
	d.lockPorts()
	defer d.unlockPorts()
	d.ports.Each(func(p *Port) {
		if fd := p.Device.Fd(); fd >= 0 {
			register(fd)
		}
	})
}
