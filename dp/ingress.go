// Threaded-mode ingress: one process-wide worker goroutine, pinned to
// its own OS thread so it can mask the fatal signals the main thread
// handles, polls the fd union of every port of every Threaded-mode
// datapath and dispatches ready ones in batches.
//
// Coordinating start/cancel/join through golang.org/x/sync/errgroup
// mirrors how tailscale.com's wgengine/ipn packages manage background
// goroutine lifecycles, instead of hand-rolled sync.WaitGroup bookkeeping.
package dp

import (
	"context"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/packetdp/dp/dpconf"
)

type worker struct {
	mu   sync.Mutex
	dps  map[*Datapath]struct{}

	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// ensureWorkerLocked lazily starts the process-wide worker. Callers must
// already hold Registry.mu.
func (r *Registry) ensureWorkerLocked() {
	if r.worker != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	w := &worker{
		dps:    make(map[*Datapath]struct{}),
		group:  g,
		ctx:    ctx,
		cancel: cancel,
	}
	g.Go(func() error {
		return w.loop(gctx)
	})
	r.worker = w
}

func (w *worker) addLocked(d *Datapath) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dps[d] = struct{}{}
}

func (w *worker) removeLocked(d *Datapath) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.dps, d)
}

func (w *worker) stopAndJoin() {
	w.cancel()
	_ = w.group.Wait()
}

// fdTarget is one pollable fd and the datapath/port it belongs to.
type fdTarget struct {
	dp   *Datapath
	port *Port
}

// loop is the worker goroutine's body. It masks the fatal signals the
// main thread owns so only the main thread ever observes
// them, then polls the rebuilt fd union every WorkerPollTimeout.
func (w *worker) loop(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	maskFatalSignals()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		targets := w.collectTargets()
		if len(targets) == 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(dpconf.WorkerPollTimeout):
			}
			continue
		}

		pollfds := make([]unix.PollFd, 0, len(targets))
		order := make([]int, 0, len(targets))
		for fd := range targets {
			pollfds = append(pollfds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
			order = append(order, fd)
		}

		n, err := unix.Poll(pollfds, int(dpconf.WorkerPollTimeout/time.Millisecond))
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		if n <= 0 {
			continue
		}
		for _, pfd := range pollfds {
			if pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) == 0 {
				continue
			}
			t := targets[int(pfd.Fd)]
			t.dp.dispatchPort(t.port)
		}
	}
}

// collectTargets rebuilds the fd -> (datapath, port) map fresh every
// iteration under each datapath's port-list lock, rather than maintaining
// it incrementally across AddPort/DelPort calls.
func (w *worker) collectTargets() map[int]fdTarget {
	w.mu.Lock()
	dps := make([]*Datapath, 0, len(w.dps))
	for d := range w.dps {
		dps = append(dps, d)
	}
	w.mu.Unlock()

	out := make(map[int]fdTarget)
	for _, d := range dps {
		d.lockPorts()
		d.ports.Each(func(p *Port) {
			if fd := p.Device.Fd(); fd >= 0 {
				out[fd] = fdTarget{dp: d, port: p}
			}
		})
		d.unlockPorts()
	}
	return out
}

// dispatchPort drains up to DispatchBatch frames from p in one wakeup,
// running each through the full ingress pipeline.
func (d *Datapath) dispatchPort(p *Port) {
	_, err := p.Device.Dispatch(dpconf.DispatchBatch, func(frame []byte) {
		d.processFrame(p.Number, frame)
	})
	if err != nil && d.ioErrLimit.Allow() {
		datapathLog.WithField("datapath", d.name).WithField("port", p.Number).WithError(err).Error("dispatch failed")
	}
}
