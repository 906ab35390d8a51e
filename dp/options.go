package dp

import "github.com/packetdp/dp/dpconf"

// Mode selects the concurrency model. It is a constructor argument, not
// a build tag: both modes share the same slow path, only the ingress
// loop and locking discipline differ.
type Mode int

const (
	// Cooperative: single-threaded, host-driven Run/Wait.
	Cooperative Mode = iota
	// Threaded: a process-wide worker thread drives ingress.
	Threaded
)

// Option configures a Datapath at construction, the way
// tailscale.com/wgengine's engine takes a Config struct rather than a long
// positional constructor.
type Option func(*config)

type config struct {
	mode         Mode
	flowCapacity int
	queueDepth   int
	class        string
}

func defaultConfig() config {
	return config{
		mode:         Cooperative,
		flowCapacity: dpconf.MaxFlows,
		queueDepth:   dpconf.MaxQueueLen,
		class:        "system",
	}
}

// WithMode selects cooperative or threaded ingress.
func WithMode(m Mode) Option {
	return func(c *config) { c.mode = m }
}

// WithFlowCapacity overrides the flow table's capacity, so dperr.TooBig
// can be reached without inserting 65,536 entries.
func WithFlowCapacity(n int) Option {
	return func(c *config) { c.flowCapacity = n }
}

// WithQueueDepth overrides each upcall ring's capacity, so overflow and
// lost-counting can be reached without injecting 128 packets.
func WithQueueDepth(n int) Option {
	return func(c *config) { c.queueDepth = n }
}

// WithClass sets the datapath's class tag, e.g. "system" or
// "dummy".
func WithClass(class string) Option {
	return func(c *config) { c.class = class }
}
