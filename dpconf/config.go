// Package dpconf holds the compile-time capacities of the datapath core.
//
// These mirror the constants a kernel datapath would fix at build time
// (see original_source/lib/dpif-netdev.c): table sizes, queue depths, and
// the worker poll timeout are not runtime-tunable, only overridable in
// tests via the dp.Option knobs that size smaller tables for fast unit runs.
package dpconf

import "time"

const (
	// MaxPorts is the size of a datapath's port array. Port 0 is reserved
	// for the datapath-local port; ports 1..MaxPorts-1 are user-attached.
	MaxPorts = 256

	// MaxFlows is the maximum number of entries a single flow table holds.
	MaxFlows = 65536

	// NQueues is the number of upcall rings per datapath (miss, userspace).
	NQueues = 2

	// MaxQueueLen is the capacity of each upcall ring. Must be a power of
	// two; asserted in this package's init.
	MaxQueueLen = 128

	// DispatchBatch bounds how many frames a single threaded-mode wakeup
	// drains from one port.
	DispatchBatch = 50

	// WorkerPollTimeout bounds how long the threaded-mode worker blocks in
	// poll(2) before re-checking the fd union and cancellation.
	WorkerPollTimeout = 2000 * time.Millisecond

	// VLANHeaderLen is the size in bytes of one 802.1Q tag.
	VLANHeaderLen = 4

	// Headroom is the space an in-place VLAN push would need ahead of a
	// packet's Ethernet header. No code path reserves it: the action
	// interpreter's VLAN push copies the frame into a new, longer slice.
	Headroom = 2 + VLANHeaderLen

	// EthHeaderLen is the minimum frame size accepted onto the ingress
	// path; anything shorter is discarded before lookup.
	EthHeaderLen = 14

	// MaxUserData bounds the USERSPACE() action's optional attribute.
	MaxUserData = 128
)

func init() {
	if MaxQueueLen&(MaxQueueLen-1) != 0 {
		panic("dpconf: MaxQueueLen must be a power of two")
	}
}
