// Package dperr is the closed error taxonomy the datapath core returns to
// its callers. Every provider operation fails with one of
// these sentinels, wrapped with call-site context via github.com/pkg/errors
// so errors.Is still matches the sentinel underneath.
package dperr

import "errors"

var (
	// NotFound: the named datapath, port, or flow key does not exist.
	NotFound = errors.New("not found")

	// Invalid: a request's fields are individually well-formed but the
	// combination is rejected (wrong class on reopen, bad ingress-port
	// sentinel on flow insert, deleting the local port 0, ...).
	Invalid = errors.New("invalid argument")

	// Exists: the named datapath or flow key is already present.
	Exists = errors.New("already exists")

	// TooBig: a table or array is at capacity (flow table, port array).
	TooBig = errors.New("capacity exceeded")

	// Busy: the datapath cannot be freed yet (nonzero reference count) or
	// a resource is held by another caller.
	Busy = errors.New("busy")

	// Unsupported: the operation is not implemented for this class of
	// object (e.g. listen() on a real, non-dummy, network device that
	// genuinely lacks it).
	Unsupported = errors.New("unsupported")

	// TryAgain: a non-blocking operation has nothing ready (EAGAIN
	// analogue) on receive, or a queue producer should retry.
	TryAgain = errors.New("try again")

	// NoBufferSpace: an upcall ring or dispatch buffer is full.
	NoBufferSpace = errors.New("no buffer space")

	// EndOfData: a dump cursor has reached the end of its table.
	EndOfData = errors.New("end of data")
)

// Internal is panicked, never returned, when the core detects a programming
// error: an unknown or reserved action type, a corrupt attribute stream, or
// a lock-ordering violation caught in a debug build. Nothing
// above the ingress loop recovers from it.
type Internal struct {
	Reason string
}

func (e Internal) Error() string {
	return "datapath internal assertion failed: " + e.Reason
}

// Assert panics with an Internal error if cond is false.
func Assert(cond bool, reason string) {
	if !cond {
		panic(Internal{Reason: reason})
	}
}
