package dp

import "golang.org/x/sys/unix"

// maskFatalSignals blocks SIGTERM/SIGINT/SIGHUP/SIGALRM on the calling
// thread so only the main thread (which never calls this) observes them,
//.
func maskFatalSignals() {
	var set unix.Sigset_t
	for _, sig := range []unix.Signal{unix.SIGTERM, unix.SIGINT, unix.SIGHUP, unix.SIGALRM} {
		addSignal(&set, sig)
	}
	_ = unix.PthreadSigmask(unix.SIG_BLOCK, &set, nil)
}

func addSignal(set *unix.Sigset_t, sig unix.Signal) {
	// unix.Sigset_t.Val is a [16]uint64 bitmap (64 bits/word) on the
	// build targets this module supports (linux/amd64, linux/arm64).
	bit := uint(sig) - 1
	set.Val[bit/64] |= 1 << (bit % 64)
}
