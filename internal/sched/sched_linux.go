//go:build linux

package sched

import "golang.org/x/sys/unix"

// ThreadID returns the kernel thread id of the caller.
func ThreadID() int {
	return unix.Gettid()
}

// SetNice sets the nice value of the calling thread.
func SetNice(nice int) error {
	if err := unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), nice); err != nil {
		return newPriorityError("setpriority", err)
	}
	return nil
}

// Nice returns the nice value of the calling thread.
func Nice() (int, error) {
	// The raw syscall returns 20-nice.
	prio, err := unix.Getpriority(unix.PRIO_PROCESS, unix.Gettid())
	if err != nil {
		return 0, newPriorityError("getpriority", err)
	}
	return 20 - prio, nil
}

// SetFIFO switches the calling thread to SCHED_FIFO at the given priority.
func SetFIFO(priority int) error {
	attr := unix.SchedAttr{
		Policy:   unix.SCHED_FIFO,
		Priority: uint32(priority),
	}
	if err := unix.SchedSetAttr(0, &attr, 0); err != nil {
		return newPriorityError("sched_setattr", err)
	}
	return nil
}
