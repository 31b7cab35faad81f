//go:build !linux

package sched

import "syscall"

func ThreadID() int {
	return 0
}

func SetNice(nice int) error {
	return &PriorityError{Op: "setpriority", Errno: syscall.ENOSYS}
}

func Nice() (int, error) {
	return 0, &PriorityError{Op: "getpriority", Errno: syscall.ENOSYS}
}

func SetFIFO(priority int) error {
	return &PriorityError{Op: "sched_setattr", Errno: syscall.ENOSYS}
}
