//go:build linux

package sched

import (
	"runtime"
	"testing"
)

func TestSetNiceCurrentValue(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	cur, err := Nice()
	if err != nil {
		t.Fatalf("Nice: %v", err)
	}
	// Re-applying the current value never needs privileges.
	if err := SetNice(cur); err != nil {
		t.Fatalf("SetNice(%d): %v", cur, err)
	}
	if ThreadID() <= 0 {
		t.Fatalf("unexpected thread id %d", ThreadID())
	}
}
