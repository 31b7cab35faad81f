// Package latprobe provides a programmatic API for the latency probes.
//
// RunJitterSession plays one buffer-queue session on an audio backend and
// reports the callback jitter; RunWakeLatencyProbe measures absolute-sleep
// overshoot and the cross-thread handoff delay. Sessions on the same backend
// are exclusive: a second concurrent call fails with ErrSessionActive.
package latprobe
