package main

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"

	"github.com/NodePath81/latprobe/internal/jitter"
)

// progress keeps a status line for the running session on a terminal and
// interleaves report lines above it. Underrun events arrive on the audio
// goroutine and only bump a counter.
type progress struct {
	status io.Writer
	out    io.Writer
	label  string
	tty    bool

	mu        sync.Mutex
	sessions  int
	underruns int
	line      string
}

func newProgress(status *os.File, out io.Writer, label string) *progress {
	return &progress{
		status: status,
		out:    out,
		label:  label,
		tty:    term.IsTerminal(int(status.Fd())),
	}
}

func (p *progress) SessionStarted(_ string, params jitter.Params) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions++
	p.line = fmt.Sprintf("%s: session %d (%d Hz, %d frames, %d callbacks, %d underruns)",
		p.label, p.sessions, params.SampleRate, params.BufferSize, params.TrialLength, p.underruns)
	p.redraw()
}

func (p *progress) Underrun(string, int) {
	p.mu.Lock()
	p.underruns++
	p.mu.Unlock()
}

func (p *progress) SessionFinished(string, *jitter.Result, error) {}

// Println writes a report line above the status line.
func (p *progress) Println(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clear()
	fmt.Fprintln(p.out, line)
	p.redraw()
}

// done clears the status line.
func (p *progress) done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clear()
	p.line = ""
}

func (p *progress) clear() {
	if p.tty && p.line != "" {
		fmt.Fprint(p.status, "\r\033[K")
	}
}

func (p *progress) redraw() {
	if p.tty && p.line != "" {
		fmt.Fprint(p.status, p.line)
	}
}
