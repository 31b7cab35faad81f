package sweep

import (
	"fmt"
	"strings"
	"sync"
)

// Log accumulates the report lines of a run. Each line is also handed to
// the optional sink as it is written.
type Log struct {
	mu    sync.Mutex
	lines []string
	sink  func(line string)
}

func NewLog(sink func(line string)) *Log {
	return &Log{sink: sink}
}

func (l *Log) Printf(format string, args ...any) {
	l.Println(fmt.Sprintf(format, args...))
}

func (l *Log) Println(line string) {
	l.mu.Lock()
	l.lines = append(l.lines, line)
	sink := l.sink
	l.mu.Unlock()
	if sink != nil {
		sink(line)
	}
}

func (l *Log) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

// String joins the lines, each terminated by a newline.
func (l *Log) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var b strings.Builder
	for _, line := range l.lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
