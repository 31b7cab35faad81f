package jitter

// Mark is the fractional callback index implied by the start time minus the
// actual index. A perfectly periodic driver keeps it constant.
func Mark(start float64, count, sampleRate, bufferSize int) float64 {
	return start*float64(sampleRate)/float64(bufferSize) - float64(count)
}

// JitterMs converts a mark range to milliseconds.
func JitterMs(minMark, maxMark float64, sampleRate, bufferSize int) float64 {
	return (maxMark - minMark) * float64(bufferSize) / float64(sampleRate) * 1000
}

type markTracker struct {
	skip     int
	seen     bool
	min, max float64
}

func (m *markTracker) observe(count int, mark float64) {
	if count < m.skip {
		return
	}
	if !m.seen || mark < m.min {
		m.min = mark
	}
	if !m.seen || mark > m.max {
		m.max = mark
	}
	m.seen = true
}

// Recompute derives the session jitter from recorded callback start times,
// tracking marks from index skip up to len(starts)-1.
func Recompute(starts []float64, sampleRate, bufferSize, skip int) float64 {
	m := markTracker{skip: skip}
	for i, start := range starts {
		m.observe(i, Mark(start, i, sampleRate, bufferSize))
	}
	if !m.seen {
		return 0
	}
	return JitterMs(m.min, m.max, sampleRate, bufferSize)
}
