package util

import "fmt"

// FormatSeconds formats seconds with appropriate units
func FormatSeconds(sec float64) string {
	if sec < 0 {
		return "0s"
	}
	if sec < 0.001 {
		return fmt.Sprintf("%.1fus", sec*1e6)
	}
	if sec < 1 {
		return fmt.Sprintf("%.3fms", sec*1000)
	}
	if sec < 10 {
		return fmt.Sprintf("%.2fs", sec)
	}
	return fmt.Sprintf("%.1fs", sec)
}

// FormatNanos formats a nanosecond count the same way as FormatSeconds.
func FormatNanos(ns int64) string {
	return FormatSeconds(float64(ns) / 1e9)
}

// FirstLine returns s up to the first newline.
func FirstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' || s[i] == '\r' {
			return s[:i]
		}
	}
	return s
}
