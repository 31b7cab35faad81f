package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// sizeUnits is ordered so that longer suffixes match first.
var sizeUnits = []struct {
	suffix string
	scale  float64
}{
	{"kib", 1 << 10},
	{"mib", 1 << 20},
	{"kb", 1e3},
	{"mb", 1e6},
	{"k", 1e3},
	{"m", 1e6},
	{"b", 1},
}

// ParseSize converts a report size such as "256kb", "1MiB" or "4096" to
// bytes. Decimal units are powers of 1000. An empty string is zero.
func ParseSize(s string) (uint32, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}
	num, scale := s, 1.0
	for _, u := range sizeUnits {
		if strings.HasSuffix(s, u.suffix) {
			num, scale = strings.TrimSpace(strings.TrimSuffix(s, u.suffix)), u.scale
			break
		}
	}
	value, err := strconv.ParseFloat(num, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	if value < 0 {
		return 0, fmt.Errorf("size %q is negative", s)
	}
	bytes := value * scale
	if bytes > math.MaxUint32 {
		return 0, fmt.Errorf("size %q exceeds 4GiB", s)
	}
	return uint32(bytes), nil
}
