package util

import (
	"net"
	"strconv"
)

func NetJoin(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// BoolValue returns *ptr, or fallback for an unset config field.
func BoolValue(ptr *bool, fallback bool) bool {
	if ptr == nil {
		return fallback
	}
	return *ptr
}

// IntValue returns *ptr, or fallback for an unset config field. Used where
// zero is a meaningful setting, such as a nice value or a disabled priority.
func IntValue(ptr *int, fallback int) int {
	if ptr == nil {
		return fallback
	}
	return *ptr
}
