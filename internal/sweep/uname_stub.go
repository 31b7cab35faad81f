//go:build !linux

package sweep

func kernelRelease() string {
	return ""
}
