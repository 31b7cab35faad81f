//go:build !oto

package audio

import (
	"errors"
	"testing"
)

func TestOtoUnavailableWithoutTag(t *testing.T) {
	if _, err := New(BackendOto, nil); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("err = %v, want ErrBackendUnavailable", err)
	}
}
