//go:build !oto

package audio

import (
	"fmt"

	"github.com/NodePath81/latprobe/internal/jitter"
	"github.com/NodePath81/latprobe/internal/util"
)

func newOtoSink(util.Logger) (jitter.AudioSink, error) {
	return nil, fmt.Errorf("%w: rebuild with -tags oto", ErrBackendUnavailable)
}
