//go:build !linux

package keepawake

import (
	"context"

	apperrors "github.com/desksrv/host/internal/errors"
)

// Command is empty where no inhibitor is known.
const Command = ""

// NewDefaultAdapter returns an adapter that always reports the environment
// as unsupported.
func NewDefaultAdapter() Adapter {
	return unsupportedAdapter{}
}

type unsupportedAdapter struct{}

func (unsupportedAdapter) Acquire(ctx context.Context) (Handle, error) {
	return nil, apperrors.New(apperrors.CodeKeepAwakeUnsupported, "keep-awake is unsupported on this host")
}
