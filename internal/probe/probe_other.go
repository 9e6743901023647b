//go:build !linux && !freebsd && !netbsd && !openbsd

package probe

import (
	"context"
	"errors"
)

var errUnsupported = errors.New("cpu temperature probing not implemented on this platform")

func readCPUTemperature(_ context.Context) (float64, error) {
	return 0, errUnsupported
}
