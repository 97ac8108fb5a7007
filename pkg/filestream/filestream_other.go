//go:build !windows

package filestream

import (
	"io"

	bridgeerrors "github.com/ha1tch/sqlbridge/pkg/errors"
)

// Available is always false off Windows.
func Available() bool {
	return false
}

func open(string, []byte, Mode) (io.ReadWriteCloser, error) {
	return nil, bridgeerrors.New(bridgeerrors.ErrCodeConfigUnsupported,
		"FILESTREAM is only available on Windows; use varbinary(max) with standard queries").Err()
}
