//go:build windows

package filestream

import (
	"io"
	"os"
	"unsafe"

	"golang.org/x/sys/windows"

	bridgeerrors "github.com/ha1tch/sqlbridge/pkg/errors"
)

const driverMissing = "FILESTREAM requires Microsoft OLE DB Driver 19 for SQL Server " +
	"(winget install Microsoft.OLEDBDriver)"

var (
	msoledbsql            = windows.NewLazySystemDLL("msoledbsql.dll")
	procOpenSqlFilestream = msoledbsql.NewProc("OpenSqlFilestream")
)

// Available reports whether the OLE DB driver exports OpenSqlFilestream.
func Available() bool {
	return procOpenSqlFilestream.Find() == nil
}

func open(path string, txContext []byte, mode Mode) (io.ReadWriteCloser, error) {
	if err := procOpenSqlFilestream.Find(); err != nil {
		return nil, bridgeerrors.Wrap(err, bridgeerrors.ErrCodeConnectionFailed, driverMissing).Err()
	}

	name, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, bridgeerrors.Config("Invalid filestream path").Err()
	}
	var ctx *byte
	if len(txContext) > 0 {
		ctx = &txContext[0]
	}

	r, _, callErr := procOpenSqlFilestream.Call(
		uintptr(unsafe.Pointer(name)),
		uintptr(mode),
		0,
		uintptr(unsafe.Pointer(ctx)),
		uintptr(len(txContext)),
		0,
	)
	h := windows.Handle(r)
	if h == windows.InvalidHandle || h == 0 {
		return nil, bridgeerrors.Wrapf(callErr, bridgeerrors.ErrCodeConnectionFailed,
			"OpenSqlFilestream failed for path: %s", path).Err()
	}
	return os.NewFile(uintptr(h), path), nil
}
