package executor

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"

	mssql "github.com/microsoft/go-mssqldb"

	bridgeerrors "github.com/ha1tch/sqlbridge/pkg/errors"
)

// Classify maps a driver or context error onto the boundary taxonomy.
// Errors that are already classified pass through.
func Classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	var be *bridgeerrors.Error
	if errors.As(err, &be) {
		return err
	}

	var se mssql.Error
	if errors.As(err, &se) {
		return serverError(se)
	}
	var sp *mssql.Error
	if errors.As(err, &sp) && sp != nil {
		return serverError(*sp)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded) || (ctx != nil && errors.Is(ctx.Err(), context.DeadlineExceeded)):
		return bridgeerrors.Wrap(err, bridgeerrors.ErrCodeQueryTimeout, "Command timeout").Err()
	case errors.Is(err, context.Canceled):
		return bridgeerrors.Cancelled().Err()
	case errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF):
		return bridgeerrors.From(err, bridgeerrors.ErrCodeConnectionClosed).Err()
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return bridgeerrors.From(err, bridgeerrors.ErrCodeConnectionFailed).Err()
	}

	return bridgeerrors.From(err, bridgeerrors.ErrCodeQueryFailed).Err()
}

func serverError(e mssql.Error) error {
	b := bridgeerrors.Server(e.Number, e.Class, e.Message).WithField("state", e.State)
	if e.ProcName != "" {
		b = b.WithField("procedure", e.ProcName).WithField("line", e.LineNo)
	}
	return b.Err()
}
