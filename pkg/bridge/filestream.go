package bridge

import (
	bridgeerrors "github.com/ha1tch/sqlbridge/pkg/errors"
	"github.com/ha1tch/sqlbridge/pkg/filestream"
)

// FilestreamAvailable reports whether FILESTREAM handles can be opened.
func (b *Bridge) FilestreamAvailable() bool {
	return filestream.Available()
}

// FilestreamOpen opens a FILESTREAM value and returns a stream handle.
func (b *Bridge) FilestreamOpen(reqJSON []byte) (id uint64, err error) {
	defer b.recover("FilestreamOpen", &err)

	s, err := filestream.Open(reqJSON)
	if err != nil {
		b.logger.Execution().Error("FILESTREAM open failed", err)
		return 0, err
	}
	return b.reg.AddStream(s), nil
}

// FilestreamRead reads from a stream; maxBytes of 0 reads to the end.
func (b *Bridge) FilestreamRead(id, maxBytes uint64) (res *filestream.ReadResult, err error) {
	defer b.recover("FilestreamRead", &err)

	s, ok := b.reg.Stream(id)
	if !ok {
		return nil, streamNotFound(id)
	}
	return filestream.ReadFrom(s, maxBytes)
}

// FilestreamWrite writes a base64 payload and returns the bytes written.
func (b *Bridge) FilestreamWrite(id uint64, payload string) (n int, err error) {
	defer b.recover("FilestreamWrite", &err)

	s, ok := b.reg.Stream(id)
	if !ok {
		return 0, streamNotFound(id)
	}
	return filestream.WriteTo(s, payload)
}

// FilestreamClose closes a stream handle.
func (b *Bridge) FilestreamClose(id uint64) error {
	return b.reg.RemoveStream(id)
}

func streamNotFound(id uint64) error {
	return bridgeerrors.Newf(bridgeerrors.ErrCodeStreamNotFound, "Stream %d not found", id).Err()
}
