// Package filestream passes SQL Server FILESTREAM data through OS file
// handles. Only Windows with the OLE DB driver installed can open them.
package filestream

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"

	bridgeerrors "github.com/ha1tch/sqlbridge/pkg/errors"
)

// Mode is the requested access to a FILESTREAM value.
type Mode uint32

// Access values understood by OpenSqlFilestream.
const (
	Read      Mode = 0
	Write     Mode = 1
	ReadWrite Mode = 2
)

// ParseMode maps "read", "write" and "readwrite".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "read":
		return Read, nil
	case "write":
		return Write, nil
	case "readwrite":
		return ReadWrite, nil
	}
	return 0, bridgeerrors.Config("Invalid mode: %s", s).Err()
}

// OpenRequest is the open document. The transaction context comes from
// GET_FILESTREAM_TRANSACTION_CONTEXT() on the owning connection.
type OpenRequest struct {
	Path            string `json:"path"`
	TxContextBase64 string `json:"tx_context_base64"`
	Mode            string `json:"mode"`
}

// Open parses an open document and opens the stream it names.
func Open(data []byte) (io.ReadWriteCloser, error) {
	var req OpenRequest
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return nil, bridgeerrors.Wrap(err, bridgeerrors.ErrCodeConfigParse, "Invalid filestream request").Err()
	}
	txContext, err := base64.StdEncoding.DecodeString(req.TxContextBase64)
	if err != nil {
		return nil, bridgeerrors.Config("Invalid tx_context base64: %v", err).Err()
	}
	mode, err := ParseMode(req.Mode)
	if err != nil {
		return nil, err
	}
	return open(req.Path, txContext, mode)
}

// ReadResult is one read, base64 encoded.
type ReadResult struct {
	Data   string `json:"data"`
	Length int    `json:"length"`
}

// ReadFrom reads up to maxBytes from r, or everything when maxBytes is 0.
func ReadFrom(r io.Reader, maxBytes uint64) (*ReadResult, error) {
	var data []byte
	var err error
	if maxBytes == 0 {
		data, err = io.ReadAll(r)
	} else {
		buf := make([]byte, maxBytes)
		var n int
		n, err = r.Read(buf)
		data = buf[:n]
		if errors.Is(err, io.EOF) {
			err = nil
		}
	}
	if err != nil {
		return nil, bridgeerrors.Query("FILESTREAM read failed: %v", err).Err()
	}
	return &ReadResult{Data: base64.StdEncoding.EncodeToString(data), Length: len(data)}, nil
}

// WriteTo decodes a base64 payload and writes all of it to w.
func WriteTo(w io.Writer, payload string) (int, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return 0, bridgeerrors.Query("Invalid base64 payload: %v", err).Err()
	}
	n, err := w.Write(data)
	if err != nil {
		return n, bridgeerrors.Query("FILESTREAM write failed: %v", err).Err()
	}
	if n < len(data) {
		return n, bridgeerrors.Query("FILESTREAM write stalled").Err()
	}
	return n, nil
}
