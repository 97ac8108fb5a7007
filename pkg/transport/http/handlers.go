package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ha1tch/sqlbridge/pkg/codec"
	bridgeerrors "github.com/ha1tch/sqlbridge/pkg/errors"
)

func (s *Server) handlePoolCreate(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.bridge.PoolCreate(r.Context(), body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, IDResponse{ID: id})
}

func (s *Server) handlePoolAcquire(w http.ResponseWriter, r *http.Request) {
	pool, err := pathID(r, "pool")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.bridge.PoolAcquire(r.Context(), pool)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, IDResponse{ID: id})
}

func (s *Server) handlePoolRelease(w http.ResponseWriter, r *http.Request) {
	pool, err := pathID(r, "pool")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	conn, err := pathID(r, "conn")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.bridge.PoolRelease(pool, conn); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePoolClose(w http.ResponseWriter, r *http.Request) {
	pool, err := pathID(r, "pool")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.bridge.PoolClose(pool); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.bridge.Connect(r.Context(), body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, IDResponse{ID: id})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	conn, err := pathID(r, "conn")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.bridge.Disconnect(conn); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// connCall reads the connection handle and body shared by the command
// endpoints.
func (s *Server) connCall(w http.ResponseWriter, r *http.Request) (uint64, []byte, bool) {
	conn, err := pathID(r, "conn")
	if err != nil {
		s.writeError(w, r, err)
		return 0, nil, false
	}
	body, err := readBody(r)
	if err != nil {
		s.writeError(w, r, err)
		return 0, nil, false
	}
	return conn, body, true
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	conn, body, ok := s.connCall(w, r)
	if !ok {
		return
	}
	rows, err := s.bridge.Query(r.Context(), conn, body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rows == nil {
		rows = []codec.Row{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	conn, body, ok := s.connCall(w, r)
	if !ok {
		return
	}
	res, err := s.bridge.Execute(r.Context(), conn, body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	conn, body, ok := s.connCall(w, r)
	if !ok {
		return
	}
	res, err := s.bridge.Exec(r.Context(), conn, body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, body, ok := s.connCall(w, r)
	if !ok {
		return
	}
	id, err := s.bridge.Stream(r.Context(), conn, body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, IDResponse{ID: id})
}

func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request) {
	conn, body, ok := s.connCall(w, r)
	if !ok {
		return
	}
	res, err := s.bridge.Bulk(r.Context(), conn, body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBegin(w http.ResponseWriter, r *http.Request) {
	conn, body, ok := s.connCall(w, r)
	if !ok {
		return
	}
	if err := s.bridge.Begin(r.Context(), conn, body); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	conn, err := pathID(r, "conn")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.bridge.Commit(r.Context(), conn, r.URL.Query().Get("tx")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	conn, err := pathID(r, "conn")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.bridge.Rollback(r.Context(), conn, r.URL.Query().Get("tx")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	conn, err := pathID(r, "conn")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.bridge.Cancel(conn)
	w.WriteHeader(http.StatusAccepted)
}

// handleStreamNext answers 204 once the cursor is exhausted.
func (s *Server) handleStreamNext(w http.ResponseWriter, r *http.Request) {
	cursor, err := pathID(r, "cursor")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	row, ok := s.bridge.StreamNext(cursor)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleStreamClose(w http.ResponseWriter, r *http.Request) {
	cursor, err := pathID(r, "cursor")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.bridge.StreamClose(cursor)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFilestreamAvailable(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"available": s.bridge.FilestreamAvailable()})
}

func (s *Server) handleFilestreamOpen(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.bridge.FilestreamOpen(body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, IDResponse{ID: id})
}

func (s *Server) handleFilestreamRead(w http.ResponseWriter, r *http.Request) {
	fs, err := pathID(r, "fs")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var max uint64
	if v := r.URL.Query().Get("max_bytes"); v != "" {
		if max, err = strconv.ParseUint(v, 10, 64); err != nil {
			s.writeError(w, r, bridgeerrors.Newf(bridgeerrors.ErrCodeQueryMalformed, "invalid max_bytes %q", v).Err())
			return
		}
	}
	res, err := s.bridge.FilestreamRead(fs, max)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// writeRequest is the body of a FILESTREAM write.
type writeRequest struct {
	Data string `json:"data"`
}

func (s *Server) handleFilestreamWrite(w http.ResponseWriter, r *http.Request) {
	fs, err := pathID(r, "fs")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, bridgeerrors.Wrap(err, bridgeerrors.ErrCodeQueryMalformed, "Invalid write request").Err())
		return
	}
	n, err := s.bridge.FilestreamWrite(fs, req.Data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"written": n})
}

func (s *Server) handleFilestreamClose(w http.ResponseWriter, r *http.Request) {
	fs, err := pathID(r, "fs")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.bridge.FilestreamClose(fs); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bridge.Diagnostics())
}

// handleLastError drains a handle's error slot; 204 when it is empty.
func (s *Server) handleLastError(w http.ResponseWriter, r *http.Request) {
	handle, err := pathID(r, "handle")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	msg, ok := s.bridge.LastError(handle)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"error": msg})
}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	body, err := readBody(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&req); err != nil {
		s.writeError(w, r, bridgeerrors.Wrap(err, bridgeerrors.ErrCodeConfigParse, "Invalid debug request").Err())
		return
	}
	s.bridge.SetDebug(req.Enabled)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCloseAll(w http.ResponseWriter, r *http.Request) {
	s.bridge.CloseAll()
	w.WriteHeader(http.StatusNoContent)
}
