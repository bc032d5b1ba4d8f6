package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/dd0wney/cluso-kv/pkg/kv"
	"github.com/dd0wney/cluso-kv/pkg/logging"
)

// maxBodySize bounds PUT bodies before they reach the engine's own limits.
const maxBodySize = 64 << 20

type errorResponse struct {
	Error string `json:"error"`
}

type keysResponse struct {
	Keys  []string `json:"keys"`
	Count int      `json:"count"`
}

type healthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	value, err := s.store.Get([]byte(key))
	if err != nil {
		s.writeError(w, r, "get", err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(value)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	value, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read request body"})
		return
	}
	if len(value) > maxBodySize {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "value too large"})
		return
	}

	if err := s.store.Put([]byte(key), value); err != nil {
		s.writeError(w, r, "put", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	if err := s.store.Delete([]byte(key)); err != nil {
		s.writeError(w, r, "delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request) {
	keys := s.store.Keys()
	writeJSON(w, http.StatusOK, keysResponse{Keys: keys, Count: len(keys)})
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Flush(); err != nil {
		s.writeError(w, r, "flush", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCompact(w http.ResponseWriter, r *http.Request) {
	before := s.store.Stats()
	if err := s.store.Compact(); err != nil {
		s.writeError(w, r, "compact", err)
		return
	}
	after := s.store.Stats()

	writeJSON(w, http.StatusOK, map[string]int64{
		"reclaimed_bytes": before.DiskUsage - after.DiskUsage,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st := s.store.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"puts":              st.Puts,
		"gets":              st.Gets,
		"deletes":           st.Deletes,
		"bytes_written":     st.BytesWritten,
		"bytes_read":        st.BytesRead,
		"rotations":         st.Rotations,
		"compactions":       st.Compactions,
		"reclaimed_bytes":   st.ReclaimedBytes,
		"live_keys":         st.LiveKeys,
		"segments":          st.Segments,
		"sealed_segments":   st.SealedSegments,
		"disk_usage":        st.DiskUsage,
		"uncompacted_bytes": st.UncompactedBytes,
	})
}

// writeError maps engine errors onto HTTP status codes. Corruption is a hard
// 500, never a 404: silent data loss must not look like a missing key.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case kv.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, kv.ErrEmptyKey), errors.Is(err, kv.ErrKeyTooLarge), errors.Is(err, kv.ErrValueTooLarge):
		status = http.StatusBadRequest
	case kv.IsClosed(err):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		s.log.Error("request failed",
			logging.Operation(op),
			logging.String("request_id", requestID(r)),
			logging.Error(err),
		)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
