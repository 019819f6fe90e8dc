package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"

	"medguard/internal/fs"
	"medguard/internal/guard"
)

// DefaultAlertLimit is the number of alerts returned when no limit is given.
const DefaultAlertLimit = 50

// OperationResult is the body of POST /api/backup and POST /api/restore.
type OperationResult struct {
	Success   bool                 `json:"success"`
	Message   string               `json:"message"`
	ErrorKind string               `json:"error_kind,omitempty"`
	Version   *guard.BackupVersion `json:"version,omitempty"`
	Created   *bool                `json:"created,omitempty"`
}

type backupRequest struct {
	FilePath string `json:"file_path"`
}

type restoreRequest struct {
	FilePath string  `json:"file_path"`
	Version  *uint64 `json:"version,omitempty"`
	Target   string  `json:"target,omitempty"`
}

// GET /api/status
func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.guard.Status()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, st, http.StatusOK)
}

// GET /api/alerts?limit=N
func (s *Server) getAlerts(w http.ResponseWriter, r *http.Request) {
	limit := DefaultAlertLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	writeJSON(w, s.guard.RecentAlerts(limit), http.StatusOK)
}

// GET /api/threat
func (s *Server) getThreat(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.guard.CurrentThreatScore(), http.StatusOK)
}

// GET /api/backups
func (s *Server) getBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := s.guard.ListBackups()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, backups, http.StatusOK)
}

// GET /api/backups/versions?path=P
func (s *Server) getVersions(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("path")
	if raw == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return
	}
	path, err := filepath.Abs(raw)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	versions, err := s.guard.ListVersions(path)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, guard.BackupInfo{FilePath: path, Versions: versions}, http.StatusOK)
}

// GET /api/backups/changes?path=P
// Lists the block indices of the file that differ from its latest version.
func (s *Server) getChanges(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("path")
	if raw == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return
	}
	path, err := s.sourcePath(raw)
	if err != nil {
		s.writeResult(w, raw, err)
		return
	}
	changed, err := s.guard.IncrementalChanges(path)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if changed == nil {
		changed = []int{}
	}
	writeJSON(w, changedBlocks{FilePath: path, ChangedBlocks: changed}, http.StatusOK)
}

type changedBlocks struct {
	FilePath      string `json:"file_path"`
	ChangedBlocks []int  `json:"changed_blocks"`
}

// POST /api/backup  body: {"file_path":"..."}
func (s *Server) postBackup(w http.ResponseWriter, r *http.Request) {
	var body backupRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if body.FilePath == "" {
		http.Error(w, "file_path is required", http.StatusBadRequest)
		return
	}
	path, err := s.sourcePath(body.FilePath)
	if err != nil {
		s.writeResult(w, body.FilePath, err)
		return
	}

	v, created, err := s.guard.Backup(path)
	if err != nil {
		s.writeResult(w, path, err)
		return
	}

	msg := fmt.Sprintf("backed up %s as version %d", path, v.Version)
	if !created {
		msg = fmt.Sprintf("%s unchanged since version %d", path, v.Version)
	}
	writeJSON(w, OperationResult{Success: true, Message: msg, Version: &v, Created: &created}, http.StatusOK)
}

// POST /api/restore  body: {"file_path":"...","version":N,"target":"..."}
func (s *Server) postRestore(w http.ResponseWriter, r *http.Request) {
	var body restoreRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if body.FilePath == "" {
		http.Error(w, "file_path is required", http.StatusBadRequest)
		return
	}
	path, err := s.sourcePath(body.FilePath)
	if err != nil {
		s.writeResult(w, body.FilePath, err)
		return
	}

	var v guard.BackupVersion
	target := path
	if body.Target == "" {
		v, err = s.guard.Restore(path, body.Version)
	} else {
		if target, err = s.targetPath(body.Target); err != nil {
			s.writeResult(w, body.Target, err)
			return
		}
		v, err = s.guard.RestoreTo(path, body.Version, target)
	}
	if err != nil {
		s.writeResult(w, path, err)
		return
	}

	writeJSON(w, OperationResult{
		Success: true,
		Message: fmt.Sprintf("restored %s version %d to %s", path, v.Version, target),
		Version: &v,
	}, http.StatusOK)
}

// sourcePath makes raw absolute and requires the filter to protect it.
func (s *Server) sourcePath(raw string) (string, error) {
	path, err := filepath.Abs(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", guard.ErrOutOfScope, raw, err)
	}
	if s.scope.Filter == nil || !s.scope.Filter.Protects(path) {
		return "", fmt.Errorf("%w: %s", guard.ErrOutOfScope, path)
	}
	return path, nil
}

// targetPath makes raw absolute and requires it to be under a watched root
// or the restore directory.
func (s *Server) targetPath(raw string) (string, error) {
	path, err := filepath.Abs(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", guard.ErrOutOfScope, raw, err)
	}
	if s.scope.Filter != nil && s.scope.Filter.Within(path) {
		return path, nil
	}
	if s.scope.RestoreDir != "" && fs.Under(s.scope.RestoreDir, path) {
		return path, nil
	}
	return "", fmt.Errorf("%w: restore target %s", guard.ErrOutOfScope, path)
}

// writeResult reports a failed operation as an OperationResult.
func (s *Server) writeResult(w http.ResponseWriter, path string, err error) {
	kind := guard.ErrorKind(err)
	s.logger.Warn("api operation failed", "path", path, "kind", kind, "error", err)
	writeJSON(w, OperationResult{Success: false, Message: err.Error(), ErrorKind: kind}, statusFor(err))
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.logger.Error("api request failed", "error", err)
	http.Error(w, err.Error(), statusFor(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, guard.ErrOutOfScope):
		return http.StatusBadRequest
	case errors.Is(err, guard.ErrNoBackups), errors.Is(err, guard.ErrVersionNotFound):
		return http.StatusNotFound
	case errors.Is(err, guard.ErrIO):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, v any, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
