package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/logwarden/logwarden/internal/apperr"
)

func (s *Server) handleMaintenanceRun(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	log, err := s.maintenance.Run(r.Context())
	s.recordAudit("trigger", "maintenance_run", "", start, err)
	if err != nil {
		s.writeError(w, r, apperr.New(apperr.CodeConflict, apperr.ClientError, err.Error()))
		return
	}
	s.writeJSON(w, http.StatusOK, log)
}

func (s *Server) handleMaintenanceLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.store.ListMaintenanceLogs(r.Context(), queryInt(r, "limit", 20))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleBackupRun(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	settings := s.resolver.Maintenance(r.Context())
	result := s.maintenance.RunBackup(r.Context(), settings)
	var auditErr error
	if !result.Success {
		auditErr = apperr.NewProcessError(result.Error)
	}
	s.recordAudit("trigger", "backup_run", result.File, start, auditErr)
	if !result.Success {
		s.writeError(w, r, apperr.NewProcessError(result.Error))
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleBackupList(w http.ResponseWriter, r *http.Request) {
	backups, err := s.maintenance.ListBackups()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, backups)
}

// handleBackupDownload streams a backup file. ServeFile handles range
// requests so large dumps can resume.
func (s *Server) handleBackupDownload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	path, err := s.maintenance.BackupPath(name)
	if err != nil {
		s.writeError(w, r, apperr.NewNotFound("backup", name))
		return
	}
	w.Header().Set("Content-Disposition", "attachment; filename="+name)
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeFile(w, r, path)
}

func (s *Server) handleBackupDelete(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	name := chi.URLParam(r, "name")
	err := s.maintenance.DeleteBackup(name)
	s.recordAudit("delete", "backup", name, start, err)
	if err != nil {
		s.writeError(w, r, apperr.NewNotFound("backup", name))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
