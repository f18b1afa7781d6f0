package maintenance

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/logwarden/logwarden/internal/config"
)

// Backup formats.
const (
	BackupFormatCustom = "custom"
	BackupFormatPlain  = "plain"
)

// BackupResult reports one backup attempt.
type BackupResult struct {
	Success  bool      `json:"success"`
	File     string    `json:"file,omitempty"`
	SizeByte int64     `json:"size_bytes,omitempty"`
	Duration float64   `json:"duration_seconds"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// BackupInfo describes one stored backup file.
type BackupInfo struct {
	Name      string    `json:"name"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// RunBackup produces a timestamped pg_dump file in the configured
// directory and prunes old backups by mtime. Partial files from failed
// runs are removed. The dump runs with the scheduler gate held
// exclusively, so no pipeline tick writes while it is in progress.
func (r *Runner) RunBackup(ctx context.Context, settings config.MaintenanceSettings) BackupResult {
	r.gate.EnterExclusive()
	defer r.gate.LeaveExclusive()

	start := time.Now().UTC()
	result := BackupResult{At: start}

	if err := os.MkdirAll(r.cfg.BackupDir, 0o755); err != nil {
		result.Error = fmt.Sprintf("failed to create backup directory: %v", err)
		return result
	}

	stamp := start.Format("2006-01-02_15-04-05")
	var path string
	var err error
	switch settings.BackupFormat {
	case BackupFormatPlain:
		path = filepath.Join(r.cfg.BackupDir, "backup_"+stamp+".sql.gz")
		err = r.dumpPlain(ctx, path)
	default:
		path = filepath.Join(r.cfg.BackupDir, "backup_"+stamp+".dump")
		err = r.dumpCustom(ctx, path)
	}

	result.Duration = time.Since(start).Seconds()
	if err != nil {
		_ = os.Remove(path)
		result.Error = err.Error()
		r.logger.Warn("Backup failed", zap.String("file", path), zap.Error(err))
		return result
	}

	info, statErr := os.Stat(path)
	if statErr == nil {
		result.SizeByte = info.Size()
	}
	result.Success = true
	result.File = filepath.Base(path)

	if err := r.pruneBackups(settings.BackupRetentionCount); err != nil {
		r.logger.Warn("Backup retention pruning failed", zap.Error(err))
	}

	r.logger.Info("Backup completed",
		zap.String("file", result.File),
		zap.Int64("size_bytes", result.SizeByte),
		zap.Float64("duration_seconds", result.Duration))
	return result
}

// dumpCustom writes a pg_dump custom-format archive (already compressed).
func (r *Runner) dumpCustom(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, "pg_dump", "--format=custom", "--file", path, r.cfg.DatabaseURL)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return dumpError(err, &stderr)
	}
	return nil
}

// dumpPlain streams plain SQL through gzip into the target file.
func (r *Runner) dumpPlain(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, "pg_dump", "--format=plain", r.cfg.DatabaseURL)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open pg_dump stdout: %w", err)
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	if err := cmd.Start(); err != nil {
		return dumpError(err, &stderr)
	}
	if _, err := io.Copy(gz, stdout); err != nil {
		_ = cmd.Wait()
		return fmt.Errorf("failed to stream dump: %w", err)
	}
	if err := cmd.Wait(); err != nil {
		return dumpError(err, &stderr)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finish compression: %w", err)
	}
	return out.Sync()
}

// dumpError surfaces a stderr-derived message for spawn failures and
// non-zero exits.
func dumpError(err error, stderr *bytes.Buffer) error {
	msg := strings.TrimSpace(stderr.String())
	if msg == "" {
		return fmt.Errorf("pg_dump failed: %w", err)
	}
	if len(msg) > 500 {
		msg = msg[:500]
	}
	return fmt.Errorf("pg_dump failed: %s", msg)
}

// ListBackups returns the stored backup files, newest first.
func (r *Runner) ListBackups() ([]BackupInfo, error) {
	files, err := backupFiles(r.cfg.BackupDir)
	if err != nil {
		return nil, err
	}
	out := make([]BackupInfo, 0, len(files))
	for _, f := range files {
		out = append(out, BackupInfo{
			Name:      f.Name(),
			SizeBytes: f.size,
			CreatedAt: f.modTime,
		})
	}
	return out, nil
}

// BackupPath resolves a backup file name inside the backup directory,
// rejecting traversal.
func (r *Runner) BackupPath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || !strings.HasPrefix(name, "backup_") {
		return "", fmt.Errorf("invalid backup file name")
	}
	path := filepath.Join(r.cfg.BackupDir, name)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("backup file not found")
	}
	return path, nil
}

// DeleteBackup removes one stored backup file.
func (r *Runner) DeleteBackup(name string) error {
	path, err := r.BackupPath(name)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

type backupFile struct {
	name    string
	size    int64
	modTime time.Time
}

func (f backupFile) Name() string { return f.name }

// backupFiles lists backup_* files sorted by mtime descending.
func backupFiles(dir string) ([]backupFile, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var files []backupFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "backup_") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, backupFile{name: e.Name(), size: info.Size(), modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.After(files[j].modTime)
	})
	return files, nil
}

// pruneBackups keeps the most recent keep files by mtime.
func (r *Runner) pruneBackups(keep int) error {
	if keep <= 0 {
		keep = 7
	}
	files, err := backupFiles(r.cfg.BackupDir)
	if err != nil {
		return err
	}
	for _, f := range files[min(keep, len(files)):] {
		if err := os.Remove(filepath.Join(r.cfg.BackupDir, f.name)); err != nil {
			return err
		}
		r.logger.Debug("Pruned old backup", zap.String("file", f.name))
	}
	return nil
}
