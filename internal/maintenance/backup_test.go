package maintenance

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/logwarden/logwarden/internal/config"
)

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	return &Runner{
		cfg:    &config.Config{BackupDir: t.TempDir()},
		logger: zap.NewNop(),
	}
}

func writeBackupFile(t *testing.T, dir, name string, age time.Duration) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("dump"), 0o644))
	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestBackupPath(t *testing.T) {
	r := newTestRunner(t)
	writeBackupFile(t, r.cfg.BackupDir, "backup_2026-08-24.dump", 0)

	path, err := r.BackupPath("backup_2026-08-24.dump")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(r.cfg.BackupDir, "backup_2026-08-24.dump"), path)
}

func TestBackupPathRejectsBadNames(t *testing.T) {
	r := newTestRunner(t)

	for _, name := range []string{
		"",
		"../etc/passwd",
		"backup_../../etc/passwd",
		"sub/backup_x.dump",
		"notabackup.dump",
	} {
		_, err := r.BackupPath(name)
		assert.Error(t, err, "name %q must be rejected", name)
	}

	// Well-formed but absent.
	_, err := r.BackupPath("backup_missing.dump")
	assert.ErrorContains(t, err, "not found")
}

func TestListBackupsNewestFirst(t *testing.T) {
	r := newTestRunner(t)
	writeBackupFile(t, r.cfg.BackupDir, "backup_old.dump", 2*time.Hour)
	writeBackupFile(t, r.cfg.BackupDir, "backup_new.dump", 0)
	writeBackupFile(t, r.cfg.BackupDir, "unrelated.txt", 0)

	backups, err := r.ListBackups()
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, "backup_new.dump", backups[0].Name)
	assert.Equal(t, "backup_old.dump", backups[1].Name)
	assert.Equal(t, int64(4), backups[0].SizeBytes)
}

func TestListBackupsMissingDirectory(t *testing.T) {
	r := newTestRunner(t)
	r.cfg.BackupDir = filepath.Join(r.cfg.BackupDir, "does-not-exist")

	backups, err := r.ListBackups()
	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestPruneBackupsKeepsNewestByMtime(t *testing.T) {
	r := newTestRunner(t)
	for i, age := range []time.Duration{4 * time.Hour, 3 * time.Hour, 2 * time.Hour, time.Hour, 0} {
		writeBackupFile(t, r.cfg.BackupDir, "backup_"+string(rune('a'+i))+".dump", age)
	}

	require.NoError(t, r.pruneBackups(2))

	backups, err := r.ListBackups()
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, "backup_e.dump", backups[0].Name)
	assert.Equal(t, "backup_d.dump", backups[1].Name)
}

func TestPruneBackupsFewerThanKeep(t *testing.T) {
	r := newTestRunner(t)
	writeBackupFile(t, r.cfg.BackupDir, "backup_only.dump", 0)

	require.NoError(t, r.pruneBackups(7))

	backups, err := r.ListBackups()
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestDeleteBackup(t *testing.T) {
	r := newTestRunner(t)
	writeBackupFile(t, r.cfg.BackupDir, "backup_x.dump", 0)

	require.NoError(t, r.DeleteBackup("backup_x.dump"))
	assert.Error(t, r.DeleteBackup("backup_x.dump"))
}

func TestDumpError(t *testing.T) {
	cause := errors.New("exit status 1")

	err := dumpError(cause, bytes.NewBufferString(""))
	assert.ErrorIs(t, err, cause)

	err = dumpError(cause, bytes.NewBufferString("pg_dump: error: connection to server failed\n"))
	assert.EqualError(t, err, "pg_dump failed: pg_dump: error: connection to server failed")

	long := strings.Repeat("x", 1000)
	err = dumpError(cause, bytes.NewBufferString(long))
	assert.Len(t, err.Error(), len("pg_dump failed: ")+500)
}
