package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// writeFileAtomic replaces path with data so that readers see either the old
// or the new content, never a truncated file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// writeWithBackup writes data to path atomically, falling back to backup.
func writeWithBackup(path, backup string, data []byte) error {
	primaryErr := writeFileAtomic(path, data, 0600)
	if primaryErr == nil {
		return nil
	}
	if backup == "" {
		return fmt.Errorf("%w: %w", ErrPersistence, primaryErr)
	}
	if err := writeFileAtomic(backup, data, 0600); err != nil {
		return fmt.Errorf("%w: %s: %w (backup %s: %w)", ErrPersistence, path, primaryErr, backup, err)
	}
	return fmt.Errorf("%w: %s: %w (saved to %s)", ErrBackupWritten, path, primaryErr, backup)
}

func appendFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to append to %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	return f.Close()
}

// removeFile removes path. A missing file is not an error.
func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// removeBackup removes a backup file whose content reached the primary file.
func removeBackup(path string) error {
	if err := removeFile(path); err != nil {
		return fmt.Errorf("%w: %w", ErrStaleBackup, err)
	}
	return nil
}

// backupPrefix marks the fallback copy of a result file.
const backupPrefix = "backup_"

// backupPath returns the sibling of path prefixed with backupPrefix.
func backupPath(path string) string {
	return filepath.Join(filepath.Dir(path), backupPrefix+filepath.Base(path))
}
