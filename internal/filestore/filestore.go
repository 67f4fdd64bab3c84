// Package filestore holds the write-to-temp-then-rename JSON primitive shared
// by every local store. Files are created owner-only because they can carry
// API keys, and files that fail to parse are renamed aside instead of deleted.
package filestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

const (
	// DirPerm is applied to every store directory.
	DirPerm os.FileMode = 0o700
	// FilePerm is applied to every store file.
	FilePerm os.FileMode = 0o600

	corruptInfix = ".corrupt."
	// backupLayout is ISO-8601 with the separators that are illegal in
	// Windows file names swapped for dashes.
	backupLayout = "2006-01-02T15-04-05.000Z"
)

// EnsureDir creates dir and its parents with DirPerm. Tightening the mode of
// a directory that already existed is best-effort.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, DirPerm); err != nil {
		return fmt.Errorf("filestore: mkdir %s: %w", dir, err)
	}
	_ = os.Chmod(dir, DirPerm)
	return nil
}

// WriteJSONAtomic serializes v as indented JSON and replaces path with it
// through WriteFileAtomic.
func WriteJSONAtomic(path string, v any, perm os.FileMode) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: marshal %s: %w", filepath.Base(path), err)
	}
	return WriteFileAtomic(path, append(data, '\n'), perm)
}

// WriteFileAtomic replaces path with data. Readers observe either the
// previous content or the new content, never a mix; the rename is the commit
// point. The temp file is created with mode 0600 from the start, the chmod to
// perm afterwards is best-effort.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if perm == 0 {
		perm = FilePerm
	}
	dir := filepath.Dir(path)
	if err := EnsureDir(dir); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("filestore: create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("filestore: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("filestore: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("filestore: close temp: %w", err)
	}
	if perm != FilePerm {
		_ = os.Chmod(tmpName, perm)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("filestore: rename: %w", err)
	}
	_ = os.Chmod(path, perm)
	return nil
}

// BackupCorruptFile renames path to "<path>.corrupt.<timestamp>" and returns
// the new name.
func BackupCorruptFile(path string, now time.Time) (string, error) {
	backup := path + corruptInfix + now.UTC().Format(backupLayout)
	if err := os.Rename(path, backup); err != nil {
		return "", fmt.Errorf("filestore: backup corrupt %s: %w", filepath.Base(path), err)
	}
	return backup, nil
}

// CorruptBackups lists the corrupt-file backups sitting next to files in dir.
func CorruptBackups(dir string) []string {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+corruptInfix+"*"))
	if err != nil {
		return nil
	}
	return matches
}

// Remove deletes path, ignoring a missing file. Callers that treat deletes as
// best-effort drop the error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("filestore: remove %s: %w", filepath.Base(path), err)
	}
	return nil
}
