// Package artifact owns session-scoped artifact storage: upload and result
// directories keyed by session and job identifiers, usage accounting, and
// secure (overwrite-then-unlink) deletion.
package artifact

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const (
	uploadsSubdir = "uploads"
	resultsSubdir = "results"

	dirPerm  = 0o700
	filePerm = 0o600

	wipeChunkSize = 64 * 1024
)

// Store lays out artifacts under root/uploads/<session>/ and
// root/results/<session>/<job>/. Paths are always derived from identifiers,
// never from client-supplied names.
type Store struct {
	root string
}

func NewStore(root string) (*Store, error) {
	for _, sub := range []string{uploadsSubdir, resultsSubdir} {
		if err := os.MkdirAll(filepath.Join(root, sub), dirPerm); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", sub, err)
		}
	}
	return &Store{root: root}, nil
}

// Root returns the artifact root path. Used by the disk monitor to sample
// the filesystem the artifacts live on.
func (s *Store) Root() string {
	return s.root
}

// UploadDir ensures and returns the session's upload directory.
func (s *Store) UploadDir(sessionID uuid.UUID) (string, error) {
	dir := filepath.Join(s.root, uploadsSubdir, sessionID.String())
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}
	return dir, nil
}

// ResultsDir ensures and returns the per-job results directory.
func (s *Store) ResultsDir(sessionID, jobID uuid.UUID) (string, error) {
	dir := filepath.Join(s.root, resultsSubdir, sessionID.String(), jobID.String())
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", fmt.Errorf("failed to create results directory: %w", err)
	}
	return dir, nil
}

// SessionUsage walks the session's upload and result scopes and returns the
// total size in bytes.
func (s *Store) SessionUsage(sessionID uuid.UUID) (int64, error) {
	var total int64
	for _, dir := range s.sessionDirs(sessionID) {
		size, err := dirSize(dir)
		if err != nil {
			return 0, err
		}
		total += size
	}
	return total, nil
}

// PurgeSession securely deletes every artifact under the session's storage
// scope and removes the directories. Individual file failures are logged and
// skipped; the sweep continues. Returns the number of bytes reclaimed.
func (s *Store) PurgeSession(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	var reclaimed int64
	for _, dir := range s.sessionDirs(sessionID) {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			continue
		}

		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				slog.Warn("Failed to stat artifact during purge", "path", path, "error", err)
				return nil
			}

			if err := secureDeleteFile(path, info.Size()); err != nil {
				slog.Warn("Failed to delete artifact", "path", path, "error", err)
				return nil
			}
			reclaimed += info.Size()
			return nil
		})
		if err != nil {
			return reclaimed, fmt.Errorf("failed to purge %s: %w", dir, err)
		}

		if err := os.RemoveAll(dir); err != nil {
			slog.Warn("Failed to remove session directory", "dir", dir, "error", err)
		}
	}
	return reclaimed, nil
}

func (s *Store) sessionDirs(sessionID uuid.UUID) []string {
	return []string{
		filepath.Join(s.root, uploadsSubdir, sessionID.String()),
		filepath.Join(s.root, resultsSubdir, sessionID.String()),
	}
}

// secureDeleteFile overwrites the file's contents with zeros and syncs
// before unlinking, so deleted model data cannot be trivially recovered from
// a plain filesystem.
func secureDeleteFile(path string, size int64) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("failed to open for overwrite: %w", err)
	}

	zeros := make([]byte, wipeChunkSize)
	for written := int64(0); written < size; {
		chunk := int64(len(zeros))
		if remaining := size - written; remaining < chunk {
			chunk = remaining
		}
		n, err := f.Write(zeros[:chunk])
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to overwrite: %w", err)
		}
		written += int64(n)
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync overwrite: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close: %w", err)
	}

	return os.Remove(path)
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	return total, nil
}
