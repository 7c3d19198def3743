package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound    = errors.New("blob not found")
	ErrTooLarge    = errors.New("file exceeds size limit")
	ErrInvalidName = errors.New("invalid blob name")
)

// rename is swapped in tests to simulate cross-device moves
var rename = os.Rename

// Storage keeps test report blobs on local disk. Permanent blobs live under
// files/ keyed by their original filename, uploads are staged under tmp/.
type Storage struct {
	basePath string
}

// Staged is an upload written to the tmp directory
type Staged struct {
	Path string
	Size int64
	Hash string // SHA256
}

// Read returns the staged bytes
func (st *Staged) Read() ([]byte, error) {
	return os.ReadFile(st.Path)
}

// NewStorage creates a new storage instance
func NewStorage(basePath string) (*Storage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	for _, dir := range []string{"files", "tmp"} {
		if err := os.MkdirAll(filepath.Join(basePath, dir), 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", dir, err)
		}
	}

	return &Storage{basePath: basePath}, nil
}

// TmpDir returns the staging directory
func (s *Storage) TmpDir() string {
	return filepath.Join(s.basePath, "tmp")
}

// Stage copies reader into a new tmp file. At most limit bytes are accepted;
// a larger stream is removed and reported as ErrTooLarge.
func (s *Storage) Stage(reader io.Reader, limit int64) (*Staged, error) {
	path := filepath.Join(s.TmpDir(), uuid.New().String()+".json")

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create tmp file: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	multiWriter := io.MultiWriter(file, hasher)

	size, err := io.Copy(multiWriter, io.LimitReader(reader, limit+1))
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to write tmp file: %w", err)
	}
	if size > limit {
		os.Remove(path)
		return nil, ErrTooLarge
	}

	return &Staged{
		Path: path,
		Size: size,
		Hash: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Discard removes a staged file. Already removed files are ignored.
func (s *Storage) Discard(st *Staged) error {
	if st == nil {
		return nil
	}
	if err := os.Remove(st.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to discard tmp file: %w", err)
	}
	return nil
}

// Promotion is a staged file moved into permanent storage that can still be
// undone until Commit is called.
type Promotion struct {
	target string
	backup string
}

// Promote moves a staged file to files/<name>. An existing blob with the same
// name is moved aside so Rollback can restore it.
func (s *Storage) Promote(st *Staged, name string) (*Promotion, error) {
	target, err := s.blobPath(name)
	if err != nil {
		return nil, err
	}

	p := &Promotion{target: target}
	if _, err := os.Stat(target); err == nil {
		p.backup = filepath.Join(s.TmpDir(), uuid.New().String()+".bak")
		if err := rename(target, p.backup); err != nil {
			return nil, fmt.Errorf("failed to back up %s: %w", name, err)
		}
		// a rename keeps the blob's mtime, SweepTmp must see the backup as fresh
		now := time.Now()
		if err := os.Chtimes(p.backup, now, now); err != nil {
			rename(p.backup, target)
			return nil, fmt.Errorf("failed to back up %s: %w", name, err)
		}
	}

	if err := moveFile(st.Path, target); err != nil {
		if p.backup != "" {
			rename(p.backup, target)
		}
		return nil, fmt.Errorf("failed to promote %s: %w", name, err)
	}

	return p, nil
}

// Commit drops the backup of the replaced blob
func (p *Promotion) Commit() error {
	if p == nil || p.backup == "" {
		return nil
	}
	if err := os.Remove(p.backup); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove backup: %w", err)
	}
	return nil
}

// Rollback removes the promoted blob and restores the one it replaced
func (p *Promotion) Rollback() error {
	if p == nil {
		return nil
	}
	if err := os.Remove(p.target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove promoted blob: %w", err)
	}
	if p.backup != "" {
		if err := rename(p.backup, p.target); err != nil {
			return fmt.Errorf("failed to restore backup: %w", err)
		}
	}
	return nil
}

// Read returns the permanent blob stored under name
func (s *Storage) Read(name string) ([]byte, error) {
	path, err := s.blobPath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

// Remove deletes the permanent blob stored under name. A missing blob is not an error.
func (s *Storage) Remove(name string) error {
	path, err := s.blobPath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove blob: %w", err)
	}
	return nil
}

// SweepTmp removes staged files and backups older than maxAge and returns how
// many were removed.
func (s *Storage) SweepTmp(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.TmpDir())
	if err != nil {
		return 0, fmt.Errorf("failed to read tmp directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.TmpDir(), entry.Name())); err == nil {
			removed++
		}
	}

	return removed, nil
}

func (s *Storage) blobPath(name string) (string, error) {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "" || base == "." || base == ".." || base == string(filepath.Separator) || base != strings.TrimSpace(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.basePath, "files", base), nil
}

// moveFile renames src to dst, falling back to copy and delete when the two
// paths are on different devices.
func moveFile(src, dst string) error {
	err := rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}

	in.Close()
	return os.Remove(src)
}
