package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const maxNameLength = 120

// FileStore saves uploaded files to disk under a base directory.
type FileStore struct {
	basePath string
	now      func() time.Time
}

// NewFileStore creates the base directory if missing.
func NewFileStore(basePath string) (*FileStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("storage base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStore{basePath: basePath, now: time.Now}, nil
}

// Save writes an upload as "<unix-millis>-<sanitized name>" and returns that
// stored name. A name collision moves to the next millisecond.
func (f *FileStore) Save(originalName string, r io.Reader) (string, error) {
	safe := safeFilename(originalName)
	stamp := f.now().UnixMilli()
	for attempt := 0; attempt < 100; attempt++ {
		stored := strconv.FormatInt(stamp+int64(attempt), 10) + "-" + safe
		out, err := os.OpenFile(f.Path(stored), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create file: %w", err)
		}
		if _, err := io.Copy(out, r); err != nil {
			out.Close()
			_ = os.Remove(out.Name())
			return "", fmt.Errorf("write file: %w", err)
		}
		if err := out.Close(); err != nil {
			_ = os.Remove(out.Name())
			return "", fmt.Errorf("close file: %w", err)
		}
		return stored, nil
	}
	return "", fmt.Errorf("no free name for %q", safe)
}

// Path returns the absolute location of a stored file.
func (f *FileStore) Path(storedName string) string {
	return filepath.Join(f.basePath, filepath.Base(storedName))
}

// Delete removes a stored file; a missing file is not an error.
func (f *FileStore) Delete(storedName string) error {
	if strings.TrimSpace(storedName) == "" {
		return nil
	}
	err := os.Remove(f.Path(storedName))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

func safeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = strings.TrimSpace(name)
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	name = strings.TrimLeft(name, ".")
	if len(name) > maxNameLength {
		name = name[len(name)-maxNameLength:]
	}
	if name == "" {
		return "document.pdf"
	}
	return name
}

// Open returns a stored file for reading together with its size.
func (f *FileStore) Open(storedName string) (*os.File, int64, error) {
	file, err := os.Open(f.Path(storedName))
	if err != nil {
		return nil, 0, fmt.Errorf("open file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("stat file: %w", err)
	}
	return file, info.Size(), nil
}
