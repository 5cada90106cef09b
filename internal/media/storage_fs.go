/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// ErrOutsideRoot is returned for paths that do not resolve inside a storage root.
var ErrOutsideRoot = errors.New("path outside storage root")

// FilesystemStorage is a flat directory of audio files.
type FilesystemStorage struct {
	rootDir string
	logger  zerolog.Logger
}

// NewFilesystemStorage creates a filesystem-based storage rooted at rootDir.
func NewFilesystemStorage(rootDir string, logger zerolog.Logger) *FilesystemStorage {
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		abs = filepath.Clean(rootDir)
	}
	return &FilesystemStorage{
		rootDir: abs,
		logger:  logger,
	}
}

// Root returns the absolute root directory.
func (fs *FilesystemStorage) Root() string {
	return fs.rootDir
}

// Ensure creates the root directory if needed.
func (fs *FilesystemStorage) Ensure() error {
	if err := os.MkdirAll(fs.rootDir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", fs.rootDir, err)
	}
	return fs.CheckAccess(context.Background())
}

// Store writes r to name inside the root and returns the full path.
// An existing file with the same name is never overwritten.
func (fs *FilesystemStorage) Store(ctx context.Context, name string, r io.Reader) (string, error) {
	fullPath, err := fs.Resolve(name)
	if err != nil {
		return "", err
	}

	dest, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}

	if _, err := io.Copy(dest, contextReader{ctx: ctx, r: r}); err != nil {
		dest.Close()
		os.Remove(fullPath)
		return "", fmt.Errorf("write file: %w", err)
	}
	if err := dest.Close(); err != nil {
		os.Remove(fullPath)
		return "", fmt.Errorf("close file: %w", err)
	}

	fs.logger.Debug().Str("path", fullPath).Msg("filesystem storage: file stored")
	return fullPath, nil
}

// Delete removes a file. A missing file is not an error.
func (fs *FilesystemStorage) Delete(ctx context.Context, path string) error {
	if !fs.Contains(path) {
		return fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file: %w", err)
	}

	fs.logger.Debug().Str("path", path).Msg("filesystem storage: file deleted")
	return nil
}

// Purge deletes every regular file directly under the root.
// It keeps going after individual failures and returns the first one.
func (fs *FilesystemStorage) Purge(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(fs.rootDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read directory: %w", err)
	}

	var firstErr error
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		path := filepath.Join(fs.rootDir, entry.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove %s: %w", entry.Name(), err)
			}
			continue
		}
		removed++
	}
	return removed, firstErr
}

// Resolve joins name onto the root, refusing anything that escapes it.
func (fs *FilesystemStorage) Resolve(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: invalid file name %q", ErrOutsideRoot, name)
	}
	return filepath.Join(fs.rootDir, name), nil
}

// Contains reports whether path lives directly inside the root.
func (fs *FilesystemStorage) Contains(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return filepath.Dir(abs) == fs.rootDir
}

// CheckAccess verifies the storage directory exists and is accessible.
func (fs *FilesystemStorage) CheckAccess(ctx context.Context) error {
	info, err := os.Stat(fs.rootDir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("storage directory does not exist: %s", fs.rootDir)
		}
		return fmt.Errorf("cannot access storage directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage root is not a directory: %s", fs.rootDir)
	}
	return nil
}

// contextReader aborts a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
