// Package fs provides the file handling for image assembly.
//
// The main component is the FileMap, an in-memory snapshot of files destined
// for an image layer. It supports:
//   - Collecting files from a directory tree on disk
//   - Adding synthesized files (dependency archives, account records)
//   - Deterministic tar serialization, so identical inputs yield identical layers
//
// The package also provides atomic file writes for publishing build artifacts.
package fs

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// File is a single regular file staged for a layer.
type File struct {
	Data []byte
	Mode int64
}

// FileMap maps image paths to staged file content. Paths are slash separated
// and relative to the image root.
type FileMap map[string]File

// NewFileMap creates an empty FileMap.
func NewFileMap() FileMap {
	return FileMap{}
}

// Add stages data at the given image path. The path is normalized to be
// relative to the image root.
func (m FileMap) Add(imagePath string, data []byte, mode int64) {
	m[NormalizePath(imagePath)] = File{Data: data, Mode: mode}
}

// AddFile stages a file from disk at the given image path, keeping its
// permission bits.
func (m FileMap) AddFile(source, imagePath string) error {
	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("stat %s: %w", source, err)
	}
	if info.IsDir() {
		return m.AddDir(source, imagePath)
	}

	data, err := os.ReadFile(source)
	if err != nil {
		return fmt.Errorf("read %s: %w", source, err)
	}

	m.Add(imagePath, data, int64(info.Mode().Perm()))
	return nil
}

// AddDir stages a directory tree from disk below the given image path.
// Dotfiles are skipped, matching what a build context upload would exclude.
func (m FileMap) AddDir(sourceDir, imagePath string) error {
	root := os.DirFS(sourceDir)
	walker := func(p string, entry fs.DirEntry, ioErr error) error {
		switch {
		case ioErr != nil:
			return fmt.Errorf("access %s: %w", p, ioErr)
		case entry.Name() == ".":
			return nil
		case strings.HasPrefix(entry.Name(), "."):
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		case entry.IsDir():
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}

		data, err := fs.ReadFile(root, p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}

		m.Add(path.Join(imagePath, p), data, int64(info.Mode().Perm()))
		return nil
	}

	if err := fs.WalkDir(root, ".", walker); err != nil {
		return fmt.Errorf("walk %s: %w", sourceDir, err)
	}

	return nil
}

// Paths returns the staged image paths in sorted order.
func (m FileMap) Paths() []string {
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// ToTar serializes the FileMap into an uncompressed tar stream. Entries are
// written in sorted path order so the resulting layer digest is reproducible.
func (m FileMap) ToTar() ([]byte, error) {
	buf := &bytes.Buffer{}
	tarWriter := tar.NewWriter(buf)

	for _, p := range m.Paths() {
		file := m[p]
		mode := file.Mode
		if mode == 0 {
			mode = 0o644
		}
		header := &tar.Header{
			Name: p,
			Size: int64(len(file.Data)),
			Mode: mode,
		}
		if err := tarWriter.WriteHeader(header); err != nil {
			return nil, fmt.Errorf("write tar header for %s: %w", p, err)
		}
		if _, err := tarWriter.Write(file.Data); err != nil {
			return nil, fmt.Errorf("write tar body for %s: %w", p, err)
		}
	}

	if err := tarWriter.Close(); err != nil {
		return nil, fmt.Errorf("close tar stream: %w", err)
	}
	return buf.Bytes(), nil
}

// NormalizePath makes an image path slash separated and root relative.
func NormalizePath(p string) string {
	p = filepath.ToSlash(p)
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}
