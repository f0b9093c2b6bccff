// Package mounts provides the sql file system used by the staging table. The embedded
// files are used unless a directory on disk is configured, in which case that
// directory replaces them wholesale. Export writes the embedded files out as a
// starting point for such a directory.
package mounts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Mount is a named file system, either a sub tree of an embedded fs.FS or a
// directory on disk.
type Mount struct {
	Name string
	fs.FS
}

// ErrInvalidName reports a mount name that is not a valid fs.ValidPath path.
type ErrInvalidName struct {
	name string
}

func (e ErrInvalidName) Error() string {
	return fmt.Sprintf("mount name %q is not a valid fs path (see io/fs.ValidPath)", e.name)
}

// New mounts the directory name of embedded, or dir when dir is not empty. Either way
// the files appear at the top level of the returned Mount, so that
//
//	New("sql", db.SQLEmbeddedFS, "")
//
// and
//
//	New("sql", db.SQLEmbeddedFS, "/etc/clientsync/sql")
//
// are used the same way.
func New(name string, embedded fs.FS, dir string) (*Mount, error) {

	if name == "" {
		return nil, errors.New("no mount name provided")
	}
	if !fs.ValidPath(name) {
		return nil, ErrInvalidName{name}
	}

	if dir == "" {
		sub, err := fs.Sub(embedded, name)
		if err != nil {
			return nil, fmt.Errorf("could not mount embedded %q: %w", name, err)
		}
		return &Mount{name, sub}, nil
	}

	s, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("mount at %q: %w", dir, err)
	}
	if !s.IsDir() {
		return nil, fmt.Errorf("mount at %q is not a directory", dir)
	}
	return &Mount{name, os.DirFS(dir)}, nil
}

// Files lists the regular files of the mount in lexical order.
func (m *Mount) Files() ([]string, error) {
	var files []string
	err := fs.WalkDir(m.FS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// Export writes the mount to the directory root/Name, which must not exist yet. It
// returns the directory written.
func (m *Mount) Export(root string) (string, error) {

	s, err := os.Stat(root)
	if err != nil {
		return "", fmt.Errorf("export root %q: %w", root, err)
	}
	if !s.IsDir() {
		return "", fmt.Errorf("export root %q is not a directory", root)
	}

	target := filepath.Join(root, m.Name)
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		return "", fmt.Errorf("export path %q already exists", target)
	}
	if err := os.MkdirAll(target, 0755); err != nil {
		return "", fmt.Errorf("could not create %q: %w", target, err)
	}

	err = fs.WalkDir(m.FS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		out := filepath.Join(target, filepath.FromSlash(path))
		if d.IsDir() {
			return os.MkdirAll(out, 0755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		data, err := fs.ReadFile(m.FS, path)
		if err != nil {
			return fmt.Errorf("could not read %q from mount %s: %w", path, m.Name, err)
		}
		if err := os.WriteFile(out, data, 0644); err != nil {
			return fmt.Errorf("could not write %q: %w", out, err)
		}
		return nil
	})
	return target, err
}
