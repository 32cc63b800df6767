package ndkports

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio"
)

// copyFile copies src to dst through a temp file and an atomic rename, so an
// interrupted copy never leaves a truncated dst behind.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	t, err := renameio.TempFile(filepath.Dir(dst), dst)
	if err != nil {
		return err
	}
	defer t.Cleanup()

	if _, err := io.Copy(t, in); err != nil {
		return err
	}
	if err := t.Chmod(info.Mode().Perm()); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}

// copyDir recursively copies a directory from src to dst, recreating
// symlinks rather than following them.
func copyDir(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}

	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		switch {
		case entry.Type()&os.ModeSymlink != 0:
			target, err := os.Readlink(srcPath)
			if err != nil {
				return err
			}
			_ = os.Remove(dstPath)
			if err := os.Symlink(target, dstPath); err != nil {
				return err
			}
		case entry.IsDir():
			if err := copyDir(srcPath, dstPath); err != nil {
				return err
			}
		default:
			if err := copyFile(srcPath, dstPath); err != nil {
				return err
			}
		}
	}

	return nil
}

// writeFileAtomic replaces path with data in one rename.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(path, data, perm)
}

// sameContent reports whether two regular files have identical bytes.
func sameContent(a, b string) (bool, error) {
	da, err := os.ReadFile(a)
	if err != nil {
		return false, err
	}
	db, err := os.ReadFile(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(da, db), nil
}

// exists reports whether path exists without following a final symlink.
func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// within reports whether the clean path p is root or lies below it.
func within(root, p string) bool {
	root = filepath.Clean(root)
	return p == root || strings.HasPrefix(p, root+string(os.PathSeparator))
}

// resolveWithin joins rel onto root and rejects results outside root.
func resolveWithin(root, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("path %q must be relative", rel)
	}
	p := filepath.Join(root, rel)
	if !within(root, p) {
		return "", fmt.Errorf("path %q escapes %s", rel, root)
	}
	return p, nil
}

// realWithin follows symlinks in the longest existing prefix of path and
// fails when it ends up outside root. root must be free of symlinks.
func realWithin(root, path string) error {
	p := path
	for {
		if _, err := os.Lstat(p); err == nil {
			break
		}
		parent := filepath.Dir(p)
		if parent == p {
			break
		}
		p = parent
	}
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		return err
	}
	if !within(root, resolved) {
		return fmt.Errorf("%s resolves to %s, outside %s", path, resolved, root)
	}
	return nil
}
