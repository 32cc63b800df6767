package ndkports

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileOp is a declared post-install step run on one ABI's install
// directory. Applying an op twice has the same result as applying it once.
type FileOp interface {
	Apply(root string) error
	String() string
}

// Rename moves From to To. It is complete when From is gone and To exists.
type Rename struct {
	From, To string
}

func (r Rename) String() string { return fmt.Sprintf("rename %s -> %s", r.From, r.To) }

func (r Rename) Apply(root string) error {
	from, err := resolveWithin(root, r.From)
	if err != nil {
		return err
	}
	to, err := resolveWithin(root, r.To)
	if err != nil {
		return err
	}
	if !exists(from) {
		if exists(to) {
			return nil
		}
		return fmt.Errorf("%s: source %s not found", r, r.From)
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return err
	}
	if err := os.RemoveAll(to); err != nil {
		return err
	}
	return os.Rename(from, to)
}

// Copy copies a file or tree, overwriting To. A missing From is accepted
// when To already exists (an earlier run moved it away) or when Optional.
type Copy struct {
	From, To string
	Optional bool
}

func (c Copy) String() string { return fmt.Sprintf("copy %s -> %s", c.From, c.To) }

func (c Copy) Apply(root string) error {
	from, err := resolveWithin(root, c.From)
	if err != nil {
		return err
	}
	to, err := resolveWithin(root, c.To)
	if err != nil {
		return err
	}
	info, err := os.Stat(from)
	if os.IsNotExist(err) {
		if c.Optional || exists(to) {
			return nil
		}
		return fmt.Errorf("%s: source %s not found", c, c.From)
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return copyDir(from, to)
	}
	return copyFile(from, to)
}

// DeleteIfExists removes a file, symlink or tree when present.
type DeleteIfExists struct {
	Path string
}

func (d DeleteIfExists) String() string { return "delete " + d.Path }

func (d DeleteIfExists) Apply(root string) error {
	p, err := resolveWithin(root, d.Path)
	if err != nil {
		return err
	}
	return os.RemoveAll(p)
}

// Mkdir creates a directory and its parents.
type Mkdir struct {
	Path string
}

func (m Mkdir) String() string { return "mkdir " + m.Path }

func (m Mkdir) Apply(root string) error {
	p, err := resolveWithin(root, m.Path)
	if err != nil {
		return err
	}
	return os.MkdirAll(p, 0o755)
}

func applyFileOps(root string, ops []FileOp) error {
	for _, op := range ops {
		debugf("%s (in %s)\n", op, root)
		if err := op.Apply(root); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}
