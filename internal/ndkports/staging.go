package ndkports

import (
	"fmt"
	"os"
	"strings"
)

// Patch is a declared source-tree modification applied after extraction.
type Patch interface {
	Apply(root string) error
	String() string
}

// DeletePatch removes a file or directory. The target must exist.
type DeletePatch struct {
	Path string
}

func (p DeletePatch) String() string { return "delete " + p.Path }

func (p DeletePatch) Apply(root string) error {
	target, err := resolveWithin(root, p.Path)
	if err != nil {
		return err
	}
	if !exists(target) {
		return fmt.Errorf("%s does not exist", p.Path)
	}
	return os.RemoveAll(target)
}

// ReplacePatch replaces every occurrence of Old with New in one file. The
// file must exist and contain Old.
type ReplacePatch struct {
	Path string
	Old  string
	New  string
}

func (p ReplacePatch) String() string { return "replace in " + p.Path }

func (p ReplacePatch) Apply(root string) error {
	target, err := resolveWithin(root, p.Path)
	if err != nil {
		return err
	}
	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("%s does not exist", p.Path)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return err
	}
	if !strings.Contains(string(data), p.Old) {
		return fmt.Errorf("%s does not contain %q", p.Path, p.Old)
	}
	out := strings.ReplaceAll(string(data), p.Old, p.New)
	return os.WriteFile(target, []byte(out), info.Mode().Perm())
}

// StageSource recreates dest, extracts archive into it and applies patches
// in order. A failed patch aborts staging. dest is removed again on any
// failure so that no half-staged tree is left to build from.
func StageSource(archive, dest string, patches []Patch) (err error) {
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("failed to clear %s: %w", dest, err)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	defer func() {
		if err != nil {
			os.RemoveAll(dest)
		}
	}()
	if err := extractTar(archive, dest); err != nil {
		return &ExtractionError{Archive: archive, Err: err}
	}
	for _, p := range patches {
		debugf("Applying patch: %s\n", p)
		if err := p.Apply(dest); err != nil {
			return &PatchError{Patch: p.String(), Err: err}
		}
	}
	return nil
}
