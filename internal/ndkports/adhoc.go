package ndkports

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Command is one literal external invocation of an ad hoc build.
type Command struct {
	Args []string
	Env  map[string]string
	Dir  string // relative to the working directory, or absolute
}

// AdHocBuilder runs a literal, ordered command list. Configure only writes
// generated input files; Install is a no-op because the commands install
// directly into bc.InstallDir.
type AdHocBuilder struct {
	// InTree runs the commands in an ABI-exclusive copy of the source tree
	// instead of the build directory.
	InTree bool
	// ToolchainEnv exports CC, AR, RANLIB and friends. Build systems that
	// derive the compiler from ANDROID_NDK_ROOT (OpenSSL) want only PATH.
	ToolchainEnv bool
	Files        func(bc *BuildContext) map[string]string
	Steps        func(bc *BuildContext) []Command
}

func (b *AdHocBuilder) Kind() BuilderKind  { return BuilderAdHoc }
func (b *AdHocBuilder) buildsInTree() bool { return b.InTree }

func (b *AdHocBuilder) workDir(bc *BuildContext) string {
	if b.InTree {
		return bc.SourceDir
	}
	return bc.BuildDir
}

func (b *AdHocBuilder) Configure(ctx context.Context, bc *BuildContext) error {
	if b.Files == nil {
		return nil
	}
	files := b.Files(bc)
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		path := filepath.Join(b.workDir(bc), name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(files[name]), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return nil
}

func (b *AdHocBuilder) Build(ctx context.Context, bc *BuildContext) error {
	if b.Steps == nil {
		return fmt.Errorf("ad hoc builder for %s declares no steps", bc.Port)
	}
	base := map[string]string{
		"PATH":             bc.Toolchain.PathEnv(),
		"ANDROID_NDK_ROOT": bc.Toolchain.NdkPath,
	}
	if b.ToolchainEnv {
		base = bc.Toolchain.Env()
	}
	for _, step := range b.Steps(bc) {
		dir := b.workDir(bc)
		if step.Dir != "" {
			if filepath.IsAbs(step.Dir) {
				dir = step.Dir
			} else {
				dir = filepath.Join(dir, step.Dir)
			}
		}
		env := make(map[string]string, len(base)+len(step.Env))
		for k, v := range base {
			env[k] = v
		}
		for k, v := range step.Env {
			env[k] = v
		}
		if err := bc.run(ctx, dir, env, step.Args...); err != nil {
			return err
		}
	}
	return nil
}

func (b *AdHocBuilder) Install(ctx context.Context, bc *BuildContext) error {
	return nil
}
