package ndkports

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MesonBuilder configures with a generated cross file and builds with Ninja.
type MesonBuilder struct {
	DefaultLibrary string // shared, static or both; defaults to shared
	Args           func(bc *BuildContext) []string
}

func (b *MesonBuilder) Kind() BuilderKind { return BuilderMeson }

func (b *MesonBuilder) crossFile(bc *BuildContext) string {
	return filepath.Join(bc.BuildDir, "cross_file.txt")
}

func (b *MesonBuilder) mesonDir(bc *BuildContext) string {
	return filepath.Join(bc.BuildDir, "meson")
}

// CrossFile renders the meson cross file for the context's toolchain.
func (b *MesonBuilder) CrossFile(bc *BuildContext) string {
	tc := bc.Toolchain
	quote := func(items []string) string {
		q := make([]string, len(items))
		for i, s := range items {
			q[i] = "'" + s + "'"
		}
		return "[" + strings.Join(q, ", ") + "]"
	}

	var sb strings.Builder
	fmt.Fprintln(&sb, "[binaries]")
	fmt.Fprintf(&sb, "ar = '%s'\n", tc.Ar)
	fmt.Fprintf(&sb, "c = '%s'\n", tc.Clang)
	fmt.Fprintf(&sb, "cpp = '%s'\n", tc.ClangXX)
	fmt.Fprintf(&sb, "strip = '%s'\n", tc.Strip)
	fmt.Fprintln(&sb)
	fmt.Fprintln(&sb, "[built-in options]")
	fmt.Fprintf(&sb, "c_args = %s\n", quote(tc.CFlags))
	fmt.Fprintf(&sb, "cpp_args = %s\n", quote(tc.CFlags))
	fmt.Fprintf(&sb, "c_link_args = %s\n", quote(tc.LDFlags))
	fmt.Fprintf(&sb, "cpp_link_args = %s\n", quote(tc.LDFlags))
	fmt.Fprintln(&sb)
	fmt.Fprintln(&sb, "[host_machine]")
	fmt.Fprintln(&sb, "system = 'android'")
	fmt.Fprintf(&sb, "cpu_family = '%s'\n", tc.Abi.MesonFamily)
	fmt.Fprintf(&sb, "cpu = '%s'\n", tc.Abi.MesonCpu)
	fmt.Fprintln(&sb, "endian = 'little'")
	return sb.String()
}

// ConfigureArgs is the full meson setup command line.
func (b *MesonBuilder) ConfigureArgs(bc *BuildContext) []string {
	lib := b.DefaultLibrary
	if lib == "" {
		lib = "shared"
	}
	args := []string{
		"meson", "setup",
		"--cross-file", b.crossFile(bc),
		"--buildtype", "release",
		"--prefix", bc.InstallDir,
		"--libdir", "lib",
		"--default-library", lib,
	}
	args = append(args, optionFunc(b.Args).eval(bc)...)
	return append(args, b.mesonDir(bc), bc.SourceDir)
}

func (b *MesonBuilder) Configure(ctx context.Context, bc *BuildContext) error {
	if err := os.WriteFile(b.crossFile(bc), []byte(b.CrossFile(bc)), 0o644); err != nil {
		return fmt.Errorf("failed to write meson cross file: %w", err)
	}
	return bc.run(ctx, bc.BuildDir, nil, b.ConfigureArgs(bc)...)
}

func (b *MesonBuilder) Build(ctx context.Context, bc *BuildContext) error {
	return bc.run(ctx, bc.BuildDir, nil, "ninja", "-C", b.mesonDir(bc), bc.JobsFlag())
}

func (b *MesonBuilder) Install(ctx context.Context, bc *BuildContext) error {
	return bc.run(ctx, bc.BuildDir, nil, "ninja", "-C", b.mesonDir(bc), "install")
}
