package ndkports

import (
	"context"
	"path/filepath"
)

// AutoconfBuilder drives configure, make, make install.
type AutoconfBuilder struct {
	InTree bool
	Args   func(bc *BuildContext) []string
	Env    func(bc *BuildContext) map[string]string
}

func (b *AutoconfBuilder) Kind() BuilderKind  { return BuilderAutoconf }
func (b *AutoconfBuilder) buildsInTree() bool { return b.InTree }

func (b *AutoconfBuilder) dir(bc *BuildContext) string {
	if b.InTree {
		return bc.SourceDir
	}
	return bc.BuildDir
}

func (b *AutoconfBuilder) env(bc *BuildContext) map[string]string {
	env := bc.Toolchain.Env()
	if b.Env != nil {
		for k, v := range b.Env(bc) {
			env[k] = v
		}
	}
	return env
}

// ConfigureArgs is the full configure command line.
func (b *AutoconfBuilder) ConfigureArgs(bc *BuildContext) []string {
	args := []string{
		filepath.Join(bc.SourceDir, "configure"),
		"--host=" + bc.Toolchain.Abi.Triple,
		"--prefix=" + bc.InstallDir,
		"--with-sysroot=" + bc.Toolchain.Sysroot,
	}
	return append(args, optionFunc(b.Args).eval(bc)...)
}

func (b *AutoconfBuilder) Configure(ctx context.Context, bc *BuildContext) error {
	return bc.run(ctx, b.dir(bc), b.env(bc), b.ConfigureArgs(bc)...)
}

func (b *AutoconfBuilder) Build(ctx context.Context, bc *BuildContext) error {
	return bc.run(ctx, b.dir(bc), b.env(bc), "make", bc.JobsFlag())
}

func (b *AutoconfBuilder) Install(ctx context.Context, bc *BuildContext) error {
	return bc.run(ctx, b.dir(bc), b.env(bc), "make", bc.JobsFlag(), "install")
}
