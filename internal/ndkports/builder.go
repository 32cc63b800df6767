package ndkports

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"
)

// BuilderKind identifies one of the supported upstream build conventions.
type BuilderKind int

const (
	BuilderAdHoc BuilderKind = iota
	BuilderAutoconf
	BuilderCMake
	BuilderMeson
)

func (k BuilderKind) String() string {
	switch k {
	case BuilderAdHoc:
		return "adhoc"
	case BuilderAutoconf:
		return "autoconf"
	case BuilderCMake:
		return "cmake"
	case BuilderMeson:
		return "meson"
	}
	return "unknown"
}

// BuildStrategy turns a port's declarative options into external process
// invocations for one ABI. Configure, Build and Install run in that order
// and only after the previous stage succeeded.
type BuildStrategy interface {
	Kind() BuilderKind
	Configure(ctx context.Context, bc *BuildContext) error
	Build(ctx context.Context, bc *BuildContext) error
	Install(ctx context.Context, bc *BuildContext) error
}

// inTreeBuilder is implemented by strategies that write into the source
// tree. They get an ABI-exclusive copy of it.
type inTreeBuilder interface {
	buildsInTree() bool
}

// BuildContext is everything a strategy needs for one ABI.
type BuildContext struct {
	Port       string
	Toolchain  *Toolchain
	SourceDir  string
	BuildDir   string
	InstallDir string
	Sysroot    string // dependency sysroot for this ABI, empty when the port has none
	Jobs       int
	Runner     Runner
	Log        *logrus.Entry
}

// Abi is a shorthand for bc.Toolchain.Abi.
func (bc *BuildContext) Abi() Abi {
	return bc.Toolchain.Abi
}

// JobsFlag renders the parallelism flag for make and ninja.
func (bc *BuildContext) JobsFlag() string {
	jobs := bc.Jobs
	if jobs < 1 {
		jobs = 1
	}
	return "-j" + strconv.Itoa(jobs)
}

// run executes args in dir with the process environment plus env.
func (bc *BuildContext) run(ctx context.Context, dir string, env map[string]string, args ...string) error {
	if len(args) == 0 {
		return fmt.Errorf("empty command")
	}
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Env = mergeEnv(os.Environ(), env)
	if bc.Log != nil {
		bc.Log.WithField("cmd", args[0]).Debugf("running %v", args)
	}
	return bc.Runner.Run(ctx, cmd)
}

// runStrategy drives configure, build and install, converting any failure
// into a BuildFailure naming the stage and ABI.
func runStrategy(ctx context.Context, s BuildStrategy, bc *BuildContext) error {
	if it, ok := s.(inTreeBuilder); ok && it.buildsInTree() {
		tree := filepath.Join(bc.BuildDir, "src")
		if err := os.RemoveAll(tree); err != nil {
			return asBuildFailure(StageConfigure, bc.Abi().Name, err)
		}
		if err := copyDir(bc.SourceDir, tree); err != nil {
			return asBuildFailure(StageConfigure, bc.Abi().Name, fmt.Errorf("failed to copy source tree: %w", err))
		}
		bc.SourceDir = tree
	}

	stages := []struct {
		name string
		fn   func(context.Context, *BuildContext) error
	}{
		{StageConfigure, s.Configure},
		{StageCompile, s.Build},
		{StageInstall, s.Install},
	}
	for _, st := range stages {
		if bc.Log != nil {
			bc.Log.WithFields(logrus.Fields{"stage": st.name, "builder": s.Kind().String()}).Info("stage started")
		}
		if err := st.fn(ctx, bc); err != nil {
			return asBuildFailure(st.name, bc.Abi().Name, err)
		}
	}
	return nil
}

func asBuildFailure(stage, abi string, err error) error {
	var bf *BuildFailure
	if errors.As(err, &bf) {
		return err
	}
	failure := &BuildFailure{Stage: stage, Abi: abi, ExitCode: -1, Err: err}
	var ce *CommandError
	if errors.As(err, &ce) {
		failure.ExitCode = ce.ExitCode
		failure.Output = ce.Output
	}
	return failure
}

// optionFunc renders build-system options that may depend on the context,
// such as a path into the dependency sysroot.
type optionFunc func(bc *BuildContext) []string

func (f optionFunc) eval(bc *BuildContext) []string {
	if f == nil {
		return nil
	}
	return f(bc)
}

// Options returns a fixed option list.
func Options(opts ...string) func(bc *BuildContext) []string {
	return func(*BuildContext) []string { return opts }
}
