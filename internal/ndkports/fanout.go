package ndkports

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// FanOut builds one port for several ABIs concurrently and merges each
// successful ABI's install tree into a single output root:
//
//	<OutRoot>/include/...        headers, from the first ABI to finish
//	<OutRoot>/lib/<abi>/...      libraries, once per ABI
//
// An ABI is merged only after its build and post-install steps succeeded,
// through a staging directory and a rename, so OutRoot never holds part of
// an ABI.
type FanOut struct {
	Port        *Port
	Ndk         *Ndk
	Abis        []Abi
	SourceDir   string
	BuildRoot   string
	InstallRoot string
	OutRoot     string
	LogDir      string
	Sysroot     *SysrootGenerator // nil when the port has no dependency sysroot
	Jobs        int
	AbiJobs     int
	NewRunner   func(abi Abi, log io.Writer) Runner
	Log         *logrus.Entry

	mu         sync.Mutex
	renameFunc func(from, to string) error
}

// Run builds every ABI, stopping the others at the first failure.
func (f *FanOut) Run(ctx context.Context) error {
	if err := os.RemoveAll(f.OutRoot); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(f.OutRoot, "lib"), 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(f.LogDir, 0o755); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	limit := f.AbiJobs
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)
	for _, abi := range f.Abis {
		abi := abi
		g.Go(func() error {
			if err := f.buildAbi(gctx, abi); err != nil {
				return err
			}
			return f.merge(abi)
		})
	}
	return g.Wait()
}

func (f *FanOut) installDir(abi Abi) string {
	return filepath.Join(f.InstallRoot, abi.Name)
}

func (f *FanOut) buildAbi(ctx context.Context, abi Abi) error {
	log := f.log().WithField("abi", abi.Name)

	tc, err := f.Ndk.Toolchain(abi, f.Port.minSdk())
	if err != nil {
		return err
	}

	buildDir := filepath.Join(f.BuildRoot, abi.Name)
	installDir := f.installDir(abi)
	for _, dir := range []string{buildDir, installDir} {
		if err := os.RemoveAll(dir); err != nil {
			return asBuildFailure(StageConfigure, abi.Name, err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return asBuildFailure(StageConfigure, abi.Name, err)
		}
	}

	logPath := filepath.Join(f.LogDir, abi.Name+".log")
	_ = os.Remove(logPath + ".xz")
	logFile, err := os.Create(logPath)
	if err != nil {
		return fmt.Errorf("failed to create build log: %w", err)
	}
	defer func() {
		logFile.Close()
		if err := compressXZ(logPath, logPath+".xz"); err != nil {
			debugf("failed to compress %s: %v\n", logPath, err)
		}
	}()

	bc := &BuildContext{
		Port:       f.Port.Name,
		Toolchain:  tc,
		SourceDir:  f.SourceDir,
		BuildDir:   buildDir,
		InstallDir: installDir,
		Jobs:       f.Jobs,
		Runner:     f.NewRunner(abi, logFile),
		Log:        log,
	}
	if f.Sysroot != nil {
		bc.Sysroot = f.Sysroot.PathFor(abi)
	}

	log.Info("build started")
	if err := runStrategy(ctx, f.Port.Builder, bc); err != nil {
		log.WithError(err).Error("build failed")
		return err
	}
	if err := applyFileOps(installDir, f.Port.PostInstall); err != nil {
		log.WithError(err).Error("post-install failed")
		return asBuildFailure(StagePostInstall, abi.Name, err)
	}
	log.Info("build finished")
	return nil
}

// merge moves one finished ABI into OutRoot.
func (f *FanOut) merge(abi Abi) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	install := f.installDir(abi)
	staging := filepath.Join(f.OutRoot, ".staging-"+abi.Name)
	if err := os.RemoveAll(staging); err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	lib := filepath.Join(install, "lib")
	if exists(lib) {
		if err := copyDir(lib, filepath.Join(staging, "lib")); err != nil {
			return fmt.Errorf("failed to stage %s libraries: %w", abi.Name, err)
		}
	} else if err := os.MkdirAll(filepath.Join(staging, "lib"), 0o755); err != nil {
		return err
	}

	include := filepath.Join(install, "include")
	outInclude := filepath.Join(f.OutRoot, "include")
	takeHeaders := exists(include) && !exists(outInclude)
	if takeHeaders {
		if err := copyDir(include, filepath.Join(staging, "include")); err != nil {
			return fmt.Errorf("failed to stage headers: %w", err)
		}
	}

	if takeHeaders {
		if err := f.rename(filepath.Join(staging, "include"), outInclude); err != nil {
			return fmt.Errorf("failed to merge headers: %w", err)
		}
	}
	if err := f.rename(filepath.Join(staging, "lib"), filepath.Join(f.OutRoot, "lib", abi.Name)); err != nil {
		if takeHeaders {
			os.RemoveAll(outInclude)
		}
		return fmt.Errorf("failed to merge %s: %w", abi.Name, err)
	}
	f.log().WithField("abi", abi.Name).Info("merged install tree")
	return nil
}

func (f *FanOut) rename(from, to string) error {
	if f.renameFunc != nil {
		return f.renameFunc(from, to)
	}
	return os.Rename(from, to)
}

func (f *FanOut) log() *logrus.Entry {
	if f.Log != nil {
		return f.Log
	}
	return discardLog()
}
