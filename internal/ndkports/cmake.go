package ndkports

import (
	"context"
	"strconv"
)

// CMakeBuilder configures with the NDK toolchain file and builds with Ninja.
type CMakeBuilder struct {
	BuildType string // defaults to RelWithDebInfo
	Args      func(bc *BuildContext) []string
}

func (b *CMakeBuilder) Kind() BuilderKind { return BuilderCMake }

// ConfigureArgs is the full cmake command line.
func (b *CMakeBuilder) ConfigureArgs(bc *BuildContext) []string {
	buildType := b.BuildType
	if buildType == "" {
		buildType = "RelWithDebInfo"
	}
	tc := bc.Toolchain
	args := []string{
		"cmake",
		"-DCMAKE_TOOLCHAIN_FILE=" + tc.CMakeToolchainFile,
		"-DCMAKE_BUILD_TYPE=" + buildType,
		"-DCMAKE_INSTALL_PREFIX=" + bc.InstallDir,
		"-DCMAKE_INSTALL_LIBDIR=lib",
		"-DANDROID_ABI=" + tc.Abi.Name,
		"-DANDROID_PLATFORM=android-" + strconv.Itoa(tc.Api),
		"-DANDROID_API_LEVEL=" + strconv.Itoa(tc.Api),
		"-GNinja",
	}
	if bc.Sysroot != "" {
		// The NDK toolchain file restricts find_* to CMAKE_FIND_ROOT_PATH.
		args = append(args, "-DCMAKE_FIND_ROOT_PATH="+bc.Sysroot)
	}
	args = append(args, optionFunc(b.Args).eval(bc)...)
	return append(args, bc.SourceDir)
}

func (b *CMakeBuilder) Configure(ctx context.Context, bc *BuildContext) error {
	return bc.run(ctx, bc.BuildDir, nil, b.ConfigureArgs(bc)...)
}

func (b *CMakeBuilder) Build(ctx context.Context, bc *BuildContext) error {
	return bc.run(ctx, bc.BuildDir, nil, "ninja", "-v", bc.JobsFlag())
}

func (b *CMakeBuilder) Install(ctx context.Context, bc *BuildContext) error {
	return bc.run(ctx, bc.BuildDir, nil, "ninja", "-v", "install")
}
