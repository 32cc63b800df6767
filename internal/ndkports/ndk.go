package ndkports

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// NdkVersion is the Pkg.Revision of an NDK, e.g. 26.1.10909125.
type NdkVersion struct {
	Major int
	Minor int
	Build int
}

func (v NdkVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Build)
}

// Ndk is an installed Android NDK.
type Ndk struct {
	Path    string
	Version NdkVersion
	HostTag string
}

// OpenNdk validates an NDK install and reads its version from source.properties.
func OpenNdk(path string) (*Ndk, error) {
	if path == "" {
		return nil, fmt.Errorf("no NDK configured (set NDKPORTS_NDK or ANDROID_NDK_ROOT)")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	props := filepath.Join(abs, "source.properties")
	f, err := os.Open(props)
	if err != nil {
		return nil, &ToolchainNotFoundError{Tool: "source.properties", Path: props}
	}
	defer f.Close()

	var revision string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, val, ok := strings.Cut(scanner.Text(), "=")
		if ok && strings.TrimSpace(key) == "Pkg.Revision" {
			revision = strings.TrimSpace(val)
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", props, err)
	}
	ver, err := parseNdkRevision(revision)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", props, err)
	}

	return &Ndk{Path: abs, Version: ver, HostTag: ndkHostTag()}, nil
}

func parseNdkRevision(rev string) (NdkVersion, error) {
	if rev == "" {
		return NdkVersion{}, fmt.Errorf("missing Pkg.Revision")
	}
	// Pre-release revisions look like "27.0.11718014-beta1".
	rev, _, _ = strings.Cut(rev, "-")
	parts := strings.Split(rev, ".")
	if len(parts) != 3 {
		return NdkVersion{}, fmt.Errorf("malformed Pkg.Revision %q", rev)
	}
	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return NdkVersion{}, fmt.Errorf("malformed Pkg.Revision %q", rev)
		}
		nums[i] = n
	}
	return NdkVersion{Major: nums[0], Minor: nums[1], Build: nums[2]}, nil
}

// ndkHostTag returns the prebuilt directory name for the running host. The
// NDK ships x86_64 host binaries for macOS on both Intel and Apple silicon.
func ndkHostTag() string {
	switch runtime.GOOS {
	case "darwin":
		return "darwin-x86_64"
	case "windows":
		return "windows-x86_64"
	default:
		return "linux-x86_64"
	}
}

// ToolchainDir is the LLVM prebuilt root for this host.
func (n *Ndk) ToolchainDir() string {
	return filepath.Join(n.Path, "toolchains", "llvm", "prebuilt", n.HostTag)
}

// BinDir holds clang and the llvm binutils replacements.
func (n *Ndk) BinDir() string {
	return filepath.Join(n.ToolchainDir(), "bin")
}

// SysrootDir is the NDK's own sysroot (libc headers and stubs).
func (n *Ndk) SysrootDir() string {
	return filepath.Join(n.ToolchainDir(), "sysroot")
}

// CMakeToolchainFile is the toolchain file passed to CMake.
func (n *Ndk) CMakeToolchainFile() string {
	return filepath.Join(n.Path, "build", "cmake", "android.toolchain.cmake")
}
