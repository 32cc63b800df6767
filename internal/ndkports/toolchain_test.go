package ndkports

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenNdkReadsRevision(t *testing.T) {
	n := fakeNdk(t, 21)
	assert.Equal(t, NdkVersion{Major: 26, Minor: 1, Build: 10909125}, n.Version)
	assert.Equal(t, "26.1.10909125", n.Version.String())
}

func TestOpenNdkMissing(t *testing.T) {
	_, err := OpenNdk(t.TempDir())
	var tnf *ToolchainNotFoundError
	require.ErrorAs(t, err, &tnf)
	assert.Equal(t, "source.properties", tnf.Tool)

	_, err = OpenNdk("")
	assert.Error(t, err)
}

func TestParseNdkRevision(t *testing.T) {
	v, err := parseNdkRevision("27.0.11718014-beta1")
	require.NoError(t, err)
	assert.Equal(t, 27, v.Major)

	_, err = parseNdkRevision("r25c")
	assert.Error(t, err)
	_, err = parseNdkRevision("")
	assert.Error(t, err)
}

func TestToolchainPerAbi(t *testing.T) {
	n := fakeNdk(t, 21)
	want := map[string]string{
		"armeabi-v7a": "armv7a-linux-androideabi21-clang",
		"arm64-v8a":   "aarch64-linux-android21-clang",
		"x86":         "i686-linux-android21-clang",
		"x86_64":      "x86_64-linux-android21-clang",
	}
	for _, abi := range supportedAbis {
		tc, err := n.Toolchain(abi, 16)
		require.NoError(t, err, abi.Name)
		assert.Equal(t, 21, tc.Api, "API is raised to the ABI minimum")
		assert.Equal(t, want[abi.Name], filepath.Base(tc.Clang))
		assert.Equal(t, tc.Clang+"++", tc.ClangXX)
		assert.Equal(t, tc.Clang, tc.Assembler)
		assert.Contains(t, tc.CFlags, "-fPIC")
	}

	arm := mustAbi(t, "armeabi-v7a")
	assert.Equal(t, "arm-linux-androideabi", arm.Triple)
}

func TestToolchainIsPure(t *testing.T) {
	n := fakeNdk(t, 21)
	abi := mustAbi(t, "arm64-v8a")
	a, err := n.Toolchain(abi, 21)
	require.NoError(t, err)
	b, err := n.Toolchain(abi, 21)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestToolchainUnsupportedArchitecture(t *testing.T) {
	n := fakeNdk(t, 21)
	_, err := n.Toolchain(Abi{Name: "mips"}, 21)
	var uae *UnsupportedArchitectureError
	require.ErrorAs(t, err, &uae)
	assert.Equal(t, "mips", uae.Abi)

	_, err = ParseAbis([]string{"arm64-v8a", "riscv64"})
	assert.ErrorAs(t, err, &uae)
}

func TestToolchainMissingCompiler(t *testing.T) {
	n := fakeNdk(t, 21)
	_, err := n.Toolchain(mustAbi(t, "x86_64"), 24)
	var tnf *ToolchainNotFoundError
	require.ErrorAs(t, err, &tnf)
	assert.Equal(t, "clang", tnf.Tool)
	assert.Equal(t, "x86_64", tnf.Abi)

	require.NoError(t, os.Remove(filepath.Join(n.BinDir(), "llvm-strip")))
	_, err = n.Toolchain(mustAbi(t, "x86_64"), 21)
	require.ErrorAs(t, err, &tnf)
	assert.Equal(t, "strip", tnf.Tool)
}

func TestToolchainEnv(t *testing.T) {
	n := fakeNdk(t, 21)
	tc, err := n.Toolchain(mustAbi(t, "x86"), 21)
	require.NoError(t, err)

	env := tc.Env()
	assert.Equal(t, tc.Clang, env["CC"])
	assert.Equal(t, tc.Ar, env["AR"])
	assert.True(t, strings.HasPrefix(env["PATH"], tc.BinDir))
	assert.Contains(t, env["CFLAGS"], "-march=i686")
	assert.Equal(t, n.Path, env["ANDROID_NDK_ROOT"])
}

func TestParseAbis(t *testing.T) {
	all, err := ParseAbis(nil)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	_, err = ParseAbis([]string{"x86", "x86"})
	assert.ErrorContains(t, err, "listed twice")
}

func TestMergeEnv(t *testing.T) {
	env := mergeEnv([]string{"PATH=/bin", "HOME=/root"}, map[string]string{"PATH": "/ndk:/bin", "CC": "clang"})
	assert.Equal(t, []string{"CC=clang", "HOME=/root", "PATH=/ndk:/bin"}, env)
}
