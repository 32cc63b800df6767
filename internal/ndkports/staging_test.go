package ndkports

import (
	"archive/tar"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageSourceGzipAndXz(t *testing.T) {
	for _, name := range []string{"pkg-1.0.tar.gz", "pkg-1.0.tar.xz"} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			archive := filepath.Join(dir, name)
			writeTar(t, archive, "pkg-1.0", map[string]string{
				"configure":   "#!/bin/sh\n",
				"src/main.c":  "int main() { return 0; }\n",
				"include/p.h": "#pragma once\n",
			})

			dest := filepath.Join(dir, "src")
			require.NoError(t, StageSource(archive, dest, nil))
			assert.Equal(t, "int main() { return 0; }\n", readFile(t, filepath.Join(dest, "src/main.c")))
			assert.FileExists(t, filepath.Join(dest, "include/p.h"))
			assert.NoDirExists(t, filepath.Join(dest, "pkg-1.0"))
		})
	}
}

func TestStageSourceClearsDestination(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "pkg.tar.gz")
	writeTar(t, archive, "pkg", map[string]string{"a.c": "a"})

	dest := filepath.Join(dir, "src")
	writeFile(t, filepath.Join(dest, "stale.o"), "old build output")

	require.NoError(t, StageSource(archive, dest, nil))
	assert.NoFileExists(t, filepath.Join(dest, "stale.o"))
	assert.FileExists(t, filepath.Join(dest, "a.c"))
}

func TestStageSourceAppliesPatches(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "jsoncpp.tar.gz")
	writeTar(t, archive, "jsoncpp-1.9.5", map[string]string{
		"version":     "1.9.5\n",
		"meson.build": "project('jsoncpp', version: '1.9.5')\n",
	})
	dest := filepath.Join(dir, "src")

	patches := []Patch{
		DeletePatch{Path: "version"},
		ReplacePatch{Path: "meson.build", Old: "'1.9.5'", New: "'1.9.5-ndk'"},
	}
	require.NoError(t, StageSource(archive, dest, patches))
	assert.NoFileExists(t, filepath.Join(dest, "version"))
	assert.Contains(t, readFile(t, filepath.Join(dest, "meson.build")), "1.9.5-ndk")
}

func TestStageSourceMissingPatchTarget(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "pkg.tar.gz")
	writeTar(t, archive, "pkg", map[string]string{"a.c": "a"})

	err := StageSource(archive, filepath.Join(dir, "src"), []Patch{DeletePatch{Path: "version"}})
	var pe *PatchError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "delete version", pe.Patch)

	err = StageSource(archive, filepath.Join(dir, "src"), []Patch{ReplacePatch{Path: "a.c", Old: "zzz", New: "y"}})
	require.ErrorAs(t, err, &pe)
}

func TestStageSourceRejectsEscapingPatch(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "pkg.tar.gz")
	writeTar(t, archive, "pkg", map[string]string{"a.c": "a"})
	writeFile(t, filepath.Join(dir, "outside"), "keep me")

	err := StageSource(archive, filepath.Join(dir, "src"), []Patch{DeletePatch{Path: "../outside"}})
	var pe *PatchError
	require.ErrorAs(t, err, &pe)
	assert.FileExists(t, filepath.Join(dir, "outside"))
}

func TestStageSourceMalformedArchive(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "pkg.tar.gz")
	require.NoError(t, os.WriteFile(archive, []byte("this is not gzip"), 0o644))

	err := StageSource(archive, filepath.Join(dir, "src"), nil)
	var ee *ExtractionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, archive, ee.Archive)
}

func TestStageSourceUnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "pkg.rar")
	require.NoError(t, os.WriteFile(archive, []byte("rar"), 0o644))

	var ee *ExtractionError
	assert.ErrorAs(t, StageSource(archive, filepath.Join(dir, "src"), nil), &ee)
	assert.False(t, isSupportedArchive(archive))
	assert.True(t, isSupportedArchive("x.tar.xz"))
}

// tarMember is one header of a hand-built archive. Regular files carry Body.
type tarMember struct {
	Name     string
	Typeflag byte
	Linkname string
	Body     string
}

// writeRawTar writes members, in order, to an uncompressed tarball.
func writeRawTar(t *testing.T, path string, members ...tarMember) {
	t.Helper()
	out, err := os.Create(path)
	require.NoError(t, err)
	defer out.Close()

	tw := tar.NewWriter(out)
	for _, m := range members {
		hdr := &tar.Header{Name: m.Name, Typeflag: m.Typeflag, Linkname: m.Linkname, Mode: 0o644}
		if m.Typeflag == tar.TypeDir {
			hdr.Mode = 0o755
		}
		if m.Typeflag == tar.TypeReg {
			hdr.Size = int64(len(m.Body))
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if m.Body != "" {
			_, err := tw.Write([]byte(m.Body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
}

func TestStageSourceRejectsArchiveEscapes(t *testing.T) {
	top := tarMember{Name: "pkg-1.0/", Typeflag: tar.TypeDir}
	for _, tc := range []struct {
		name    string
		members func(outside string) []tarMember
	}{
		{"parent directory", func(outside string) []tarMember {
			return []tarMember{top, {Name: "pkg-1.0/../../outside/pwned", Typeflag: tar.TypeReg, Body: "x"}}
		}},
		{"absolute symlink", func(outside string) []tarMember {
			return []tarMember{
				top,
				{Name: "pkg-1.0/escape", Typeflag: tar.TypeSymlink, Linkname: outside},
				{Name: "pkg-1.0/escape/pwned", Typeflag: tar.TypeReg, Body: "x"},
			}
		}},
		{"relative symlink", func(outside string) []tarMember {
			return []tarMember{
				top,
				{Name: "pkg-1.0/escape", Typeflag: tar.TypeSymlink, Linkname: "../outside"},
				{Name: "pkg-1.0/escape/pwned", Typeflag: tar.TypeReg, Body: "x"},
			}
		}},
		{"symlink through another symlink", func(outside string) []tarMember {
			return []tarMember{
				top,
				{Name: "pkg-1.0/self", Typeflag: tar.TypeSymlink, Linkname: "."},
				{Name: "pkg-1.0/escape", Typeflag: tar.TypeSymlink, Linkname: "self/../outside"},
				{Name: "pkg-1.0/escape/pwned", Typeflag: tar.TypeReg, Body: "x"},
			}
		}},
		{"hard link", func(outside string) []tarMember {
			return []tarMember{
				top,
				{Name: "pkg-1.0/passwd", Typeflag: tar.TypeLink, Linkname: "../outside/secret"},
			}
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			outside := filepath.Join(dir, "outside")
			writeFile(t, filepath.Join(outside, "secret"), "keep me")
			archive := filepath.Join(dir, "pkg-1.0.tar")
			writeRawTar(t, archive, tc.members(outside)...)

			dest := filepath.Join(dir, "src")
			err := StageSource(archive, dest, nil)

			var ee *ExtractionError
			require.ErrorAs(t, err, &ee)
			assert.NoFileExists(t, filepath.Join(outside, "pwned"))
			assert.Equal(t, "keep me", readFile(t, filepath.Join(outside, "secret")))
			assert.NoDirExists(t, dest, "a failed extraction leaves no tree behind")
		})
	}
}

func TestStageSourceKeepsInternalSymlinks(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "zlib-1.3.1.tar")
	writeRawTar(t, archive,
		tarMember{Name: "zlib-1.3.1/", Typeflag: tar.TypeDir},
		tarMember{Name: "zlib-1.3.1/lib/libz.so.1.3.1", Typeflag: tar.TypeReg, Body: "ELF"},
		tarMember{Name: "zlib-1.3.1/lib/libz.so", Typeflag: tar.TypeSymlink, Linkname: "libz.so.1.3.1"},
		tarMember{Name: "zlib-1.3.1/libz.a", Typeflag: tar.TypeLink, Linkname: "zlib-1.3.1/lib/libz.so.1.3.1"},
	)

	dest := filepath.Join(dir, "src")
	require.NoError(t, StageSource(archive, dest, nil))
	assert.Equal(t, "ELF", readFile(t, filepath.Join(dest, "lib", "libz.so")))
	assert.Equal(t, "ELF", readFile(t, filepath.Join(dest, "libz.a")))
}

func TestStageSourceSeveralTopLevelEntries(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "blst.tar")
	writeRawTar(t, archive,
		tarMember{Name: "src/", Typeflag: tar.TypeDir},
		tarMember{Name: "src/server.c", Typeflag: tar.TypeReg, Body: "server"},
		tarMember{Name: "bindings/blst.h", Typeflag: tar.TypeReg, Body: "header"},
		tarMember{Name: "build.sh", Typeflag: tar.TypeReg, Body: "#!/bin/sh\n"},
	)

	dest := filepath.Join(dir, "out")
	require.NoError(t, StageSource(archive, dest, nil))
	assert.Equal(t, "server", readFile(t, filepath.Join(dest, "src", "server.c")))
	assert.Equal(t, "header", readFile(t, filepath.Join(dest, "bindings", "blst.h")))
	assert.FileExists(t, filepath.Join(dest, "build.sh"))
}

func TestStageSourceFailedPatchLeavesNoTree(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "pkg.tar.gz")
	writeTar(t, archive, "pkg", map[string]string{"a.c": "a"})
	dest := filepath.Join(dir, "src")

	var pe *PatchError
	require.ErrorAs(t, StageSource(archive, dest, []Patch{DeletePatch{Path: "does-not-exist"}}), &pe)
	assert.NoDirExists(t, dest)
}
