package ndkports

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileOpsAreIdempotent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "minimal/lib/libsodium.so"), "minimal so")
	writeFile(t, filepath.Join(root, "minimal/lib/libsodium.a"), "minimal a")
	writeFile(t, filepath.Join(root, "lib/libsodium.a"), "full a")
	writeFile(t, filepath.Join(root, "lib/libsodium.so"), "full so")
	writeFile(t, filepath.Join(root, "share/doc/README"), "docs")

	ops := append([]FileOp(nil), sodiumPort().PostInstall...)
	ops = append(ops,
		Rename{From: "share/doc", To: "doc"},
		Mkdir{Path: "include"},
	)

	for i := 0; i < 2; i++ {
		require.NoError(t, applyFileOps(root, ops), "pass %d", i+1)

		assert.Equal(t, "minimal so", readFile(t, filepath.Join(root, "lib/libsodium-minimal.so")))
		assert.Equal(t, "minimal a", readFile(t, filepath.Join(root, "lib/libsodium-minimal-static.a")))
		assert.Equal(t, "full a", readFile(t, filepath.Join(root, "lib/libsodium-static.a")))
		assert.Equal(t, "full so", readFile(t, filepath.Join(root, "lib/libsodium.so")))
		assert.NoDirExists(t, filepath.Join(root, "minimal"))
		assert.Equal(t, "docs", readFile(t, filepath.Join(root, "doc/README")))
		assert.DirExists(t, filepath.Join(root, "include"))
	}
}

func TestFileOpsMissingSource(t *testing.T) {
	root := t.TempDir()
	err := applyFileOps(root, []FileOp{Copy{From: "lib/missing.so", To: "lib/x.so"}})
	assert.ErrorContains(t, err, "source lib/missing.so not found")

	require.NoError(t, applyFileOps(root, []FileOp{Copy{From: "lib/missing.so", To: "lib/x.so", Optional: true}}))

	err = applyFileOps(root, []FileOp{Rename{From: "a", To: "b"}})
	assert.Error(t, err)
}

func TestFileOpsStayInsideRoot(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "install")
	require.NoError(t, os.MkdirAll(root, 0o755))
	writeFile(t, filepath.Join(parent, "keep"), "x")

	assert.Error(t, applyFileOps(root, []FileOp{DeleteIfExists{Path: "../keep"}}))
	assert.Error(t, applyFileOps(root, []FileOp{Copy{From: "/etc/passwd", To: "passwd"}}))
	assert.FileExists(t, filepath.Join(parent, "keep"))
}

func TestDeleteIfExistsRemovesSymlinkOnly(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "lib/libpng16.so"), "real")
	require.NoError(t, os.Symlink("libpng16.so", filepath.Join(root, "lib/libpng.so")))

	require.NoError(t, applyFileOps(root, libpngPort().PostInstall))
	require.NoError(t, applyFileOps(root, libpngPort().PostInstall))
	_, err := os.Lstat(filepath.Join(root, "lib/libpng.so"))
	assert.True(t, os.IsNotExist(err))
	assert.FileExists(t, filepath.Join(root, "lib/libpng16.so"))
}
