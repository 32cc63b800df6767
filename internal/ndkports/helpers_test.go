package ndkports

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"testing"

	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
)

// writeTar writes files under a single top-level dir, compressed according
// to the suffix of path.
func writeTar(t *testing.T, path, top string, files map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: top + "/", Typeflag: tar.TypeDir, Mode: 0o755}))

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		body := files[name]
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     top + "/" + name,
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(body)),
		}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())

	out, err := os.Create(path)
	require.NoError(t, err)
	defer out.Close()

	var w io.WriteCloser
	switch filepath.Ext(path) {
	case ".gz":
		w = pgzip.NewWriter(out)
	case ".xz":
		w, err = xz.NewWriter(out)
		require.NoError(t, err)
	default:
		_, err = out.Write(buf.Bytes())
		require.NoError(t, err)
		return
	}
	_, err = w.Write(buf.Bytes())
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

type testKey struct {
	entity  *openpgp.Entity
	public  string // armored keyring path
	private string // armored private key path
	fullFpr string
}

// newTestKey creates an unencrypted PGP key pair on disk.
func newTestKey(t *testing.T, dir, name string) *testKey {
	t.Helper()
	e, err := openpgp.NewEntity(name, "", name+"@example.org", nil)
	require.NoError(t, err)

	var priv bytes.Buffer
	w, err := armor.Encode(&priv, openpgp.PrivateKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, e.SerializePrivate(w, nil))
	require.NoError(t, w.Close())

	var pub bytes.Buffer
	w, err = armor.Encode(&pub, openpgp.PublicKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, e.Serialize(w))
	require.NoError(t, w.Close())

	k := &testKey{
		entity:  e,
		public:  filepath.Join(dir, name+".pub.asc"),
		private: filepath.Join(dir, name+".key.asc"),
	}
	require.NoError(t, os.WriteFile(k.public, pub.Bytes(), 0o644))
	require.NoError(t, os.WriteFile(k.private, priv.Bytes(), 0o600))
	k.fullFpr = (&PGPSigner{entity: e}).Fingerprint()
	return k
}

func (k *testKey) sign(t *testing.T, data []byte) []byte {
	t.Helper()
	var sig bytes.Buffer
	require.NoError(t, openpgp.ArmoredDetachSign(&sig, k.entity, bytes.NewReader(data), nil))
	return sig.Bytes()
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

// fakeNdk lays out the files OpenNdk and Toolchain look for, with compilers
// for every ABI at the given API levels.
func fakeNdk(t *testing.T, apis ...int) *Ndk {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "source.properties"), "Pkg.Desc = Android NDK\nPkg.Revision = 26.1.10909125\n")
	writeFile(t, filepath.Join(root, "build", "cmake", "android.toolchain.cmake"), "# toolchain\n")

	n := &Ndk{Path: root, HostTag: ndkHostTag()}
	require.NoError(t, os.MkdirAll(n.SysrootDir(), 0o755))
	for _, tool := range []string{"llvm-ar", "ld.lld", "llvm-ranlib", "llvm-strip"} {
		writeFile(t, filepath.Join(n.BinDir(), tool), "")
	}
	for _, abi := range supportedAbis {
		for _, api := range apis {
			prefix := filepath.Join(n.BinDir(), abi.ClangTriple+strconv.Itoa(api))
			writeFile(t, prefix+"-clang", "")
			writeFile(t, prefix+"-clang++", "")
		}
	}
	opened, err := OpenNdk(root)
	require.NoError(t, err)
	return opened
}

func mustAbi(t *testing.T, name string) Abi {
	t.Helper()
	abi, err := LookupAbi(name)
	require.NoError(t, err)
	return abi
}
