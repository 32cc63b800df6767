package ndkports

import (
	"archive/tar"
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/renameio"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
	"golang.org/x/sys/unix"
)

// sourceFormats maps archive suffixes to their decompressors. A nil entry
// is an uncompressed tarball.
var sourceFormats = []struct {
	suffix string
	open   func(r io.Reader) (io.ReadCloser, error)
}{
	{".tar.gz", openGzip},
	{".tgz", openGzip},
	{".tar.xz", func(r io.Reader) (io.ReadCloser, error) {
		xr, err := xz.NewReader(r)
		return io.NopCloser(xr), err
	}},
	{".tar.bz2", func(r io.Reader) (io.ReadCloser, error) {
		return io.NopCloser(bzip2.NewReader(r)), nil
	}},
	{".tar.zst", func(r io.Reader) (io.ReadCloser, error) {
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	}},
	{".tar", nil},
}

func openGzip(r io.Reader) (io.ReadCloser, error) {
	return pgzip.NewReader(r)
}

// isSupportedArchive reports whether extractTar knows the file's compression.
func isSupportedArchive(name string) bool {
	for _, f := range sourceFormats {
		if strings.HasSuffix(name, f.suffix) {
			return true
		}
	}
	return false
}

// openSourceTar returns a tar reader over the decompressed archive and a
// func releasing the decompressor.
func openSourceTar(archive string, f io.Reader) (*tar.Reader, func(), error) {
	for _, format := range sourceFormats {
		if !strings.HasSuffix(archive, format.suffix) {
			continue
		}
		if format.open == nil {
			return tar.NewReader(f), func() {}, nil
		}
		rc, err := format.open(f)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to decompress %s: %w", filepath.Base(archive), err)
		}
		return tar.NewReader(rc), func() { rc.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unsupported archive format: %s", archive)
}

// walkTar calls fn for every member of archive except PAX headers and
// returns the number of members seen.
func walkTar(archive string, fn func(*tar.Reader, *tar.Header) error) (int, error) {
	f, err := os.Open(archive)
	if err != nil {
		return 0, fmt.Errorf("failed to open archive %s: %w", archive, err)
	}
	defer f.Close()

	tr, release, err := openSourceTar(archive, f)
	if err != nil {
		return 0, err
	}
	defer release()

	entries := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return entries, fmt.Errorf("corrupt tar stream in %s: %w", filepath.Base(archive), err)
		}
		if hdr.Typeflag == tar.TypeXHeader || hdr.Typeflag == tar.TypeXGlobalHeader {
			continue
		}
		entries++
		if err := fn(tr, hdr); err != nil {
			return entries, err
		}
	}
}

// sharedTopDir returns "dir/" when every member of archive lives under the
// same top-level directory, and "" otherwise.
func sharedTopDir(archive string) (string, error) {
	var top string
	shared := true
	_, err := walkTar(archive, func(_ *tar.Reader, hdr *tar.Header) error {
		name := strings.TrimPrefix(hdr.Name, "./")
		if name == "" {
			return nil
		}
		first, _, nested := strings.Cut(name, "/")
		if !nested && hdr.Typeflag != tar.TypeDir {
			shared = false
		}
		switch {
		case top == "":
			top = first
		case top != first:
			shared = false
		}
		return nil
	})
	if err != nil || !shared || top == "" || top == ".." {
		return "", err
	}
	return top + "/", nil
}

// extractTar unpacks a source tarball into dest. Release tarballs wrap
// everything in one versioned directory (curl-8.10.1/); that directory is
// stripped so dest becomes the source root. Archives with several
// top-level entries are extracted as they are.
func extractTar(archive, dest string) error {
	dest, err := filepath.Abs(dest)
	if err != nil {
		return err
	}
	if dest, err = filepath.EvalSymlinks(dest); err != nil {
		return err
	}
	top, err := sharedTopDir(archive)
	if err != nil {
		return err
	}
	if top != "" {
		debugf("Stripping top-level directory %s\n", top)
	}

	entries, err := walkTar(archive, func(tr *tar.Reader, hdr *tar.Header) error {
		name := strings.TrimPrefix(hdr.Name, "./")
		if top != "" && name == strings.TrimSuffix(top, "/") {
			return nil
		}
		rel := strings.TrimPrefix(name, top)
		if rel == "" {
			return nil
		}
		return writeTarEntry(tr, hdr, dest, rel, top)
	})
	if err != nil {
		return err
	}
	if entries == 0 {
		return fmt.Errorf("archive %s is empty", archive)
	}
	return nil
}

// writeTarEntry materializes one member at dest/rel. dest must already be
// free of symlinks. Nothing is written through a symlink that leaves dest.
// Timestamps are kept so that autotools does not try to regenerate its own
// outputs.
func writeTarEntry(tr *tar.Reader, hdr *tar.Header, dest, rel, top string) error {
	target, err := resolveWithin(dest, rel)
	if err != nil {
		return fmt.Errorf("illegal file path in archive: %s", hdr.Name)
	}
	if err := realWithin(dest, filepath.Dir(target)); err != nil {
		return fmt.Errorf("illegal file path in archive: %s: %w", hdr.Name, err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, os.FileMode(hdr.Mode)|0o700)

	case tar.TypeReg:
		if info, err := os.Lstat(target); err == nil && info.Mode()&os.ModeSymlink != 0 {
			if err := os.Remove(target); err != nil {
				return err
			}
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode)|0o600)
		if err != nil {
			return err
		}
		_, err = io.Copy(out, tr)
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("failed to write %s: %w", rel, err)
		}
		return os.Chtimes(target, hdr.AccessTime, hdr.ModTime)

	case tar.TypeSymlink:
		if filepath.IsAbs(hdr.Linkname) || !within(dest, filepath.Join(filepath.Dir(target), hdr.Linkname)) {
			return fmt.Errorf("illegal symlink in archive: %s -> %s", hdr.Name, hdr.Linkname)
		}
		_ = os.Remove(target)
		if err := os.Symlink(hdr.Linkname, target); err != nil {
			return fmt.Errorf("failed to create symlink %s: %w", rel, err)
		}
		times := []unix.Timeval{
			unix.NsecToTimeval(hdr.AccessTime.UnixNano()),
			unix.NsecToTimeval(hdr.ModTime.UnixNano()),
		}
		if err := unix.Lutimes(target, times); err != nil {
			debugf("Could not set times on symlink %s: %v\n", rel, err)
		}
		return nil

	case tar.TypeLink:
		src, err := resolveWithin(dest, strings.TrimPrefix(strings.TrimPrefix(hdr.Linkname, "./"), top))
		if err == nil {
			err = realWithin(dest, src)
		}
		if err != nil {
			return fmt.Errorf("illegal hard link in archive: %s -> %s", hdr.Name, hdr.Linkname)
		}
		_ = os.Remove(target)
		return os.Link(src, target)
	}
	debugf("Skipping tar entry %s of type %c\n", hdr.Name, hdr.Typeflag)
	return nil
}

// unpackAar extracts a package into dest.
func unpackAar(aar, dest string) error {
	r, err := zip.OpenReader(aar)
	if err != nil {
		return err
	}
	defer r.Close()

	if dest, err = filepath.Abs(dest); err != nil {
		return err
	}
	for _, f := range r.File {
		target, err := resolveWithin(dest, f.Name)
		if err != nil {
			return fmt.Errorf("illegal file path in package: %s", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := unpackZipFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func unpackZipFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode()|0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// zipEntry is one member of an archive written by writeZip. Exactly one of
// Source (a file on disk) or Data is set.
type zipEntry struct {
	Name   string
	Source string
	Data   []byte
}

// writeZip writes entries, sorted by name, to dest via an atomic rename.
func writeZip(dest string, entries []zipEntry) error {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	t, err := renameio.TempFile(filepath.Dir(dest), dest)
	if err != nil {
		return err
	}
	defer t.Cleanup()

	zw := zip.NewWriter(t)
	for _, e := range entries {
		hdr := &zip.FileHeader{Name: e.Name, Method: zip.Deflate}
		mode := os.FileMode(0o644)
		if e.Source != "" {
			if info, err := os.Stat(e.Source); err == nil {
				mode = info.Mode().Perm()
			}
		}
		hdr.SetMode(mode)
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		if e.Source == "" {
			if _, err := w.Write(e.Data); err != nil {
				return err
			}
			continue
		}
		in, err := os.Open(e.Source)
		if err != nil {
			return err
		}
		_, err = io.Copy(w, in)
		in.Close()
		if err != nil {
			return fmt.Errorf("failed to add %s: %w", e.Source, err)
		}
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}

// compressXZ compresses srcPath into destPath and removes srcPath.
func compressXZ(srcPath, destPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	t, err := renameio.TempFile(filepath.Dir(destPath), destPath)
	if err != nil {
		return err
	}
	defer t.Cleanup()

	xzWriter, err := xz.NewWriter(t)
	if err != nil {
		return err
	}
	if _, err := io.Copy(xzWriter, src); err != nil {
		xzWriter.Close()
		return fmt.Errorf("failed to compress %s: %w", srcPath, err)
	}
	if err := xzWriter.Close(); err != nil {
		return err
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return err
	}
	return os.Remove(srcPath)
}

// readMaybeXZ reads a plain or .xz compressed file.
func readMaybeXZ(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	var r io.Reader = f
	if strings.HasSuffix(path, ".xz") {
		xr, err := xz.NewReader(f)
		if err != nil {
			return "", err
		}
		r = xr
	}
	data, err := io.ReadAll(r)
	return string(data), err
}
