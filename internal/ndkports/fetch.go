package ndkports

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// SourceRequest describes one upstream release artifact.
type SourceRequest struct {
	URL               string
	Version           string
	SHA256            string // expected digest; empty when not pinned
	ChecksumURL       string // sidecar digest file, used when SHA256 is empty
	SignatureURL      string // armored detached signature
	SignerFingerprint string
}

// Fetcher downloads and verifies source artifacts into a cache directory.
type Fetcher struct {
	Dir     string
	Keyring string // armored trusted public keys for signature checks
	Client  *http.Client
	Quiet   bool
}

func NewFetcher(dir, keyring string) *Fetcher {
	return &Fetcher{Dir: dir, Keyring: keyring, Client: newHttpClient()}
}

func newHttpClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	// Some upstream mirrors are slow to complete handshakes.
	transport.TLSHandshakeTimeout = 30 * time.Second

	return &http.Client{
		Transport: transport,
		Timeout:   300 * time.Second, // 5 min total timeout for large downloads
	}
}

// PathFor is the deterministic cache path of req's artifact.
func (f *Fetcher) PathFor(req SourceRequest) string {
	name := "source"
	if u, err := url.Parse(req.URL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
			name = base
		}
	}
	return filepath.Join(f.Dir, hashString(req.URL + req.Version)[:16]+"-"+name)
}

// Fetch returns the verified local artifact for req, downloading it when
// needed. The artifact only appears at its final path after every
// requested verification has passed.
func (f *Fetcher) Fetch(ctx context.Context, req SourceRequest) (string, error) {
	dest := f.PathFor(req)
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create source cache %s: %w", f.Dir, err)
	}

	// Serialize concurrent fetches of the same artifact.
	lockPath := dest + ".lock"
	lFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create lock file: %w", err)
	}
	defer lFile.Close()
	if err := unix.Flock(int(lFile.Fd()), unix.LOCK_EX); err != nil {
		return "", fmt.Errorf("failed to acquire lock for download: %w", err)
	}
	defer unix.Flock(int(lFile.Fd()), unix.LOCK_UN)

	if exists(dest) {
		err := f.verifyCached(req, dest)
		if err == nil {
			debugf("Using cached %s\n", dest)
			return dest, nil
		}
		debugf("Cached %s failed verification (%v); downloading again\n", dest, err)
		f.discard(dest)
	}

	part := dest + ".part"
	_ = os.Remove(part)
	if err := f.download(ctx, req.URL, part); err != nil {
		_ = os.Remove(part)
		return "", err
	}

	expected := req.SHA256
	var checksumData, sigData []byte
	if expected == "" && req.ChecksumURL != "" {
		if checksumData, err = f.get(ctx, req.ChecksumURL); err != nil {
			_ = os.Remove(part)
			return "", err
		}
		if expected, err = parseChecksumFile(checksumData); err != nil {
			_ = os.Remove(part)
			return "", &FetchError{URL: req.ChecksumURL, Err: err}
		}
	}
	if expected != "" {
		if err := verifySHA256(part, expected); err != nil {
			_ = os.Remove(part)
			var ie *IntegrityError
			if errors.As(err, &ie) {
				ie.Path = dest
			}
			return "", err
		}
	}
	if req.SignatureURL != "" {
		if sigData, err = f.get(ctx, req.SignatureURL); err != nil {
			_ = os.Remove(part)
			return "", err
		}
		if err := f.verifySignature(req, part, sigData); err != nil {
			_ = os.Remove(part)
			return "", err
		}
	}

	// Sidecars first, so a visible artifact always has them.
	if checksumData != nil {
		if err := writeFileAtomic(dest+".sha256", []byte(expected+"\n"), 0o644); err != nil {
			_ = os.Remove(part)
			return "", err
		}
	}
	if sigData != nil {
		if err := writeFileAtomic(dest+".asc", sigData, 0o644); err != nil {
			_ = os.Remove(part)
			return "", err
		}
	}
	if err := os.Rename(part, dest); err != nil {
		_ = os.Remove(part)
		return "", fmt.Errorf("failed to move %s into place: %w", part, err)
	}
	return dest, nil
}

// verifyCached re-checks an existing artifact using the pinned digest or
// the sidecars stored alongside it.
func (f *Fetcher) verifyCached(req SourceRequest, dest string) error {
	expected := req.SHA256
	if expected == "" && req.ChecksumURL != "" {
		data, err := os.ReadFile(dest + ".sha256")
		if err != nil {
			return err
		}
		if expected, err = parseChecksumFile(data); err != nil {
			return err
		}
	}
	if expected != "" {
		if err := verifySHA256(dest, expected); err != nil {
			return err
		}
	}
	if req.SignatureURL != "" {
		sig, err := os.ReadFile(dest + ".asc")
		if err != nil {
			return err
		}
		return f.verifySignature(req, dest, sig)
	}
	return nil
}

func (f *Fetcher) verifySignature(req SourceRequest, path string, sig []byte) error {
	data, err := os.Open(path)
	if err != nil {
		return err
	}
	defer data.Close()
	if err := verifyDetachedSignature(f.Keyring, req.SignerFingerprint, data, bytes.NewReader(sig)); err != nil {
		return &SignatureError{Path: f.PathFor(req), Err: err}
	}
	return nil
}

func (f *Fetcher) discard(dest string) {
	for _, p := range []string{dest, dest + ".sha256", dest + ".asc"} {
		_ = os.Remove(p)
	}
}

func (f *Fetcher) download(ctx context.Context, rawURL, dest string) error {
	debugf("Downloading %s -> %s\n", rawURL, dest)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &FetchError{URL: rawURL, Err: err}
	}
	resp, err := f.client().Do(req)
	if err != nil {
		return &FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &FetchError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create destination file %s: %w", dest, err)
	}
	defer out.Close()

	var w io.Writer = out
	if !f.Quiet && term.IsTerminal(int(os.Stderr.Fd())) {
		bar := progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription(path.Base(req.URL.Path)),
			progressbar.OptionShowBytes(true),
			progressbar.OptionClearOnFinish(),
		)
		defer bar.Close()
		w = io.MultiWriter(out, bar)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return &FetchError{URL: rawURL, Err: err}
	}
	if err := out.Sync(); err != nil {
		return err
	}
	return nil
}

// get fetches a small sidecar file into memory.
func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	resp, err := f.client().Do(req)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	return data, nil
}

func (f *Fetcher) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return http.DefaultClient
}

// prefetchSources fetches several artifacts concurrently and returns the
// first failure.
func prefetchSources(ctx context.Context, f *Fetcher, reqs []SourceRequest) ([]string, error) {
	paths := make([]string, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			p, err := f.Fetch(gctx, req)
			if err != nil {
				return err
			}
			paths[i] = p
			return nil
		})
	}
	return paths, g.Wait()
}
