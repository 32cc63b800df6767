package ndkports

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"

	"lukechampine.com/blake3"
)

func hashString(s string) string {
	h := blake3.New(32, nil)
	h.Write([]byte(s))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// sha256File returns the lowercase hex SHA-256 of a file.
func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// verifySHA256 compares a file against an expected hex digest.
func verifySHA256(path, expected string) error {
	expected = strings.ToLower(strings.TrimSpace(expected))
	actual, err := sha256File(path)
	if err != nil {
		return err
	}
	if actual != expected {
		return &IntegrityError{Path: path, Expected: expected, Actual: actual}
	}
	return nil
}

// parseChecksumFile accepts "<hex>" and "<hex>  <filename>" as well as the
// "SHA256(<file>)= <hex>" form.
func parseChecksumFile(data []byte) (string, error) {
	text := strings.TrimSpace(string(data))
	if _, after, ok := strings.Cut(text, ")= "); ok {
		text = after
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", fmt.Errorf("empty checksum file")
	}
	sum := strings.ToLower(fields[0])
	if _, err := hex.DecodeString(sum); err != nil || len(sum) != sha256.Size*2 {
		return "", fmt.Errorf("malformed sha256 %q", fields[0])
	}
	return sum, nil
}

// digestAlgorithms are the sidecar digests written next to every published
// file, keyed by file extension.
var digestAlgorithms = []struct {
	Ext string
	New func() hash.Hash
}{
	{"md5", md5.New},
	{"sha1", sha1.New},
	{"sha256", sha256.New},
	{"sha512", sha512.New},
}

// computeDigests hashes a file once with every digest algorithm.
func computeDigests(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	hashes := make([]hash.Hash, len(digestAlgorithms))
	writers := make([]io.Writer, len(digestAlgorithms))
	for i, alg := range digestAlgorithms {
		hashes[i] = alg.New()
		writers[i] = hashes[i]
	}
	if _, err := io.Copy(io.MultiWriter(writers...), f); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(hashes))
	for i, alg := range digestAlgorithms {
		out[alg.Ext] = hex.EncodeToString(hashes[i].Sum(nil))
	}
	return out, nil
}

// ComputeChecksums computes BLAKE3 sums of many files with a worker pool.
func ComputeChecksums(paths []string) (map[string]string, error) {
	results := make(map[string]string, len(paths))
	if len(paths) == 0 {
		return results, nil
	}

	numWorkers := runtime.NumCPU() * 2
	if len(paths) < numWorkers {
		numWorkers = len(paths)
	}

	jobs := make(chan string, len(paths))
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := make([]byte, 64*1024)
			for path := range jobs {
				sum, err := blake3File(path, buf)
				mu.Lock()
				if err != nil {
					errOnce.Do(func() { firstErr = err })
				} else {
					results[path] = sum
				}
				mu.Unlock()
			}
		}()
	}

	for _, p := range paths {
		jobs <- p
	}
	close(jobs)
	wg.Wait()

	return results, firstErr
}

// ComputeChecksum computes the BLAKE3 sum of one file.
func ComputeChecksum(path string) (string, error) {
	return blake3File(path, make([]byte, 64*1024))
}

func blake3File(path string, buf []byte) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := blake3.New(32, nil)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
