package ndkports

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Uploader mirrors the local Maven repository into a bucket and keeps a
// signed repo-index.json describing every package version in it.
type Uploader struct {
	Store    objectStore
	RepoDir  string
	Group    string
	IndexKey ed25519.PrivateKey // nil leaves the index unsigned
	Confirm  func(format string, a ...any) bool
}

// UploadResult summarizes one sync.
type UploadResult struct {
	Uploaded []RepoEntry
	Index    []RepoEntry
}

// Sync uploads every new or changed package version and rewrites the index.
func (u *Uploader) Sync(ctx context.Context) (*UploadResult, error) {
	printStep("Fetching remote index\n")
	var remote []RepoEntry
	if data, err := u.Store.DownloadFile(ctx, repoIndexKey); err != nil {
		debugf("Remote index not found or error fetching: %v\n", err)
	} else if remote, err = ParseRepoIndex(data); err != nil {
		return nil, fmt.Errorf("failed to parse remote index: %w", err)
	}
	index := make(map[string]RepoEntry, len(remote))
	for _, e := range remote {
		index[e.key()] = e
	}

	printStep("Scanning local repository in %s\n", u.RepoDir)
	local, err := scanRepository(u.RepoDir, u.Group)
	if err != nil {
		return nil, err
	}

	res := &UploadResult{}
	for _, a := range local {
		if existing, ok := index[a.Entry.key()]; ok && existing.B3Sum == a.Entry.B3Sum {
			continue
		}
		if u.Confirm != nil && !u.Confirm("Upload %s %s? ", a.Entry.Name, a.Entry.Version) {
			continue
		}
		printStep("Uploading %s %s\n", a.Entry.Name, a.Entry.Version)
		for _, key := range a.Files {
			if err := u.Store.UploadLocalFile(ctx, key, filepath.Join(u.RepoDir, filepath.FromSlash(key))); err != nil {
				return nil, fmt.Errorf("failed to upload %s: %w", key, err)
			}
		}
		index[a.Entry.key()] = a.Entry
		res.Uploaded = append(res.Uploaded, a.Entry)
	}

	for _, e := range index {
		res.Index = append(res.Index, e)
	}
	sortRepoIndex(res.Index)

	if len(res.Uploaded) == 0 {
		printStep("Everything up to date.\n")
		return res, nil
	}

	data, err := json.MarshalIndent(res.Index, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := u.Store.UploadFile(ctx, repoIndexKey, data); err != nil {
		return nil, fmt.Errorf("failed to upload index: %w", err)
	}
	if u.IndexKey != nil {
		if err := u.Store.UploadFile(ctx, repoIndexSigKey, SignRepoIndex(data, u.IndexKey)); err != nil {
			return nil, fmt.Errorf("failed to upload index signature: %w", err)
		}
	} else {
		cPrintln(colWarn, "Warning: NDKPORTS_INDEX_KEY not set; repo-index.json is unsigned")
	}

	if objects, err := u.Store.ListObjects(ctx, ""); err == nil {
		var total int64
		for _, o := range objects {
			total += o.Size
		}
		printStep("Bucket holds %d objects, %s\n", len(objects), humanReadableSize(total))
	}
	colSuccess.Printf("Sync complete. Uploaded %d package versions.\n", len(res.Uploaded))
	return res, nil
}

func humanReadableSize(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}

// loadOptionalIndexKey loads the index key when one is configured.
func loadOptionalIndexKey(path string) (ed25519.PrivateKey, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, &SigningError{Err: fmt.Errorf("index key %s: %w", path, err)}
	}
	return loadIndexKey(path)
}
