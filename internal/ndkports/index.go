package ndkports

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	repoIndexKey    = "repo-index.json"
	repoIndexSigKey = "repo-index.json.sig"
)

// RepoEntry is one published package version in the bucket index.
type RepoEntry struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Group    string `json:"group"`
	Filename string `json:"filename"` // bucket key of the .aar
	Size     int64  `json:"size"`
	B3Sum    string `json:"b3sum"`
}

func (e RepoEntry) key() string {
	return e.Name + "@" + e.Version
}

// ParseRepoIndex decodes repo-index.json.
func ParseRepoIndex(data []byte) ([]RepoEntry, error) {
	var entries []RepoEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// sortRepoIndex orders entries by name, then version.
func sortRepoIndex(entries []RepoEntry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return compareVersions(a.Version, b.Version) < 0
	})
}

// localArtifact is one version directory of the local Maven repository.
type localArtifact struct {
	Entry RepoEntry
	Dir   string   // version directory
	Files []string // every file to upload, relative to the repository root
}

// scanRepository finds every published .aar under repoDir for group.
func scanRepository(repoDir, group string) ([]localArtifact, error) {
	groupDir := filepath.Join(repoDir, filepath.FromSlash(strings.ReplaceAll(group, ".", "/")))
	aars, err := filepath.Glob(filepath.Join(groupDir, "*", "*", "*.aar"))
	if err != nil {
		return nil, err
	}
	sums, err := ComputeChecksums(aars)
	if err != nil {
		return nil, fmt.Errorf("failed to hash packages: %w", err)
	}

	var out []localArtifact
	for _, aar := range aars {
		versionDir := filepath.Dir(aar)
		ver := filepath.Base(versionDir)
		name := filepath.Base(filepath.Dir(versionDir))
		if filepath.Base(aar) != name+"-"+ver+".aar" {
			continue
		}
		info, err := os.Stat(aar)
		if err != nil {
			return nil, err
		}
		rel := func(p string) string {
			r, _ := filepath.Rel(repoDir, p)
			return filepath.ToSlash(r)
		}

		files, err := listFiles(versionDir)
		if err != nil {
			return nil, err
		}
		var keys []string
		for _, f := range files {
			keys = append(keys, rel(filepath.Join(versionDir, f)))
		}
		meta, _ := filepath.Glob(filepath.Join(filepath.Dir(versionDir), "maven-metadata.xml*"))
		for _, m := range meta {
			keys = append(keys, rel(m))
		}

		out = append(out, localArtifact{
			Entry: RepoEntry{
				Name:     name,
				Version:  ver,
				Group:    group,
				Filename: rel(aar),
				Size:     info.Size(),
				B3Sum:    sums[aar],
			},
			Dir:   versionDir,
			Files: keys,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entry.key() < out[j].Entry.key() })
	return out, nil
}
