package ndkports

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultGroup = "com.android.ndk.thirdparty"

// Publication is one finished package ready for the repository.
type Publication struct {
	Port       *Port
	Aar        string
	Descriptor *PackageDescriptor
}

// Publisher stages packages into a Maven repository layout:
//
//	<RepoDir>/<group path>/<artifact>/maven-metadata.xml{,.md5,...}
//	<RepoDir>/<group path>/<artifact>/<version>/<artifact>-<version>.{aar,pom,module}
//
// with .md5, .sha1, .sha256, .sha512 and .asc next to every file.
type Publisher struct {
	RepoDir string
	Group   string
	Signer  *PGPSigner
	Log     *logrus.Entry
	now     func() time.Time
}

// NewPublisher loads the signing key before anything is written, so a
// missing or locked key leaves the repository untouched.
func NewPublisher(repoDir, group, keyPath, passphrase string) (*Publisher, error) {
	signer, err := LoadPGPSigner(keyPath, passphrase)
	if err != nil {
		return nil, err
	}
	if group == "" {
		group = defaultGroup
	}
	return &Publisher{RepoDir: repoDir, Group: group, Signer: signer}, nil
}

func (p *Publisher) artifactDir(artifact string) string {
	return filepath.Join(p.RepoDir, filepath.FromSlash(strings.ReplaceAll(p.Group, ".", "/")), artifact)
}

// Publish writes one version. The version directory is assembled next to
// its final location and renamed into place, so a failure part way leaves
// an earlier publication of the same version intact.
func (p *Publisher) Publish(pub Publication) (string, error) {
	if p.Signer == nil {
		return "", &SigningError{Err: fmt.Errorf("no signer loaded")}
	}
	desc := pub.Descriptor
	artifact := desc.Name
	base := artifact + "-" + desc.Version
	artifactDir := p.artifactDir(artifact)
	final := filepath.Join(artifactDir, desc.Version)
	staging := final + ".staging"
	if err := os.RemoveAll(staging); err != nil {
		return "", err
	}
	defer os.RemoveAll(staging)
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return "", err
	}

	aar := filepath.Join(staging, base+".aar")
	if err := copyFile(pub.Aar, aar); err != nil {
		return "", fmt.Errorf("failed to copy package: %w", err)
	}

	pom, err := p.renderPom(pub)
	if err != nil {
		return "", err
	}
	if err := writeFileAtomic(filepath.Join(staging, base+".pom"), pom, 0o644); err != nil {
		return "", err
	}

	module, err := p.renderModule(pub, aar)
	if err != nil {
		return "", err
	}
	if err := writeFileAtomic(filepath.Join(staging, base+".module"), module, 0o644); err != nil {
		return "", err
	}

	for _, ext := range []string{".aar", ".pom", ".module"} {
		if err := p.seal(filepath.Join(staging, base+ext)); err != nil {
			return "", err
		}
	}

	if err := os.RemoveAll(final); err != nil {
		return "", err
	}
	if err := os.Rename(staging, final); err != nil {
		return "", fmt.Errorf("failed to move %s into place: %w", final, err)
	}

	if err := p.updateMetadata(artifactDir, artifact, desc.Version); err != nil {
		return "", err
	}
	p.log().WithFields(logrus.Fields{"artifact": artifact, "version": desc.Version}).Info("published")
	return final, nil
}

// seal writes the digest sidecars and the detached signature of path.
func (p *Publisher) seal(path string) error {
	digests, err := computeDigests(path)
	if err != nil {
		return err
	}
	for _, alg := range digestAlgorithms {
		if err := writeFileAtomic(path+"."+alg.Ext, []byte(digests[alg.Ext]), 0o644); err != nil {
			return err
		}
	}
	if err := p.Signer.SignFile(path); err != nil {
		var se *SigningError
		if errors.As(err, &se) {
			return se
		}
		return &SigningError{Err: err}
	}
	return nil
}

type pomLicense struct {
	Name         string `xml:"name"`
	URL          string `xml:"url"`
	Distribution string `xml:"distribution"`
}

type pomScm struct {
	URL        string `xml:"url"`
	Connection string `xml:"connection"`
}

type pomDependency struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
	Version    string `xml:"version"`
	Type       string `xml:"type"`
	Scope      string `xml:"scope"`
}

type pomProject struct {
	XMLName        xml.Name        `xml:"project"`
	Xmlns          string          `xml:"xmlns,attr"`
	XmlnsXsi       string          `xml:"xmlns:xsi,attr"`
	SchemaLocation string          `xml:"xsi:schemaLocation,attr"`
	ModelVersion   string          `xml:"modelVersion"`
	GroupID        string          `xml:"groupId"`
	ArtifactID     string          `xml:"artifactId"`
	Version        string          `xml:"version"`
	Packaging      string          `xml:"packaging"`
	Name           string          `xml:"name"`
	Description    string          `xml:"description"`
	URL            string          `xml:"url,omitempty"`
	Licenses       []pomLicense    `xml:"licenses>license"`
	Scm            *pomScm         `xml:"scm,omitempty"`
	Dependencies   []pomDependency `xml:"dependencies>dependency"`
}

func (p *Publisher) renderPom(pub Publication) ([]byte, error) {
	desc, port := pub.Descriptor, pub.Port
	proj := pomProject{
		Xmlns:          "http://maven.apache.org/POM/4.0.0",
		XmlnsXsi:       "http://www.w3.org/2001/XMLSchema-instance",
		SchemaLocation: "http://maven.apache.org/POM/4.0.0 https://maven.apache.org/xsd/maven-4.0.0.xsd",
		ModelVersion:   "4.0.0",
		GroupID:        p.Group,
		ArtifactID:     desc.Name,
		Version:        desc.Version,
		Packaging:      "aar",
		Name:           port.LibName,
		Description:    fmt.Sprintf("The ndkports AAR for %s.", port.LibName),
		URL:            port.ScmURL,
		Licenses: []pomLicense{{
			Name:         port.LicenseName,
			URL:          port.LicenseURL,
			Distribution: "repo",
		}},
	}
	if port.Description != "" {
		proj.Description = port.Description
	}
	if port.ScmURL != "" {
		proj.Scm = &pomScm{URL: port.ScmURL, Connection: "scm:git:" + port.ScmURL + ".git"}
	}
	deps := make([]string, 0, len(desc.Dependencies))
	for dep := range desc.Dependencies {
		deps = append(deps, dep)
	}
	sort.Strings(deps)
	for _, dep := range deps {
		proj.Dependencies = append(proj.Dependencies, pomDependency{
			GroupID:    p.Group,
			ArtifactID: dep,
			Version:    desc.Dependencies[dep],
			Type:       "aar",
			Scope:      "runtime",
		})
	}
	data, err := xml.MarshalIndent(proj, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), append(data, '\n')...), nil
}

type gradleFile struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Size   int64  `json:"size"`
	SHA512 string `json:"sha512"`
	SHA256 string `json:"sha256"`
	SHA1   string `json:"sha1"`
	MD5    string `json:"md5"`
}

type gradleDependency struct {
	Group   string            `json:"group"`
	Module  string            `json:"module"`
	Version map[string]string `json:"version"`
}

type gradleVariant struct {
	Name         string             `json:"name"`
	Attributes   map[string]string  `json:"attributes"`
	Dependencies []gradleDependency `json:"dependencies,omitempty"`
	Files        []gradleFile       `json:"files"`
}

type gradleModule struct {
	FormatVersion string                       `json:"formatVersion"`
	Component     map[string]any               `json:"component"`
	CreatedBy     map[string]map[string]string `json:"createdBy"`
	Variants      []gradleVariant              `json:"variants"`
}

// renderModule writes Gradle module metadata for the AAR at aar.
func (p *Publisher) renderModule(pub Publication, aar string) ([]byte, error) {
	desc := pub.Descriptor
	info, err := os.Stat(aar)
	if err != nil {
		return nil, err
	}
	digests, err := computeDigests(aar)
	if err != nil {
		return nil, err
	}
	name := filepath.Base(aar)
	file := gradleFile{
		Name:   name,
		URL:    name,
		Size:   info.Size(),
		SHA512: digests["sha512"],
		SHA256: digests["sha256"],
		SHA1:   digests["sha1"],
		MD5:    digests["md5"],
	}

	var deps []gradleDependency
	names := make([]string, 0, len(desc.Dependencies))
	for dep := range desc.Dependencies {
		names = append(names, dep)
	}
	sort.Strings(names)
	for _, dep := range names {
		deps = append(deps, gradleDependency{
			Group:   p.Group,
			Module:  dep,
			Version: map[string]string{"requires": desc.Dependencies[dep]},
		})
	}

	variant := func(usage string) gradleVariant {
		return gradleVariant{
			Name: "release" + strings.ToUpper(usage[:1]) + usage[1:] + "Elements",
			Attributes: map[string]string{
				"org.gradle.category":                            "library",
				"org.gradle.usage":                               "java-" + usage,
				"org.gradle.libraryelements":                     "aar",
				"com.android.build.api.attributes.BuildTypeAttr": "release",
			},
			Dependencies: deps,
			Files:        []gradleFile{file},
		}
	}
	m := gradleModule{
		FormatVersion: "1.1",
		Component: map[string]any{
			"group":   p.Group,
			"module":  desc.Name,
			"version": desc.Version,
			"attributes": map[string]string{
				"org.gradle.status": "release",
			},
		},
		CreatedBy: map[string]map[string]string{
			"ndkports": {"version": version},
		},
		Variants: []gradleVariant{variant("api"), variant("runtime")},
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

type mavenMetadata struct {
	XMLName    xml.Name `xml:"metadata"`
	GroupID    string   `xml:"groupId"`
	ArtifactID string   `xml:"artifactId"`
	Versioning struct {
		Latest      string   `xml:"latest"`
		Release     string   `xml:"release"`
		Versions    []string `xml:"versions>version"`
		LastUpdated string   `xml:"lastUpdated"`
	} `xml:"versioning"`
}

// updateMetadata merges version into maven-metadata.xml and re-seals it.
func (p *Publisher) updateMetadata(artifactDir, artifact, ver string) error {
	path := filepath.Join(artifactDir, "maven-metadata.xml")
	var meta mavenMetadata
	if data, err := os.ReadFile(path); err == nil {
		if err := xml.Unmarshal(data, &meta); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return err
	}
	meta.GroupID = p.Group
	meta.ArtifactID = artifact

	seen := map[string]bool{}
	var versions []string
	for _, v := range append(meta.Versioning.Versions, ver) {
		if !seen[v] {
			seen[v] = true
			versions = append(versions, v)
		}
	}
	sort.SliceStable(versions, func(i, j int) bool {
		return compareVersions(versions[i], versions[j]) < 0
	})
	meta.Versioning.Versions = versions
	meta.Versioning.Latest = versions[len(versions)-1]
	meta.Versioning.Release = meta.Versioning.Latest
	meta.Versioning.LastUpdated = p.clock().UTC().Format("20060102150405")

	data, err := xml.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	data = append([]byte(xml.Header), append(data, '\n')...)
	if err := writeFileAtomic(path, data, 0o644); err != nil {
		return err
	}
	return p.seal(path)
}

func (p *Publisher) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

func (p *Publisher) log() *logrus.Entry {
	if p.Log != nil {
		return p.Log
	}
	return discardLog()
}

// distZip packs one published version directory, with the metadata of its
// artifact, into <distDir>/<artifact>-<version>.zip.
func distZip(repoDir, versionDir, distDir, artifact, ver string) (string, error) {
	if info, err := os.Stat(versionDir); err != nil || !info.IsDir() {
		return "", fmt.Errorf("%s %s is not published under %s", artifact, ver, repoDir)
	}
	var entries []zipEntry
	add := func(root string) error {
		files, err := listFiles(root)
		if err != nil {
			return err
		}
		for _, f := range files {
			full := filepath.Join(root, f)
			rel, err := filepath.Rel(repoDir, full)
			if err != nil {
				return err
			}
			entries = append(entries, zipEntry{Name: filepath.ToSlash(rel), Source: full})
		}
		return nil
	}
	if err := add(versionDir); err != nil {
		return "", err
	}
	metaFiles, err := filepath.Glob(filepath.Join(filepath.Dir(versionDir), "maven-metadata.xml*"))
	if err != nil {
		return "", err
	}
	for _, full := range metaFiles {
		rel, err := filepath.Rel(repoDir, full)
		if err != nil {
			return "", err
		}
		entries = append(entries, zipEntry{Name: filepath.ToSlash(rel), Source: full})
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("nothing published under %s", versionDir)
	}
	dest := filepath.Join(distDir, artifact+"-"+ver+".zip")
	if err := writeZip(dest, entries); err != nil {
		return "", err
	}
	return dest, nil
}
