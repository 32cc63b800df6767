package ndkports

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/openpgp"
)

// packagedCurl packages curl for two ABIs against openssl 3.0.15.
func packagedCurl(t *testing.T) Publication {
	t.Helper()
	abis := []string{"arm64-v8a", "x86_64"}
	port := curlPort()
	dest := filepath.Join(t.TempDir(), "curl-8.10.1.aar")
	desc, err := packagerFor(t, outRootFor(t, port, abis), abis).Package(PackageRequest{
		Name:         port.Name,
		Version:      port.Version,
		License:      licenseFile(t),
		Modules:      port.Modules,
		Dependencies: map[string]string{"openssl": "3.0.15"},
	}, dest)
	require.NoError(t, err)
	return Publication{Port: port, Aar: dest, Descriptor: desc}
}

func testPublisher(t *testing.T) (*Publisher, *testKey) {
	t.Helper()
	key := newTestKey(t, t.TempDir(), "release")
	pub, err := NewPublisher(filepath.Join(t.TempDir(), "repository"), "", key.private, "")
	require.NoError(t, err)
	pub.now = func() time.Time { return time.Date(2024, 9, 18, 12, 0, 0, 0, time.UTC) }
	return pub, key
}

func TestPublishLayout(t *testing.T) {
	pub, key := testPublisher(t)
	pkg := packagedCurl(t)

	dir, err := pub.Publish(pkg)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(pub.RepoDir, "com", "android", "ndk", "thirdparty", "curl", "8.10.1"), dir)
	assert.NoDirExists(t, dir+".staging")

	keyring := openpgp.EntityList{key.entity}
	for _, name := range []string{"curl-8.10.1.aar", "curl-8.10.1.pom", "curl-8.10.1.module"} {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		require.NoError(t, err, name)

		digests, err := computeDigests(path)
		require.NoError(t, err)
		for _, ext := range []string{"md5", "sha1", "sha256", "sha512"} {
			assert.Equal(t, digests[ext], readFile(t, path+"."+ext), name+"."+ext)
		}

		sig, err := os.ReadFile(path + ".asc")
		require.NoError(t, err)
		_, err = openpgp.CheckArmoredDetachedSignature(keyring, bytes.NewReader(data), bytes.NewReader(sig))
		assert.NoError(t, err, name+".asc")
	}
	assert.Equal(t, readFile(t, pkg.Aar), readFile(t, filepath.Join(dir, "curl-8.10.1.aar")))

	var pom pomProject
	require.NoError(t, xml.Unmarshal([]byte(readFile(t, filepath.Join(dir, "curl-8.10.1.pom"))), &pom))
	assert.Equal(t, defaultGroup, pom.GroupID)
	assert.Equal(t, "curl", pom.ArtifactID)
	assert.Equal(t, "aar", pom.Packaging)
	assert.Equal(t, []pomDependency{{
		GroupID: defaultGroup, ArtifactID: "openssl", Version: "3.0.15", Type: "aar", Scope: "runtime",
	}}, pom.Dependencies)
	require.Len(t, pom.Licenses, 1)
	assert.Equal(t, "The curl License", pom.Licenses[0].Name)

	var module gradleModule
	require.NoError(t, json.Unmarshal([]byte(readFile(t, filepath.Join(dir, "curl-8.10.1.module"))), &module))
	require.Len(t, module.Variants, 2)
	file := module.Variants[0].Files[0]
	assert.Equal(t, "curl-8.10.1.aar", file.Name)
	assert.Equal(t, readFile(t, filepath.Join(dir, "curl-8.10.1.aar.sha256")), file.SHA256)
	assert.Equal(t, "openssl", module.Variants[0].Dependencies[0].Module)
	assert.Equal(t, "3.0.15", module.Variants[0].Dependencies[0].Version["requires"])

	metaPath := filepath.Join(filepath.Dir(dir), "maven-metadata.xml")
	for _, ext := range []string{"", ".md5", ".sha1", ".sha256", ".sha512", ".asc"} {
		assert.FileExists(t, metaPath+ext)
	}
	var meta mavenMetadata
	require.NoError(t, xml.Unmarshal([]byte(readFile(t, metaPath)), &meta))
	assert.Equal(t, []string{"8.10.1"}, meta.Versioning.Versions)
	assert.Equal(t, "20240918120000", meta.Versioning.LastUpdated)
}

func TestPublishMetadataVersionOrder(t *testing.T) {
	pub, _ := testPublisher(t)
	pkg := packagedCurl(t)

	for _, v := range []string{"1.10.0", "2.0.0", "1.9.5", "1.10.0"} {
		desc := *pkg.Descriptor
		desc.Version = v
		_, err := pub.Publish(Publication{Port: pkg.Port, Aar: pkg.Aar, Descriptor: &desc})
		require.NoError(t, err, v)
	}

	var meta mavenMetadata
	require.NoError(t, xml.Unmarshal([]byte(readFile(t, filepath.Join(pub.artifactDir("curl"), "maven-metadata.xml"))), &meta))
	assert.Equal(t, []string{"1.9.5", "1.10.0", "2.0.0"}, meta.Versioning.Versions)
	assert.Equal(t, "2.0.0", meta.Versioning.Latest)
	assert.Equal(t, "2.0.0", meta.Versioning.Release)
}

func TestPublishWithoutKey(t *testing.T) {
	repo := filepath.Join(t.TempDir(), "repository")

	_, err := NewPublisher(repo, "", filepath.Join(t.TempDir(), "missing.asc"), "")
	var se *SigningError
	require.ErrorAs(t, err, &se)

	_, err = NewPublisher(repo, "", "", "")
	require.ErrorAs(t, err, &se)

	pub := &Publisher{RepoDir: repo, Group: defaultGroup}
	_, err = pub.Publish(packagedCurl(t))
	require.ErrorAs(t, err, &se)
	assert.NoDirExists(t, repo)
}

func TestPublishRejectsNonKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.asc")
	writeFile(t, path, "not a key")
	_, err := NewPublisher(t.TempDir(), "", path, "")
	var se *SigningError
	assert.ErrorAs(t, err, &se)
}

func TestPublishCustomGroup(t *testing.T) {
	key := newTestKey(t, t.TempDir(), "release")
	pub, err := NewPublisher(t.TempDir(), "org.example.native", key.private, "")
	require.NoError(t, err)

	dir, err := pub.Publish(packagedCurl(t))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(pub.RepoDir, "org", "example", "native", "curl", "8.10.1"), dir)
}

func TestDistZip(t *testing.T) {
	pub, _ := testPublisher(t)
	dir, err := pub.Publish(packagedCurl(t))
	require.NoError(t, err)

	dest, err := distZip(pub.RepoDir, dir, filepath.Join(t.TempDir(), "dist"), "curl", "8.10.1")
	require.NoError(t, err)
	assert.Equal(t, "curl-8.10.1.zip", filepath.Base(dest))

	entries := zipEntries(t, dest)
	prefix := "com/android/ndk/thirdparty/curl/"
	assert.Contains(t, entries, prefix+"8.10.1/curl-8.10.1.aar")
	assert.Contains(t, entries, prefix+"8.10.1/curl-8.10.1.pom.asc")
	assert.Contains(t, entries, prefix+"maven-metadata.xml")
	assert.Contains(t, entries, prefix+"maven-metadata.xml.sha512")

	_, err = distZip(pub.RepoDir, filepath.Join(filepath.Dir(dir), "9.9.9"), t.TempDir(), "curl", "9.9.9")
	assert.Error(t, err)
}
