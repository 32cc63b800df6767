package ndkports

import (
	"encoding/json"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// outRootFor lays out a combined install root with every module of port
// built for abis, plus one header.
func outRootFor(t *testing.T, port *Port, abis []string) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "include", port.Name+".h"), "/* "+port.Name+" */\n")
	for _, abi := range abis {
		for _, m := range port.Modules {
			writeFile(t, filepath.Join(root, "lib", abi, m.FileName()), m.Name+" for "+abi)
		}
	}
	return root
}

func packagerFor(t *testing.T, root string, abis []string) *Packager {
	t.Helper()
	parsed, err := ParseAbis(abis)
	require.NoError(t, err)
	return &Packager{OutRoot: root, Abis: parsed, MinSdk: 21, NdkMajor: 26}
}

func licenseFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "LICENSE")
	writeFile(t, path, "Permission is hereby granted\n")
	return path
}

func zipEntries(t *testing.T, path string) map[string]string {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()
	out := map[string]string{}
	for _, f := range r.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		out[f.Name] = string(data)
	}
	return out
}

func TestPackageUtf8procTwoAbis(t *testing.T) {
	abis := []string{"arm64-v8a", "armeabi-v7a"}
	port := utf8procPort()
	root := outRootFor(t, port, abis)
	dest := filepath.Join(t.TempDir(), "utf8proc-2.9.0.aar")

	desc, err := packagerFor(t, root, abis).Package(PackageRequest{
		Name:    port.Name,
		Version: port.Version,
		License: licenseFile(t),
		Modules: port.Modules,
	}, dest)
	require.NoError(t, err)

	assert.Equal(t, "2.9.0", desc.Version)
	assert.Empty(t, desc.DependencyEntries())
	assert.Empty(t, desc.Dependencies)

	entries := zipEntries(t, dest)
	var libs []string
	for name := range entries {
		if strings.HasSuffix(name, ".so") {
			libs = append(libs, name)
		}
	}
	sort.Strings(libs)
	assert.Equal(t, []string{
		"prefab/modules/utf8proc/libs/android.arm64-v8a/libutf8proc.so",
		"prefab/modules/utf8proc/libs/android.armeabi-v7a/libutf8proc.so",
	}, libs)
	assert.Equal(t, "utf8proc for arm64-v8a", entries[libs[0]])
	assert.Equal(t, "Permission is hereby granted\n", entries["META-INF/LICENSE"])
	assert.Contains(t, entries, "AndroidManifest.xml")
	assert.Contains(t, entries, "prefab/modules/utf8proc/include/utf8proc.h")

	var prefab prefabJSON
	require.NoError(t, json.Unmarshal([]byte(entries["prefab/prefab.json"]), &prefab))
	assert.Equal(t, 2, prefab.SchemaVersion)
	assert.Equal(t, "utf8proc", prefab.Name)
	assert.Empty(t, prefab.Dependencies)

	var abi abiJSON
	require.NoError(t, json.Unmarshal([]byte(entries["prefab/modules/utf8proc/libs/android.arm64-v8a/abi.json"]), &abi))
	assert.Equal(t, abiJSON{Abi: "arm64-v8a", Api: 21, Ndk: 26, Stl: "none"}, abi)

	// The descriptor is shipped inside the package and next to it.
	inner, err := ParseDescriptor([]byte(entries[descriptorEntry]))
	require.NoError(t, err)
	outer, err := ParseDescriptor([]byte(readFile(t, strings.TrimSuffix(dest, ".aar")+".json")))
	require.NoError(t, err)
	assert.Equal(t, inner, outer)
}

func TestPackageCurlRecordsOpenSSLModules(t *testing.T) {
	abis := []string{"arm64-v8a", "x86_64"}
	port := curlPort()
	root := outRootFor(t, port, abis)
	dest := filepath.Join(t.TempDir(), "curl-8.10.1.aar")

	desc, err := packagerFor(t, root, abis).Package(PackageRequest{
		Name:         port.Name,
		Version:      port.Version,
		License:      licenseFile(t),
		Modules:      port.Modules,
		Dependencies: map[string]string{"openssl": "3.0.15"},
	}, dest)
	require.NoError(t, err)

	assert.Equal(t, []DependencyEntry{
		{Module: "curl", Ref: Ref("openssl", "crypto"), Version: "3.0.15"},
		{Module: "curl", Ref: Ref("openssl", "ssl"), Version: "3.0.15"},
	}, desc.DependencyEntries())

	entries := zipEntries(t, dest)
	var mod moduleJSON
	require.NoError(t, json.Unmarshal([]byte(entries["prefab/modules/curl/module.json"]), &mod))
	assert.Equal(t, []string{"//openssl:crypto", "//openssl:ssl"}, mod.ExportLibraries)

	var prefab prefabJSON
	require.NoError(t, json.Unmarshal([]byte(entries["prefab/prefab.json"]), &prefab))
	assert.Equal(t, []string{"openssl"}, prefab.Dependencies)
}

func TestPackageMissingModule(t *testing.T) {
	abis := []string{"arm64-v8a", "x86"}
	port := opensslPort()
	root := outRootFor(t, port, []string{"arm64-v8a"})

	_, err := packagerFor(t, root, abis).Package(PackageRequest{
		Name:    port.Name,
		Version: port.Version,
		License: licenseFile(t),
		Modules: port.Modules,
	}, filepath.Join(t.TempDir(), "openssl.aar"))

	var mme *MissingModuleError
	require.ErrorAs(t, err, &mme)
	assert.Equal(t, "crypto", mme.Module)
	assert.Equal(t, "x86", mme.Abi)
}

func TestPackageStaticModules(t *testing.T) {
	abis := []string{"x86_64"}
	port := sodiumPort()
	root := outRootFor(t, port, abis)
	dest := filepath.Join(t.TempDir(), "sodium.aar")

	_, err := packagerFor(t, root, abis).Package(PackageRequest{
		Name: port.Name, Version: port.Version, License: licenseFile(t), Modules: port.Modules,
	}, dest)
	require.NoError(t, err)

	entries := zipEntries(t, dest)
	assert.Contains(t, entries, "prefab/modules/sodium-static/libs/android.x86_64/libsodium-static.a")
	assert.Contains(t, entries, "prefab/modules/sodium-minimal/libs/android.x86_64/libsodium-minimal.so")
	var abi abiJSON
	require.NoError(t, json.Unmarshal([]byte(entries["prefab/modules/sodium-minimal-static/libs/android.x86_64/abi.json"]), &abi))
	assert.True(t, abi.Static)
}

func TestPackageRejectsBadInputs(t *testing.T) {
	abis := []string{"x86"}
	port := zlibPort()
	root := outRootFor(t, port, abis)
	p := packagerFor(t, root, abis)
	dest := filepath.Join(t.TempDir(), "zlib.aar")

	_, err := p.Package(PackageRequest{Name: "zlib", Version: "1.3-beta", License: licenseFile(t), Modules: port.Modules}, dest)
	var ive *InvalidVersionError
	assert.ErrorAs(t, err, &ive)

	_, err = p.Package(PackageRequest{Name: "zlib", Version: "1.3.1", License: "/nonexistent/LICENSE", Modules: port.Modules}, dest)
	var ple *PackageLayoutError
	assert.ErrorAs(t, err, &ple)

	assert.NoFileExists(t, dest)
}

func TestDescriptorRoundTrip(t *testing.T) {
	abis := []string{"arm64-v8a", "armeabi-v7a", "x86", "x86_64"}
	parsed, err := ParseAbis(abis)
	require.NoError(t, err)
	p := &Packager{Abis: parsed, MinSdk: 21}

	ver := mustVersion(t, "8.10.1")
	orig := p.Descriptor(PackageRequest{
		Name:         "curl",
		Version:      "8.10.1",
		License:      "/src/COPYING",
		Modules:      curlPort().Modules,
		Dependencies: map[string]string{"openssl": "3.0.15"},
	}, ver)

	data, err := orig.Marshal()
	require.NoError(t, err)
	back, err := ParseDescriptor(data)
	require.NoError(t, err)

	assert.Equal(t, orig, back)
	assert.Equal(t, orig.DependencyEntries(), back.DependencyEntries())
	assert.Equal(t, "COPYING", back.License)
}

func TestParseModuleRef(t *testing.T) {
	ref, err := ParseModuleRef("//openssl:crypto")
	require.NoError(t, err)
	assert.Equal(t, Ref("openssl", "crypto"), ref)

	ref, err = ParseModuleRef("zlib:z")
	require.NoError(t, err)
	assert.Equal(t, "//zlib:z", ref.String())

	for _, bad := range []string{"", "openssl", "//:crypto", "//openssl:", "//a/b:c"} {
		_, err := ParseModuleRef(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseDescriptorRejectsInvalid(t *testing.T) {
	_, err := ParseDescriptor([]byte(`{"name":"x","version":"one"}`))
	var ive *InvalidVersionError
	assert.ErrorAs(t, err, &ive)

	_, err = ParseDescriptor([]byte(`{"version":"1.0"}`))
	assert.Error(t, err)

	_, err = ParseDescriptor([]byte(`{"name":"x","version":"1.0","modules":[{"name":"m","export_libraries":["bogus"]}]}`))
	assert.Error(t, err)
}
