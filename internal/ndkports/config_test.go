package ndkports

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearNdkEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"ANDROID_NDK_ROOT", "ANDROID_NDK_HOME", "ANDROID_NDK", "NDKPORTS_NDK"} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig(t *testing.T) {
	clearNdkEnv(t)
	path := filepath.Join(t.TempDir(), "ndkports.conf")
	writeFile(t, path, `# ndkports
NDKPORTS_WORKDIR = "/var/cache/ndkports"
NDKPORTS_JOBS=8
not a setting
NDKPORTS_GROUP='org.example'
`)
	t.Setenv("NDKPORTS_JOBS", "12")

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/cache/ndkports", cfg.Values["NDKPORTS_WORKDIR"])
	assert.Equal(t, "org.example", cfg.Values["NDKPORTS_GROUP"])
	assert.Equal(t, "12", cfg.Values["NDKPORTS_JOBS"], "environment wins")
	assert.NotContains(t, cfg.Values, "not a setting")
}

func TestLoadConfigMissingFile(t *testing.T) {
	clearNdkEnv(t)
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.conf"))
	require.NoError(t, err)
	assert.NotNil(t, cfg.Values)
}

func TestLoadConfigAndroidNdkFallback(t *testing.T) {
	clearNdkEnv(t)
	t.Setenv("ANDROID_NDK_HOME", "/opt/android-ndk")
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.conf"))
	require.NoError(t, err)
	assert.Equal(t, "/opt/android-ndk", cfg.Values["NDKPORTS_NDK"])

	t.Setenv("NDKPORTS_NDK", "/sdk/ndk/26.1.10909125")
	cfg, err = loadConfig(filepath.Join(t.TempDir(), "absent.conf"))
	require.NoError(t, err)
	assert.Equal(t, "/sdk/ndk/26.1.10909125", cfg.Values["NDKPORTS_NDK"])
}

func TestNewSettingsDefaults(t *testing.T) {
	s, err := newSettings(&Config{Values: map[string]string{}})
	require.NoError(t, err)
	assert.Equal(t, "build", s.WorkDir)
	assert.Equal(t, filepath.Join("build", "sources"), s.SourcesDir)
	assert.Equal(t, runtime.NumCPU(), s.Jobs)
	assert.Equal(t, 4, s.AbiJobs)
	assert.Equal(t, defaultGroup, s.Group)
	assert.Equal(t, "adb", s.AdbPath)
	assert.Zero(t, s.BuildTimeout)
	assert.Empty(t, s.Abis)
	assert.False(t, s.Verify)
}

func TestNewSettingsValues(t *testing.T) {
	s, err := newSettings(&Config{Values: map[string]string{
		"NDKPORTS_WORKDIR":       "/work",
		"NDKPORTS_JOBS":          "3",
		"NDKPORTS_ABIS":          "arm64-v8a, x86_64",
		"NDKPORTS_BUILD_TIMEOUT": "45m",
		"NDKPORTS_VERIFY":        "yes",
	}})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/work", "sources"), s.SourcesDir)
	assert.Equal(t, 3, s.Jobs)
	assert.Equal(t, []string{"arm64-v8a", "x86_64"}, s.Abis)
	assert.Equal(t, 45*time.Minute, s.BuildTimeout)
	assert.True(t, s.Verify)
}

func TestNewSettingsRejectsBadValues(t *testing.T) {
	for key, val := range map[string]string{
		"NDKPORTS_JOBS":          "0",
		"NDKPORTS_ABI_JOBS":      "many",
		"NDKPORTS_BUILD_TIMEOUT": "forever",
		"NDKPORTS_ABIS":          "mips",
	} {
		_, err := newSettings(&Config{Values: map[string]string{key: val}})
		assert.ErrorContains(t, err, key)
	}
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ports.yaml")
	writeFile(t, path, `ports:
  curl:
    version: 8.11.0
    minSdk: 24
  zlib:
    abis: [arm64-v8a]
`)
	c, err := LoadCatalog(path)
	require.NoError(t, err)

	ports, err := c.Apply(DefaultPorts())
	require.NoError(t, err)
	set, err := NewPortSet(ports...)
	require.NoError(t, err)

	curl, err := set.Get("curl")
	require.NoError(t, err)
	assert.Equal(t, "8.11.0", curl.Version)
	assert.Equal(t, 24, curl.MinSdk)
	assert.Contains(t, curl.Source().URL, "8.11.0")

	zlib, err := set.Get("zlib")
	require.NoError(t, err)
	assert.Equal(t, []string{"arm64-v8a"}, zlib.Abis)

	assert.Equal(t, "8.10.1", curlPort().Version, "built-in recipes are not modified")
}

func TestLoadCatalogMissingFile(t *testing.T) {
	c, err := LoadCatalog(filepath.Join(t.TempDir(), "ports.yaml"))
	require.NoError(t, err)
	assert.Empty(t, c.Ports)
}

func TestCatalogApplyErrors(t *testing.T) {
	c := &Catalog{Ports: map[string]CatalogEntry{"libfoo": {Version: "1.0"}}}
	_, err := c.Apply(DefaultPorts())
	assert.ErrorContains(t, err, `unknown port "libfoo"`)

	c = &Catalog{Ports: map[string]CatalogEntry{"zlib": {Version: "1.x"}}}
	_, err = c.Apply(DefaultPorts())
	var ive *InvalidVersionError
	assert.ErrorAs(t, err, &ive)

	path := filepath.Join(t.TempDir(), "ports.yaml")
	writeFile(t, path, "ports: [curl\n")
	_, err = LoadCatalog(path)
	assert.ErrorContains(t, err, "failed to parse catalog")
}

func TestCatalogVersionChangeDropsPinnedDigest(t *testing.T) {
	pinned := zlibPort()
	pinned.SHA256 = "9a93b2b7dfdac77ceba5a558a580e74667dd6fede4585b91eefb60f03b72df23"

	ports, err := (&Catalog{Ports: map[string]CatalogEntry{"zlib": {Version: "1.3.1"}}}).Apply([]*Port{pinned})
	require.NoError(t, err)
	assert.Equal(t, pinned.SHA256, ports[0].SHA256)

	ports, err = (&Catalog{Ports: map[string]CatalogEntry{"zlib": {Version: "1.3.2"}}}).Apply([]*Port{pinned})
	require.NoError(t, err)
	assert.Empty(t, ports[0].SHA256)

	ports, err = (&Catalog{Ports: map[string]CatalogEntry{"zlib": {Version: "1.3.2", SHA256: "abc"}}}).Apply([]*Port{pinned})
	require.NoError(t, err)
	assert.Equal(t, "abc", ports[0].SHA256)
}

func TestExportProjectInfo(t *testing.T) {
	set, err := NewPortSet(DefaultPorts()...)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, exportProjectInfo(&buf, set))

	var info struct {
		Include []projectInfo `json:"include"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &info))
	require.Len(t, info.Include, len(DefaultPorts()))
	assert.Equal(t, projectInfo{Name: "blst", Version: "0.3.10", LibName: "blst"}, info.Include[0])
	for i := 1; i < len(info.Include); i++ {
		assert.Less(t, info.Include[i-1].Name, info.Include[i].Name)
	}
}
