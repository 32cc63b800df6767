package ndkports

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Config holds raw KEY=VALUE settings from the config file and environment.
type Config struct {
	Values map[string]string
}

// Load the config file (missing file is not an error) and apply NDKPORTS_* env overrides
func loadConfig(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			val = strings.Trim(val, `"'`)
			cfg.Values[key] = val
		}
		if err := scanner.Err(); err != nil {
			return cfg, err
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("failed to open config %s: %w", path, err)
	}

	mergeEnvOverrides(cfg)
	return cfg, nil
}

// Merge NDKPORTS_* and R2_* env overrides
func mergeEnvOverrides(cfg *Config) {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "NDKPORTS_") || strings.HasPrefix(env, "R2_") {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				cfg.Values[parts[0]] = parts[1]
			}
		}
	}

	// Honor the NDK location most Android tooling exports, without
	// overriding an explicit setting.
	if _, ok := cfg.Values["NDKPORTS_NDK"]; !ok {
		for _, key := range []string{"ANDROID_NDK_ROOT", "ANDROID_NDK_HOME", "ANDROID_NDK"} {
			if v := os.Getenv(key); v != "" {
				cfg.Values["NDKPORTS_NDK"] = v
				break
			}
		}
	}
}

// Settings is the typed, read-only view of a Config. It is derived once at
// startup and shared by every pipeline.
type Settings struct {
	NdkPath         string
	WorkDir         string
	SourcesDir      string
	CatalogPath     string
	KeyringPath     string
	Jobs            int
	AbiJobs         int
	Abis            []string
	BuildTimeout    time.Duration
	Verify          bool
	SigningKey      string
	SigningPassword string
	IndexKey        string
	Group           string
	AdbPath         string
	AdbSerial       string
	LogFormat       string
}

func newSettings(cfg *Config) (*Settings, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(cfg.Values[key]); v != "" {
			return v
		}
		return def
	}

	s := &Settings{
		NdkPath:         get("NDKPORTS_NDK", ""),
		WorkDir:         get("NDKPORTS_WORKDIR", "build"),
		CatalogPath:     get("NDKPORTS_CATALOG", "ports.yaml"),
		KeyringPath:     get("NDKPORTS_KEYRING", "/etc/ndkports/trusted.asc"),
		SigningKey:      get("NDKPORTS_SIGNING_KEY", ""),
		SigningPassword: cfg.Values["NDKPORTS_SIGNING_PASSWORD"],
		IndexKey:        get("NDKPORTS_INDEX_KEY", ""),
		Group:           get("NDKPORTS_GROUP", defaultGroup),
		AdbPath:         get("NDKPORTS_ADB", "adb"),
		AdbSerial:       get("NDKPORTS_ADB_SERIAL", ""),
		LogFormat:       get("NDKPORTS_LOG_FORMAT", "text"),
	}
	s.SourcesDir = get("NDKPORTS_SOURCES", filepath.Join(s.WorkDir, "sources"))

	var err error
	if s.Jobs, err = positiveInt(get("NDKPORTS_JOBS", strconv.Itoa(runtime.NumCPU()))); err != nil {
		return nil, fmt.Errorf("NDKPORTS_JOBS: %w", err)
	}
	if s.AbiJobs, err = positiveInt(get("NDKPORTS_ABI_JOBS", "4")); err != nil {
		return nil, fmt.Errorf("NDKPORTS_ABI_JOBS: %w", err)
	}
	if raw := get("NDKPORTS_BUILD_TIMEOUT", ""); raw != "" {
		if s.BuildTimeout, err = time.ParseDuration(raw); err != nil {
			return nil, fmt.Errorf("NDKPORTS_BUILD_TIMEOUT: %w", err)
		}
	}
	if raw := get("NDKPORTS_ABIS", ""); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				s.Abis = append(s.Abis, name)
			}
		}
		if _, err := ParseAbis(s.Abis); err != nil {
			return nil, fmt.Errorf("NDKPORTS_ABIS: %w", err)
		}
	}
	s.Verify = isTrue(cfg.Values["NDKPORTS_VERIFY"])
	if isTrue(cfg.Values["NDKPORTS_DEBUG"]) {
		Debug = true
	}
	return s, nil
}

func positiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("must be at least 1, got %d", n)
	}
	return n, nil
}

func isTrue(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
