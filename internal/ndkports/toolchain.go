package ndkports

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Abi is one Android target architecture.
type Abi struct {
	Name        string // canonical ABI name, e.g. arm64-v8a
	Arch        string // NDK/OpenSSL arch name, e.g. arm64
	Triple      string // binutils/autoconf triple, used for --host and sysroot dirs
	ClangTriple string // clang target triple without the API suffix
	MinApi      int
	Bitness     int
	IsaFlags    []string
	MesonFamily string
	MesonCpu    string
}

var supportedAbis = []Abi{
	{
		Name:        "armeabi-v7a",
		Arch:        "arm",
		Triple:      "arm-linux-androideabi",
		ClangTriple: "armv7a-linux-androideabi",
		MinApi:      21,
		Bitness:     32,
		IsaFlags:    []string{"-march=armv7-a", "-mthumb", "-mfpu=vfpv3-d16", "-mfloat-abi=softfp"},
		MesonFamily: "arm",
		MesonCpu:    "armv7-a",
	},
	{
		Name:        "arm64-v8a",
		Arch:        "arm64",
		Triple:      "aarch64-linux-android",
		ClangTriple: "aarch64-linux-android",
		MinApi:      21,
		Bitness:     64,
		IsaFlags:    []string{"-march=armv8-a"},
		MesonFamily: "aarch64",
		MesonCpu:    "armv8-a",
	},
	{
		Name:        "x86",
		Arch:        "x86",
		Triple:      "i686-linux-android",
		ClangTriple: "i686-linux-android",
		MinApi:      21,
		Bitness:     32,
		IsaFlags:    []string{"-march=i686", "-mssse3", "-mfpmath=sse"},
		MesonFamily: "x86",
		MesonCpu:    "i686",
	},
	{
		Name:        "x86_64",
		Arch:        "x86_64",
		Triple:      "x86_64-linux-android",
		ClangTriple: "x86_64-linux-android",
		MinApi:      21,
		Bitness:     64,
		IsaFlags:    []string{"-march=x86-64", "-msse4.2", "-mpopcnt"},
		MesonFamily: "x86_64",
		MesonCpu:    "x86_64",
	},
}

// AbiNames lists the supported ABI names in canonical order.
func AbiNames() []string {
	names := make([]string, len(supportedAbis))
	for i, abi := range supportedAbis {
		names[i] = abi.Name
	}
	return names
}

// LookupAbi resolves a canonical ABI name.
func LookupAbi(name string) (Abi, error) {
	for _, abi := range supportedAbis {
		if abi.Name == name {
			return abi, nil
		}
	}
	return Abi{}, &UnsupportedArchitectureError{Abi: name}
}

// ParseAbis resolves names, rejecting unknown and duplicate entries. An empty
// list means every supported ABI.
func ParseAbis(names []string) ([]Abi, error) {
	if len(names) == 0 {
		return append([]Abi(nil), supportedAbis...), nil
	}
	seen := make(map[string]bool, len(names))
	abis := make([]Abi, 0, len(names))
	for _, name := range names {
		abi, err := LookupAbi(name)
		if err != nil {
			return nil, err
		}
		if seen[name] {
			return nil, fmt.Errorf("ABI %s listed twice", name)
		}
		seen[name] = true
		abis = append(abis, abi)
	}
	return abis, nil
}

// Toolchain is the resolved set of NDK tools for one ABI and API level.
// It is immutable once created.
type Toolchain struct {
	Abi                Abi
	Api                int
	NdkPath            string
	NdkMajor           int
	BinDir             string
	Sysroot            string
	CMakeToolchainFile string
	Clang              string
	ClangXX            string
	Assembler          string
	Ar                 string
	Linker             string
	Ranlib             string
	Strip              string
	CFlags             []string
	LDFlags            []string
}

// Toolchain resolves the tools for abi at the given API level. It only
// stats files and is safe to call concurrently.
func (n *Ndk) Toolchain(abi Abi, api int) (*Toolchain, error) {
	if _, err := LookupAbi(abi.Name); err != nil {
		return nil, err
	}
	if api < abi.MinApi {
		api = abi.MinApi
	}
	bin := n.BinDir()
	clangPrefix := fmt.Sprintf("%s%d", abi.ClangTriple, api)

	tc := &Toolchain{
		Abi:                abi,
		Api:                api,
		NdkPath:            n.Path,
		NdkMajor:           n.Version.Major,
		BinDir:             bin,
		Sysroot:            n.SysrootDir(),
		CMakeToolchainFile: n.CMakeToolchainFile(),
		Clang:              filepath.Join(bin, clangPrefix+"-clang"),
		ClangXX:            filepath.Join(bin, clangPrefix+"-clang++"),
		Ar:                 filepath.Join(bin, "llvm-ar"),
		Linker:             filepath.Join(bin, "ld.lld"),
		Ranlib:             filepath.Join(bin, "llvm-ranlib"),
		Strip:              filepath.Join(bin, "llvm-strip"),
		CFlags:             append([]string{"-fPIC"}, abi.IsaFlags...),
		LDFlags:            []string{"-Wl,-z,max-page-size=16384"},
	}
	// The NDK has no separate assembler; the clang driver assembles .S files.
	tc.Assembler = tc.Clang

	checks := []struct{ tool, path string }{
		{"clang", tc.Clang},
		{"clang++", tc.ClangXX},
		{"archiver", tc.Ar},
		{"linker", tc.Linker},
		{"ranlib", tc.Ranlib},
		{"strip", tc.Strip},
		{"sysroot", tc.Sysroot},
		{"cmake toolchain file", tc.CMakeToolchainFile},
	}
	for _, c := range checks {
		if _, err := os.Stat(c.path); err != nil {
			return nil, &ToolchainNotFoundError{Abi: abi.Name, Tool: c.tool, Path: c.path}
		}
	}
	return tc, nil
}

// PathEnv prepends the NDK bin directory to the current PATH.
func (t *Toolchain) PathEnv() string {
	if p := os.Getenv("PATH"); p != "" {
		return t.BinDir + string(os.PathListSeparator) + p
	}
	return t.BinDir
}

// Env is the environment autoconf-style builds expect.
func (t *Toolchain) Env() map[string]string {
	return map[string]string{
		"CC":               t.Clang,
		"CXX":              t.ClangXX,
		"AS":               t.Assembler,
		"AR":               t.Ar,
		"LD":               t.Linker,
		"RANLIB":           t.Ranlib,
		"STRIP":            t.Strip,
		"PATH":             t.PathEnv(),
		"CFLAGS":           strings.Join(t.CFlags, " "),
		"CXXFLAGS":         strings.Join(t.CFlags, " "),
		"LDFLAGS":          strings.Join(t.LDFlags, " "),
		"ANDROID_NDK_ROOT": t.NdkPath,
	}
}

// mergeEnv overlays overrides onto base (KEY=VALUE form). Later keys win.
// The result is sorted by key so command logs are stable.
func mergeEnv(base []string, overrides ...map[string]string) []string {
	merged := make(map[string]string, len(base))
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok {
			merged[k] = v
		}
	}
	for _, o := range overrides {
		for k, v := range o {
			merged[k] = v
		}
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+merged[k])
	}
	return env
}
