package ndkports

import (
	"fmt"
	"sort"
	"strings"
)

// Port is the declarative recipe for one third-party library.
type Port struct {
	Name        string
	Version     string
	LibName     string // display name, e.g. "OpenSSL"
	Description string

	URL               func(version string) string
	ChecksumURL       func(version string) string
	SignatureURL      func(version string) string
	SHA256            string
	SignerFingerprint string

	Patches     []Patch
	Builder     BuildStrategy
	PostInstall []FileOp

	Modules      []Module
	Dependencies []string

	License     string // path of the license file inside the source tree
	LicenseName string
	LicenseURL  string
	ScmURL      string

	MinSdk  int
	Abis    []string // empty means every supported ABI
	Stl     string
	Sysroot SysrootKind
	Verify  *VerifySpec
}

// Source is the fetch request for the port's configured version.
func (p *Port) Source() SourceRequest {
	req := SourceRequest{
		URL:               p.URL(p.Version),
		Version:           p.Version,
		SHA256:            p.SHA256,
		SignerFingerprint: p.SignerFingerprint,
	}
	if p.ChecksumURL != nil {
		req.ChecksumURL = p.ChecksumURL(p.Version)
	}
	if p.SignatureURL != nil {
		req.SignatureURL = p.SignatureURL(p.Version)
	}
	return req
}

// Validate checks the recipe itself, independent of any build.
func (p *Port) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("port without a name")
	}
	if p.URL == nil {
		return fmt.Errorf("port %s: no source URL", p.Name)
	}
	if p.Builder == nil {
		return fmt.Errorf("port %s: no builder", p.Name)
	}
	if _, err := ParseVersion(p.Version); err != nil {
		return fmt.Errorf("port %s: %w", p.Name, err)
	}
	if len(p.Modules) == 0 {
		return fmt.Errorf("port %s: no modules", p.Name)
	}
	if _, err := ParseAbis(p.Abis); err != nil {
		return fmt.Errorf("port %s: %w", p.Name, err)
	}
	deps := make(map[string]bool, len(p.Dependencies))
	for _, d := range p.Dependencies {
		deps[d] = true
	}
	for _, m := range p.Modules {
		for _, ref := range m.Exports {
			if !deps[ref.Package] {
				return fmt.Errorf("port %s: module %s exports %s but %s is not a dependency", p.Name, m.Name, ref, ref.Package)
			}
		}
	}
	if p.Sysroot == SysrootNone && len(p.Dependencies) > 0 {
		return fmt.Errorf("port %s: has dependencies but no sysroot", p.Name)
	}
	return nil
}

func (p *Port) minSdk() int {
	if p.MinSdk > 0 {
		return p.MinSdk
	}
	return defaultMinSdk
}

const defaultMinSdk = 21

// PortSet is an ordered, name-indexed collection of ports.
type PortSet struct {
	byName map[string]*Port
}

func NewPortSet(ports ...*Port) (*PortSet, error) {
	s := &PortSet{byName: make(map[string]*Port, len(ports))}
	for _, p := range ports {
		if _, dup := s.byName[p.Name]; dup {
			return nil, fmt.Errorf("duplicate port %s", p.Name)
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		s.byName[p.Name] = p
	}
	return s, nil
}

func (s *PortSet) Get(name string) (*Port, error) {
	p, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown port %q (known: %s)", name, strings.Join(s.Names(), ", "))
	}
	return p, nil
}

// Names returns every port name, sorted.
func (s *PortSet) Names() []string {
	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Graph builds the dependency graph of the set.
func (s *PortSet) Graph() (*Graph, error) {
	deps := make(map[string][]string, len(s.byName))
	for name, p := range s.byName {
		deps[name] = p.Dependencies
	}
	return NewGraph(deps)
}

// DefaultPorts is the built-in catalog.
func DefaultPorts() []*Port {
	return []*Port{
		blstPort(),
		curlPort(),
		gmpPort(),
		jsoncppPort(),
		libpngPort(),
		opensslPort(),
		sodiumPort(),
		utf8procPort(),
		zlibPort(),
	}
}

func blstPort() *Port {
	return &Port{
		Name:        "blst",
		Version:     "0.3.10",
		LibName:     "blst",
		Description: "Multilingual BLS12-381 signature library",
		URL: func(v string) string {
			return "https://github.com/supranational/blst/archive/refs/tags/v" + v + ".tar.gz"
		},
		Builder: &AdHocBuilder{
			InTree:       true,
			ToolchainEnv: true,
			Files: func(bc *BuildContext) map[string]string {
				return map[string]string{
					"build/version.script": "{ global: blst_*; BLS12_381_*; local: *; };\n",
				}
			},
			Steps: func(bc *BuildContext) []Command {
				lib := bc.InstallDir + "/lib"
				inc := bc.InstallDir + "/include/blst"
				args := []string{bc.Toolchain.Clang, "-shared", "-Wl,-soname,libblst.so", "-o", lib + "/libblst.so"}
				args = append(args, bc.Toolchain.CFlags...)
				args = append(args,
					"-O", "-fno-builtin", "-Wall", "-Wextra", "-Wno-error=array-parameter",
					"-Wl,-Bsymbolic", "-Wl,--version-script=build/version.script",
					"src/server.c", "build/assembly.S")
				return []Command{
					{Args: []string{"mkdir", "-p", lib, inc}},
					{Args: []string{"cp", "bindings/blst.h", "bindings/blst_aux.h", "bindings/blst.hpp", inc + "/"}},
					{Args: args},
				}
			},
		},
		Modules:     []Module{{Name: "blst"}},
		License:     "LICENSE",
		LicenseName: "Apache License, Version 2.0",
		LicenseURL:  "https://github.com/supranational/blst/blob/master/LICENSE",
		ScmURL:      "https://github.com/supranational/blst",
	}
}

func curlPort() *Port {
	return &Port{
		Name:        "curl",
		Version:     "8.10.1",
		LibName:     "curl",
		Description: "Library for transferring data with URLs",
		URL: func(v string) string {
			return fmt.Sprintf("https://github.com/curl/curl/releases/download/curl-%s/curl-%s.tar.gz",
				strings.ReplaceAll(v, ".", "_"), v)
		},
		Builder: &AutoconfBuilder{
			Args: func(bc *BuildContext) []string {
				return []string{
					"--disable-ntlm-wb",
					"--enable-ipv6",
					"--with-zlib",
					"--with-ca-path=/system/etc/security/cacerts",
					"--with-ssl=" + bc.Sysroot,
					"--without-libpsl",
				}
			},
		},
		Modules: []Module{{
			Name:    "curl",
			Exports: []ModuleRef{Ref("openssl", "crypto"), Ref("openssl", "ssl")},
		}},
		Dependencies: []string{"openssl"},
		Sysroot:      SysrootPrefab,
		License:      "COPYING",
		LicenseName:  "The curl License",
		LicenseURL:   "https://curl.haxx.se/docs/copyright.html",
		ScmURL:       "https://github.com/curl/curl",
	}
}

func gmpPort() *Port {
	return &Port{
		Name:        "gmp",
		Version:     "6.3.0",
		LibName:     "GMP",
		Description: "GNU multiple precision arithmetic library",
		URL: func(v string) string {
			return "https://gmplib.org/download/gmp/gmp-" + v + ".tar.xz"
		},
		Builder: &AutoconfBuilder{
			Args: Options("--disable-static", "--enable-shared", "--enable-cxx"),
		},
		Modules:     []Module{{Name: "gmp"}, {Name: "gmpxx"}},
		Stl:         "c++_shared",
		License:     "COPYING",
		LicenseName: "GNU General Public License, Version 3",
		LicenseURL:  "https://www.gnu.org/licenses/gpl-3.0.txt",
		ScmURL:      "https://gmplib.org/repo/gmp",
	}
}

func jsoncppPort() *Port {
	return &Port{
		Name:        "jsoncpp",
		Version:     "1.9.5",
		LibName:     "JsonCpp",
		Description: "C++ library for interacting with JSON",
		URL: func(v string) string {
			return "https://github.com/open-source-parsers/jsoncpp/archive/refs/tags/" + v + ".tar.gz"
		},
		// The top-level "version" file shadows the C++ <version> header.
		Patches: []Patch{DeletePatch{Path: "version"}},
		Builder: &MesonBuilder{
			Args: Options("-Dtests=false"),
		},
		Modules:     []Module{{Name: "jsoncpp"}},
		Stl:         "c++_shared",
		License:     "LICENSE",
		LicenseName: "The JsonCpp License",
		LicenseURL:  "https://github.com/open-source-parsers/jsoncpp/blob/master/LICENSE",
		ScmURL:      "https://github.com/open-source-parsers/jsoncpp",
	}
}

func libpngPort() *Port {
	return &Port{
		Name:        "libpng",
		Version:     "1.6.44",
		LibName:     "libpng",
		Description: "Official PNG reference library",
		URL: func(v string) string {
			return fmt.Sprintf("https://downloads.sourceforge.net/project/libpng/libpng16/%s/libpng-%s.tar.xz", v, v)
		},
		Builder: &CMakeBuilder{
			Args: func(bc *BuildContext) []string {
				return []string{
					"-DPNG_SHARED=ON",
					"-DPNG_STATIC=OFF",
					"-DPNG_TESTS=OFF",
					"-DPNG_EXECUTABLES=OFF",
					"-DZLIB_ROOT=" + bc.Sysroot,
				}
			},
		},
		// libpng.so is a symlink to libpng16.so; package the real library
		// only.
		PostInstall: []FileOp{DeleteIfExists{Path: "lib/libpng.so"}},
		Modules: []Module{{
			Name:    "png16",
			Exports: []ModuleRef{Ref("zlib", "z")},
		}},
		Dependencies: []string{"zlib"},
		Sysroot:      SysrootPrefab,
		License:      "LICENSE",
		LicenseName:  "libpng License",
		LicenseURL:   "http://www.libpng.org/pub/png/src/libpng-LICENSE.txt",
		ScmURL:       "https://github.com/pnggroup/libpng",
	}
}

const opensslSigner = "BA5473A2B0587B07FB27CF2D216094DFD0CB81EF"

func opensslPort() *Port {
	release := func(v string) string {
		return fmt.Sprintf("https://github.com/openssl/openssl/releases/download/openssl-%s/openssl-%s.tar.gz", v, v)
	}
	return &Port{
		Name:        "openssl",
		Version:     "3.0.15",
		LibName:     "OpenSSL",
		Description: "TLS/SSL and crypto library",
		URL:         release,
		ChecksumURL: func(v string) string {
			return release(v) + ".sha256"
		},
		SignatureURL: func(v string) string {
			return release(v) + ".asc"
		},
		SignerFingerprint: opensslSigner,
		Builder: &AdHocBuilder{
			Steps: func(bc *BuildContext) []Command {
				return []Command{
					{Args: []string{
						bc.SourceDir + "/Configure",
						"android-" + bc.Abi().Arch,
						fmt.Sprintf("-D__ANDROID_API__=%d", bc.Toolchain.Api),
						"--prefix=" + bc.InstallDir,
						"--openssldir=" + bc.InstallDir,
						"--libdir=lib",
						"no-sctp",
						"shared",
					}},
					{Args: []string{"make", bc.JobsFlag(), "SHLIB_EXT=.so"}},
					{Args: []string{"make", "install_sw", "SHLIB_EXT=.so"}},
				}
			},
		},
		Modules:     []Module{{Name: "crypto"}, {Name: "ssl"}},
		License:     "LICENSE.txt",
		LicenseName: "Apache License, Version 2.0",
		LicenseURL:  "https://www.openssl.org/source/license.html",
		ScmURL:      "https://github.com/openssl/openssl",
		Verify: &VerifySpec{
			Executable: "bin/openssl",
			Args:       []string{"version"},
		},
	}
}

var sodiumCFlags = map[string]string{
	"armeabi-v7a": "-Os -mfloat-abi=softfp -mfpu=vfpv3-d16 -mthumb -marm -march=armv7-a",
	"arm64-v8a":   "-Os -march=armv8-a+crypto",
	"x86":         "-Os -march=i686",
	"x86_64":      "-Os -march=westmere",
}

// sodiumPort builds libsodium twice from one tree: the minimal variant into
// <install>/minimal, then the full library into <install>. PostInstall
// renames the extra artifacts into the four published modules.
func sodiumPort() *Port {
	return &Port{
		Name:        "sodium",
		Version:     "1.0.20",
		LibName:     "libsodium",
		Description: "Portable fork of NaCl",
		URL: func(v string) string {
			return "https://download.libsodium.org/libsodium/releases/libsodium-" + v + ".tar.gz"
		},
		Builder: &AdHocBuilder{
			InTree:       true,
			ToolchainEnv: true,
			Steps: func(bc *BuildContext) []Command {
				env := map[string]string{"CFLAGS": sodiumCFlags[bc.Abi().Name]}
				configure := func(prefix string, extra ...string) Command {
					args := []string{
						"./configure",
						"--host=" + bc.Abi().Triple,
						"--prefix=" + prefix,
						"--with-sysroot=" + bc.Toolchain.Sysroot,
						"--disable-soname-versions",
						"--disable-pie",
					}
					return Command{Args: append(args, extra...), Env: env}
				}
				full := map[string]string{"CFLAGS": env["CFLAGS"], "LIBSODIUM_FULL_BUILD": "1"}
				fullConfigure := configure(bc.InstallDir)
				fullConfigure.Env = full
				return []Command{
					configure(bc.InstallDir+"/minimal", "--enable-minimal"),
					{Args: []string{"make", bc.JobsFlag()}, Env: env},
					{Args: []string{"make", "install"}, Env: env},
					{Args: []string{"make", "distclean"}},
					fullConfigure,
					{Args: []string{"make", bc.JobsFlag()}, Env: full},
					{Args: []string{"make", "install"}, Env: full},
				}
			},
		},
		PostInstall: []FileOp{
			Copy{From: "minimal/lib/libsodium.so", To: "lib/libsodium-minimal.so"},
			Copy{From: "minimal/lib/libsodium.a", To: "lib/libsodium-minimal-static.a"},
			Copy{From: "lib/libsodium.a", To: "lib/libsodium-static.a"},
			DeleteIfExists{Path: "minimal"},
		},
		Modules: []Module{
			{Name: "sodium"},
			{Name: "sodium-static", LibraryName: "libsodium-static", Static: true},
			{Name: "sodium-minimal", LibraryName: "libsodium-minimal"},
			{Name: "sodium-minimal-static", LibraryName: "libsodium-minimal-static", Static: true},
		},
		License:     "LICENSE",
		LicenseName: "ISC License",
		LicenseURL:  "https://github.com/jedisct1/libsodium/blob/master/LICENSE",
		ScmURL:      "https://github.com/jedisct1/libsodium",
	}
}

func utf8procPort() *Port {
	return &Port{
		Name:        "utf8proc",
		Version:     "2.9.0",
		LibName:     "utf8proc",
		Description: "Small C library for processing UTF-8 encoded data",
		URL: func(v string) string {
			return "https://github.com/JuliaStrings/utf8proc/archive/refs/tags/v" + v + ".tar.gz"
		},
		Builder: &CMakeBuilder{
			Args: Options("-DBUILD_SHARED_LIBS=ON"),
		},
		Modules:     []Module{{Name: "utf8proc"}},
		License:     "LICENSE.md",
		LicenseName: "MIT License",
		LicenseURL:  "https://github.com/JuliaStrings/utf8proc/blob/master/LICENSE.md",
		ScmURL:      "https://github.com/JuliaStrings/utf8proc",
	}
}

func zlibPort() *Port {
	return &Port{
		Name:        "zlib",
		Version:     "1.3.1",
		LibName:     "zlib",
		Description: "General purpose data compression library",
		URL: func(v string) string {
			return "https://zlib.net/fossils/zlib-" + v + ".tar.gz"
		},
		Builder:     &CMakeBuilder{},
		Modules:     []Module{{Name: "z"}},
		License:     "LICENSE",
		LicenseName: "zlib License",
		LicenseURL:  "https://zlib.net/zlib_license.html",
		ScmURL:      "https://github.com/madler/zlib",
	}
}
