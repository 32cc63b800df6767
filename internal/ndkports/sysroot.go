package ndkports

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SysrootKind selects how a port's dependencies are made available to its
// build.
type SysrootKind int

const (
	// SysrootNone: the port builds against the NDK alone.
	SysrootNone SysrootKind = iota
	// SysrootPrefab: dependency AARs are unpacked into a per-ABI sysroot.
	SysrootPrefab
)

func (k SysrootKind) String() string {
	switch k {
	case SysrootNone:
		return "none"
	case SysrootPrefab:
		return "prefab"
	}
	return "unknown"
}

// SysrootGenerator reconstructs <Dir>/<triple>/{include,lib} from packages.
type SysrootGenerator struct {
	Dir  string
	Abis []Abi
}

// PathFor is the sysroot an ABI's build should point at.
func (g *SysrootGenerator) PathFor(abi Abi) string {
	return filepath.Join(g.Dir, abi.Triple)
}

// Generate recreates the sysroot from the given AAR files. Packages are
// merged into one tree per ABI; identical files shared by several modules
// or packages are kept once.
func (g *SysrootGenerator) Generate(aars []string) error {
	if err := os.RemoveAll(g.Dir); err != nil {
		return err
	}
	for _, abi := range g.Abis {
		for _, sub := range []string{"include", "lib"} {
			if err := os.MkdirAll(filepath.Join(g.PathFor(abi), sub), 0o755); err != nil {
				return err
			}
		}
	}
	for _, aar := range aars {
		if err := g.addPackage(aar); err != nil {
			return err
		}
	}
	return nil
}

func (g *SysrootGenerator) addPackage(aar string) error {
	name := strings.TrimSuffix(filepath.Base(aar), ".aar")
	dir := filepath.Join(g.Dir, "packages", name)
	if err := unpackAar(aar, dir); err != nil {
		return &PackageLayoutError{Package: name, Detail: fmt.Sprintf("cannot unpack %s: %v", aar, err)}
	}

	if _, err := os.Stat(filepath.Join(dir, "AndroidManifest.xml")); err != nil {
		return &PackageLayoutError{Package: name, Detail: "AndroidManifest.xml missing"}
	}
	var meta prefabJSON
	if err := readJSON(filepath.Join(dir, "prefab", "prefab.json"), &meta); err != nil {
		return &PackageLayoutError{Package: name, Detail: fmt.Sprintf("prefab/prefab.json: %v", err)}
	}
	if meta.Name != "" {
		name = meta.Name
	}

	modulesDir := filepath.Join(dir, "prefab", "modules")
	modules, err := os.ReadDir(modulesDir)
	if err != nil || len(modules) == 0 {
		return &PackageLayoutError{Package: name, Detail: "no prefab modules"}
	}

	for _, entry := range modules {
		if !entry.IsDir() {
			continue
		}
		moduleDir := filepath.Join(modulesDir, entry.Name())
		var mod moduleJSON
		if err := readJSON(filepath.Join(moduleDir, "module.json"), &mod); err != nil {
			return &PackageLayoutError{Package: name, Detail: fmt.Sprintf("module %s: %v", entry.Name(), err)}
		}
		libName := mod.LibraryName
		if libName == "" {
			libName = "lib" + entry.Name()
		}

		for _, abi := range g.Abis {
			abiDir := filepath.Join(moduleDir, "libs", "android."+abi.Name)
			var info abiJSON
			if err := readJSON(filepath.Join(abiDir, "abi.json"), &info); err != nil {
				return &PackageLayoutError{Package: name, Detail: fmt.Sprintf("module %s has no %s build", entry.Name(), abi.Name)}
			}
			if info.Abi != abi.Name {
				return &PackageLayoutError{Package: name, Detail: fmt.Sprintf("module %s: abi.json for %s names %s", entry.Name(), abi.Name, info.Abi)}
			}
			file := libName + ".so"
			if info.Static {
				file = libName + ".a"
			}
			src := filepath.Join(abiDir, file)
			if _, err := os.Stat(src); err != nil {
				return &PackageLayoutError{Package: name, Detail: fmt.Sprintf("module %s: %s missing for %s", entry.Name(), file, abi.Name)}
			}
			if err := g.place(name, src, filepath.Join(g.PathFor(abi), "lib", file)); err != nil {
				return err
			}

			includeDir := filepath.Join(moduleDir, "include")
			headers, err := listFiles(includeDir)
			if err != nil {
				return err
			}
			for _, h := range headers {
				if err := g.place(name, filepath.Join(includeDir, h), filepath.Join(g.PathFor(abi), "include", h)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// place copies src to dst unless an identical file is already there.
func (g *SysrootGenerator) place(pkg, src, dst string) error {
	if exists(dst) {
		same, err := sameContent(src, dst)
		if err != nil {
			return err
		}
		if same {
			return nil
		}
		rel, _ := filepath.Rel(g.Dir, dst)
		return &PackageLayoutError{Package: pkg, Detail: fmt.Sprintf("%s conflicts with a file from another package", rel)}
	}
	return copyFile(src, dst)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
