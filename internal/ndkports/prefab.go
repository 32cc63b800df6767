package ndkports

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Module is one library a port exports. LibraryName defaults to "lib"+Name.
type Module struct {
	Name        string
	LibraryName string
	Static      bool
	Exports     []ModuleRef
}

func (m Module) libraryName() string {
	if m.LibraryName != "" {
		return m.LibraryName
	}
	return "lib" + m.Name
}

// FileName is the artifact expected under lib/<abi>/.
func (m Module) FileName() string {
	if m.Static {
		return m.libraryName() + ".a"
	}
	return m.libraryName() + ".so"
}

// PackageRequest is everything Packager needs besides the install root.
type PackageRequest struct {
	Name         string
	Version      string
	License      string // path to the license file
	Modules      []Module
	Dependencies map[string]string // package -> version
}

// Packager turns a combined install root (include/, lib/<abi>/) into a
// Prefab AAR.
type Packager struct {
	OutRoot  string
	Abis     []Abi
	MinSdk   int
	NdkMajor int
	Stl      string
}

type prefabJSON struct {
	SchemaVersion int      `json:"schema_version"`
	Name          string   `json:"name"`
	Version       string   `json:"version"`
	Dependencies  []string `json:"dependencies"`
}

type moduleJSON struct {
	ExportLibraries []string `json:"export_libraries"`
	LibraryName     string   `json:"library_name,omitempty"`
}

type abiJSON struct {
	Abi    string `json:"abi"`
	Api    int    `json:"api"`
	Ndk    int    `json:"ndk"`
	Stl    string `json:"stl"`
	Static bool   `json:"static"`
}

const descriptorEntry = "META-INF/ndkports.json"

// Validate checks the version, license and that every module has an
// artifact for every ABI.
func (p *Packager) Validate(req PackageRequest) (Version, error) {
	ver, err := ParseVersion(req.Version)
	if err != nil {
		return Version{}, err
	}
	if len(req.Modules) == 0 {
		return Version{}, &PackageLayoutError{Package: req.Name, Detail: "no modules declared"}
	}
	if info, err := os.Stat(req.License); err != nil || info.IsDir() {
		return Version{}, &PackageLayoutError{Package: req.Name, Detail: fmt.Sprintf("license file %s not found", req.License)}
	}
	for _, m := range req.Modules {
		for _, ref := range m.Exports {
			if _, ok := req.Dependencies[ref.Package]; !ok {
				return Version{}, &PackageLayoutError{Package: req.Name, Detail: fmt.Sprintf("module %s exports %s but %s is not a dependency", m.Name, ref, ref.Package)}
			}
		}
		for _, abi := range p.Abis {
			lib := filepath.Join(p.OutRoot, "lib", abi.Name, m.FileName())
			if _, err := os.Stat(lib); err != nil {
				return Version{}, &MissingModuleError{Module: m.Name, Abi: abi.Name, Path: lib}
			}
		}
	}
	return ver, nil
}

// Descriptor builds the dependency declaration for req.
func (p *Packager) Descriptor(req PackageRequest, ver Version) *PackageDescriptor {
	d := &PackageDescriptor{
		Name:         req.Name,
		Version:      ver.String(),
		MinSdk:       p.MinSdk,
		License:      filepath.Base(req.License),
		Dependencies: map[string]string{},
	}
	for _, abi := range p.Abis {
		d.Abis = append(d.Abis, abi.Name)
	}
	for k, v := range req.Dependencies {
		d.Dependencies[k] = v
	}
	for _, m := range req.Modules {
		d.Modules = append(d.Modules, ModuleDescriptor{
			Name:        m.Name,
			LibraryName: m.libraryName(),
			Static:      m.Static,
			Exports:     append([]ModuleRef(nil), m.Exports...),
		})
	}
	return d
}

// Package validates the install root and writes the AAR to dest.
func (p *Packager) Package(req PackageRequest, dest string) (*PackageDescriptor, error) {
	ver, err := p.Validate(req)
	if err != nil {
		return nil, err
	}
	desc := p.Descriptor(req, ver)

	deps := make([]string, 0, len(req.Dependencies))
	for dep := range req.Dependencies {
		deps = append(deps, dep)
	}
	sort.Strings(deps)

	var entries []zipEntry
	addJSON := func(name string, v any) error {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		entries = append(entries, zipEntry{Name: name, Data: append(data, '\n')})
		return nil
	}

	if err := addJSON("prefab/prefab.json", prefabJSON{
		SchemaVersion: 2,
		Name:          req.Name,
		Version:       ver.String(),
		Dependencies:  deps,
	}); err != nil {
		return nil, err
	}

	headers, err := listFiles(filepath.Join(p.OutRoot, "include"))
	if err != nil {
		return nil, err
	}

	stl := p.Stl
	if stl == "" {
		stl = "none"
	}
	for _, m := range req.Modules {
		base := "prefab/modules/" + m.Name
		exports := make([]string, len(m.Exports))
		for i, ref := range m.Exports {
			exports[i] = ref.String()
		}
		if err := addJSON(base+"/module.json", moduleJSON{ExportLibraries: exports, LibraryName: m.libraryName()}); err != nil {
			return nil, err
		}
		for _, h := range headers {
			entries = append(entries, zipEntry{
				Name:   base + "/include/" + filepath.ToSlash(h),
				Source: filepath.Join(p.OutRoot, "include", h),
			})
		}
		for _, abi := range p.Abis {
			libDir := base + "/libs/android." + abi.Name
			if err := addJSON(libDir+"/abi.json", abiJSON{
				Abi:    abi.Name,
				Api:    p.MinSdk,
				Ndk:    p.NdkMajor,
				Stl:    stl,
				Static: m.Static,
			}); err != nil {
				return nil, err
			}
			entries = append(entries, zipEntry{
				Name:   libDir + "/" + m.FileName(),
				Source: filepath.Join(p.OutRoot, "lib", abi.Name, m.FileName()),
			})
		}
	}

	descData, err := desc.Marshal()
	if err != nil {
		return nil, err
	}
	entries = append(entries,
		zipEntry{Name: "AndroidManifest.xml", Data: []byte(androidManifest(req.Name, p.MinSdk))},
		zipEntry{Name: "META-INF/LICENSE", Source: req.License},
		zipEntry{Name: descriptorEntry, Data: descData},
	)

	if err := writeZip(dest, entries); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", dest, err)
	}
	if err := writeFileAtomic(strings.TrimSuffix(dest, ".aar")+".json", descData, 0o644); err != nil {
		return nil, err
	}
	return desc, nil
}

func androidManifest(name string, minSdk int) string {
	pkg := "com.android.ndk.thirdparty." + strings.NewReplacer("-", "_", ".", "_").Replace(name)
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<manifest xmlns:android="http://schemas.android.com/apk/res/android"
    package="%s"
    android:versionCode="1"
    android:versionName="1.0">

    <uses-sdk
        android:minSdkVersion="%d"
        android:targetSdkVersion="%d" />

</manifest>
`, pkg, minSdk, minSdk)
}

// listFiles returns regular files under root, relative and sorted. A
// missing root yields no files.
func listFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
