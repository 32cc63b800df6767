package ndkports

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ModuleRef names a module of another package, written "//package:module".
type ModuleRef struct {
	Package string
	Module  string
}

// Ref is a shorthand constructor.
func Ref(pkg, module string) ModuleRef {
	return ModuleRef{Package: pkg, Module: module}
}

func (r ModuleRef) String() string {
	return "//" + r.Package + ":" + r.Module
}

// ParseModuleRef parses "//package:module". The leading slashes are optional.
func ParseModuleRef(s string) (ModuleRef, error) {
	pkg, mod, ok := strings.Cut(strings.TrimPrefix(s, "//"), ":")
	if !ok || pkg == "" || mod == "" || strings.ContainsAny(pkg+mod, "/: ") {
		return ModuleRef{}, fmt.Errorf("invalid module reference %q", s)
	}
	return ModuleRef{Package: pkg, Module: mod}, nil
}

func (r ModuleRef) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *ModuleRef) UnmarshalText(b []byte) error {
	ref, err := ParseModuleRef(string(b))
	if err != nil {
		return err
	}
	*r = ref
	return nil
}

// ModuleDescriptor is one packaged library.
type ModuleDescriptor struct {
	Name        string      `json:"name"`
	LibraryName string      `json:"library_name"`
	Static      bool        `json:"static"`
	Exports     []ModuleRef `json:"export_libraries"`
}

// PackageDescriptor is the machine-readable dependency declaration shipped
// in and next to every package.
type PackageDescriptor struct {
	Name         string             `json:"name"`
	Version      string             `json:"version"`
	MinSdk       int                `json:"min_sdk"`
	Abis         []string           `json:"abis"`
	License      string             `json:"license"`
	Modules      []ModuleDescriptor `json:"modules"`
	Dependencies map[string]string  `json:"dependencies"`
}

// DependencyEntry is one module-to-external-module edge with the version of
// the package providing it.
type DependencyEntry struct {
	Module  string
	Ref     ModuleRef
	Version string
}

// DependencyEntries flattens the declaration, ordered by module then ref.
func (d *PackageDescriptor) DependencyEntries() []DependencyEntry {
	var entries []DependencyEntry
	for _, m := range d.Modules {
		for _, ref := range m.Exports {
			entries = append(entries, DependencyEntry{
				Module:  m.Name,
				Ref:     ref,
				Version: d.Dependencies[ref.Package],
			})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Module != entries[j].Module {
			return entries[i].Module < entries[j].Module
		}
		return entries[i].Ref.String() < entries[j].Ref.String()
	})
	return entries
}

// Marshal renders the descriptor as indented JSON.
func (d *PackageDescriptor) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// ParseDescriptor parses and validates a descriptor.
func ParseDescriptor(data []byte) (*PackageDescriptor, error) {
	var d PackageDescriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("invalid package descriptor: %w", err)
	}
	if d.Name == "" {
		return nil, fmt.Errorf("invalid package descriptor: missing name")
	}
	if _, err := ParseVersion(d.Version); err != nil {
		return nil, err
	}
	if d.Dependencies == nil {
		d.Dependencies = map[string]string{}
	}
	return &d, nil
}
