package ndkports

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// CatalogEntry overrides parts of a built-in port from ports.yaml.
type CatalogEntry struct {
	Version string   `yaml:"version"`
	LibName string   `yaml:"libName"`
	MinSdk  int      `yaml:"minSdk"`
	Abis    []string `yaml:"abis"`
	SHA256  string   `yaml:"sha256"`
}

// Catalog is the parsed ports.yaml, keyed by port name.
type Catalog struct {
	Ports map[string]CatalogEntry `yaml:"ports"`
}

// LoadCatalog reads path. A missing file is an empty catalog.
func LoadCatalog(path string) (*Catalog, error) {
	c := &Catalog{Ports: map[string]CatalogEntry{}}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	if c.Ports == nil {
		c.Ports = map[string]CatalogEntry{}
	}
	return c, nil
}

// Apply returns copies of ports with the catalog overrides applied. Entries
// naming unknown ports are rejected.
func (c *Catalog) Apply(ports []*Port) ([]*Port, error) {
	known := make(map[string]bool, len(ports))
	out := make([]*Port, 0, len(ports))
	for _, p := range ports {
		known[p.Name] = true
		cp := *p
		if e, ok := c.Ports[p.Name]; ok {
			if e.Version != "" {
				if _, err := ParseVersion(e.Version); err != nil {
					return nil, fmt.Errorf("catalog entry %s: %w", p.Name, err)
				}
				// A pinned digest belongs to the built-in version.
				if e.Version != cp.Version {
					cp.SHA256 = ""
				}
				cp.Version = e.Version
			}
			if e.LibName != "" {
				cp.LibName = e.LibName
			}
			if e.MinSdk > 0 {
				cp.MinSdk = e.MinSdk
			}
			if len(e.Abis) > 0 {
				cp.Abis = append([]string(nil), e.Abis...)
			}
			if e.SHA256 != "" {
				cp.SHA256 = e.SHA256
			}
		}
		out = append(out, &cp)
	}
	for name := range c.Ports {
		if !known[name] {
			return nil, fmt.Errorf("catalog entry for unknown port %q", name)
		}
	}
	return out, nil
}

type projectInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	LibName string `json:"libName"`
}

// exportProjectInfo writes the port list as a CI build matrix.
func exportProjectInfo(w io.Writer, ports *PortSet) error {
	var info struct {
		Include []projectInfo `json:"include"`
	}
	names := ports.Names()
	sort.Strings(names)
	for _, name := range names {
		p, _ := ports.Get(name)
		info.Include = append(info.Include, projectInfo{Name: p.Name, Version: p.Version, LibName: p.LibName})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}
