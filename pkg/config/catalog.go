package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadModule reads and validates one module descriptor file.
func LoadModule(path string) (*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read module descriptor: %w", err)
	}

	var mod Module
	if err := yaml.Unmarshal(data, &mod); err != nil {
		return nil, fmt.Errorf("failed to parse module descriptor %s: %w", path, err)
	}

	if err := mod.Validate(); err != nil {
		return nil, err
	}

	return &mod, nil
}

// Catalog is the set of module descriptors found in a directory.
type Catalog struct {
	dir     string
	modules map[string]*Module
}

// LoadCatalog enumerates *.yml and *.yaml descriptors in dir. A descriptor
// that fails to parse or validate fails the whole load; a catalog with
// silently missing modules is worse than an error.
func LoadCatalog(dir string) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read modules directory: %w", err)
	}

	cat := &Catalog{
		dir:     dir,
		modules: make(map[string]*Module),
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yml" && ext != ".yaml" {
			continue
		}

		mod, err := LoadModule(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if _, exists := cat.modules[mod.Name]; exists {
			return nil, fmt.Errorf("duplicate module name %q in %s", mod.Name, dir)
		}
		cat.modules[mod.Name] = mod
	}

	return cat, nil
}

// Get returns the descriptor for name. Lookup is case-insensitive on the
// module name.
func (c *Catalog) Get(name string) (*Module, error) {
	if mod, ok := c.modules[name]; ok {
		return mod, nil
	}
	for n, mod := range c.modules {
		if strings.EqualFold(n, name) {
			return mod, nil
		}
	}
	return nil, fmt.Errorf("module %q not found in %s", name, c.dir)
}

// Names returns all module names, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.modules))
	for name := range c.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of modules in the catalog.
func (c *Catalog) Len() int {
	return len(c.modules)
}
