package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// CatalogFile is the name of the optional rule catalog extension in a
// user profile directory.
const CatalogFile = "rules.yaml"

// Registry holds validated profiles by name. It is immutable after load and
// safe for concurrent readers.
type Registry struct {
	profiles map[string]*Profile
	catalog  Catalog
}

// LoadBuiltin loads the embedded rule catalog and profiles.
func LoadBuiltin() (*Registry, error) {
	catalog, err := ParseCatalog(rulesYAML)
	if err != nil {
		return nil, fmt.Errorf("built-in rule catalog: %w", err)
	}
	r := &Registry{profiles: make(map[string]*Profile), catalog: catalog}
	names := make([]string, 0, len(builtinProfiles))
	for name := range builtinProfiles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p, err := Parse(builtinProfiles[name], catalog)
		if err != nil {
			return nil, fmt.Errorf("built-in profile %q: %w", name, err)
		}
		if err := r.add(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// LoadDir loads the built-in profiles plus every *.yaml / *.yml profile in
// dir. A rules.yaml in dir adds rules to the catalog before profiles are
// resolved. An empty dir loads only the built-ins.
func LoadDir(dir string) (*Registry, error) {
	if dir == "" {
		return LoadBuiltin()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile dir: %w", err)
	}

	catalog, err := ParseCatalog(rulesYAML)
	if err != nil {
		return nil, fmt.Errorf("built-in rule catalog: %w", err)
	}
	if data, err := os.ReadFile(filepath.Join(dir, CatalogFile)); err == nil { // #nosec G304 -- operator supplied dir
		extra, err := ParseCatalog(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Join(dir, CatalogFile), err)
		}
		for _, id := range extra.IDs() {
			if _, dup := catalog[id]; dup {
				return nil, fmt.Errorf("%w: rule %q already defined by the built-in catalog", ErrProfileInvariant, id)
			}
			catalog[id] = extra[id]
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read rule catalog: %w", err)
	}

	r := &Registry{profiles: make(map[string]*Profile), catalog: catalog}
	for name, data := range builtinProfiles {
		p, err := Parse(data, catalog)
		if err != nil {
			return nil, fmt.Errorf("built-in profile %q: %w", name, err)
		}
		if err := r.add(p); err != nil {
			return nil, err
		}
	}

	for _, e := range entries {
		if e.IsDir() || e.Name() == CatalogFile {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path) // #nosec G304 -- operator supplied dir
		if err != nil {
			return nil, fmt.Errorf("failed to read profile: %w", err)
		}
		p, err := Parse(data, catalog)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if err := r.add(p); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return r, nil
}

// NewRegistry builds a registry from already parsed profiles.
func NewRegistry(profiles ...*Profile) (*Registry, error) {
	r := &Registry{profiles: make(map[string]*Profile, len(profiles)), catalog: Catalog{}}
	for _, p := range profiles {
		if err := p.Check(); err != nil {
			return nil, err
		}
		for _, rule := range p.Rules {
			r.catalog[rule.ID] = rule
		}
		if err := r.add(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) add(p *Profile) error {
	key := strings.ToLower(p.Name)
	if _, dup := r.profiles[key]; dup {
		return fmt.Errorf("%w: duplicate profile %q", ErrProfileInvariant, p.Name)
	}
	r.profiles[key] = p
	return nil
}

// Get returns the profile with the given name (case-insensitive).
func (r *Registry) Get(name string) (*Profile, error) {
	p, ok := r.profiles[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProfileNotFound, name)
	}
	return p, nil
}

// Names returns the sorted profile names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.profiles))
	for _, p := range r.profiles {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

// Catalog returns the rule catalog profiles were resolved against.
func (r *Registry) Catalog() Catalog {
	return r.catalog
}
