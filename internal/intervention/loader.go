package intervention

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ZanzyTHEbar/resonance-trajectory/internal/analysis"
)

//go:embed catalogs/default.yaml
var defaultCatalogFS embed.FS

// DefaultPolicy is the name of the built-in catalog
const DefaultPolicy = "default"

type yamlCatalog struct {
	Name       string          `yaml:"name"`
	Candidates []yamlCandidate `yaml:"candidates"`
}

type yamlCandidate struct {
	ID        string               `yaml:"id"`
	Name      string               `yaml:"name"`
	Role      string               `yaml:"role"`
	Cost      float64              `yaml:"cost"`
	Targets   []analysis.Dimension `yaml:"targets"`
	Enabled   *bool                `yaml:"enabled"`
	Predictor PredictorSpec        `yaml:"predictor"`
}

// ParseCatalog decodes and validates a YAML catalog. fallbackName is used when
// the document does not name itself.
func ParseCatalog(data []byte, fallbackName string) (*Catalog, error) {
	var doc yamlCatalog
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: failed to decode catalog %s: %v", analysis.ErrConfiguration, fallbackName, err)
	}
	name := strings.TrimSpace(doc.Name)
	if name == "" {
		name = fallbackName
	}

	candidates := make([]Candidate, 0, len(doc.Candidates))
	for _, yc := range doc.Candidates {
		if yc.Enabled != nil && !*yc.Enabled {
			continue
		}
		pred, err := yc.Predictor.Build()
		if err != nil {
			return nil, fmt.Errorf("catalog %s candidate %s: %w", name, yc.ID, err)
		}
		display := yc.Name
		if display == "" {
			display = yc.ID
		}
		role := yc.Role
		if role == "" {
			role = strings.ToLower(display)
		}
		candidates = append(candidates, Candidate{
			ID:        strings.TrimSpace(yc.ID),
			Name:      display,
			Role:      role,
			Cost:      yc.Cost,
			Targets:   yc.Targets,
			Predictor: pred,
		})
	}
	return NewCatalog(name, candidates)
}

// LoadCatalogFile reads one catalog file; the file stem names the policy
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return ParseCatalog(data, stem)
}

// DefaultCatalog returns the built-in catalog
func DefaultCatalog() (*Catalog, error) {
	data, err := defaultCatalogFS.ReadFile("catalogs/default.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded catalog: %w", err)
	}
	return ParseCatalog(data, DefaultPolicy)
}

// LoadRegistry loads every *.yaml / *.yml catalog in dir. The built-in catalog is
// registered as "default" unless the directory provides its own. An empty dir
// yields a registry holding only the built-in catalog.
func LoadRegistry(dir string) (*Registry, error) {
	def, err := DefaultCatalog()
	if err != nil {
		return nil, err
	}

	byName := map[string]*Catalog{DefaultPolicy: def}
	if dir != "" {
		entries, err := os.ReadDir(dir)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read catalog directory: %w", err)
		}
		files := make([]string, 0, len(entries))
		for _, e := range entries {
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
				continue
			}
			files = append(files, e.Name())
		}
		sort.Strings(files)

		seen := map[string]string{}
		for _, f := range files {
			c, err := LoadCatalogFile(filepath.Join(dir, f))
			if err != nil {
				return nil, err
			}
			if prev, dup := seen[c.Name()]; dup {
				return nil, fmt.Errorf("%w: catalog %q defined in both %s and %s", analysis.ErrConfiguration, c.Name(), prev, f)
			}
			seen[c.Name()] = f
			byName[c.Name()] = c
		}
	}

	catalogs := []*Catalog{byName[DefaultPolicy]}
	names := make([]string, 0, len(byName))
	for name := range byName {
		if name != DefaultPolicy {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		catalogs = append(catalogs, byName[name])
	}
	return NewRegistry(catalogs...)
}
