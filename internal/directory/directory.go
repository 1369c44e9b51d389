package directory

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed servers.yaml
var defaultData []byte

type Cluster struct {
	ID       string   `yaml:"id"`
	Domain   string   `yaml:"domain"`
	Location string   `yaml:"location,omitempty"`
	IPs      []string `yaml:"ips,omitempty"`
}

type Region struct {
	ID       string    `yaml:"id"`
	Name     string    `yaml:"name"`
	Clusters []Cluster `yaml:"clusters"`
}

// Directory is the static region -> cluster -> IP table.
type Directory struct {
	Regions []Region `yaml:"regions"`
}

// Default returns the directory shipped with the binary.
func Default() (*Directory, error) {
	return Parse(defaultData)
}

// Load reads an override file, falling back to the embedded data when
// path is empty.
func Load(path string) (*Directory, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Directory, error) {
	var d Directory
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse directory: %w", err)
	}
	seen := make(map[string]bool, len(d.Regions))
	for _, r := range d.Regions {
		if r.ID == "" {
			return nil, fmt.Errorf("region without id")
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate region id %q", r.ID)
		}
		seen[r.ID] = true
	}
	return &d, nil
}

// Save writes d as YAML to path.
func (d *Directory) Save(path string) error {
	data, err := yaml.Marshal(d)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (d *Directory) Region(id string) (Region, bool) {
	for _, r := range d.Regions {
		if r.ID == id {
			return r, true
		}
	}
	return Region{}, false
}

// Clusters returns the clusters of a region, nil when it is unknown.
func (d *Directory) Clusters(regionID string) []Cluster {
	r, ok := d.Region(regionID)
	if !ok {
		return nil
	}
	return r.Clusters
}

// Domains lists the lower-cased cluster domains of a region.
func (d *Directory) Domains(regionID string) []string {
	var out []string
	for _, c := range d.Clusters(regionID) {
		if c.Domain != "" {
			out = append(out, strings.ToLower(c.Domain))
		}
	}
	return out
}

func (d *Directory) RegionIDs() []string {
	out := make([]string, 0, len(d.Regions))
	for _, r := range d.Regions {
		out = append(out, r.ID)
	}
	return out
}
