package mockrule

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Collection is the on-disk shape of an exported rule set.
type Collection struct {
	Version int    `yaml:"version"`
	Name    string `yaml:"name,omitempty"`
	Rules   []Rule `yaml:"rules"`
}

// CollectionVersion is the current export format version.
const CollectionVersion = 1

// ParseCollection decodes a YAML rule collection.
func ParseCollection(data []byte) (*Collection, error) {
	var c Collection
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse rule collection: %w", err)
	}
	if c.Version > CollectionVersion {
		return nil, fmt.Errorf("rule collection version %d is newer than supported %d", c.Version, CollectionVersion)
	}
	return &c, nil
}

// LoadFile reads and decodes a YAML rule collection from path.
func LoadFile(path string) (*Collection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule collection: %w", err)
	}
	return ParseCollection(data)
}

// Export serializes the store's current rules as a YAML collection.
func Export(s *Store, name string) ([]byte, error) {
	c := Collection{
		Version: CollectionVersion,
		Name:    name,
		Rules:   s.Snapshot(),
	}
	data, err := yaml.Marshal(&c)
	if err != nil {
		return nil, fmt.Errorf("export rule collection: %w", err)
	}
	return data, nil
}
