package oracle

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// FeedConfig declares one feed handle in the manifest together with an
// optional seed observation applied at startup.
type FeedConfig struct {
	Handle      string `yaml:"handle"`
	Description string `yaml:"description,omitempty"`
	SeedPrice   string `yaml:"seedPrice,omitempty"`
	SeedTime    int64  `yaml:"seedTime,omitempty"`
}

// Manifest enumerates the feed handles the service is willing to serve.
type Manifest struct {
	Feeds []FeedConfig `yaml:"feeds"`
}

// LoadManifest parses the YAML feed manifest at the supplied path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("oracle: read manifest: %w", err)
	}
	manifest := &Manifest{}
	if err := yaml.Unmarshal(data, manifest); err != nil {
		return nil, fmt.Errorf("oracle: parse manifest: %w", err)
	}
	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	return manifest, nil
}

// Validate checks the manifest for duplicate or malformed entries.
func (m *Manifest) Validate() error {
	if m == nil {
		return fmt.Errorf("oracle: nil manifest")
	}
	seen := make(map[string]struct{}, len(m.Feeds))
	for i, feed := range m.Feeds {
		normalized, err := NormalizeHandle(feed.Handle)
		if err != nil {
			return fmt.Errorf("oracle: manifest entry %d: %w", i, err)
		}
		if _, dup := seen[normalized]; dup {
			return fmt.Errorf("oracle: duplicate feed handle %s", normalized)
		}
		seen[normalized] = struct{}{}
		if trimmed := strings.TrimSpace(feed.SeedPrice); trimmed != "" {
			if _, ok := new(big.Int).SetString(trimmed, 10); !ok {
				return fmt.Errorf("oracle: feed %s: invalid seed price %q", normalized, feed.SeedPrice)
			}
		}
	}
	return nil
}

// Apply seeds the manual feed with every manifest entry carrying a seed price.
func (m *Manifest) Apply(feed *ManualFeed) error {
	if m == nil || feed == nil {
		return fmt.Errorf("oracle: manifest and feed required")
	}
	for _, entry := range m.Feeds {
		trimmed := strings.TrimSpace(entry.SeedPrice)
		if trimmed == "" {
			continue
		}
		price, ok := new(big.Int).SetString(trimmed, 10)
		if !ok {
			return fmt.Errorf("oracle: feed %s: invalid seed price %q", entry.Handle, entry.SeedPrice)
		}
		if err := feed.Post(entry.Handle, price, entry.SeedTime); err != nil {
			return err
		}
	}
	return nil
}
