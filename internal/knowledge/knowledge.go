// Package knowledge loads the section taxonomies, classification rule tables
// and recommendation rule tables used by the analysis pipeline.
//
// A Base is loaded once at startup and is read-only afterwards; profiles
// returned by it are shared and must not be modified.
package knowledge

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/medreport-mcp-server/internal/domain"
)

// FallbackProfile is used for empty or unrecognized report-type hints.
const FallbackProfile = "generic"

//go:embed knowledge.yaml
var embeddedKnowledge []byte

type document struct {
	Version  string           `yaml:"version"`
	Profiles []domain.Profile `yaml:"profiles"`
}

// Base is an immutable set of profiles keyed by report type.
type Base struct {
	version  string
	profiles map[string]*domain.Profile
	index    map[string]string // normalized key or alias -> profile key
	keys     []string
}

// Default returns the embedded knowledge base.
func Default() (*Base, error) {
	return Parse(embeddedKnowledge)
}

// Load reads a knowledge base from path, or the embedded one when path is empty.
func Load(path string) (*Base, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read knowledge base %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML knowledge base.
func Parse(data []byte) (*Base, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidKnowledge, err)
	}

	b := &Base{
		version:  doc.Version,
		profiles: make(map[string]*domain.Profile, len(doc.Profiles)),
		index:    make(map[string]string),
	}
	for i := range doc.Profiles {
		p := doc.Profiles[i]
		p.Key = normalizeKey(p.Key)
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := b.profiles[p.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate profile %s", domain.ErrInvalidKnowledge, p.Key)
		}
		for _, c := range []domain.Category{domain.BIRADS_0, domain.BIRADS_1, domain.BIRADS_2, domain.BIRADS_3,
			domain.BIRADS_4, domain.BIRADS_5, domain.BIRADS_6} {
			if _, ok := p.Guidelines[c]; !ok {
				return nil, fmt.Errorf("%w: profile %s has no guideline for %s", domain.ErrInvalidKnowledge, p.Key, c)
			}
		}
		b.profiles[p.Key] = &p
		b.keys = append(b.keys, p.Key)
		b.index[p.Key] = p.Key
		for _, alias := range p.Aliases {
			a := normalizeKey(alias)
			if owner, taken := b.index[a]; taken && owner != p.Key {
				return nil, fmt.Errorf("%w: alias %q claimed by %s and %s", domain.ErrInvalidKnowledge, alias, owner, p.Key)
			}
			b.index[a] = p.Key
		}
	}
	if _, ok := b.profiles[FallbackProfile]; !ok {
		return nil, fmt.Errorf("%w: missing %s profile", domain.ErrInvalidKnowledge, FallbackProfile)
	}
	sort.Strings(b.keys)
	return b, nil
}

// Version returns the knowledge base version string.
func (b *Base) Version() string {
	return b.version
}

// Lookup finds the profile for a report type by key or alias.
func (b *Base) Lookup(reportType string) (*domain.Profile, bool) {
	key, ok := b.index[normalizeKey(reportType)]
	if !ok {
		return nil, false
	}
	return b.profiles[key], true
}

// Profile returns the profile for a report type, falling back to the generic
// profile for empty or unrecognized hints.
func (b *Base) Profile(reportType string) *domain.Profile {
	if p, ok := b.Lookup(reportType); ok {
		return p
	}
	return b.profiles[FallbackProfile]
}

// Profiles returns all profiles ordered by key.
func (b *Base) Profiles() []*domain.Profile {
	out := make([]*domain.Profile, 0, len(b.keys))
	for _, k := range b.keys {
		out = append(out, b.profiles[k])
	}
	return out
}

func normalizeKey(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}
