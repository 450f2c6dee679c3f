package scraper

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/botvagas/vagas/engine/domain"
	"github.com/botvagas/vagas/engine/query"
)

//go:embed sources.yaml
var builtinSources []byte

// Strategy selects how a source page is retrieved.
type Strategy string

const (
	// StrategyStatic fetches the raw HTTP response body.
	StrategyStatic Strategy = "static"
	// StrategyDynamic renders the page in a headless browser first.
	StrategyDynamic Strategy = "dynamic"
)

// Fetch timeout bounds per strategy.
const (
	staticDefault  = 12 * time.Second
	staticMin      = 10 * time.Second
	staticMax      = 15 * time.Second
	dynamicDefault = 20 * time.Second
	dynamicMin     = 15 * time.Second
	dynamicMax     = 25 * time.Second
)

// FieldRule says where a field lives inside a card.
type FieldRule struct {
	// Selector is relative to the card; empty means the card itself.
	Selector string `yaml:"selector"`
	// Attr reads an attribute instead of the text content.
	Attr string `yaml:"attr,omitempty"`
	// Param unwraps a redirect link by taking this query parameter.
	Param string `yaml:"param,omitempty"`
}

// Schema describes one source declaratively. Adding a source means adding
// a Schema, not code.
type Schema struct {
	Name      string   `yaml:"name"`
	BaseURL   string   `yaml:"base_url"`
	Domain    string   `yaml:"domain"`
	SearchURL string   `yaml:"search_url"`
	Strategy  Strategy `yaml:"strategy"`
	// RegionParam, when set, receives the resolved region code.
	RegionParam string `yaml:"region_param,omitempty"`
	// RegionOverride pins the source to one region regardless of the
	// caller's location.
	RegionOverride domain.RegionCode `yaml:"region_override,omitempty"`
	// MetaSites turns the source into a meta-search over these domains.
	MetaSites    []string                   `yaml:"meta_sites,omitempty"`
	Timeout      time.Duration              `yaml:"timeout,omitempty"`
	WaitSelector string                     `yaml:"wait_selector,omitempty"`
	Dismiss      []string                   `yaml:"dismiss,omitempty"`
	Card         string                     `yaml:"card"`
	Fields       map[domain.Field]FieldRule `yaml:"fields"`
	Fallbacks    map[domain.Field]string    `yaml:"fallbacks,omitempty"`
}

// Validate reports the first problem that would stop the schema from
// working.
func (s *Schema) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("source %q: %s", s.Name, fmt.Sprintf(format, args...))
	}
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("source without name")
	}
	if s.SearchURL == "" {
		return fail("search_url is required")
	}
	if s.Card == "" {
		return fail("card selector is required")
	}
	switch s.Strategy {
	case StrategyStatic:
	case StrategyDynamic:
		if s.WaitSelector == "" {
			return fail("dynamic sources need a wait_selector")
		}
	default:
		return fail("unknown strategy %q", s.Strategy)
	}
	if s.BaseURL != "" {
		u, err := url.Parse(s.BaseURL)
		if err != nil || !u.IsAbs() {
			return fail("base_url %q is not absolute", s.BaseURL)
		}
	}
	known := make(map[domain.Field]bool)
	for _, f := range domain.Fields() {
		known[f] = true
	}
	for f := range s.Fields {
		if !known[f] {
			return fail("unknown field %q", f)
		}
	}
	for f := range s.Fallbacks {
		if !known[f] {
			return fail("unknown fallback field %q", f)
		}
	}
	return nil
}

// FetchTimeout is the configured timeout clamped to the strategy's bounds.
func (s *Schema) FetchTimeout() time.Duration {
	def, lo, hi := staticDefault, staticMin, staticMax
	if s.Strategy == StrategyDynamic {
		def, lo, hi = dynamicDefault, dynamicMin, dynamicMax
	}
	switch {
	case s.Timeout <= 0:
		return def
	case s.Timeout < lo:
		return lo
	case s.Timeout > hi:
		return hi
	}
	return s.Timeout
}

// Fallback returns the placeholder for a field missing from a card.
func (s *Schema) Fallback(f domain.Field) string {
	if v := s.Fallbacks[f]; v != "" {
		return v
	}
	return domain.DefaultFallback(f)
}

// Region applies RegionOverride to the caller's resolved region.
func (s *Schema) Region(resolved domain.RegionCode) domain.RegionCode {
	if s.RegionOverride != "" {
		return s.RegionOverride
	}
	return resolved
}

// Target expands the search template and appends the region parameter.
func (s *Schema) Target(t query.Terms) string {
	target := t.Expand(s.SearchURL)
	if s.RegionParam == "" || t.Region == "" {
		return target
	}
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set(s.RegionParam, string(t.Region))
	u.RawQuery = q.Encode()
	return u.String()
}

// Catalog is an ordered, validated set of schemas.
type Catalog struct {
	schemas []Schema
}

// LoadCatalog decodes a YAML sequence of schemas. Empty strategies default
// to static; names must be unique ignoring case.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var schemas []Schema
	if err := yaml.NewDecoder(r).Decode(&schemas); err != nil {
		return nil, fmt.Errorf("decode sources: %w", err)
	}
	seen := make(map[string]bool, len(schemas))
	for i := range schemas {
		s := &schemas[i]
		if s.Strategy == "" {
			s.Strategy = StrategyStatic
		}
		if err := s.Validate(); err != nil {
			return nil, err
		}
		key := strings.ToLower(s.Name)
		if seen[key] {
			return nil, fmt.Errorf("source %q defined twice", s.Name)
		}
		seen[key] = true
	}
	return &Catalog{schemas: schemas}, nil
}

// LoadCatalogFile reads a catalog from path.
func LoadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadCatalog(f)
}

// DefaultCatalog returns the built-in Brazilian job boards.
func DefaultCatalog() (*Catalog, error) {
	return LoadCatalog(bytes.NewReader(builtinSources))
}

// Schemas returns the schemas in definition order.
func (c *Catalog) Schemas() []Schema {
	out := make([]Schema, len(c.schemas))
	copy(out, c.schemas)
	return out
}

// Lookup finds a schema by name, ignoring case.
func (c *Catalog) Lookup(name string) (Schema, bool) {
	for _, s := range c.schemas {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return Schema{}, false
}
