// Package region maps free-text locations onto two-letter federative unit
// codes.
package region

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/botvagas/vagas/engine/domain"
)

//go:embed regions.yaml
var defaultTable []byte

// Entry pairs a normalized region name with its code.
type Entry struct {
	Name string            `yaml:"name"`
	Code domain.RegionCode `yaml:"code"`
}

// Resolver is immutable after construction and safe for concurrent use.
type Resolver struct {
	entries []Entry
	codes   map[domain.RegionCode]struct{}
}

// New builds a resolver over entries, keeping their order. Names and codes
// are normalized.
func New(entries []Entry) (*Resolver, error) {
	r := &Resolver{
		entries: make([]Entry, 0, len(entries)),
		codes:   make(map[domain.RegionCode]struct{}, len(entries)),
	}
	for i, e := range entries {
		name := Normalize(e.Name)
		code := domain.RegionCode(Normalize(string(e.Code)))
		if name == "" || code == "" {
			return nil, fmt.Errorf("region entry %d: name and code are required", i)
		}
		r.entries = append(r.entries, Entry{Name: name, Code: code})
		r.codes[code] = struct{}{}
	}
	return r, nil
}

// Load parses a YAML sequence of {name, code} entries.
func Load(rd io.Reader) (*Resolver, error) {
	var entries []Entry
	if err := yaml.NewDecoder(rd).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode region table: %w", err)
	}
	return New(entries)
}

var (
	defaultOnce     sync.Once
	defaultResolver *Resolver
)

// Default returns the resolver for the built-in Brazilian table.
func Default() *Resolver {
	defaultOnce.Do(func() {
		r, err := Load(bytes.NewReader(defaultTable))
		if err != nil {
			panic(fmt.Sprintf("region: embedded table: %v", err))
		}
		defaultResolver = r
	})
	return defaultResolver
}

// Resolve returns the code for location. Names are tried first, in table
// order, as substrings of the normalized input; the first hit wins even if
// a later name would match more text. Failing that, a known code matching
// a whole word of the input (or the whole input) is accepted.
func (r *Resolver) Resolve(location string) (domain.RegionCode, bool) {
	text := Normalize(location)
	if text == "" {
		return "", false
	}
	for _, e := range r.entries {
		if strings.Contains(text, e.Name) {
			return e.Code, true
		}
	}
	if _, ok := r.codes[domain.RegionCode(text)]; ok {
		return domain.RegionCode(text), true
	}
	for _, tok := range strings.Fields(text) {
		tok = strings.Trim(tok, ",.;:/()-")
		if _, ok := r.codes[domain.RegionCode(tok)]; ok {
			return domain.RegionCode(tok), true
		}
	}
	return "", false
}

// Normalize strips diacritics, lowercases and collapses whitespace.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}
