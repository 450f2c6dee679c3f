// Package query turns a role and a location into the URL-safe forms the
// source adapters substitute into their search templates.
package query

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/botvagas/vagas/engine/domain"
)

// Keyword returns text trimmed, with inner whitespace collapsed, and
// percent-encoded for a query string.
func Keyword(text string) string {
	return url.QueryEscape(collapse(text))
}

// Slug returns text lowercased with spaces turned into hyphens, escaped for
// use as a single path segment.
func Slug(text string) string {
	s := strings.ReplaceAll(strings.ToLower(collapse(text)), " ", "-")
	return url.PathEscape(s)
}

// MetaSearch builds the raw composite query used against a general search
// engine: "<role>" vagas site:a OR site:b "<location>".
func MetaSearch(role, location string, domains []string) string {
	sites := make([]string, 0, len(domains))
	for _, d := range domains {
		if d = strings.TrimSpace(d); d != "" {
			sites = append(sites, "site:"+d)
		}
	}
	q := `"` + collapse(role) + `" vagas`
	if len(sites) > 0 {
		q += " " + strings.Join(sites, " OR ")
	}
	return q + ` "` + collapse(location) + `"`
}

// Terms bundles every form of one request a template may need.
type Terms struct {
	Role     string
	Location string
	Keyword  string
	Slug     string
	Region   domain.RegionCode
	Meta     string
	Limit    int
}

// Build derives Terms. domains feeds the meta-search query and may be nil.
func Build(role, location string, region domain.RegionCode, domains []string, limit int) Terms {
	return Terms{
		Role:     collapse(role),
		Location: collapse(location),
		Keyword:  Keyword(role),
		Slug:     Slug(role),
		Region:   region,
		Meta:     Keyword(MetaSearch(role, location, domains)),
		Limit:    limit,
	}
}

// Expand substitutes the placeholders {keyword} {slug} {location}
// {region} {query} and {limit} in tmpl. Every substituted value is
// already escaped.
func (t Terms) Expand(tmpl string) string {
	return strings.NewReplacer(
		"{keyword}", t.Keyword,
		"{slug}", t.Slug,
		"{location}", url.QueryEscape(t.Location),
		"{region}", url.QueryEscape(string(t.Region)),
		"{query}", t.Meta,
		"{limit}", strconv.Itoa(t.Limit),
	).Replace(tmpl)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
