package scraper

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/botvagas/vagas/engine/domain"
)

// Extract parses html and returns at most limit listings, one per card.
// Missing fields take the schema's fallback; cards are never dropped for
// lacking a title or link.
func Extract(s *Schema, html string, limit int) ([]domain.Listing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse %s page: %w", s.Name, err)
	}
	base, _ := url.Parse(s.BaseURL)

	listings := make([]domain.Listing, 0)
	if limit <= 0 {
		return listings, nil
	}
	doc.Find(s.Card).EachWithBreak(func(_ int, card *goquery.Selection) bool {
		l := domain.Listing{Source: s.Name}
		for _, f := range domain.Fields() {
			v := ""
			if rule, ok := s.Fields[f]; ok {
				v = readField(card, rule)
			}
			if f == domain.FieldURL && v != "" {
				v = resolve(base, v)
			}
			if v == "" {
				v = s.Fallback(f)
			}
			l.Set(f, v)
		}
		listings = append(listings, l)
		return len(listings) < limit
	})
	return listings, nil
}

func readField(card *goquery.Selection, rule FieldRule) string {
	node := card
	if rule.Selector != "" {
		node = card.Find(rule.Selector).First()
	}
	if node.Length() == 0 {
		return ""
	}
	var v string
	if rule.Attr != "" {
		v, _ = node.Attr(rule.Attr)
	} else {
		v = node.Text()
	}
	v = CleanText(v)
	if rule.Param != "" && v != "" {
		if u, err := url.Parse(v); err == nil {
			if p := u.Query().Get(rule.Param); p != "" {
				v = p
			}
		}
	}
	return v
}

// resolve makes ref absolute against base. Fragment-only and javascript:
// links are dropped.
func resolve(base *url.URL, ref string) string {
	if strings.HasPrefix(ref, "#") || strings.HasPrefix(strings.ToLower(ref), "javascript:") {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base == nil || u.IsAbs() {
		return u.String()
	}
	return base.ResolveReference(u).String()
}

// CleanText collapses runs of whitespace, nbsp included, into single
// spaces and trims the ends.
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
