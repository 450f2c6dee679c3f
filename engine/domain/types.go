// Package domain defines the listing record, the search request and the
// error taxonomy shared by the aggregation engines.
package domain

import "strings"

const (
	// DefaultMaxPerSource applies when a request leaves MaxPerSource unset.
	DefaultMaxPerSource = 15
	// MaxPerSourceLimit bounds how many cards a single source may yield.
	MaxPerSourceLimit = 50
)

// Field names one attribute of a Listing.
type Field string

const (
	FieldTitle      Field = "title"
	FieldCompany    Field = "company"
	FieldLocation   Field = "location"
	FieldPostedDate Field = "posted_date"
	FieldSalary     Field = "salary"
	FieldURL        Field = "url"
)

// Fields lists every extractable field in record order.
func Fields() []Field {
	return []Field{FieldTitle, FieldCompany, FieldLocation, FieldPostedDate, FieldSalary, FieldURL}
}

// DefaultFallback is the placeholder stored when a card lacks the field.
func DefaultFallback(f Field) string {
	switch f {
	case FieldCompany:
		return "Confidential"
	case FieldLocation, FieldSalary:
		return "Not informed"
	default:
		return "N/A"
	}
}

// Listing is one normalized job posting. All fields are plain strings so
// two listings can be compared with ==.
type Listing struct {
	Title      string `json:"title"`
	Company    string `json:"company"`
	Location   string `json:"location"`
	PostedDate string `json:"posted_date"`
	Salary     string `json:"salary"`
	URL        string `json:"url"`
	Source     string `json:"source"`
}

// Get returns the value stored for f.
func (l Listing) Get(f Field) string {
	switch f {
	case FieldTitle:
		return l.Title
	case FieldCompany:
		return l.Company
	case FieldLocation:
		return l.Location
	case FieldPostedDate:
		return l.PostedDate
	case FieldSalary:
		return l.Salary
	case FieldURL:
		return l.URL
	}
	return ""
}

// Set stores v under f. Unknown fields are ignored.
func (l *Listing) Set(f Field, v string) {
	switch f {
	case FieldTitle:
		l.Title = v
	case FieldCompany:
		l.Company = v
	case FieldLocation:
		l.Location = v
	case FieldPostedDate:
		l.PostedDate = v
	case FieldSalary:
		l.Salary = v
	case FieldURL:
		l.URL = v
	}
}

// RegionCode is a lowercase two-letter federative unit code such as "sp".
type RegionCode string

// SearchQuery is one aggregation request.
type SearchQuery struct {
	Role         string   `json:"role"`
	Location     string   `json:"location"`
	Sources      []string `json:"sources"`
	MaxPerSource int      `json:"max_results,omitempty"`
}

// Limit returns the effective per-source cap.
func (q SearchQuery) Limit() int {
	switch {
	case q.MaxPerSource <= 0:
		return DefaultMaxPerSource
	case q.MaxPerSource > MaxPerSourceLimit:
		return MaxPerSourceLimit
	}
	return q.MaxPerSource
}

// SourceNames returns the requested sources trimmed, with blanks and
// case-insensitive repeats removed. First spelling wins.
func (q SearchQuery) SourceNames() []string {
	seen := make(map[string]struct{}, len(q.Sources))
	out := make([]string, 0, len(q.Sources))
	for _, s := range q.Sources {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}
