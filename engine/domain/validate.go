package domain

import "strings"

// ValidateQuery rejects requests missing a role, a location or at least one
// non-blank source name.
func ValidateQuery(q SearchQuery) error {
	if strings.TrimSpace(q.Role) == "" {
		return &ConfigError{Field: "role", Reason: "is required"}
	}
	if strings.TrimSpace(q.Location) == "" {
		return &ConfigError{Field: "location", Reason: "is required"}
	}
	if len(q.SourceNames()) == 0 {
		return &ConfigError{Field: "sources", Reason: "must name at least one source"}
	}
	return nil
}
