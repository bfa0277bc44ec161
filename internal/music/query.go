package music

import "strings"

// ResolveQuery turns user input into a node identifier: URLs pass through
// unchanged, anything else becomes a search with prefix.
func ResolveQuery(query, prefix string) string {
	query = strings.TrimSpace(query)
	if strings.HasPrefix(query, "http") {
		return query
	}
	return prefix + ":" + query
}
