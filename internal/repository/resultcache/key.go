package resultcache

import (
	"strconv"
	"strings"

	"github.com/kailas-cloud/streetdex/internal/domain/street"
)

// Kind separates key spaces so the fuzzy street path and the address lookup path
// never share a slot.
type Kind string

// Key spaces.
const (
	KindStreets   Kind = "streets"
	KindAddresses Kind = "addresses"
)

// Key composes a cache key from an already normalized query and the search filters.
// Equal inputs always give equal keys. The normalized query goes last: it only holds
// [a-z0-9 ] so it cannot collide with the separator.
func Key(kind Kind, normalized string, maxResults int, category street.Category) string {
	var b strings.Builder
	b.Grow(len(kind) + len(category) + len(normalized) + 8)
	b.WriteString(string(kind))
	b.WriteByte('|')
	b.WriteString(string(category))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(maxResults))
	b.WriteByte('|')
	b.WriteString(normalized)
	return b.String()
}
