package batch

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Correlator assigns correlation ids and remembers the caller context
// behind each one. Ids have the form {prefix}_{index}_{rand8} where rand8
// is the first 8 hex characters of a UUID: unique within a submission,
// stable across chunking, and safe in filenames and URLs.
//
// The registry is built at request-construction time and consulted when
// results are demultiplexed, so callers get their context back attached
// to each record instead of parsing ids.
type Correlator struct {
	prefix string
	ids    []string
	meta   map[string]any
}

// NewCorrelator creates a correlator for one submission. An empty prefix
// falls back to DefaultPrefix; unsafe characters are replaced.
func NewCorrelator(prefix string) *Correlator {
	prefix = sanitizePrefix(prefix)
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Correlator{
		prefix: prefix,
		meta:   make(map[string]any),
	}
}

// Tag assigns a fresh correlation id for the item at the given ordinal
// index and registers its caller context.
func (c *Correlator) Tag(index int, meta any) string {
	id := fmt.Sprintf("%s_%d_%s", c.prefix, index, uuid.NewString()[:8])
	c.ids = append(c.ids, id)
	c.meta[id] = meta
	return id
}

// Meta returns the caller context registered for an id.
func (c *Correlator) Meta(id string) (any, bool) {
	m, ok := c.meta[id]
	return m, ok
}

// IDs returns all assigned ids in submission order.
func (c *Correlator) IDs() []string {
	out := make([]string, len(c.ids))
	copy(out, c.ids)
	return out
}

// Len returns the number of registered items.
func (c *Correlator) Len() int {
	return len(c.ids)
}

// sanitizePrefix keeps ids filesystem- and URL-safe.
func sanitizePrefix(prefix string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(prefix))
}
