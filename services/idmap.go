package services

import "fmt"

// Synthetic id prefixes, one short fixed token per entity kind. Ids look like
// "orga0", "pers12"; the index is zero-based and unique within one document.
const (
	PrefixOrganization = "orga"
	PrefixPerson       = "pers"
	PrefixMembership   = "memb"
	PrefixJournal      = "jour"
	PrefixPublication  = "publ"
)

// IdentifierMap maps document-local synthetic ids to entities for the duration
// of one export or import run. It is never shared across runs; two concurrent
// imports must each build their own.
type IdentifierMap struct {
	entities map[string]any
	counters map[string]int
}

// NewIdentifierMap returns an empty identifier map.
func NewIdentifierMap() *IdentifierMap {
	return &IdentifierMap{
		entities: make(map[string]any),
		counters: make(map[string]int),
	}
}

// Put registers an entity under a synthetic id. Matched and newly created
// entities are registered alike: later sections resolve references through
// this map regardless of how the entity came to exist.
func (m *IdentifierMap) Put(syntheticID string, entity any) {
	m.entities[syntheticID] = entity
}

// Get returns the entity registered under the synthetic id, if any.
func (m *IdentifierMap) Get(syntheticID string) (any, bool) {
	e, ok := m.entities[syntheticID]
	return e, ok
}

// Len returns the number of registered entities.
func (m *IdentifierMap) Len() int {
	return len(m.entities)
}

// NextID allocates the next sequential synthetic id for a kind prefix.
func (m *IdentifierMap) NextID(prefix string) string {
	id := fmt.Sprintf("%s%d", prefix, m.counters[prefix])
	m.counters[prefix]++
	return id
}
