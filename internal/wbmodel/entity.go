// Package wbmodel defines the Wikibase entity/claim/snak data model and
// the migration profile and translation result types shared by every
// other package in this module.
package wbmodel

import (
	"fmt"
	"strings"
)

// EntityID is a prefixed Wikibase identifier, such as "Q42" or "P31".
type EntityID string

// EntityKind classifies an EntityID by its leading letter.
type EntityKind int

const (
	UnknownKind EntityKind = iota
	Item
	Property
	Lexeme
	MediaInfo
)

func (k EntityKind) String() string {
	switch k {
	case Item:
		return "item"
	case Property:
		return "property"
	case Lexeme:
		return "lexeme"
	case MediaInfo:
		return "mediainfo"
	default:
		return "unknown"
	}
}

// KindOf returns the EntityKind implied by id's leading letter.
func KindOf(id EntityID) EntityKind {
	if len(id) == 0 {
		return UnknownKind
	}
	switch id[0] {
	case 'Q':
		return Item
	case 'P':
		return Property
	case 'L':
		return Lexeme
	case 'M':
		return MediaInfo
	default:
		return UnknownKind
	}
}

// HasPrefix reports whether id looks like an entity ID with the given
// leading letter, e.g. HasPrefix(id, 'Q').
func HasPrefix(id EntityID, prefix byte) bool {
	return len(id) > 0 && id[0] == prefix
}

// Sitelink is a cross-reference from an item to a page on an external wiki.
type Sitelink struct {
	Site   string
	Title  string
	Badges []string
}

// Entity is a tagged union over Item/Property/Lexeme/MediaInfo records.
// Lexeme lemmas/forms/senses are explicitly out of scope for this module
// (see wbtranslate) and so have no representation here.
type Entity struct {
	ID           EntityID
	Kind         EntityKind
	Labels       map[string]string
	Descriptions map[string]string
	Aliases      map[string][]string
	Claims       []Claim
	Sitelinks    map[string]Sitelink // Item only
	Datatype     *Datatype           // Property only
}

// NewEntity returns an empty entity of the given kind with initialized maps.
func NewEntity(id EntityID, kind EntityKind) *Entity {
	e := &Entity{
		ID:           id,
		Kind:         kind,
		Labels:       make(map[string]string),
		Descriptions: make(map[string]string),
		Aliases:      make(map[string][]string),
	}
	if kind == Item {
		e.Sitelinks = make(map[string]Sitelink)
	}
	return e
}

// Clone returns a copy of e with its own label, description, alias and
// sitelink maps and its own claims slice, so those can be changed on the
// copy without affecting the (immutable, per spec) source entity. The
// claims themselves are copied shallowly: their qualifier maps, reference
// slices and values are shared with e.
func (e *Entity) Clone() *Entity {
	c := NewEntity(e.ID, e.Kind)
	for k, v := range e.Labels {
		c.Labels[k] = v
	}
	for k, v := range e.Descriptions {
		c.Descriptions[k] = v
	}
	for k, v := range e.Aliases {
		c.Aliases[k] = append([]string(nil), v...)
	}
	for k, v := range e.Sitelinks {
		if c.Sitelinks == nil {
			c.Sitelinks = make(map[string]Sitelink)
		}
		c.Sitelinks[k] = v
	}
	c.Claims = make([]Claim, len(e.Claims))
	copy(c.Claims, e.Claims)
	if e.Datatype != nil {
		dt := *e.Datatype
		c.Datatype = &dt
	}
	return c
}

// Claim is a main snak plus qualifiers (grouped by property, with an
// explicit group order) and reference groups.
type Claim struct {
	Mainsnak        Snak
	Qualifiers      map[EntityID][]Snak
	QualifiersOrder []EntityID
	References      []ReferenceGroup
}

// ReferenceGroup is an ordered list of snaks forming one citation.
type ReferenceGroup struct {
	Snaks []Snak
}

// SnakType distinguishes a known value from the two Wikibase "no value
// given" markers.
type SnakType int

const (
	KnownValue SnakType = iota
	UnknownValue
	NoValue
)

func (t SnakType) String() string {
	switch t {
	case KnownValue:
		return "value"
	case UnknownValue:
		return "somevalue"
	case NoValue:
		return "novalue"
	default:
		return "unknown"
	}
}

// Snak is a property-value cell: a main snak, qualifier snak, or
// reference snak depending on where it is embedded in a Claim.
type Snak struct {
	Property EntityID
	Datatype Datatype
	Type     SnakType
	Value    *DataValue // only set when Type == KnownValue
}

// AddQualifier appends a qualifier snak to c, creating its property group
// and recording it in QualifiersOrder if this is the first qualifier seen
// for that property.
func (c *Claim) AddQualifier(s Snak) {
	if c.Qualifiers == nil {
		c.Qualifiers = make(map[EntityID][]Snak)
	}
	if _, ok := c.Qualifiers[s.Property]; !ok {
		c.QualifiersOrder = append(c.QualifiersOrder, s.Property)
	}
	c.Qualifiers[s.Property] = append(c.Qualifiers[s.Property], s)
}

// RefreshQualifiersOrder appends any qualifier property group present in
// c.Qualifiers but missing from c.QualifiersOrder, in map-iteration order
// stabilized by sorting — called after a merge introduces new qualifier
// groups (spec §4.4 "recompute qualifiers_order").
func (c *Claim) RefreshQualifiersOrder() {
	seen := make(map[EntityID]bool, len(c.QualifiersOrder))
	for _, p := range c.QualifiersOrder {
		seen[p] = true
	}
	var missing []EntityID
	for p := range c.Qualifiers {
		if !seen[p] {
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		return
	}
	sortEntityIDs(missing)
	c.QualifiersOrder = append(c.QualifiersOrder, missing...)
}

func sortEntityIDs(ids []EntityID) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}

// ParseEntityPrefix validates that id begins with one of Q, P, L, M and
// returns its kind, or an error wrapping ErrUnknownEntityType.
func ParseEntityPrefix(id EntityID) (EntityKind, error) {
	kind := KindOf(id)
	if kind == UnknownKind {
		return UnknownKind, fmt.Errorf("%w: %q", ErrUnknownEntityType, id)
	}
	return kind, nil
}

// TrailingEntityID extracts the trailing "Q123"/"P123"/"L123" path segment
// of a URI such as a Quantity's unit IRI, returning ("", false) if the URI
// does not end in a recognizable entity ID.
func TrailingEntityID(uri string) (EntityID, bool) {
	idx := strings.LastIndexAny(uri, "/#")
	var tail string
	if idx < 0 {
		tail = uri
	} else {
		tail = uri[idx+1:]
	}
	if tail == "" {
		return "", false
	}
	if KindOf(EntityID(tail)) == UnknownKind {
		return "", false
	}
	for _, r := range tail[1:] {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return EntityID(tail), true
}
