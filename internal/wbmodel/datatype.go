package wbmodel

import "fmt"

// Datatype is a closed enumeration of the Wikibase snak datatypes this
// module understands. Switches over Datatype name every known datatype;
// their default cases handle UnknownDatatype, and not all of them report
// an error: DataValue.AsMap renders such a value as a plain text value.
type Datatype int

const (
	UnknownDatatype Datatype = iota
	DtString
	DtExternalID
	DtURL
	DtCommonsMedia
	DtGeoShape
	DtTabularData
	DtEntitySchema
	DtProperty
	DtWikibaseItem
	DtTime
	DtQuantity
	DtMonolingualText
	DtGlobeCoordinate
)

var datatypeWire = map[Datatype]string{
	DtString:          "string",
	DtExternalID:       "external-id",
	DtURL:              "url",
	DtCommonsMedia:     "commonsMedia",
	DtGeoShape:         "geo-shape",
	DtTabularData:      "tabular-data",
	DtEntitySchema:     "entity-schema",
	DtProperty:         "wikibase-property",
	DtWikibaseItem:     "wikibase-item",
	DtTime:             "time",
	DtQuantity:         "quantity",
	DtMonolingualText:  "monolingualtext",
	DtGlobeCoordinate:  "globe-coordinate",
}

var wireDatatype = func() map[string]Datatype {
	m := make(map[string]Datatype, len(datatypeWire))
	for dt, s := range datatypeWire {
		m[s] = dt
	}
	return m
}()

// String returns the MediaWiki wire representation of dt.
func (dt Datatype) String() string {
	if s, ok := datatypeWire[dt]; ok {
		return s
	}
	return "unknown"
}

// ParseDatatype parses the MediaWiki wire representation of a datatype.
func ParseDatatype(s string) (Datatype, error) {
	if dt, ok := wireDatatype[s]; ok {
		return dt, nil
	}
	return UnknownDatatype, fmt.Errorf("%w: %q", ErrUnknownDatatype, s)
}

// SupportsEntityReference reports whether dt's KnownValue payload refers
// to another entity ID directly (WikibaseItem) -- used by the ID harvest.
func (dt Datatype) SupportsEntityReference() bool {
	return dt == DtWikibaseItem
}
