package wbmodel

// DataValue is a tagged payload for a KnownValue snak. Only the fields
// relevant to the owning Snak's Datatype are populated; callers must
// dispatch on Datatype, not on which fields happen to be non-zero.
type DataValue struct {
	// String, ExternalID, URL, CommonsMedia, GeoShape, TabularData,
	// EntitySchema, Property, and the entity ID of a WikibaseItem value.
	text string

	// Time
	time          string
	precision     int
	before, after int
	timezone      int
	calendarModel string

	// Quantity
	amount     string
	unit       string // "1" or a full unit URI
	upperBound string
	lowerBound string
	hasBounds  bool

	// MonolingualText
	language string

	// GlobeCoordinate
	latitude, longitude float64
	altitude            float64
	hasAltitude         bool
	coordPrecision      float64
	hasCoordPrecision   bool
	globe               string
}

// NewTextValue builds the payload for String/ExternalID/URL/CommonsMedia/
// GeoShape/TabularData/EntitySchema/Property datatypes.
func NewTextValue(text string) *DataValue {
	return &DataValue{text: text}
}

func (v *DataValue) Text() string { return v.text }

// NewItemValue builds the payload for a WikibaseItem snak value.
func NewItemValue(id EntityID) *DataValue {
	return &DataValue{text: string(id)}
}

func (v *DataValue) ItemID() EntityID { return EntityID(v.text) }

// NewTimeValue builds a Time payload, copied verbatim by the translator.
func NewTimeValue(t string, precision, before, after, timezone int, calendarModel string) *DataValue {
	return &DataValue{
		time:          t,
		precision:     precision,
		before:        before,
		after:         after,
		timezone:      timezone,
		calendarModel: calendarModel,
	}
}

func (v *DataValue) Time() string            { return v.time }
func (v *DataValue) Precision() int          { return v.precision }
func (v *DataValue) Before() int             { return v.before }
func (v *DataValue) After() int              { return v.after }
func (v *DataValue) Timezone() int           { return v.timezone }
func (v *DataValue) CalendarModel() string   { return v.calendarModel }

// NewQuantityValue builds a Quantity payload. unit is either the literal
// "1" or a full unit URI on the side it was read from.
func NewQuantityValue(amount, unit string, upperBound, lowerBound string, hasBounds bool) *DataValue {
	return &DataValue{
		amount:     amount,
		unit:       unit,
		upperBound: upperBound,
		lowerBound: lowerBound,
		hasBounds:  hasBounds,
	}
}

func (v *DataValue) Amount() string      { return v.amount }
func (v *DataValue) Unit() string        { return v.unit }
func (v *DataValue) UpperBound() string  { return v.upperBound }
func (v *DataValue) LowerBound() string  { return v.lowerBound }
func (v *DataValue) HasBounds() bool     { return v.hasBounds }

// IsUnitless reports whether the quantity's unit is the literal "1" or empty.
func (v *DataValue) IsUnitless() bool { return v.unit == "" || v.unit == "1" }

// NewMonolingualTextValue builds a MonolingualText payload.
func NewMonolingualTextValue(text, language string) *DataValue {
	return &DataValue{text: text, language: language}
}

func (v *DataValue) Language() string { return v.language }

// NewGlobeCoordinateValue builds a GlobeCoordinate payload.
func NewGlobeCoordinateValue(lat, lon float64, altitude float64, hasAltitude bool, precision float64, hasPrecision bool, globe string) *DataValue {
	return &DataValue{
		latitude:          lat,
		longitude:         lon,
		altitude:          altitude,
		hasAltitude:       hasAltitude,
		coordPrecision:    precision,
		hasCoordPrecision: hasPrecision,
		globe:             globe,
	}
}

func (v *DataValue) Latitude() float64         { return v.latitude }
func (v *DataValue) Longitude() float64        { return v.longitude }
func (v *DataValue) Altitude() (float64, bool)  { return v.altitude, v.hasAltitude }
func (v *DataValue) CoordPrecision() (float64, bool) {
	return v.coordPrecision, v.hasCoordPrecision
}
func (v *DataValue) Globe() string { return v.globe }

// AsMap renders the datavalue as the generic map representation used both
// for JSON wire encoding and for content hashing (wbmerge). dt selects
// which fields are relevant; it is the caller's responsibility to have
// validated the Snak's Datatype already.
func (v *DataValue) AsMap(dt Datatype) map[string]any {
	switch dt {
	case DtString, DtExternalID, DtURL, DtCommonsMedia, DtGeoShape, DtTabularData, DtEntitySchema, DtProperty:
		return map[string]any{"value": v.text}
	case DtWikibaseItem:
		return map[string]any{"value": map[string]any{"id": v.text}}
	case DtTime:
		return map[string]any{"value": map[string]any{
			"time":          v.time,
			"precision":     v.precision,
			"before":        v.before,
			"after":         v.after,
			"timezone":      v.timezone,
			"calendarmodel": v.calendarModel,
		}}
	case DtQuantity:
		m := map[string]any{
			"amount": v.amount,
			"unit":   v.unit,
		}
		if v.hasBounds {
			m["upperBound"] = v.upperBound
			m["lowerBound"] = v.lowerBound
		}
		return map[string]any{"value": m}
	case DtMonolingualText:
		return map[string]any{"value": map[string]any{"text": v.text, "language": v.language}}
	case DtGlobeCoordinate:
		m := map[string]any{"latitude": v.latitude, "longitude": v.longitude, "globe": v.globe}
		if v.hasAltitude {
			m["altitude"] = v.altitude
		}
		if v.hasCoordPrecision {
			m["precision"] = v.coordPrecision
		}
		return map[string]any{"value": m}
	default:
		return map[string]any{"value": v.text}
	}
}
