package wbgateway

import (
	"encoding/json"
	"fmt"

	"github.com/wikimove/wikimove/internal/wbmodel"
)

// This file converts between the MediaWiki Action API's JSON entity
// representation and this module's internal wbmodel.Entity. It is kept
// separate from sparql.go/entities.go because it is pure marshaling logic with
// no network concern of its own.

type wireMonolingual struct {
	Language string `json:"language"`
	Value    string `json:"value"`
}

type wireSitelink struct {
	Site   string   `json:"site"`
	Title  string   `json:"title"`
	Badges []string `json:"badges"`
}

type wireSnak struct {
	SnakType  string          `json:"snaktype"`
	Property  string          `json:"property"`
	Datatype  string          `json:"datatype"`
	Datavalue json.RawMessage `json:"datavalue,omitempty"`
}

type wireReference struct {
	SnaksOrder []string              `json:"snaks-order"`
	Snaks      map[string][]wireSnak `json:"snaks"`
}

type wireClaim struct {
	Mainsnak        wireSnak                 `json:"mainsnak"`
	Type            string                   `json:"type"`
	Rank             string                  `json:"rank"`
	Qualifiers       map[string][]wireSnak    `json:"qualifiers,omitempty"`
	QualifiersOrder  []string                `json:"qualifiers-order,omitempty"`
	References       []wireReference         `json:"references,omitempty"`
}

type wireEntity struct {
	ID           string                         `json:"id"`
	Type         string                         `json:"type"`
	Datatype     string                         `json:"datatype,omitempty"`
	Labels       map[string]wireMonolingual     `json:"labels"`
	Descriptions map[string]wireMonolingual     `json:"descriptions"`
	Aliases      map[string][]wireMonolingual   `json:"aliases"`
	Claims       map[string][]wireClaim         `json:"claims"`
	Sitelinks    map[string]wireSitelink        `json:"sitelinks,omitempty"`
}

func entityWireType(kind wbmodel.EntityKind) string {
	switch kind {
	case wbmodel.Item:
		return "item"
	case wbmodel.Property:
		return "property"
	case wbmodel.Lexeme:
		return "lexeme"
	case wbmodel.MediaInfo:
		return "mediainfo"
	default:
		return ""
	}
}

func decodeEntity(w *wireEntity) (*wbmodel.Entity, error) {
	kind, err := wbmodel.ParseEntityPrefix(wbmodel.EntityID(w.ID))
	if err != nil {
		return nil, err
	}
	e := wbmodel.NewEntity(wbmodel.EntityID(w.ID), kind)
	for lang, m := range w.Labels {
		e.Labels[lang] = m.Value
	}
	for lang, m := range w.Descriptions {
		e.Descriptions[lang] = m.Value
	}
	for lang, ms := range w.Aliases {
		vals := make([]string, len(ms))
		for i, m := range ms {
			vals[i] = m.Value
		}
		e.Aliases[lang] = vals
	}
	for site, sl := range w.Sitelinks {
		if e.Sitelinks == nil {
			e.Sitelinks = make(map[string]wbmodel.Sitelink)
		}
		e.Sitelinks[site] = wbmodel.Sitelink{Site: sl.Site, Title: sl.Title, Badges: sl.Badges}
	}
	if w.Datatype != "" {
		dt, err := wbmodel.ParseDatatype(w.Datatype)
		if err == nil {
			e.Datatype = &dt
		}
	}
	for _, wcs := range w.Claims {
		for _, wc := range wcs {
			claim, err := decodeClaim(wc)
			if err != nil {
				return nil, err
			}
			e.Claims = append(e.Claims, claim)
		}
	}
	return e, nil
}

func decodeClaim(wc wireClaim) (wbmodel.Claim, error) {
	mainsnak, err := decodeSnak(wc.Mainsnak)
	if err != nil {
		return wbmodel.Claim{}, err
	}
	claim := wbmodel.Claim{Mainsnak: mainsnak}
	for _, pid := range wc.QualifiersOrder {
		claim.QualifiersOrder = append(claim.QualifiersOrder, wbmodel.EntityID(pid))
	}
	if len(wc.Qualifiers) > 0 {
		claim.Qualifiers = make(map[wbmodel.EntityID][]wbmodel.Snak)
		for pid, snaks := range wc.Qualifiers {
			for _, ws := range snaks {
				s, err := decodeSnak(ws)
				if err != nil {
					return wbmodel.Claim{}, err
				}
				claim.Qualifiers[wbmodel.EntityID(pid)] = append(claim.Qualifiers[wbmodel.EntityID(pid)], s)
			}
		}
	}
	for _, wr := range wc.References {
		var group wbmodel.ReferenceGroup
		for _, pid := range wr.SnaksOrder {
			for _, ws := range wr.Snaks[pid] {
				s, err := decodeSnak(ws)
				if err != nil {
					return wbmodel.Claim{}, err
				}
				group.Snaks = append(group.Snaks, s)
			}
		}
		claim.References = append(claim.References, group)
	}
	return claim, nil
}

func decodeSnak(ws wireSnak) (wbmodel.Snak, error) {
	dt, err := wbmodel.ParseDatatype(ws.Datatype)
	if err != nil {
		// An unrecognized datatype on a snak is not fatal to decoding the
		// rest of the entity; the translator will record it as an
		// unresolvable property/type downstream. Keep UnknownDatatype.
		dt = wbmodel.UnknownDatatype
	}
	snakType, err := parseSnakType(ws.SnakType)
	if err != nil {
		return wbmodel.Snak{}, err
	}
	s := wbmodel.Snak{Property: wbmodel.EntityID(ws.Property), Datatype: dt, Type: snakType}
	if snakType == wbmodel.KnownValue && len(ws.Datavalue) > 0 {
		val, err := decodeDatavalue(dt, ws.Datavalue)
		if err != nil {
			// Real Wikibase entities reference datatypes outside this
			// module's closed set (math, musical-notation,
			// wikibase-lexeme, ...); their datavalue shape is unknown to
			// decodeDatavalue too. Drop just the value rather than the
			// whole entity -- wbtranslate's copyValue already handles an
			// UnknownDatatype/valueless snak as an unresolvable one.
			return s, nil
		}
		s.Value = val
	}
	return s, nil
}

func parseSnakType(s string) (wbmodel.SnakType, error) {
	switch s {
	case "value":
		return wbmodel.KnownValue, nil
	case "somevalue":
		return wbmodel.UnknownValue, nil
	case "novalue":
		return wbmodel.NoValue, nil
	default:
		return 0, fmt.Errorf("wbgateway: unknown snaktype %q", s)
	}
}

func decodeDatavalue(dt wbmodel.Datatype, raw json.RawMessage) (*wbmodel.DataValue, error) {
	switch dt {
	case wbmodel.DtString, wbmodel.DtExternalID, wbmodel.DtURL, wbmodel.DtCommonsMedia,
		wbmodel.DtGeoShape, wbmodel.DtTabularData, wbmodel.DtEntitySchema, wbmodel.DtProperty:
		var v struct {
			Value string `json:"value"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return wbmodel.NewTextValue(v.Value), nil
	case wbmodel.DtWikibaseItem:
		var v struct {
			Value struct {
				ID string `json:"id"`
			} `json:"value"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return wbmodel.NewItemValue(wbmodel.EntityID(v.Value.ID)), nil
	case wbmodel.DtTime:
		var v struct {
			Value struct {
				Time          string `json:"time"`
				Precision     int    `json:"precision"`
				Before        int    `json:"before"`
				After         int    `json:"after"`
				Timezone      int    `json:"timezone"`
				CalendarModel string `json:"calendarmodel"`
			} `json:"value"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return wbmodel.NewTimeValue(v.Value.Time, v.Value.Precision, v.Value.Before, v.Value.After, v.Value.Timezone, v.Value.CalendarModel), nil
	case wbmodel.DtQuantity:
		var v struct {
			Value struct {
				Amount     string  `json:"amount"`
				Unit       string  `json:"unit"`
				UpperBound *string `json:"upperBound"`
				LowerBound *string `json:"lowerBound"`
			} `json:"value"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		hasBounds := v.Value.UpperBound != nil && v.Value.LowerBound != nil
		var upper, lower string
		if hasBounds {
			upper, lower = *v.Value.UpperBound, *v.Value.LowerBound
		}
		return wbmodel.NewQuantityValue(v.Value.Amount, v.Value.Unit, upper, lower, hasBounds), nil
	case wbmodel.DtMonolingualText:
		var v struct {
			Value struct {
				Text     string `json:"text"`
				Language string `json:"language"`
			} `json:"value"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return wbmodel.NewMonolingualTextValue(v.Value.Text, v.Value.Language), nil
	case wbmodel.DtGlobeCoordinate:
		var v struct {
			Value struct {
				Latitude  float64  `json:"latitude"`
				Longitude float64  `json:"longitude"`
				Altitude  *float64 `json:"altitude"`
				Precision *float64 `json:"precision"`
				Globe     string   `json:"globe"`
			} `json:"value"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		var alt, prec float64
		var hasAlt, hasPrec bool
		if v.Value.Altitude != nil {
			alt, hasAlt = *v.Value.Altitude, true
		}
		if v.Value.Precision != nil {
			prec, hasPrec = *v.Value.Precision, true
		}
		return wbmodel.NewGlobeCoordinateValue(v.Value.Latitude, v.Value.Longitude, alt, hasAlt, prec, hasPrec, v.Value.Globe), nil
	default:
		return nil, fmt.Errorf("wbgateway: cannot decode datavalue for unknown datatype")
	}
}

func encodeEntity(e *wbmodel.Entity) *wireEntity {
	w := &wireEntity{
		ID:           string(e.ID),
		Type:         entityWireType(e.Kind),
		Labels:       make(map[string]wireMonolingual, len(e.Labels)),
		Descriptions: make(map[string]wireMonolingual, len(e.Descriptions)),
		Aliases:      make(map[string][]wireMonolingual, len(e.Aliases)),
		Claims:       make(map[string][]wireClaim),
	}
	if e.Datatype != nil {
		w.Datatype = e.Datatype.String()
	}
	for lang, v := range e.Labels {
		w.Labels[lang] = wireMonolingual{Language: lang, Value: v}
	}
	for lang, v := range e.Descriptions {
		w.Descriptions[lang] = wireMonolingual{Language: lang, Value: v}
	}
	for lang, vs := range e.Aliases {
		ms := make([]wireMonolingual, len(vs))
		for i, v := range vs {
			ms[i] = wireMonolingual{Language: lang, Value: v}
		}
		w.Aliases[lang] = ms
	}
	if len(e.Sitelinks) > 0 {
		w.Sitelinks = make(map[string]wireSitelink, len(e.Sitelinks))
		for site, sl := range e.Sitelinks {
			w.Sitelinks[site] = wireSitelink{Site: sl.Site, Title: sl.Title, Badges: sl.Badges}
		}
	}
	for _, c := range e.Claims {
		pid := string(c.Mainsnak.Property)
		w.Claims[pid] = append(w.Claims[pid], encodeClaim(c))
	}
	return w
}

func encodeClaim(c wbmodel.Claim) wireClaim {
	wc := wireClaim{
		Mainsnak: encodeSnak(c.Mainsnak),
		Type:     "statement",
		Rank:     "normal",
	}
	for _, pid := range c.QualifiersOrder {
		wc.QualifiersOrder = append(wc.QualifiersOrder, string(pid))
	}
	if len(c.Qualifiers) > 0 {
		wc.Qualifiers = make(map[string][]wireSnak, len(c.Qualifiers))
		for pid, snaks := range c.Qualifiers {
			for _, s := range snaks {
				wc.Qualifiers[string(pid)] = append(wc.Qualifiers[string(pid)], encodeSnak(s))
			}
		}
	}
	for _, group := range c.References {
		wr := wireReference{Snaks: make(map[string][]wireSnak)}
		for _, s := range group.Snaks {
			pid := string(s.Property)
			if len(wr.Snaks[pid]) == 0 {
				wr.SnaksOrder = append(wr.SnaksOrder, pid)
			}
			wr.Snaks[pid] = append(wr.Snaks[pid], encodeSnak(s))
		}
		wc.References = append(wc.References, wr)
	}
	return wc
}

func encodeSnak(s wbmodel.Snak) wireSnak {
	ws := wireSnak{
		SnakType: s.Type.String(),
		Property: string(s.Property),
		Datatype: s.Datatype.String(),
	}
	if s.Type == wbmodel.KnownValue && s.Value != nil {
		payload := s.Value.AsMap(s.Datatype)
		raw, err := json.Marshal(payload["value"])
		if err == nil {
			wrapped, _ := json.Marshal(struct {
				Value json.RawMessage `json:"value"`
			}{Value: raw})
			ws.Datavalue = wrapped
		}
	}
	return ws
}
