// Package wbtranslate rewrites a source-side entity into the target
// identifier space: properties and items are remapped through a
// wbmapping.Cache, datatypes are cast where the profile allows it, and
// provenance is recorded as a back-reference.
package wbtranslate

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"golang.org/x/text/language"

	"github.com/wikimove/wikimove/internal/wbmapping"
	"github.com/wikimove/wikimove/internal/wbmodel"
)

var logger = log.New(os.Stderr, "wbtranslate: ", log.Ldate|log.Ltime|log.Lmicroseconds)

// SetLogger overrides the package logger.
func SetLogger(l *log.Logger) { logger = l }

// TranslateOptions configures one Translate call (spec.md §4.3's contract
// parameters). Unlike the reference implementation, WithBackReference
// defaults to false (Go's zero value); callers wanting spec.md's default
// behavior must set it explicitly to true.
type TranslateOptions struct {
	AllowedLanguages  []string
	AllowedSitelinks  []string
	WithBackReference bool
}

// Translator rewrites source entities into the target identifier space
// using cache for ID resolution and profile for language/sitelink
// allow-lists and back-reference configuration.
type Translator struct {
	Cache   *wbmapping.Cache
	Profile *wbmodel.Profile
}

// New returns a Translator wired to cache and profile.
func New(cache *wbmapping.Cache, profile *wbmodel.Profile) *Translator {
	return &Translator{Cache: cache, Profile: profile}
}

// HarvestIDs returns the set of IDs reachable from e that must be primed
// in the mapping cache before Translate can run without redundant
// mid-translation resolves (spec.md §4.3 "ID harvest").
func HarvestIDs(e *wbmodel.Entity) []wbmodel.EntityID {
	seen := map[wbmodel.EntityID]bool{e.ID: true}
	ids := []wbmodel.EntityID{e.ID}

	add := func(id wbmodel.EntityID) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	harvestSnak := func(s wbmodel.Snak) {
		add(s.Property)
		if s.Type != wbmodel.KnownValue || s.Value == nil {
			return
		}
		switch s.Datatype {
		case wbmodel.DtWikibaseItem:
			add(s.Value.ItemID())
		case wbmodel.DtQuantity:
			if !s.Value.IsUnitless() {
				if unitID, ok := wbmodel.TrailingEntityID(s.Value.Unit()); ok {
					add(unitID)
				}
			}
		}
	}

	for _, c := range e.Claims {
		harvestSnak(c.Mainsnak)
		for _, group := range c.Qualifiers {
			for _, s := range group {
				harvestSnak(s)
			}
		}
		for _, ref := range c.References {
			for _, s := range ref.Snaks {
				harvestSnak(s)
			}
		}
	}
	return ids
}

// allowedLanguageSet normalizes a profile's allow-list to canonical BCP-47
// form via golang.org/x/text/language so that e.g. "en" and "EN" and
// "en-US" matching rules behave predictably; entries that fail to parse
// are kept as literal strings (some Wikibase language codes, like "mul"
// or "simple", are not valid BCP-47 and golang.org/x/text/language would
// otherwise reject them).
func allowedLanguageSet(allowed []string) map[string]bool {
	set := make(map[string]bool, len(allowed))
	for _, tag := range allowed {
		if t, err := language.Parse(tag); err == nil {
			set[t.String()] = true
		}
		set[tag] = true
	}
	return set
}

func languageAllowed(set map[string]bool, code string) bool {
	if set[code] {
		return true
	}
	if t, err := language.Parse(code); err == nil {
		return set[t.String()]
	}
	return false
}

func stringSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

// Translate implements spec.md §4.3: it rewrites src into a new entity of
// the same kind in the target identifier space. The mapping cache must
// already be primed with HarvestIDs(src) (and transitively, any ID that
// Resolve ends up needing); Resolve will prime on demand but doing so
// mid-translation serializes what should be a batch-level prepare.
// Sitelinks are copied as site and title only; their badges are dropped.
func (t *Translator) Translate(ctx context.Context, src *wbmodel.Entity, opts TranslateOptions) (*wbmodel.TranslationResult, error) {
	result := wbmodel.NewTranslationResult(src)
	target := wbmodel.NewEntity("", src.Kind)

	langs := allowedLanguageSet(opts.AllowedLanguages)
	sitelinks := stringSet(opts.AllowedSitelinks)

	for lang, label := range src.Labels {
		if languageAllowed(langs, lang) {
			target.Labels[lang] = label
		}
	}
	for lang, desc := range src.Descriptions {
		if !languageAllowed(langs, lang) {
			continue
		}
		if label, ok := target.Labels[lang]; ok && label == desc {
			continue // description duplicating the label is dropped
		}
		target.Descriptions[lang] = desc
	}
	for lang, aliases := range src.Aliases {
		if languageAllowed(langs, lang) {
			target.Aliases[lang] = append([]string(nil), aliases...)
		}
	}

	if src.Kind == wbmodel.Item {
		for site, sl := range src.Sitelinks {
			if sitelinks[site] {
				target.Sitelinks[site] = wbmodel.Sitelink{Site: sl.Site, Title: sl.Title}
			}
		}
	}

	if src.Kind == wbmodel.Lexeme {
		result.AddError("lexeme lemmas/forms/senses are not translated by this module")
	}

	for _, claim := range src.Claims {
		rewritten, ok := t.translateClaim(ctx, claim, result)
		if !ok {
			continue
		}
		mergeClaimIntoTarget(target, rewritten)
	}

	if opts.WithBackReference {
		if err := t.applyBackReference(src, target); err != nil {
			return nil, err
		}
	}

	result.Rewritten = target
	return result, nil
}

// mergeClaimIntoTarget implements the MERGE_REFS_OR_APPEND policy from
// spec.md §4.3: if an existing target claim's main-snak datavalue matches
// rewritten's, rewritten's reference groups are appended to the existing
// claim's; otherwise rewritten is appended as a new claim. Appended
// reference groups are not checked against the ones already present, so an
// identical group can end up on the claim twice.
func mergeClaimIntoTarget(target *wbmodel.Entity, rewritten wbmodel.Claim) {
	for i := range target.Claims {
		existing := &target.Claims[i]
		if !sameMainsnak(existing.Mainsnak, rewritten.Mainsnak) {
			continue
		}
		existing.References = append(existing.References, rewritten.References...)
		return
	}
	target.Claims = append(target.Claims, rewritten)
}

func sameMainsnak(a, b wbmodel.Snak) bool {
	if a.Property != b.Property || a.Datatype != b.Datatype || a.Type != b.Type {
		return false
	}
	if a.Type != wbmodel.KnownValue {
		return true
	}
	if a.Value == nil || b.Value == nil {
		return a.Value == b.Value
	}
	return mapsEqual(a.Value.AsMap(a.Datatype), b.Value.AsMap(b.Datatype))
}

func mapsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok {
			return false
		}
		ma, aIsMap := va.(map[string]any)
		mb, bIsMap := vb.(map[string]any)
		if aIsMap != bIsMap {
			return false
		}
		if aIsMap {
			if !mapsEqual(ma, mb) {
				return false
			}
			continue
		}
		if fmt.Sprint(va) != fmt.Sprint(vb) {
			return false
		}
	}
	return true
}

// translateClaim rewrites one source claim's mainsnak/qualifiers/
// references, reporting ok=false if the mainsnak itself couldn't be
// translated (the whole claim is then dropped per spec.md §4.3).
func (t *Translator) translateClaim(ctx context.Context, c wbmodel.Claim, result *wbmodel.TranslationResult) (wbmodel.Claim, bool) {
	mainsnak, ok := t.translateSnak(ctx, c.Mainsnak, result)
	if !ok {
		return wbmodel.Claim{}, false
	}

	rewritten := wbmodel.Claim{Mainsnak: mainsnak}
	for _, pid := range c.QualifiersOrder {
		for _, s := range c.Qualifiers[pid] {
			if rs, ok := t.translateSnak(ctx, s, result); ok {
				rewritten.AddQualifier(rs)
			}
		}
	}
	for _, group := range c.References {
		var rewrittenGroup wbmodel.ReferenceGroup
		for _, s := range group.Snaks {
			if rs, ok := t.translateSnak(ctx, s, result); ok {
				rewrittenGroup.Snaks = append(rewrittenGroup.Snaks, rs)
			}
		}
		if len(rewrittenGroup.Snaks) > 0 {
			rewritten.References = append(rewritten.References, rewrittenGroup)
		}
	}
	return rewritten, true
}

// translateSnak implements spec.md §4.3's six-step snak translation
// procedure.
func (t *Translator) translateSnak(ctx context.Context, s wbmodel.Snak, result *wbmodel.TranslationResult) (wbmodel.Snak, bool) {
	if s.Type == wbmodel.UnknownValue && t.Profile.Mapping.IgnoreUnknownValues {
		return wbmodel.Snak{}, false
	}
	if s.Type == wbmodel.NoValue && t.Profile.Mapping.IgnoreNoValues {
		return wbmodel.Snak{}, false
	}

	targetProperty, ok := t.Cache.Resolve(ctx, s.Property)
	if !ok {
		result.AddMissingProperty(s.Property)
		return wbmodel.Snak{}, false
	}
	result.AddMapping(s.Property, targetProperty)

	targetDatatype, haveTargetType := t.Cache.PropertyType(wbmapping.TargetSide, targetProperty)
	if !haveTargetType {
		targetDatatype = s.Datatype
	}

	if s.Type != wbmodel.KnownValue {
		return wbmodel.Snak{Property: targetProperty, Datatype: targetDatatype, Type: s.Type}, true
	}

	if targetDatatype != s.Datatype {
		return t.castSnak(ctx, s, targetProperty, targetDatatype, result)
	}

	value, ok := t.copyValue(ctx, s, result)
	if !ok {
		return wbmodel.Snak{}, false
	}
	return wbmodel.Snak{Property: targetProperty, Datatype: targetDatatype, Type: wbmodel.KnownValue, Value: value}, true
}

// copyValue handles the variant-specific copy rules of spec.md §4.3 step 6
// for a snak whose source and target property datatypes agree.
func (t *Translator) copyValue(ctx context.Context, s wbmodel.Snak, result *wbmodel.TranslationResult) (*wbmodel.DataValue, bool) {
	switch s.Datatype {
	case wbmodel.DtWikibaseItem:
		targetItem, ok := t.Cache.Resolve(ctx, s.Value.ItemID())
		if !ok {
			result.AddMissingItem(s.Value.ItemID())
			return nil, false
		}
		result.AddMapping(s.Value.ItemID(), targetItem)
		return wbmodel.NewItemValue(targetItem), true
	case wbmodel.DtQuantity:
		return t.remapQuantityUnit(ctx, s.Value, result)
	case wbmodel.DtTime:
		return wbmodel.NewTimeValue(s.Value.Time(), s.Value.Precision(), s.Value.Before(), s.Value.After(), s.Value.Timezone(), s.Value.CalendarModel()), true
	case wbmodel.DtMonolingualText:
		return wbmodel.NewMonolingualTextValue(s.Value.Text(), s.Value.Language()), true
	case wbmodel.DtGlobeCoordinate:
		alt, hasAlt := s.Value.Altitude()
		prec, hasPrec := s.Value.CoordPrecision()
		return wbmodel.NewGlobeCoordinateValue(s.Value.Latitude(), s.Value.Longitude(), alt, hasAlt, prec, hasPrec, s.Value.Globe()), true
	case wbmodel.DtString, wbmodel.DtExternalID, wbmodel.DtURL, wbmodel.DtCommonsMedia,
		wbmodel.DtGeoShape, wbmodel.DtTabularData, wbmodel.DtEntitySchema, wbmodel.DtProperty:
		return wbmodel.NewTextValue(s.Value.Text()), true
	default:
		result.AddError(fmt.Sprintf("cannot copy value of unknown datatype for property %s", s.Property))
		return nil, false
	}
}

func (t *Translator) remapQuantityUnit(ctx context.Context, v *wbmodel.DataValue, result *wbmodel.TranslationResult) (*wbmodel.DataValue, bool) {
	if v.IsUnitless() {
		return wbmodel.NewQuantityValue(v.Amount(), v.Unit(), v.UpperBound(), v.LowerBound(), v.HasBounds()), true
	}
	unitID, ok := wbmodel.TrailingEntityID(v.Unit())
	if !ok {
		result.AddError(fmt.Sprintf("quantity unit %q is not an entity IRI; dropping statement", v.Unit()))
		return nil, false
	}
	targetUnit, ok := t.Cache.Resolve(ctx, unitID)
	if !ok {
		result.AddMissingItem(unitID)
		return nil, false
	}
	result.AddMapping(unitID, targetUnit)
	newUnit := strings.TrimSuffix(t.Profile.Target.ItemPrefix, "/") + "/" + string(targetUnit)
	return wbmodel.NewQuantityValue(v.Amount(), newUnit, v.UpperBound(), v.LowerBound(), v.HasBounds()), true
}

// castSnak implements the type-mismatch caster table of spec.md §4.3.
func (t *Translator) castSnak(ctx context.Context, s wbmodel.Snak, targetProperty wbmodel.EntityID, targetDatatype wbmodel.Datatype, result *wbmodel.TranslationResult) (wbmodel.Snak, bool) {
	if !t.Profile.TypeCasts.Enabled {
		result.AddError(fmt.Sprintf("property %s: type cast %s -> %s refused (casts disabled)", s.Property, s.Datatype, targetDatatype))
		return wbmodel.Snak{}, false
	}

	var value *wbmodel.DataValue
	switch {
	case s.Datatype == wbmodel.DtString && targetDatatype == wbmodel.DtQuantity:
		amount, err := strconv.Atoi(s.Value.Text())
		if err != nil {
			result.AddError(fmt.Sprintf("property %s: cannot cast %q to quantity: %v", s.Property, s.Value.Text(), err))
			return wbmodel.Snak{}, false
		}
		value = wbmodel.NewQuantityValue(fmt.Sprintf("%+d", amount), "1", "", "", false)
	case s.Datatype == wbmodel.DtString && targetDatatype == wbmodel.DtMonolingualText:
		value = wbmodel.NewMonolingualTextValue(s.Value.Text(), t.Profile.TypeCasts.FallbackLanguage)
	case s.Datatype == wbmodel.DtString && targetDatatype == wbmodel.DtExternalID:
		value = wbmodel.NewTextValue(s.Value.Text())
	case s.Datatype == wbmodel.DtMonolingualText && targetDatatype == wbmodel.DtString:
		value = wbmodel.NewTextValue(s.Value.Text())
	case targetDatatype == wbmodel.DtWikibaseItem && s.Datatype != wbmodel.DtWikibaseItem:
		result.AddError(fmt.Sprintf("property %s: cannot cast %s to wikibase-item (no entity reference in source value)", s.Property, s.Datatype))
		return wbmodel.Snak{}, false
	default:
		result.AddError(fmt.Sprintf("property %s: unsupported type cast %s -> %s", s.Property, s.Datatype, targetDatatype))
		return wbmodel.Snak{}, false
	}

	result.AddError(fmt.Sprintf("property %s: cast %s -> %s applied", s.Property, s.Datatype, targetDatatype))
	return wbmodel.Snak{Property: targetProperty, Datatype: targetDatatype, Type: wbmodel.KnownValue, Value: value}, true
}

// applyBackReference appends provenance of src's identity to target, per
// spec.md §4.3's back-reference rule.
func (t *Translator) applyBackReference(src, target *wbmodel.Entity) error {
	ref := t.Profile.BackReferenceFor(src.Kind)
	if ref == nil {
		return nil
	}
	switch ref.Type {
	case wbmodel.BackReferenceSitelink:
		if target.Sitelinks == nil {
			return fmt.Errorf("wbtranslate: back-reference sitelink configured but entity kind %s does not support sitelinks", src.Kind)
		}
		target.Sitelinks[ref.ID] = wbmodel.Sitelink{Site: ref.ID, Title: string(src.ID)}
		return nil
	case wbmodel.BackReferenceProperty:
		claim := wbmodel.Claim{
			Mainsnak: wbmodel.Snak{
				Property: wbmodel.EntityID(ref.ID),
				Datatype: wbmodel.DtExternalID,
				Type:     wbmodel.KnownValue,
				Value:    wbmodel.NewTextValue(string(src.ID)),
			},
		}
		target.Claims = append(target.Claims, claim)
		return nil
	default:
		return fmt.Errorf("wbtranslate: unknown back-reference type %q", ref.Type)
	}
}
