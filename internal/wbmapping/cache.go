// Package wbmapping maintains the source→target identifier mapping used
// to rewrite property and item references during translation. It is the
// only component in this module touched by more than one worker, so every
// write is funneled through Cache's mutex (spec design note: "mapping
// cache as a funnel").
package wbmapping

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/wikimove/wikimove/internal/wbgateway"
	"github.com/wikimove/wikimove/internal/wbmetrics"
	"github.com/wikimove/wikimove/internal/wbmodel"
)

var logger = log.New(os.Stderr, "wbmapping: ", log.Ldate|log.Ltime|log.Lmicroseconds)

// SetLogger overrides the package logger.
func SetLogger(l *log.Logger) { logger = l }

// Side selects which endpoint's SPARQL service a property-type lookup runs
// against.
type Side int

const (
	SourceSide Side = iota
	TargetSide
)

// Cache holds the three mapping dictionaries described in spec.md §4.2
// plus a hand-rolled single-flight combiner that collapses concurrent
// Resolve/prepare calls for the same absent ID into one SPARQL round
// trip. golang.org/x/sync/singleflight is not available at the version
// this module's x/sync is pinned to elsewhere in the corpus, so the
// combiner is the one deliberately hand-rolled piece of concurrency
// primitive in this module (see DESIGN.md).
type Cache struct {
	Gateway *wbgateway.Gateway
	Profile *wbmodel.Profile
	Metrics *wbmetrics.Metrics

	mu          sync.Mutex
	mappings    map[wbmodel.EntityID]*wbmodel.EntityID
	sourceTypes map[wbmodel.EntityID]wbmodel.Datatype
	targetTypes map[wbmodel.EntityID]wbmodel.Datatype

	inflightMu sync.Mutex
	inflight   map[wbmodel.EntityID]*sync.WaitGroup
}

// New returns an empty Cache wired to gw/profile/metrics.
func New(gw *wbgateway.Gateway, profile *wbmodel.Profile, m *wbmetrics.Metrics) *Cache {
	if m == nil {
		m = wbmetrics.Noop()
	}
	return &Cache{
		Gateway:     gw,
		Profile:     profile,
		Metrics:     m,
		mappings:    make(map[wbmodel.EntityID]*wbmodel.EntityID),
		sourceTypes: make(map[wbmodel.EntityID]wbmodel.Datatype),
		targetTypes: make(map[wbmodel.EntityID]wbmodel.Datatype),
		inflight:    make(map[wbmodel.EntityID]*sync.WaitGroup),
	}
}

type rawPair struct {
	source, target wbmodel.EntityID
}

// Prepare is idempotent: ids already present in the cache (mapped or
// known-unmapped) are skipped, so re-running Prepare with the same input
// issues no SPARQL calls (spec.md §8).
func (c *Cache) Prepare(ctx context.Context, ids []wbmodel.EntityID) error {
	toFetch, wait := c.claimOrJoin(ids)
	wait()
	if len(toFetch) == 0 {
		return nil
	}

	var props, items []wbmodel.EntityID
	for _, id := range toFetch {
		switch wbmodel.KindOf(id) {
		case wbmodel.Property:
			props = append(props, id)
		case wbmodel.Item:
			items = append(items, id)
		default:
			// Lexemes/MediaInfo have no mapping-query equivalent in this
			// data model; they resolve to unmapped by definition.
		}
	}

	var propPairs, itemPairs []rawPair
	var err error
	if len(props) > 0 {
		propPairs, err = c.runMappingQuery(ctx, c.Profile.Mapping.PropertyMappingQuery, props)
		if err != nil {
			c.releaseInflight(toFetch)
			return fmt.Errorf("wbmapping: property mapping query: %w", err)
		}
	}
	if len(items) > 0 {
		itemPairs, err = c.runMappingQuery(ctx, c.Profile.Mapping.ItemMappingQuery, items)
		if err != nil {
			c.releaseInflight(toFetch)
			return fmt.Errorf("wbmapping: item mapping query: %w", err)
		}
	}

	var targetCandidates []wbmodel.EntityID
	for _, p := range propPairs {
		targetCandidates = append(targetCandidates, p.target)
	}
	propTypes, err := c.introspectPropertyTypes(ctx, props, dedupeAndSort(targetCandidates))
	if err != nil {
		c.releaseInflight(toFetch)
		return fmt.Errorf("wbmapping: property type introspection: %w", err)
	}

	resolved := resolvePropertyConflicts(propPairs, propTypes)
	for k, v := range resolveItemConflicts(itemPairs) {
		resolved[k] = v
	}

	c.mu.Lock()
	for _, id := range toFetch {
		if _, ok := c.mappings[id]; !ok {
			c.mappings[id] = nil
		}
	}
	for source, target := range resolved {
		t := target
		c.mappings[source] = &t
	}
	for pid, dt := range propTypes.source {
		c.sourceTypes[pid] = dt
	}
	for pid, dt := range propTypes.target {
		c.targetTypes[pid] = dt
	}
	c.mu.Unlock()

	c.releaseInflight(toFetch)
	return nil
}

// claimOrJoin returns the subset of ids not yet present in the cache and
// not already being fetched by another goroutine (the caller must fetch
// those and then call releaseInflight), plus a function the caller should
// invoke to block until every id in ids (including ones owned by other
// goroutines) is resolved.
func (c *Cache) claimOrJoin(ids []wbmodel.EntityID) (toFetch []wbmodel.EntityID, wait func()) {
	var joined []*sync.WaitGroup

	c.mu.Lock()
	c.inflightMu.Lock()
	for _, id := range ids {
		if _, cached := c.mappings[id]; cached {
			continue
		}
		if wg, inFlight := c.inflight[id]; inFlight {
			joined = append(joined, wg)
			continue
		}
		wg := &sync.WaitGroup{}
		wg.Add(1)
		c.inflight[id] = wg
		toFetch = append(toFetch, id)
	}
	c.inflightMu.Unlock()
	c.mu.Unlock()

	return toFetch, func() {
		for _, wg := range joined {
			wg.Wait()
		}
	}
}

func (c *Cache) releaseInflight(ids []wbmodel.EntityID) {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()
	for _, id := range ids {
		if wg, ok := c.inflight[id]; ok {
			delete(c.inflight, id)
			wg.Done()
		}
	}
}

func (c *Cache) runMappingQuery(ctx context.Context, template string, ids []wbmodel.EntityID) ([]rawPair, error) {
	host := c.Profile.MappingHost()
	values := make([]string, len(ids))
	for i, id := range ids {
		values[i] = wikidataValueLiteral(host, id)
	}
	rows := c.Gateway.ExecuteValuesInChunks(ctx, host.SPARQLURL, template, "values", values, 1000)
	c.Metrics.MappingCacheLookups.WithLabelValues("prepare").Add(float64(len(ids)))

	pairs := make([]rawPair, 0, len(rows))
	for _, row := range rows {
		sourceURI, target := row["source_item"], row["target_item"]
		source, ok := wbmodel.TrailingEntityID(sourceURI)
		if !ok {
			source, ok = wbmodel.TrailingEntityID(row["source_property"])
		}
		targetID, hasTarget := wbmodel.TrailingEntityID(target)
		if !hasTarget {
			targetID, hasTarget = wbmodel.TrailingEntityID(row["target_property"])
		}
		if !ok || !hasTarget {
			continue
		}
		pairs = append(pairs, rawPair{source: source, target: targetID})
	}
	return pairs, nil
}

func wikidataValueLiteral(host *wbmodel.WikibaseEndpoint, id wbmodel.EntityID) string {
	return fmt.Sprintf("<%s%s>", strings.TrimSuffix(host.ItemPrefix, "/")+"/", id)
}

type propertyTypes struct {
	source map[wbmodel.EntityID]wbmodel.Datatype
	target map[wbmodel.EntityID]wbmodel.Datatype
}

// introspectPropertyTypes runs `?p wikibase:propertyType ?type` on each
// side in parallel: sourceProps against the source endpoint, and
// targetCandidates (the raw, not-yet-resolved mapping-query targets)
// against the target endpoint, since a target property ID has no meaning
// on the source wiki and vice versa (spec.md §4.2).
func (c *Cache) introspectPropertyTypes(ctx context.Context, sourceProps, targetCandidates []wbmodel.EntityID) (propertyTypes, error) {
	result := propertyTypes{source: make(map[wbmodel.EntityID]wbmodel.Datatype), target: make(map[wbmodel.EntityID]wbmodel.Datatype)}
	if len(sourceProps) == 0 && len(targetCandidates) == 0 {
		return result, nil
	}

	const query = "SELECT ?p ?type WHERE { VALUES ?p { $values } ?p wikibase:propertyType ?type . }"

	var wg sync.WaitGroup
	if len(sourceProps) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			values := make([]string, len(sourceProps))
			for i, p := range sourceProps {
				values[i] = wikidataValueLiteral(&c.Profile.Source, p)
			}
			rows := c.Gateway.ExecuteValuesInChunks(ctx, c.Profile.Source.SPARQLURL, query, "values", values, 1000)
			for _, row := range rows {
				pid, ok := wbmodel.TrailingEntityID(row["p"])
				if !ok {
					continue
				}
				if dt, ok := datatypeFromOntologyURI(row["type"]); ok {
					result.source[pid] = dt
				}
			}
		}()
	}
	if len(targetCandidates) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			values := make([]string, len(targetCandidates))
			for i, p := range targetCandidates {
				values[i] = wikidataValueLiteral(&c.Profile.Target, p)
			}
			rows := c.Gateway.ExecuteValuesInChunks(ctx, c.Profile.Target.SPARQLURL, query, "values", values, 1000)
			for _, row := range rows {
				pid, ok := wbmodel.TrailingEntityID(row["p"])
				if !ok {
					continue
				}
				if dt, ok := datatypeFromOntologyURI(row["type"]); ok {
					result.target[pid] = dt
				}
			}
		}()
	}
	wg.Wait()

	return result, nil
}

// ontologyDatatype maps the PascalCase names used by the wikiba.se
// ontology's wikibase:propertyType values to this module's Datatype enum;
// these names are distinct from the wbgetentities wire strings in
// datatype.go (e.g. "WikibaseItem" here vs. "wikibase-item" there).
var ontologyDatatype = map[string]wbmodel.Datatype{
	"String":           wbmodel.DtString,
	"ExternalId":       wbmodel.DtExternalID,
	"Url":              wbmodel.DtURL,
	"CommonsMedia":     wbmodel.DtCommonsMedia,
	"GeoShape":         wbmodel.DtGeoShape,
	"TabularData":      wbmodel.DtTabularData,
	"EntitySchema":     wbmodel.DtEntitySchema,
	"WikibaseProperty": wbmodel.DtProperty,
	"WikibaseItem":     wbmodel.DtWikibaseItem,
	"Time":             wbmodel.DtTime,
	"Quantity":         wbmodel.DtQuantity,
	"Monolingualtext":  wbmodel.DtMonolingualText,
	"GlobeCoordinate":  wbmodel.DtGlobeCoordinate,
}

// datatypeFromOntologyURI extracts the trailing datatype name from a
// wikibase:propertyType URI such as
// "http://wikiba.se/ontology#Quantity" and maps it to a Datatype.
func datatypeFromOntologyURI(uri string) (wbmodel.Datatype, bool) {
	idx := strings.LastIndexAny(uri, "/#")
	name := uri
	if idx >= 0 {
		name = uri[idx+1:]
	}
	dt, ok := ontologyDatatype[name]
	return dt, ok
}

func groupBySource(pairs []rawPair) map[wbmodel.EntityID][]wbmodel.EntityID {
	grouped := make(map[wbmodel.EntityID][]wbmodel.EntityID)
	for _, p := range pairs {
		grouped[p.source] = append(grouped[p.source], p.target)
	}
	return grouped
}

// resolvePropertyConflicts collapses a raw set of (source, target) pairs
// for properties per spec.md §4.2 steps 1-2: a single target is chosen
// outright; among multiple targets, one whose datatype matches the
// source's datatype is preferred, with ties (or no match) broken by
// lexicographically smallest target ID rather than "first encountered"
// (spec.md §9's resolution of the corresponding Open Question), so the
// choice does not depend on the row order the SPARQL endpoint returns.
func resolvePropertyConflicts(pairs []rawPair, types propertyTypes) map[wbmodel.EntityID]wbmodel.EntityID {
	resolved := make(map[wbmodel.EntityID]wbmodel.EntityID)
	for source, targets := range groupBySource(pairs) {
		targets = dedupeAndSort(targets)
		if len(targets) == 1 {
			resolved[source] = targets[0]
			continue
		}
		if sourceDT, ok := types.source[source]; ok {
			var matching []wbmodel.EntityID
			for _, t := range targets {
				if targetDT, ok := types.target[t]; ok && targetDT == sourceDT {
					matching = append(matching, t)
				}
			}
			if len(matching) > 0 {
				resolved[source] = matching[0] // already sorted within targets
				continue
			}
		}
		resolved[source] = targets[0]
	}
	return resolved
}

// resolveItemConflicts applies spec.md §4.2 step 3: among multiple
// targets for one source item, pick the lexicographically smallest.
func resolveItemConflicts(pairs []rawPair) map[wbmodel.EntityID]wbmodel.EntityID {
	resolved := make(map[wbmodel.EntityID]wbmodel.EntityID)
	for source, targets := range groupBySource(pairs) {
		targets = dedupeAndSort(targets)
		resolved[source] = targets[0]
	}
	return resolved
}

func dedupeAndSort(ids []wbmodel.EntityID) []wbmodel.EntityID {
	seen := make(map[wbmodel.EntityID]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Resolve triggers Prepare([id]) if id has never been queried, then
// returns the cached mapping.
func (c *Cache) Resolve(ctx context.Context, id wbmodel.EntityID) (wbmodel.EntityID, bool) {
	c.mu.Lock()
	target, cached := c.mappings[id]
	c.mu.Unlock()

	if !cached {
		if err := c.Prepare(ctx, []wbmodel.EntityID{id}); err != nil {
			logger.Printf("Resolve(%s): prepare failed: %v", id, err)
			c.Metrics.MappingCacheLookups.WithLabelValues("error").Inc()
			return "", false
		}
		c.mu.Lock()
		target = c.mappings[id]
		c.mu.Unlock()
	}

	if target == nil {
		c.Metrics.MappingCacheLookups.WithLabelValues("unmapped").Inc()
		return "", false
	}
	c.Metrics.MappingCacheLookups.WithLabelValues("mapped").Inc()
	return *target, true
}

// PropertyType returns the cached property datatype on the given side, if
// known.
func (c *Cache) PropertyType(side Side, id wbmodel.EntityID) (wbmodel.Datatype, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var m map[wbmodel.EntityID]wbmodel.Datatype
	if side == SourceSide {
		m = c.sourceTypes
	} else {
		m = c.targetTypes
	}
	dt, ok := m[id]
	return dt, ok
}
