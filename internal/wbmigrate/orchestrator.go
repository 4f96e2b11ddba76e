// Package wbmigrate drives the end-to-end migration pipeline: fetch,
// prime, translate, merge, and write, each bounded worker pool capped at
// ten in-flight operations.
package wbmigrate

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wikimove/wikimove/internal/wbgateway"
	"github.com/wikimove/wikimove/internal/wbmapping"
	"github.com/wikimove/wikimove/internal/wbmerge"
	"github.com/wikimove/wikimove/internal/wbmetrics"
	"github.com/wikimove/wikimove/internal/wbmodel"
	"github.com/wikimove/wikimove/internal/wbtranslate"
)

var logger = log.New(os.Stderr, "wbmigrate: ", log.Ldate|log.Ltime|log.Lmicroseconds)

// SetLogger overrides the package logger.
func SetLogger(l *log.Logger) { logger = l }

// maxFanOut bounds the orchestrator's own translate/write pools; the
// fetch pool's bound lives inside wbgateway.Gateway.GetEntitiesBatch.
const maxFanOut = 10

// EntityIO is the network seam the orchestrator depends on instead of a
// concrete *wbgateway.Gateway, so tests can substitute an in-memory fake
// (grounded on aurel42-phileasgo/pkg/wikidata's ClientInterface pattern
// of isolating the network client behind an interface for exactly this
// reason).
type EntityIO interface {
	GetEntitiesBatch(ctx context.Context, apiURL string, ids []wbmodel.EntityID) ([]*wbmodel.Entity, error)
	GetSingleEntity(ctx context.Context, apiURL string, id wbmodel.EntityID) (*wbmodel.Entity, error)
	WriteEntity(ctx context.Context, apiURL string, e *wbmodel.Entity, summary string, tags []string, auth wbgateway.Authenticator) (*wbmodel.Entity, error)
	GetSupportedLanguages(ctx context.Context, apiURL string) (map[string]string, error)
}

// MigrateOptions configures one MigrateEntities call (spec.md §4.5's
// inputs).
type MigrateOptions struct {
	Summary       string
	MergeExisting bool // spec default true; the zero value false drops already-mapped entities (step 3)
	Auth          wbgateway.Authenticator
	OnEntityDone  func(wbmodel.EntityID, *wbmodel.TranslationResult)
}

// Orchestrator drives MigrateEntities using gateway for network IO, cache
// for ID resolution, and profile for endpoint/translation configuration.
type Orchestrator struct {
	Gateway EntityIO
	Cache   *wbmapping.Cache
	Profile *wbmodel.Profile
	Metrics *wbmetrics.Metrics
}

// New returns an Orchestrator wired to the given collaborators.
func New(gw EntityIO, cache *wbmapping.Cache, profile *wbmodel.Profile, m *wbmetrics.Metrics) *Orchestrator {
	if m == nil {
		m = wbmetrics.Noop()
	}
	return &Orchestrator{Gateway: gw, Cache: cache, Profile: profile, Metrics: m}
}

// MigrateEntities implements spec.md §4.5's six-step pipeline. A failure
// on any one entity never aborts the batch; infrastructure failures
// (gateway unreachable, mapping cache priming failed outright) are
// returned as a Go error since they invalidate the whole batch, not one
// entity (spec.md §7's propagation policy).
func (o *Orchestrator) MigrateEntities(ctx context.Context, ids []wbmodel.EntityID, opts MigrateOptions) (wbmodel.TranslationBatch, error) {
	sessionID := uuid.NewString()
	logger.Printf("session=%s migrating %s entities", sessionID, humanize.Comma(int64(len(ids))))

	// Step 1: fetch source entities.
	sourceEntities, err := o.Gateway.GetEntitiesBatch(ctx, o.Profile.Source.MediaWikiAPIURL, ids)
	if err != nil {
		return nil, fmt.Errorf("wbmigrate: session=%s fetching source entities: %w", sessionID, err)
	}

	// Step 2: harvest reachable IDs and prime the mapping cache.
	harvestSet := make(map[wbmodel.EntityID]bool)
	var harvested []wbmodel.EntityID
	for _, e := range sourceEntities {
		for _, id := range wbtranslate.HarvestIDs(e) {
			if !harvestSet[id] {
				harvestSet[id] = true
				harvested = append(harvested, id)
			}
		}
	}
	if err := o.Cache.Prepare(ctx, harvested); err != nil {
		return nil, fmt.Errorf("wbmigrate: session=%s priming mapping cache: %w", sessionID, err)
	}

	// Step 3: optionally drop entities that already map to an existing
	// target (merge_existing=false).
	kept := sourceEntities
	if !opts.MergeExisting {
		kept = kept[:0]
		for _, e := range sourceEntities {
			if _, exists := o.Cache.Resolve(ctx, e.ID); exists {
				logger.Printf("session=%s dropping %s: merge_existing=false and a target already exists", sessionID, e.ID)
				continue
			}
			kept = append(kept, e)
		}
	}

	// Step 4: translate each entity (the translator is pure given a
	// primed cache, so this pool is purely throughput, not correctness).
	allowedLanguages, err := o.resolveAllowedLanguages(ctx)
	if err != nil {
		return nil, fmt.Errorf("wbmigrate: session=%s resolving allowed languages: %w", sessionID, err)
	}
	translator := wbtranslate.New(o.Cache, o.Profile)
	translateOpts := wbtranslate.TranslateOptions{
		AllowedLanguages:  allowedLanguages,
		AllowedSitelinks:  o.Profile.Mapping.Sitelinks,
		WithBackReference: true,
	}

	batch := make(wbmodel.TranslationBatch, len(kept))
	results := make([]*wbmodel.TranslationResult, len(kept))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxFanOut)
	for i, e := range kept {
		i, e := i, e
		group.Go(func() error {
			result, err := translator.Translate(groupCtx, e, translateOpts)
			if err != nil {
				return fmt.Errorf("translating %s: %w", e.ID, err)
			}
			results[i] = result
			o.Metrics.EntitiesTranslated.Inc()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("wbmigrate: session=%s translation: %w", sessionID, err)
	}
	for i, e := range kept {
		batch[e.ID] = results[i]
	}

	// Step 5: merge rewritten entities into any existing target entity.
	if err := o.mergeExisting(ctx, batch); err != nil {
		return nil, fmt.Errorf("wbmigrate: session=%s merge: %w", sessionID, err)
	}

	// Step 6: write each translation's entity, bounded to maxFanOut
	// in-flight, in "order of completion" (spec.md §9).
	writeGroup, writeCtx := errgroup.WithContext(ctx)
	writeGroup.SetLimit(maxFanOut)
	for sourceID, result := range batch {
		sourceID, result := sourceID, result
		writeGroup.Go(func() error {
			o.writeOne(writeCtx, sourceID, result, opts)
			return nil
		})
	}
	_ = writeGroup.Wait() // writeOne never returns a non-nil error; failures land on result.Errors

	written, failed := 0, 0
	for _, r := range batch {
		if r.CreatedEntity != nil {
			written++
		} else {
			failed++
		}
	}
	logger.Printf("session=%s migrated %s entities (%s written, %s failed)",
		sessionID, humanize.Comma(int64(len(batch))), humanize.Comma(int64(written)), humanize.Comma(int64(failed)))

	return batch, nil
}

// resolveAllowedLanguages implements spec.md §6's mapping.languages
// semantics: a configured nil list means "every language the target
// supports" (original model/profile.py's get_allowed_languages), so it is
// resolved against the target's supported content languages rather than
// translated as an empty allow-list. A non-nil list, including an
// explicitly empty one, is used as-is.
func (o *Orchestrator) resolveAllowedLanguages(ctx context.Context) ([]string, error) {
	if o.Profile.Mapping.Languages != nil {
		return o.Profile.Mapping.Languages, nil
	}
	supported, err := o.Gateway.GetSupportedLanguages(ctx, o.Profile.Target.MediaWikiAPIURL)
	if err != nil {
		return nil, fmt.Errorf("fetching target's supported languages: %w", err)
	}
	languages := make([]string, 0, len(supported))
	for code := range supported {
		languages = append(languages, code)
	}
	return languages, nil
}

// mergeExisting implements step 5: for every kept entity whose own ID
// already maps to a target entity, fetch that target and fold the
// rewritten entity into it. Merger failures for a single entity are
// recorded as errors and never abort the batch; a genuine ambiguity
// (two sources mapping to the same target) is an infrastructure failure
// that aborts the whole call, since picking one silently would discard
// the other's data.
func (o *Orchestrator) mergeExisting(ctx context.Context, batch wbmodel.TranslationBatch) error {
	type toMerge struct {
		sourceID wbmodel.EntityID
		targetID wbmodel.EntityID
	}
	var candidates []toMerge
	byTarget := make(map[wbmodel.EntityID]wbmodel.EntityID)
	for sourceID, result := range batch {
		if result.Rewritten == nil {
			continue
		}
		targetID, exists := o.Cache.Resolve(ctx, sourceID)
		if !exists {
			continue
		}
		if other, taken := byTarget[targetID]; taken {
			return fmt.Errorf("%w: %s and %s both resolve to %s", wbmodel.ErrMergeConflict, other, sourceID, targetID)
		}
		byTarget[targetID] = sourceID
		candidates = append(candidates, toMerge{sourceID: sourceID, targetID: targetID})
	}
	if len(candidates) == 0 {
		return nil
	}

	ids := make([]wbmodel.EntityID, len(candidates))
	for i, c := range candidates {
		ids[i] = c.targetID
	}
	existing, err := o.Gateway.GetEntitiesBatch(ctx, o.Profile.Target.MediaWikiAPIURL, ids)
	if err != nil {
		for _, c := range candidates {
			batch[c.sourceID].AddError(fmt.Sprintf("fetching existing target entity %s for merge: %v", c.targetID, err))
		}
		return nil
	}
	byID := make(map[wbmodel.EntityID]*wbmodel.Entity, len(existing))
	for _, e := range existing {
		byID[e.ID] = e
	}

	for _, c := range candidates {
		existingEntity, ok := byID[c.targetID]
		if !ok {
			continue
		}
		result := batch[c.sourceID]
		merged := wbmerge.Merge(result.Rewritten, existingEntity, wbmerge.Policy{})
		result.Rewritten = merged
	}
	return nil
}

// writeOne writes result.Rewritten via wbeditentity and records the
// outcome on result, never propagating a write failure as a Go error
// (spec.md §4.5 step 6 / §7's per-entity failure model).
func (o *Orchestrator) writeOne(ctx context.Context, sourceID wbmodel.EntityID, result *wbmodel.TranslationResult, opts MigrateOptions) {
	if result.Rewritten == nil {
		return
	}
	written, err := o.Gateway.WriteEntity(ctx, o.Profile.Target.MediaWikiAPIURL, result.Rewritten, opts.Summary, o.Profile.Target.Tags(), opts.Auth)
	if err != nil {
		result.AddError(fmt.Sprintf("writing entity: %v", err))
		o.Metrics.EntitiesWritten.WithLabelValues("error").Inc()
	} else {
		result.CreatedEntity = written
		o.Metrics.EntitiesWritten.WithLabelValues("ok").Inc()
	}
	if opts.OnEntityDone != nil {
		opts.OnEntityDone(sourceID, result)
	}
}
