package wbmigrate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wikimove/wikimove/internal/wbgateway"
	"github.com/wikimove/wikimove/internal/wbmapping"
	"github.com/wikimove/wikimove/internal/wbmodel"
)

func httpBody(s string) io.ReadCloser {
	return io.NopCloser(bytes.NewReader([]byte(s)))
}

// bindingsJSONFor builds a SPARQL JSON results payload from plain string
// rows, mirroring wbmapping's own test helper (duplicated here to keep
// this package's tests free of a test-only cross-package dependency).
func bindingsJSONFor(rows []map[string]string) string {
	type jv struct {
		Value string `json:"value"`
	}
	bindings := make([]map[string]jv, len(rows))
	for i, row := range rows {
		b := make(map[string]jv, len(row))
		for k, v := range row {
			b[k] = jv{Value: v}
		}
		bindings[i] = b
	}
	payload := map[string]any{"results": map[string]any{"bindings": bindings}}
	raw, _ := json.Marshal(payload)
	return string(raw)
}

// fakeEntityIO is an in-memory EntityIO: reads come from a fixed source
// table, writes are recorded (or rejected per writeFails), and
// GetEntitiesBatch also doubles as the "existing target entity" lookup
// since both calls share the same method in production.
type fakeEntityIO struct {
	bySourceURL           map[string]map[wbmodel.EntityID]*wbmodel.Entity
	writeFails            map[string]bool // keyed by the entity's "en" label
	supportedLanguages    map[string]string
	supportedLanguagesErr error
	nextID                int
	written               []*wbmodel.Entity
}

func (f *fakeEntityIO) GetEntitiesBatch(ctx context.Context, apiURL string, ids []wbmodel.EntityID) ([]*wbmodel.Entity, error) {
	table := f.bySourceURL[apiURL]
	out := make([]*wbmodel.Entity, 0, len(ids))
	for _, id := range ids {
		if e, ok := table[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeEntityIO) GetSingleEntity(ctx context.Context, apiURL string, id wbmodel.EntityID) (*wbmodel.Entity, error) {
	table := f.bySourceURL[apiURL]
	return table[id], nil
}

func (f *fakeEntityIO) GetSupportedLanguages(ctx context.Context, apiURL string) (map[string]string, error) {
	if f.supportedLanguagesErr != nil {
		return nil, f.supportedLanguagesErr
	}
	return f.supportedLanguages, nil
}

func (f *fakeEntityIO) WriteEntity(ctx context.Context, apiURL string, e *wbmodel.Entity, summary string, tags []string, auth wbgateway.Authenticator) (*wbmodel.Entity, error) {
	if f.writeFails[e.Labels["en"]] {
		return nil, fmt.Errorf("fake wbeditentity failure for %q", e.Labels["en"])
	}
	f.nextID++
	written := e.Clone()
	if written.ID == "" {
		written.ID = wbmodel.EntityID(fmt.Sprintf("Q%d", 9000+f.nextID))
	}
	f.written = append(f.written, written)
	return written, nil
}

// fakeMappingTransport answers every SPARQL POST with an empty binding
// set, so the mapping cache resolves every property/item as unmapped
// unless the test overrides bindingsByEndpoint.
type fakeMappingTransport struct {
	bindingsByEndpoint map[string]string
}

func (f *fakeMappingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	body := f.bindingsByEndpoint[req.URL.String()]
	if body == "" {
		body = `{"results":{"bindings":[]}}`
	}
	return &http.Response{
		StatusCode: 200,
		Body:       httpBody(body),
		Header:     make(http.Header),
	}, nil
}

func testProfile() *wbmodel.Profile {
	return &wbmodel.Profile{
		Source: wbmodel.WikibaseEndpoint{
			Name:            "source",
			SPARQLURL:       "https://source.example/sparql",
			MediaWikiAPIURL: "https://source.example/w/api.php",
			ItemPrefix:      "https://source.example/entity",
		},
		Target: wbmodel.WikibaseEndpoint{
			Name:            "target",
			SPARQLURL:       "https://target.example/sparql",
			MediaWikiAPIURL: "https://target.example/w/api.php",
			ItemPrefix:      "https://target.example/entity",
			Tag:             "wikimove",
		},
		Mapping: wbmodel.MappingConfig{
			LocationOfMapping:    wbmodel.MappingAtTarget,
			ItemMappingQuery:     "SELECT ?source_item ?target_item WHERE { VALUES ?source_item { $values } }",
			PropertyMappingQuery: "SELECT ?source_item ?target_item WHERE { VALUES ?source_item { $values } }",
			Languages:            []string{"en"},
		},
		TypeCasts: wbmodel.DefaultTypeCastConfig(),
	}
}

func newOrchestrator(t *testing.T, io *fakeEntityIO, mappingBindings map[string]string) *Orchestrator {
	t.Helper()
	profile := testProfile()
	transport := &fakeMappingTransport{bindingsByEndpoint: mappingBindings}
	gw := wbgateway.New(&http.Client{Transport: transport}, nil)
	cache := wbmapping.New(gw, profile, nil)
	return New(io, cache, profile, nil)
}

// TestMigrateNewEntityNoExistingTarget covers scenario 1: a plain item
// with no prior mapping is translated and written as a brand-new target
// entity.
func TestMigrateNewEntityNoExistingTarget(t *testing.T) {
	source := wbmodel.NewEntity("Q1", wbmodel.Item)
	source.Labels["en"] = "douglas adams"

	io := &fakeEntityIO{
		bySourceURL: map[string]map[wbmodel.EntityID]*wbmodel.Entity{
			"https://source.example/w/api.php": {"Q1": source},
		},
	}
	o := newOrchestrator(t, io, nil)

	batch, err := o.MigrateEntities(context.Background(), []wbmodel.EntityID{"Q1"}, MigrateOptions{Summary: "migrate", MergeExisting: true})
	require.NoError(t, err)
	result, ok := batch["Q1"]
	require.True(t, ok, "batch missing Q1")
	require.NotNil(t, result.CreatedEntity)
	require.Equal(t, "douglas adams", result.CreatedEntity.Labels["en"])
	require.Len(t, io.written, 1)
}

// TestMigrateNilLanguagesResolvesToTargetSupportedLanguages covers spec.md
// §6's default: a nil mapping.languages list means every language the
// target wiki supports, not an empty allow-list that strips every label.
func TestMigrateNilLanguagesResolvesToTargetSupportedLanguages(t *testing.T) {
	source := wbmodel.NewEntity("Q1", wbmodel.Item)
	source.Labels["en"] = "douglas adams"
	source.Labels["de"] = "Douglas Adams"
	source.Labels["xx"] = "unsupported by target"

	io := &fakeEntityIO{
		bySourceURL: map[string]map[wbmodel.EntityID]*wbmodel.Entity{
			"https://source.example/w/api.php": {"Q1": source},
		},
		supportedLanguages: map[string]string{"en": "en", "de": "de"},
	}
	profile := testProfile()
	profile.Mapping.Languages = nil
	transport := &fakeMappingTransport{}
	gw := wbgateway.New(&http.Client{Transport: transport}, nil)
	cache := wbmapping.New(gw, profile, nil)
	o := New(io, cache, profile, nil)

	batch, err := o.MigrateEntities(context.Background(), []wbmodel.EntityID{"Q1"}, MigrateOptions{Summary: "migrate", MergeExisting: true})
	require.NoError(t, err)
	result := batch["Q1"]
	require.NotNil(t, result.CreatedEntity)
	require.Equal(t, "douglas adams", result.CreatedEntity.Labels["en"])
	require.Equal(t, "Douglas Adams", result.CreatedEntity.Labels["de"])
	_, ok := result.CreatedEntity.Labels["xx"]
	require.False(t, ok, "language absent from the target's supported set should be dropped")
}

// TestMigrateNilLanguagesSupportedLanguagesFetchFailureAbortsBatch covers
// the infrastructure-failure side of the same resolution: if the target's
// supported-language list can't be fetched, the whole call fails rather
// than silently falling back to an empty (everything-stripped) allow-list.
func TestMigrateNilLanguagesSupportedLanguagesFetchFailureAbortsBatch(t *testing.T) {
	source := wbmodel.NewEntity("Q1", wbmodel.Item)
	source.Labels["en"] = "douglas adams"

	io := &fakeEntityIO{
		bySourceURL: map[string]map[wbmodel.EntityID]*wbmodel.Entity{
			"https://source.example/w/api.php": {"Q1": source},
		},
		supportedLanguagesErr: fmt.Errorf("paraminfo request failed"),
	}
	profile := testProfile()
	profile.Mapping.Languages = nil
	transport := &fakeMappingTransport{}
	gw := wbgateway.New(&http.Client{Transport: transport}, nil)
	cache := wbmapping.New(gw, profile, nil)
	o := New(io, cache, profile, nil)

	_, err := o.MigrateEntities(context.Background(), []wbmodel.EntityID{"Q1"}, MigrateOptions{Summary: "migrate", MergeExisting: true})
	require.Error(t, err)
}

// TestMigrateMissingPropertyRecordsErrorWithoutAbortingBatch covers
// scenario 2: a claim referencing an unmapped property is dropped and
// noted, but the entity itself still migrates.
func TestMigrateMissingPropertyRecordsErrorWithoutAbortingBatch(t *testing.T) {
	source := wbmodel.NewEntity("Q1", wbmodel.Item)
	source.Labels["en"] = "example"
	source.Claims = append(source.Claims, wbmodel.Claim{
		Mainsnak: wbmodel.Snak{Property: "P999", Datatype: wbmodel.DtString, Type: wbmodel.KnownValue, Value: wbmodel.NewTextValue("unmapped")},
	})

	io := &fakeEntityIO{
		bySourceURL: map[string]map[wbmodel.EntityID]*wbmodel.Entity{
			"https://source.example/w/api.php": {"Q1": source},
		},
	}
	o := newOrchestrator(t, io, nil)

	batch, err := o.MigrateEntities(context.Background(), []wbmodel.EntityID{"Q1"}, MigrateOptions{Summary: "migrate", MergeExisting: true})
	require.NoError(t, err)
	result := batch["Q1"]
	require.NotNil(t, result.CreatedEntity, "entity with an unmapped property should still be written")
	require.Equal(t, []wbmodel.EntityID{"P999"}, result.MissingProperties)
	require.Empty(t, result.CreatedEntity.Claims, "claim with an unmapped property should be dropped")
}

// TestMigrateDropsEntityWhenMergeExistingFalse covers the merge_existing
// drop path: an entity already mapped to a target is skipped entirely
// when the caller asks not to merge.
func TestMigrateDropsEntityWhenMergeExistingFalse(t *testing.T) {
	source := wbmodel.NewEntity("Q1", wbmodel.Item)
	source.Labels["en"] = "already migrated"

	io := &fakeEntityIO{
		bySourceURL: map[string]map[wbmodel.EntityID]*wbmodel.Entity{
			"https://source.example/w/api.php": {"Q1": source},
		},
	}
	mappingBindings := map[string]string{
		"https://target.example/sparql": bindingsJSONFor([]map[string]string{
			{"source_item": "https://source.example/entity/Q1", "target_item": "https://target.example/entity/Q500"},
		}),
	}
	o := newOrchestrator(t, io, mappingBindings)

	batch, err := o.MigrateEntities(context.Background(), []wbmodel.EntityID{"Q1"}, MigrateOptions{Summary: "migrate", MergeExisting: false})
	require.NoError(t, err)
	require.Empty(t, batch, "expected the already-mapped entity to be dropped")
	require.Empty(t, io.written, "dropped entity should never be written")
}

// TestMigrateMergesIntoExistingTarget covers scenario 3/5: an entity
// already mapped to a target entity is folded into it via wbmerge before
// the write.
func TestMigrateMergesIntoExistingTarget(t *testing.T) {
	source := wbmodel.NewEntity("Q1", wbmodel.Item)
	source.Labels["en"] = "douglas adams"
	source.Claims = append(source.Claims, wbmodel.Claim{
		Mainsnak: wbmodel.Snak{Property: "P31", Datatype: wbmodel.DtWikibaseItem, Type: wbmodel.KnownValue, Value: wbmodel.NewItemValue("Q5")},
	})

	existingTarget := wbmodel.NewEntity("Q500", wbmodel.Item)
	existingTarget.Descriptions["en"] = "pre-existing description"

	io := &fakeEntityIO{
		bySourceURL: map[string]map[wbmodel.EntityID]*wbmodel.Entity{
			"https://source.example/w/api.php": {"Q1": source},
			"https://target.example/w/api.php": {"Q500": existingTarget},
		},
	}
	// One canned response answers every SPARQL POST to this endpoint
	// regardless of which IDs were actually queried (fakeMappingTransport
	// keys only by endpoint URL), so it must cover every pair needed
	// across both the item and property mapping queries Prepare issues:
	// the entity's own ID, its WikibaseItem-valued claim's property, and
	// that claim's referenced item.
	mappingBindings := map[string]string{
		"https://target.example/sparql": bindingsJSONFor([]map[string]string{
			{"source_item": "https://source.example/entity/Q1", "target_item": "https://target.example/entity/Q500"},
			{"source_item": "https://source.example/entity/Q5", "target_item": "https://target.example/entity/Q5"},
			{"source_property": "https://source.example/entity/P31", "target_property": "https://target.example/entity/P31"},
		}),
	}
	o := newOrchestrator(t, io, mappingBindings)

	batch, err := o.MigrateEntities(context.Background(), []wbmodel.EntityID{"Q1"}, MigrateOptions{Summary: "migrate", MergeExisting: true})
	require.NoError(t, err)
	result := batch["Q1"]
	require.NotNil(t, result.CreatedEntity, "expected a write after merge")
	require.Equal(t, "douglas adams", result.CreatedEntity.Labels["en"], "source label should survive merge")
	require.Equal(t, "pre-existing description", result.CreatedEntity.Descriptions["en"], "existing target description should survive merge")
	require.Len(t, result.CreatedEntity.Claims, 1)
}

// TestMigratePartialWriteFailure covers scenario 6: a batch of three
// entities where the middle one's write fails. The other two still
// report CreatedEntity, and the batch call itself returns no error.
func TestMigratePartialWriteFailure(t *testing.T) {
	q1 := wbmodel.NewEntity("Q1", wbmodel.Item)
	q1.Labels["en"] = "alpha"
	q2 := wbmodel.NewEntity("Q2", wbmodel.Item)
	q2.Labels["en"] = "beta"
	q3 := wbmodel.NewEntity("Q3", wbmodel.Item)
	q3.Labels["en"] = "gamma"

	io := &fakeEntityIO{
		bySourceURL: map[string]map[wbmodel.EntityID]*wbmodel.Entity{
			"https://source.example/w/api.php": {"Q1": q1, "Q2": q2, "Q3": q3},
		},
		writeFails: map[string]bool{"beta": true},
	}
	o := newOrchestrator(t, io, nil)

	batch, err := o.MigrateEntities(context.Background(), []wbmodel.EntityID{"Q1", "Q2", "Q3"}, MigrateOptions{Summary: "migrate", MergeExisting: true})
	require.NoError(t, err, "MigrateEntities should return normally even with a partial write failure")
	require.NotNil(t, batch["Q1"].CreatedEntity, "Q1 should have been written")
	require.NotNil(t, batch["Q3"].CreatedEntity, "Q3 should have been written")
	mid := batch["Q2"]
	require.Nil(t, mid.CreatedEntity, "Q2's write should have failed")
	require.NotEmpty(t, mid.Errors, "Q2 should have a recorded error")
}

// TestMigrateMergeConflictRejectsBatch covers the infrastructure-level
// ambiguity case: two distinct source entities resolving to the same
// existing target must not silently pick one.
func TestMigrateMergeConflictRejectsBatch(t *testing.T) {
	q1 := wbmodel.NewEntity("Q1", wbmodel.Item)
	q1.Labels["en"] = "alpha"
	q2 := wbmodel.NewEntity("Q2", wbmodel.Item)
	q2.Labels["en"] = "beta"
	existingTarget := wbmodel.NewEntity("Q500", wbmodel.Item)

	io := &fakeEntityIO{
		bySourceURL: map[string]map[wbmodel.EntityID]*wbmodel.Entity{
			"https://source.example/w/api.php": {"Q1": q1, "Q2": q2},
			"https://target.example/w/api.php": {"Q500": existingTarget},
		},
	}
	mappingBindings := map[string]string{
		"https://target.example/sparql": bindingsJSONFor([]map[string]string{
			{"source_item": "https://source.example/entity/Q1", "target_item": "https://target.example/entity/Q500"},
			{"source_item": "https://source.example/entity/Q2", "target_item": "https://target.example/entity/Q500"},
		}),
	}
	o := newOrchestrator(t, io, mappingBindings)

	_, err := o.MigrateEntities(context.Background(), []wbmodel.EntityID{"Q1", "Q2"}, MigrateOptions{Summary: "migrate", MergeExisting: true})
	require.Error(t, err, "expected an error when two sources map to the same target")
}
