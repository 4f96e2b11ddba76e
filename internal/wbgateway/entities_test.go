package wbgateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wikimove/wikimove/internal/wbmodel"
)

// authenticatorFunc adapts a plain function to the Authenticator interface
// for tests, the way the teacher's HTTP handler tests adapt closures to
// http.HandlerFunc.
type authenticatorFunc func(req *http.Request) error

func (f authenticatorFunc) Apply(req *http.Request) error { return f(req) }

var errAuth = errors.New("fake auth failure")

// fakeActionAPI answers wbgetentities/wbeditentity requests from a fixed
// script of responses keyed by action, and counts requests per action so
// tests can assert the batch fan-out actually split across calls.
type fakeActionAPI struct {
	getEntitiesBody string
	editEntityBody  string
	editEntityErr   error
	paraminfoBody   string
	calls           map[string]*int32
}

func newFakeActionAPI() *fakeActionAPI {
	return &fakeActionAPI{calls: map[string]*int32{
		"wbgetentities": new(int32),
		"wbeditentity":  new(int32),
		"paraminfo":     new(int32),
	}}
}

func (f *fakeActionAPI) RoundTrip(req *http.Request) (*http.Response, error) {
	var action string
	if req.Method == http.MethodGet {
		action = req.URL.Query().Get("action")
	} else {
		body, _ := io.ReadAll(req.Body)
		form, _ := url.ParseQuery(string(body))
		action = form.Get("action")
	}
	if c, ok := f.calls[action]; ok {
		atomic.AddInt32(c, 1)
	}

	switch action {
	case "wbgetentities":
		return &http.Response{StatusCode: http.StatusOK, Body: httpBody(f.getEntitiesBody), Header: make(http.Header)}, nil
	case "wbeditentity":
		if f.editEntityErr != nil {
			return nil, f.editEntityErr
		}
		return &http.Response{StatusCode: http.StatusOK, Body: httpBody(f.editEntityBody), Header: make(http.Header)}, nil
	case "paraminfo":
		return &http.Response{StatusCode: http.StatusOK, Body: httpBody(f.paraminfoBody), Header: make(http.Header)}, nil
	default:
		return &http.Response{StatusCode: http.StatusOK, Body: httpBody(`{}`), Header: make(http.Header)}, nil
	}
}

func httpBody(s string) io.ReadCloser {
	return io.NopCloser(bytes.NewReader([]byte(s)))
}

func TestGetEntitiesBatchSplitsAndOmitsMissing(t *testing.T) {
	api := newFakeActionAPI()
	api.getEntitiesBody = `{"entities":{
		"Q1":{"id":"Q1","type":"item","labels":{"en":{"language":"en","value":"one"}},"descriptions":{},"aliases":{},"claims":{}},
		"Q2":{"missing":""}
	}}`
	g := New(&http.Client{Transport: api}, nil)

	ids := make([]wbmodel.EntityID, 0, 120)
	for i := 0; i < 120; i++ {
		ids = append(ids, wbmodel.EntityID("Q1"))
	}
	entities, err := g.GetEntitiesBatch(context.Background(), "https://example.org/w/api.php", ids)
	require.NoError(t, err)
	require.NotEmpty(t, entities)
	require.Equal(t, int32(3), atomic.LoadInt32(api.calls["wbgetentities"]), "120 ids at batchSize 50 should split into 3 requests")
}

func TestGetEntitiesBatchEmptyInputNoRequest(t *testing.T) {
	api := newFakeActionAPI()
	g := New(&http.Client{Transport: api}, nil)

	entities, err := g.GetEntitiesBatch(context.Background(), "https://example.org/w/api.php", nil)
	require.NoError(t, err)
	require.Empty(t, entities)
	require.Equal(t, int32(0), atomic.LoadInt32(api.calls["wbgetentities"]))
}

func TestGetEntitiesBatchPropagatesActionAPIError(t *testing.T) {
	api := newFakeActionAPI()
	api.getEntitiesBody = `{"error":{"code":"no-such-entity","info":"not found"}}`
	g := New(&http.Client{Transport: api}, nil)

	_, err := g.GetEntitiesBatch(context.Background(), "https://example.org/w/api.php", []wbmodel.EntityID{"Q1"})
	require.Error(t, err)
}

func TestGetSingleEntityMissingReturnsNilWithoutError(t *testing.T) {
	api := newFakeActionAPI()
	api.getEntitiesBody = `{"entities":{"Q1":{"missing":""}}}`
	g := New(&http.Client{Transport: api}, nil)

	e, err := g.GetSingleEntity(context.Background(), "https://example.org/w/api.php", "Q1")
	require.NoError(t, err)
	require.Nil(t, e)
}

func TestGetSingleEntityRejectsUnparsableID(t *testing.T) {
	api := newFakeActionAPI()
	g := New(&http.Client{Transport: api}, nil)

	_, err := g.GetSingleEntity(context.Background(), "https://example.org/w/api.php", "not-an-id")
	require.Error(t, err)
}

func TestWriteEntityAppliesAuthenticatorAndReturnsWritten(t *testing.T) {
	api := newFakeActionAPI()
	api.editEntityBody = `{"entity":{"id":"Q100","type":"item","labels":{"en":{"language":"en","value":"written"}},"descriptions":{},"aliases":{},"claims":{}}}`
	g := New(&http.Client{Transport: api}, nil)

	e := wbmodel.NewEntity("", wbmodel.Item)
	e.Labels["en"] = "written"

	applied := false
	auth := authenticatorFunc(func(req *http.Request) error {
		applied = true
		req.Header.Set("Cookie", "session=abc")
		return nil
	})

	written, err := g.WriteEntity(context.Background(), "https://example.org/w/api.php", e, "test edit", []string{"wikimove"}, auth)
	require.NoError(t, err)
	require.True(t, applied, "authenticator should be invoked")
	require.Equal(t, wbmodel.EntityID("Q100"), written.ID)
	require.Equal(t, "written", written.Labels["en"])
	require.Equal(t, int32(1), atomic.LoadInt32(api.calls["wbeditentity"]))
}

func TestWriteEntityPropagatesAuthenticatorError(t *testing.T) {
	api := newFakeActionAPI()
	g := New(&http.Client{Transport: api}, nil)
	e := wbmodel.NewEntity("", wbmodel.Item)

	wantErr := errAuth
	auth := authenticatorFunc(func(req *http.Request) error { return wantErr })

	_, err := g.WriteEntity(context.Background(), "https://example.org/w/api.php", e, "", nil, auth)
	require.ErrorIs(t, err, wantErr)
	require.Equal(t, int32(0), atomic.LoadInt32(api.calls["wbeditentity"]), "request should never be sent once auth fails")
}

func TestWriteEntityPropagatesActionAPIError(t *testing.T) {
	api := newFakeActionAPI()
	api.editEntityBody = `{"error":{"code":"permissiondenied","info":"not allowed"}}`
	g := New(&http.Client{Transport: api}, nil)
	e := wbmodel.NewEntity("Q1", wbmodel.Item)

	_, err := g.WriteEntity(context.Background(), "https://example.org/w/api.php", e, "", nil, NoAuth{})
	require.Error(t, err)
}

// TestGetEntitiesBatchToleratesOutOfSetDatatype covers a real-world snak
// whose datatype (math, musical-notation, wikibase-lexeme, ...) falls
// outside this module's closed Datatype enum. Such a snak must be dropped,
// not propagate a decode error that fails every other entity in the batch.
func TestGetEntitiesBatchToleratesOutOfSetDatatype(t *testing.T) {
	api := newFakeActionAPI()
	api.getEntitiesBody = `{"entities":{
		"Q1":{"id":"Q1","type":"item","labels":{},"descriptions":{},"aliases":{},"claims":{
			"P1":[{"mainsnak":{"snaktype":"value","property":"P1","datatype":"math","datavalue":{"value":"E=mc^2"}},"type":"statement","rank":"normal"}]
		}},
		"Q2":{"id":"Q2","type":"item","labels":{"en":{"language":"en","value":"two"}},"descriptions":{},"aliases":{},"claims":{}}
	}}`
	g := New(&http.Client{Transport: api}, nil)

	entities, err := g.GetEntitiesBatch(context.Background(), "https://example.org/w/api.php", []wbmodel.EntityID{"Q1", "Q2"})
	require.NoError(t, err)
	require.Len(t, entities, 2)

	byID := make(map[wbmodel.EntityID]*wbmodel.Entity, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
	}
	require.Contains(t, byID, wbmodel.EntityID("Q1"))
	require.Contains(t, byID, wbmodel.EntityID("Q2"))
	require.Equal(t, "two", byID["Q2"].Labels["en"])

	q1 := byID["Q1"]
	require.Len(t, q1.Claims, 1)
	require.Equal(t, wbmodel.UnknownDatatype, q1.Claims[0].Mainsnak.Datatype)
	require.Nil(t, q1.Claims[0].Mainsnak.Value, "an undecodable datavalue should be dropped, not fatal")
}

func TestGetSupportedLanguagesParsesParaminfo(t *testing.T) {
	api := newFakeActionAPI()
	api.paraminfoBody = `{"paraminfo":{"modules":[{"parameters":[
		{"name":"search","type":["string"]},
		{"name":"language","type":["en","de","mul"]}
	]}]}}`
	g := New(&http.Client{Transport: api}, nil)

	langs, err := g.GetSupportedLanguages(context.Background(), "https://example.org/w/api.php")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"en": "en", "de": "de", "mul": "mul"}, langs)
}
