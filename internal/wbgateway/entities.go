package wbgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/orcaman/writerseeker"
	"golang.org/x/sync/errgroup"

	"github.com/wikimove/wikimove/internal/wbmodel"
)

// batchSize bounds how many IDs are pipe-joined into a single wbgetentities
// call, and maxBatchFanOut bounds how many such calls run concurrently
// (spec §5: "batches of 50, up to 10 in flight").
const (
	batchSize      = 50
	maxBatchFanOut = 10
)

type actionAPIError struct {
	Code string `json:"code"`
	Info string `json:"info"`
}

type getEntitiesResponse struct {
	Entities map[string]json.RawMessage `json:"entities"`
	Error    *actionAPIError            `json:"error"`
}

// GetSingleEntity fetches one entity by ID. It returns (nil, nil) if the
// API reports the entity missing (deleted, or never existed), matching the
// Wikibase convention of an entities map keyed by "-1" with "missing": "",
// and also when the API answers with a no-such-entity error block.
func (g *Gateway) GetSingleEntity(ctx context.Context, apiURL string, id wbmodel.EntityID) (*wbmodel.Entity, error) {
	if _, err := wbmodel.ParseEntityPrefix(id); err != nil {
		return nil, err
	}
	entities, err := g.GetEntitiesBatch(ctx, apiURL, []wbmodel.EntityID{id})
	if err != nil {
		if strings.HasPrefix(err.Error(), "wbgetentities error no-such-entity:") {
			return nil, nil
		}
		return nil, err
	}
	if len(entities) == 0 {
		return nil, nil
	}
	return entities[0], nil
}

// GetEntitiesBatch fetches ids in groups of batchSize, fanning batches out
// across at most maxBatchFanOut concurrent requests. Missing entities are
// silently omitted from the result rather than erroring the whole call.
func (g *Gateway) GetEntitiesBatch(ctx context.Context, apiURL string, ids []wbmodel.EntityID) ([]*wbmodel.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var batches [][]wbmodel.EntityID
	for i := 0; i < len(ids); i += batchSize {
		end := i + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, ids[i:end])
	}

	results := make([][]*wbmodel.Entity, len(batches))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxBatchFanOut)
	for i, batch := range batches {
		i, batch := i, batch
		group.Go(func() error {
			es, err := g.fetchBatch(groupCtx, apiURL, batch)
			if err != nil {
				return err
			}
			results[i] = es
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		g.Metrics.RESTCallsTotal.WithLabelValues("wbgetentities", "error").Inc()
		return nil, err
	}

	var out []*wbmodel.Entity
	for _, es := range results {
		out = append(out, es...)
	}
	return out, nil
}

func (g *Gateway) fetchBatch(ctx context.Context, apiURL string, ids []wbmodel.EntityID) ([]*wbmodel.Entity, error) {
	joined := make([]string, len(ids))
	for i, id := range ids {
		joined[i] = string(id)
	}

	q := url.Values{}
	q.Set("action", "wbgetentities")
	q.Set("ids", strings.Join(joined, "|"))
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("wbgetentities against %s returned status %d: %s", apiURL, resp.StatusCode, string(body))
	}

	var parsed getEntitiesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding wbgetentities response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("wbgetentities error %s: %s", parsed.Error.Code, parsed.Error.Info)
	}

	g.Metrics.RESTCallsTotal.WithLabelValues("wbgetentities", "ok").Inc()

	var out []*wbmodel.Entity
	for _, raw := range parsed.Entities {
		var probe struct {
			Missing *string `json:"missing"`
		}
		if err := json.Unmarshal(raw, &probe); err == nil && probe.Missing != nil {
			continue
		}
		var w wireEntity
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("decoding entity: %w", err)
		}
		e, err := decodeEntity(&w)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

type editEntityResponse struct {
	Entity *json.RawMessage `json:"entity"`
	Error  *actionAPIError  `json:"error"`
}

// WriteEntity creates (e.ID == "") or edits an entity via wbeditentity,
// staging the JSON request body through a writerseeker.WriterSeeker so the
// http.Client can compute Content-Length without buffering twice. summary
// and tags are recorded on the resulting revision.
func (g *Gateway) WriteEntity(ctx context.Context, apiURL string, e *wbmodel.Entity, summary string, tags []string, auth Authenticator) (*wbmodel.Entity, error) {
	payload, err := json.Marshal(encodeEntity(e))
	if err != nil {
		return nil, fmt.Errorf("encoding entity for write: %w", err)
	}

	var ws writerseeker.WriterSeeker
	if _, err := ws.Write([]byte(buildEditEntityForm(e, payload, summary, tags))); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, ws.Reader())
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", UserAgent)
	if auth == nil {
		auth = NoAuth{}
	}
	if err := auth.Apply(req); err != nil {
		return nil, fmt.Errorf("applying credentials: %w", err)
	}

	resp, err := g.Client.Do(req)
	if err != nil {
		g.Metrics.RESTCallsTotal.WithLabelValues("wbeditentity", "error").Inc()
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		g.Metrics.RESTCallsTotal.WithLabelValues("wbeditentity", "error").Inc()
		return nil, fmt.Errorf("wbeditentity against %s returned status %d: %s", apiURL, resp.StatusCode, string(body))
	}

	var parsed editEntityResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding wbeditentity response: %w", err)
	}
	if parsed.Error != nil {
		g.Metrics.RESTCallsTotal.WithLabelValues("wbeditentity", "error").Inc()
		return nil, fmt.Errorf("wbeditentity error %s: %s", parsed.Error.Code, parsed.Error.Info)
	}
	if parsed.Entity == nil {
		return nil, fmt.Errorf("wbeditentity returned no entity")
	}

	var w wireEntity
	if err := json.Unmarshal(*parsed.Entity, &w); err != nil {
		return nil, fmt.Errorf("decoding written entity: %w", err)
	}
	written, err := decodeEntity(&w)
	if err != nil {
		return nil, err
	}
	g.Metrics.RESTCallsTotal.WithLabelValues("wbeditentity", "ok").Inc()
	return written, nil
}

func buildEditEntityForm(e *wbmodel.Entity, payload []byte, summary string, tags []string) string {
	form := url.Values{}
	form.Set("action", "wbeditentity")
	form.Set("data", string(payload))
	form.Set("format", "json")
	form.Set("bot", "1")
	if summary != "" {
		form.Set("summary", summary)
	}
	if len(tags) > 0 {
		form.Set("tags", strings.Join(tags, "|"))
	}
	if e.ID == "" {
		form.Set("new", entityWireType(e.Kind))
	} else {
		form.Set("id", string(e.ID))
		form.Set("clear", "0")
	}
	return form.Encode()
}

// GetSupportedLanguages returns the set of content languages the target
// wiki accepts for labels/descriptions/aliases, keyed by language code with
// the code itself as the value, via action=paraminfo's wbsearchentities module
// (the only Action API call that enumerates the configured language list).
func (g *Gateway) GetSupportedLanguages(ctx context.Context, apiURL string) (map[string]string, error) {
	q := url.Values{}
	q.Set("action", "paraminfo")
	q.Set("modules", "wbsearchentities")
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("paraminfo against %s returned status %d: %s", apiURL, resp.StatusCode, string(body))
	}

	var parsed struct {
		Paraminfo struct {
			Modules []struct {
				Parameters []struct {
					Name string   `json:"name"`
					Type []string `json:"type"`
				} `json:"parameters"`
			} `json:"modules"`
		} `json:"paraminfo"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding paraminfo response: %w", err)
	}

	langs := make(map[string]string)
	for _, mod := range parsed.Paraminfo.Modules {
		for _, p := range mod.Parameters {
			if p.Name != "language" {
				continue
			}
			for _, code := range p.Type {
				langs[code] = code
			}
		}
	}
	return langs, nil
}
