package wbgateway

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"
)

// maxChunkFanOut bounds the number of SPARQL VALUES chunks executed
// concurrently, per spec §5.
const maxChunkFanOut = 10

// sparqlResponse is the subset of the SPARQL 1.1 JSON results format this
// gateway understands.
type sparqlResponse struct {
	Results struct {
		Bindings []map[string]sparqlBindingValue `json:"bindings"`
	} `json:"results"`
}

type sparqlBindingValue struct {
	Value string `json:"value"`
}

// ExecuteSelect runs a SPARQL SELECT/ASK-shaped query against endpoint and
// returns each binding row as a map from variable name to its lexical
// value. On any failure it logs and returns an empty slice; network
// errors are retried by the caller, not here (spec §4.1).
func (g *Gateway) ExecuteSelect(ctx context.Context, endpoint, query string) []map[string]string {
	start := time.Now()
	traceID := uuid.NewString()

	rows, raw, err := g.doSPARQL(ctx, endpoint, query)
	duration := time.Since(start)

	if err != nil {
		logger.Printf("trace=%s ExecuteSelect against %s failed after %s: %v", traceID, endpoint, duration, err)
		g.Metrics.SPARQLQueriesTotal.WithLabelValues("error").Inc()
		return nil
	}
	g.Metrics.SPARQLQueriesTotal.WithLabelValues("ok").Inc()
	g.Metrics.SPARQLQueryDuration.Observe(duration.Seconds())
	logger.Printf("trace=%s ExecuteSelect against %s returned %d rows in %s", traceID, endpoint, len(rows), duration)

	if g.Trace {
		g.persistTrace(traceID, query, raw)
	}
	return rows
}

func (g *Gateway) doSPARQL(ctx context.Context, endpoint, query string) ([]map[string]string, []byte, error) {
	form := url.Values{}
	form.Set("query", query)
	form.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/sparql-results+json")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("sparql endpoint %s returned status %d: %s", endpoint, resp.StatusCode, string(body))
	}

	var parsed sparqlResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, nil, fmt.Errorf("decoding sparql response: %w", err)
	}

	rows := make([]map[string]string, 0, len(parsed.Results.Bindings))
	for _, binding := range parsed.Results.Bindings {
		row := make(map[string]string, len(binding))
		for k, v := range binding {
			row[k] = v.Value
		}
		if len(row) > 0 {
			rows = append(rows, row)
		}
	}
	return rows, body, nil
}

// AskAlive runs "ASK { ?s ?p ?o }" against endpoint and reports whether it
// succeeded without error.
func (g *Gateway) AskAlive(ctx context.Context, endpoint string) bool {
	_, _, err := g.doSPARQL(ctx, endpoint, "ASK { ?s ?p ?o }")
	return err == nil
}

// ExecuteValuesInChunks substitutes values into template at $placeholder,
// chunkSize values at a time (default 1000 when chunkSize <= 0), and fans
// the chunks out across at most 10 in-flight queries. Chunks may complete
// in any order; their results are concatenated in chunk order, each chunk's
// rows in the order the endpoint returned them.
func (g *Gateway) ExecuteValuesInChunks(ctx context.Context, endpoint, template, placeholder string, values []string, chunkSize int) []map[string]string {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if len(values) == 0 {
		return nil
	}

	var chunks [][]string
	for i := 0; i < len(values); i += chunkSize {
		end := i + chunkSize
		if end > len(values) {
			end = len(values)
		}
		chunks = append(chunks, values[i:end])
	}

	results := make([][]map[string]string, len(chunks))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxChunkFanOut)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		group.Go(func() error {
			query := strings.ReplaceAll(template, "$"+placeholder, strings.Join(chunk, " "))
			results[i] = g.ExecuteSelect(groupCtx, endpoint, query)
			return nil
		})
	}
	// Errors from individual chunk queries are already recorded as empty
	// results and logged inside ExecuteSelect; there is nothing further
	// to propagate here, so Wait's error (always nil, since group.Go
	// above never returns non-nil) is ignored deliberately.
	_ = group.Wait()

	var out []map[string]string
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

func (g *Gateway) persistTrace(traceID, query string, raw []byte) {
	dir := g.TraceDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "wbmigrate")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Printf("trace=%s failed to create trace dir %s: %v", traceID, dir, err)
		return
	}

	sum := sha512.Sum512([]byte(query))
	key := hex.EncodeToString(sum[:])
	name := fmt.Sprintf("%s-%s.json.zst", key, strconv.FormatInt(time.Now().UnixNano(), 10))
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		logger.Printf("trace=%s failed to create trace file %s: %v", traceID, path, err)
		return
	}
	defer f.Close()

	w, err := zstd.NewWriter(f)
	if err != nil {
		logger.Printf("trace=%s failed to create zstd writer: %v", traceID, err)
		return
	}
	defer w.Close()

	payload, err := json.Marshal(map[string]any{
		"trace_id": traceID,
		"query":    query,
		"response": json.RawMessage(raw),
	})
	if err != nil {
		logger.Printf("trace=%s failed to marshal trace payload: %v", traceID, err)
		return
	}
	if _, err := w.Write(payload); err != nil {
		logger.Printf("trace=%s failed to write trace payload: %v", traceID, err)
	}
}
