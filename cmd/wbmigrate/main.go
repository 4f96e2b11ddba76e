package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wikimove/wikimove/internal/wbgateway"
	"github.com/wikimove/wikimove/internal/wbmapping"
	"github.com/wikimove/wikimove/internal/wbmetrics"
	"github.com/wikimove/wikimove/internal/wbmigrate"
	"github.com/wikimove/wikimove/internal/wbmodel"
)

func main() {
	var profilePath = flag.String("profile", "", "path to a migration profile YAML file")
	var idsFlag = flag.String("ids", "", "comma-separated entity IDs to migrate, e.g. Q1,Q2,P31")
	var idsFile = flag.String("ids-file", "", "path to a file with one entity ID per line")
	var summary = flag.String("summary", "migrated via wbmigrate", "edit summary recorded on every write")
	var mergeExisting = flag.Bool("merge-existing", true, "merge into an existing target entity instead of skipping it")
	var trace = flag.Bool("trace", false, "persist every SPARQL query and its bindings under a temp dir for debugging")
	flag.Parse()

	if *profilePath == "" {
		log.Fatal("wbmigrate: -profile is required")
	}
	ids, err := loadIDs(*idsFlag, *idsFile)
	if err != nil {
		log.Fatalf("wbmigrate: %v", err)
	}
	if len(ids) == 0 {
		log.Fatal("wbmigrate: no entity IDs given; pass -ids or -ids-file")
	}

	f, err := os.Open(*profilePath)
	if err != nil {
		log.Fatalf("wbmigrate: opening profile: %v", err)
	}
	profile, err := wbmodel.LoadProfile(f)
	f.Close()
	if err != nil {
		log.Fatalf("wbmigrate: loading profile: %v", err)
	}

	client := &http.Client{}
	metrics := wbmetrics.New(prometheus.DefaultRegisterer)
	gw := wbgateway.New(client, metrics)
	gw.Trace = *trace

	auth, err := buildAuthenticator(client, &profile.Target)
	if err != nil {
		log.Fatalf("wbmigrate: %v", err)
	}

	cache := wbmapping.New(gw, profile, metrics)
	orchestrator := wbmigrate.New(gw, cache, profile, metrics)

	done := 0
	result, err := orchestrator.MigrateEntities(context.Background(), ids, wbmigrate.MigrateOptions{
		Summary:       *summary,
		MergeExisting: *mergeExisting,
		Auth:          auth,
		OnEntityDone: func(id wbmodel.EntityID, r *wbmodel.TranslationResult) {
			done++
			if r.CreatedEntity != nil {
				log.Printf("[%d/%d] %s -> %s", done, len(ids), id, r.CreatedEntity.ID)
			} else {
				log.Printf("[%d/%d] %s failed: %v", done, len(ids), id, r.Errors)
			}
		},
	})
	if err != nil {
		log.Fatalf("wbmigrate: migration aborted: %v", err)
	}

	written, failed := 0, 0
	for _, r := range result {
		if r.CreatedEntity != nil {
			written++
		} else {
			failed++
		}
	}
	log.Printf("done: %s written, %s failed", humanize.Comma(int64(written)), humanize.Comma(int64(failed)))
	if failed > 0 {
		os.Exit(1)
	}
}

// loadIDs merges -ids and -ids-file into one de-duplicated, order-
// preserving list.
func loadIDs(idsFlag, idsFile string) ([]wbmodel.EntityID, error) {
	var out []wbmodel.EntityID
	seen := make(map[wbmodel.EntityID]bool)
	add := func(raw string) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return
		}
		id := wbmodel.EntityID(raw)
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, raw := range strings.Split(idsFlag, ",") {
		add(raw)
	}
	if idsFile != "" {
		data, err := os.ReadFile(idsFile)
		if err != nil {
			return nil, err
		}
		for _, line := range strings.Split(string(data), "\n") {
			add(line)
		}
	}
	return out, nil
}

// buildAuthenticator returns wbgateway.NoAuth for anonymous targets, or
// logs in with a bot password when the target endpoint is configured for
// one.
func buildAuthenticator(client *http.Client, target *wbmodel.WikibaseEndpoint) (wbgateway.Authenticator, error) {
	required, complete := target.RequiresUserLogin()
	if !required {
		return wbgateway.NoAuth{}, nil
	}
	if !complete || target.User == "" || target.BotPassword == "" {
		return nil, wbmodel.ErrLoginRequired
	}
	return NewBotPasswordAuth(client, target.MediaWikiAPIURL, target.User, target.BotPassword)
}
