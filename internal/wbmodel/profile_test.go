package wbmodel

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const testProfileYAML = `
name: test-profile
description: a test migration
source:
  name: source-wiki
  sparql_url: https://source.example/sparql
  mediawiki_api_url: https://source.example/w/api.php
  mediawiki_rest_url: https://source.example/w/rest.php
  website: https://source.example
  item_prefix: https://source.example/entity/
  requires_login: false
target:
  name: target-wiki
  sparql_url: https://target.example/sparql
  mediawiki_api_url: https://target.example/w/api.php
  mediawiki_rest_url: https://target.example/w/rest.php
  website: https://target.example
  item_prefix: https://target.example/entity/
  requires_login: true
  bot_password: secret
  user: migrator-bot
mapping:
  location_of_mapping: target
  item_mapping_query: "SELECT ?source_item ?target_item WHERE { VALUES ?source_item { $values } }"
  property_mapping_query: "SELECT ?source_item ?target_item WHERE { VALUES ?source_item { $values } }"
  languages: [en, de]
  sitelinks: [source_wiki]
back_reference:
  item:
    type: Sitelink
    id: source_wiki
  property:
    type: Property
    id: P1
`

func TestLoadProfile(t *testing.T) {
	p, err := LoadProfile(strings.NewReader(testProfileYAML))
	require.NoError(t, err)
	require.Equal(t, "test-profile", p.Name)
	require.Equal(t, MappingAtTarget, p.Mapping.LocationOfMapping)
	require.Equal(t, "target-wiki", p.MappingHost().Name)
	require.Len(t, p.Mapping.Languages, 2)
	require.True(t, p.TypeCasts.Enabled)
	require.Equal(t, "mul", p.TypeCasts.FallbackLanguage)
	require.NotNil(t, p.BackReference.Item)
	require.Equal(t, BackReferenceSitelink, p.BackReference.Item.Type)
}

func TestWikibaseEndpointRequiresUserLogin(t *testing.T) {
	e := WikibaseEndpoint{BotPassword: "x"}
	required, complete := e.RequiresUserLogin()
	require.True(t, required, "bot password without user should be required")
	require.False(t, complete, "bot password without user should be incomplete")

	e2 := WikibaseEndpoint{BotPassword: "x", User: "bot"}
	required, complete = e2.RequiresUserLogin()
	require.True(t, required)
	require.True(t, complete, "bot password with user should be complete")

	e3 := WikibaseEndpoint{}
	required, _ = e3.RequiresUserLogin()
	require.False(t, required, "no credentials configured should not require login")
}
