package wbmodel

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// MappingLocation names which side of a migration hosts the source→target
// identifier mapping assertions.
type MappingLocation string

const (
	MappingAtSource MappingLocation = "source"
	MappingAtTarget MappingLocation = "target"
)

// WikibaseEndpoint describes one side (source or target) of a migration.
type WikibaseEndpoint struct {
	Name             string `yaml:"name"`
	SPARQLURL        string `yaml:"sparql_url"`
	MediaWikiAPIURL  string `yaml:"mediawiki_api_url"`
	MediaWikiRESTURL string `yaml:"mediawiki_rest_url"`
	Website          string `yaml:"website"`
	ItemPrefix       string `yaml:"item_prefix"`
	QuickStatementURL string `yaml:"quickstatement_url,omitempty"`

	User           string `yaml:"user,omitempty"`
	Password       string `yaml:"password,omitempty"`
	BotPassword    string `yaml:"bot_password,omitempty"`
	ConsumerKey    string `yaml:"consumer_key,omitempty"`
	ConsumerSecret string `yaml:"consumer_secret,omitempty"`

	Tag             string `yaml:"tag,omitempty"`
	RequiresLogin   bool   `yaml:"requires_login"`
}

// Tags returns the revision tags to attach to edits on this endpoint.
func (e *WikibaseEndpoint) Tags() []string {
	if e.Tag == "" {
		return nil
	}
	return []string{e.Tag}
}

// RequiresUserLogin reports whether e is configured for any credentialed
// auth method, and if so whether the credentials it was given are
// complete enough to attempt login.
func (e *WikibaseEndpoint) RequiresUserLogin() (required bool, complete bool) {
	switch {
	case e.ConsumerKey != "":
		return true, e.ConsumerSecret != ""
	case e.BotPassword != "":
		return true, e.User != ""
	case e.Password != "":
		return true, e.User != ""
	default:
		return false, true
	}
}

// MappingConfig configures how source/target identifier mappings are
// discovered and which languages/sitelinks survive translation.
type MappingConfig struct {
	LocationOfMapping   MappingLocation `yaml:"location_of_mapping"`
	ItemMappingQuery     string          `yaml:"item_mapping_query"`
	PropertyMappingQuery string          `yaml:"property_mapping_query"`
	Languages            []string        `yaml:"languages"`
	Sitelinks            []string        `yaml:"sitelinks"`
	IgnoreNoValues       bool            `yaml:"ignore_no_values"`
	IgnoreUnknownValues  bool            `yaml:"ignore_unknown_values"`
}

// BackReferenceType selects how provenance is recorded on a migrated entity.
type BackReferenceType string

const (
	BackReferenceSitelink BackReferenceType = "Sitelink"
	BackReferenceProperty BackReferenceType = "Property"
)

// EntityBackReference configures one back-reference, either a sitelink
// whose site-key names the source wiki, or a property to hold the source
// entity's ID as an ExternalID statement.
type EntityBackReference struct {
	Type BackReferenceType `yaml:"type"`
	ID   string            `yaml:"id"`
}

// BackReferenceConfig configures back-references separately for items and
// properties; either may be nil to disable it for that kind.
type BackReferenceConfig struct {
	Item     *EntityBackReference `yaml:"item"`
	Property *EntityBackReference `yaml:"property"`
}

// TypeCastConfig configures the type-mismatch caster (spec §4.3).
type TypeCastConfig struct {
	Enabled          bool   `yaml:"enabled"`
	FallbackLanguage string `yaml:"fallback_language"`
}

// DefaultTypeCastConfig returns the spec's documented defaults.
func DefaultTypeCastConfig() TypeCastConfig {
	return TypeCastConfig{Enabled: true, FallbackLanguage: "mul"}
}

// Profile is the full migration configuration: source/target endpoints,
// mapping discovery, back-reference, and type-cast settings.
type Profile struct {
	Name          string              `yaml:"name"`
	Description   string              `yaml:"description"`
	Source        WikibaseEndpoint    `yaml:"source"`
	Target        WikibaseEndpoint    `yaml:"target"`
	Mapping       MappingConfig       `yaml:"mapping"`
	BackReference BackReferenceConfig `yaml:"back_reference"`
	TypeCasts     TypeCastConfig      `yaml:"type_casts"`
}

// MappingHost returns the endpoint that hosts the source/target identifier
// mapping assertions, per Mapping.LocationOfMapping.
func (p *Profile) MappingHost() *WikibaseEndpoint {
	if p.Mapping.LocationOfMapping == MappingAtSource {
		return &p.Source
	}
	return &p.Target
}

// BackReferenceFor returns the configured back-reference for the given
// entity kind, or nil if none is configured.
func (p *Profile) BackReferenceFor(kind EntityKind) *EntityBackReference {
	switch kind {
	case Item:
		return p.BackReference.Item
	case Property:
		return p.BackReference.Property
	default:
		return nil
	}
}

// LoadProfile decodes a migration profile from YAML. Discovery of the
// underlying file (flags, env vars, search paths) is a CLI concern left
// to cmd/wbmigrate; this is the one loading primitive the core provides.
func LoadProfile(r io.Reader) (*Profile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(false)
	var p Profile
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("wbmodel: decoding profile: %w", err)
	}
	if p.TypeCasts == (TypeCastConfig{}) {
		p.TypeCasts = DefaultTypeCastConfig()
	}
	return &p, nil
}
