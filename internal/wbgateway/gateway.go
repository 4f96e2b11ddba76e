// Package wbgateway executes SPARQL queries and MediaWiki Action API
// calls against a Wikibase instance: the only part of this module that
// touches the network.
package wbgateway

import (
	"log"
	"net/http"
	"os"

	"github.com/wikimove/wikimove/internal/wbmetrics"
)

// UserAgent is the process-wide constant user-agent string sent with
// every outbound request. Per spec design notes, this is the one
// legitimate global in this module; everything else is passed explicitly.
const UserAgent = "wikimove/1.0 (+https://github.com/wikimove/wikimove)"

var logger = log.New(os.Stderr, "wbgateway: ", log.Ldate|log.Ltime|log.Lmicroseconds)

// SetLogger overrides the package logger, e.g. to capture output in tests
// the way cmd/qrank-builder's tests swap in a buffer-backed *log.Logger.
func SetLogger(l *log.Logger) { logger = l }

// Authenticator applies credentials to an outbound write request. Bot
// password, OAuth1, OAuth2, and client-login flows are all out of core
// scope; front ends supply an Authenticator implementing whichever flow
// their profile configures.
type Authenticator interface {
	Apply(req *http.Request) error
}

// NoAuth is an Authenticator that does nothing, for anonymous read-only use.
type NoAuth struct{}

func (NoAuth) Apply(*http.Request) error { return nil }

// Gateway executes SPARQL and MediaWiki Action API calls.
type Gateway struct {
	Client  *http.Client
	Metrics *wbmetrics.Metrics

	// Trace enables debug persistence of every SPARQL query and its raw
	// bindings under a content-addressed temp file (spec §4.1).
	Trace bool
	// TraceDir overrides the default os.TempDir()-based trace directory;
	// used by tests.
	TraceDir string
}

// New returns a Gateway using client (or http.DefaultClient if nil) and m
// (or a private no-op registry if nil).
func New(client *http.Client, m *wbmetrics.Metrics) *Gateway {
	if client == nil {
		client = http.DefaultClient
	}
	if m == nil {
		m = wbmetrics.Noop()
	}
	return &Gateway{Client: client, Metrics: m}
}
