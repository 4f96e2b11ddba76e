package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
)

// BotPasswordAuth implements wbgateway.Authenticator using MediaWiki's
// bot password login flow: fetch a login token, exchange it for a
// session, and replay the resulting cookies on every subsequent write.
// Bot password / OAuth1 / OAuth2 / client-login flows are explicitly out
// of core scope (spec.md §1) — this is the one concrete auth
// implementation a front end needs to provide, and bot passwords are the
// simplest credential MediaWiki sites support for unattended writers.
type BotPasswordAuth struct {
	cookies []*http.Cookie
}

type loginTokenResponse struct {
	Query struct {
		Tokens struct {
			LoginToken string `json:"logintoken"`
		} `json:"tokens"`
	} `json:"query"`
}

type loginResponse struct {
	Login struct {
		Result string `json:"result"`
		Reason string `json:"reason"`
	} `json:"login"`
}

// NewBotPasswordAuth logs into apiURL as user:botPassword and captures the
// resulting session cookies.
func NewBotPasswordAuth(client *http.Client, apiURL, user, botPassword string) (*BotPasswordAuth, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("wbmigrate: creating cookie jar: %w", err)
	}
	loginClient := &http.Client{Transport: client.Transport, Jar: jar, Timeout: client.Timeout}

	tokenURL := apiURL + "?action=query&meta=tokens&type=login&format=json"
	tokenResp, err := loginClient.Get(tokenURL)
	if err != nil {
		return nil, fmt.Errorf("wbmigrate: fetching login token: %w", err)
	}
	defer tokenResp.Body.Close()
	var tokenPayload loginTokenResponse
	if err := json.NewDecoder(tokenResp.Body).Decode(&tokenPayload); err != nil {
		return nil, fmt.Errorf("wbmigrate: decoding login token response: %w", err)
	}
	if tokenPayload.Query.Tokens.LoginToken == "" {
		return nil, fmt.Errorf("wbmigrate: no login token returned by %s", apiURL)
	}

	form := url.Values{
		"action":     {"login"},
		"lgname":     {user},
		"lgpassword": {botPassword},
		"lgtoken":    {tokenPayload.Query.Tokens.LoginToken},
		"format":     {"json"},
	}
	loginResp, err := loginClient.PostForm(apiURL, form)
	if err != nil {
		return nil, fmt.Errorf("wbmigrate: posting login request: %w", err)
	}
	defer loginResp.Body.Close()
	var result loginResponse
	if err := json.NewDecoder(loginResp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("wbmigrate: decoding login response: %w", err)
	}
	if result.Login.Result != "Success" {
		return nil, fmt.Errorf("wbmigrate: login to %s failed: %s (%s)", apiURL, result.Login.Result, result.Login.Reason)
	}

	u, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("wbmigrate: parsing API URL: %w", err)
	}
	return &BotPasswordAuth{cookies: jar.Cookies(u)}, nil
}

// Apply replays the login session's cookies onto req.
func (a *BotPasswordAuth) Apply(req *http.Request) error {
	for _, c := range a.cookies {
		req.AddCookie(c)
	}
	return nil
}
