// Package refresher exchanges a refresh token for new token material
// against the Claude Code OAuth token endpoint.
package refresher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTokenURL is used when neither CLAUDE_CODE_TOKEN_URL nor an explicit
// constructor argument overrides it.
const DefaultTokenURL = "https://platform.claude.com/v1/oauth/token"

// DefaultClientID matches the upstream Claude Code OAuth client.
const DefaultClientID = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"

// timeout bounds every refresh request.
const timeout = 10 * time.Second

// MissingAccessToken is returned when the token endpoint responds 2xx but
// the body carries no access_token.
type MissingAccessToken struct{}

func (MissingAccessToken) Error() string { return "refresh response missing access_token" }

// HttpError is returned for any non-2xx response.
type HttpError struct {
	Status int
	Body   string // first 200 bytes of the response body
}

func (e *HttpError) Error() string {
	return fmt.Sprintf("refresh failed (%d): %s", e.Status, e.Body)
}

// Result is the trimmed, absent-if-empty payload returned by a successful
// refresh.
type Result struct {
	AccessToken  string
	RefreshToken string // "" if the endpoint omitted it
	ExpiresIn    int    // seconds; 0 if omitted
	Scope        string // "" if omitted
}

// Refresher calls the OAuth refresh_token grant.
type Refresher struct {
	TokenURL   string
	ClientID   string
	HTTPClient *http.Client
}

// New returns a Refresher; empty tokenURL/clientID fall back to the
// defaults, themselves overridable by CLAUDE_CODE_TOKEN_URL at the caller.
func New(tokenURL, clientID string) *Refresher {
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	if clientID == "" {
		clientID = DefaultClientID
	}
	return &Refresher{TokenURL: tokenURL, ClientID: clientID, HTTPClient: &http.Client{Timeout: timeout}}
}

type requestBody struct {
	GrantType    string `json:"grant_type"`
	RefreshToken string `json:"refresh_token"`
	ClientID     string `json:"client_id"`
	Scope        string `json:"scope,omitempty"`
}

type responseBody struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
}

// Refresh exchanges refreshToken (plus an optional space-delimited scope
// string) for new token material.
func (r *Refresher) Refresh(ctx context.Context, refreshToken, scope string) (Result, error) {
	reqBody := requestBody{
		GrantType:    "refresh_token",
		RefreshToken: refreshToken,
		ClientID:     r.ClientID,
		Scope:        scope,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Result{}, fmt.Errorf("encoding refresh request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.TokenURL, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("creating refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client().Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("performing refresh request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("reading refresh response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(body)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return Result{}, &HttpError{Status: resp.StatusCode, Body: snippet}
	}

	var parsed responseBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{}, fmt.Errorf("parsing refresh response: %w", err)
	}

	accessToken := strings.TrimSpace(parsed.AccessToken)
	if accessToken == "" {
		return Result{}, MissingAccessToken{}
	}

	return Result{
		AccessToken:  accessToken,
		RefreshToken: strings.TrimSpace(parsed.RefreshToken),
		ExpiresIn:    parsed.ExpiresIn,
		Scope:        strings.TrimSpace(parsed.Scope),
	}, nil
}

func (r *Refresher) client() *http.Client {
	if r.HTTPClient != nil {
		return r.HTTPClient
	}
	return &http.Client{Timeout: timeout}
}
