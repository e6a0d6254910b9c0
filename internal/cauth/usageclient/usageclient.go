// Package usageclient fetches quota-window usage information for a Claude
// access token. It is best-effort throughout: any failure yields an absent
// result rather than an error, since usage is purely informational.
package usageclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/agent-island/cauth/internal/cauth/credcodec"
)

// DefaultUsageURL is used when CLAUDE_CODE_USAGE_URL is unset.
const DefaultUsageURL = "https://api.anthropic.com/api/oauth/usage"

const timeout = 8 * time.Second

// Window is a single quota window's usage.
type Window struct {
	UtilizationPct int
	ResetsAt       time.Time
}

// Usage holds both tracked quota windows. A zero-value Window (ResetsAt
// zero, UtilizationPct 0) represents "absent" for that window specifically.
type Usage struct {
	FiveHour Window
	SevenDay Window
}

// Client fetches usage from the Claude usage endpoint.
type Client struct {
	URL        string
	HTTPClient *http.Client
}

// New returns a Client; empty url falls back to DefaultUsageURL.
func New(url string) *Client {
	if url == "" {
		url = DefaultUsageURL
	}
	return &Client{URL: url, HTTPClient: &http.Client{Timeout: timeout}}
}

type windowPayload struct {
	Utilization float64     `json:"utilization"`
	ResetsAt    interface{} `json:"resets_at"`
}

type usagePayload struct {
	FiveHour *windowPayload `json:"five_hour"`
	SevenDay *windowPayload `json:"seven_day"`
}

// Fetch returns the usage for accessToken, or ok=false on any failure
// (network error, non-2xx status, or unparseable body).
func (c *Client) Fetch(ctx context.Context, accessToken string) (usage Usage, ok bool) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return Usage{}, false
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("anthropic-beta", "oauth-2025-04-20")

	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		return Usage{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Usage{}, false
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Usage{}, false
	}

	var payload usagePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Usage{}, false
	}

	return Usage{
		FiveHour: toWindow(payload.FiveHour),
		SevenDay: toWindow(payload.SevenDay),
	}, true
}

func toWindow(w *windowPayload) Window {
	if w == nil {
		return Window{}
	}
	resetsAt, _ := parseResetsAt(w.ResetsAt)
	return Window{
		UtilizationPct: int(w.Utilization + 0.5),
		ResetsAt:       resetsAt,
	}
}

// parseResetsAt reuses the same timestamp heuristics as the credential
// codec's expires_at extraction (epoch seconds/ms, numeric string, or
// ISO-8601), since the usage endpoint uses the same representations.
func parseResetsAt(v interface{}) (time.Time, bool) {
	return credcodec.ParseTimestamp(v)
}
