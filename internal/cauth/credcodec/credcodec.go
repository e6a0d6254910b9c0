// Package credcodec parses and serializes the credential blob Claude Code
// persists under claudeAiOauth, extracting token material and identity
// metadata without dropping any field it does not recognize.
package credcodec

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
)

// Credential wraps a parsed credential document. The underlying map is kept
// exactly as decoded (via json.Number, so integers never round-trip through
// float64) so that re-serializing a document that was never mutated
// reproduces the same values (keys are re-sorted and re-indented), and so that fields this
// package does not understand survive a parse/mutate/serialize cycle.
type Credential struct {
	raw map[string]interface{}
}

// TokenMaterial is the triple that defines the freshness partial order.
type TokenMaterial struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Parse decodes a credential JSON document, preserving unknown fields.
func Parse(data []byte) (*Credential, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parsing credential blob: %w", err)
	}
	return &Credential{raw: raw}, nil
}

// Bytes serializes the credential back to JSON with sorted keys and
// indentation, matching the on-disk format written by save/switch/refresh.
func (c *Credential) Bytes() ([]byte, error) {
	return json.MarshalIndent(c.raw, "", "  ")
}

// Raw returns the full decoded document. Callers must not retain a reference
// across a mutation of c.
func (c *Credential) Raw() map[string]interface{} {
	return c.raw
}

func (c *Credential) oauth() (map[string]interface{}, bool) {
	return asObject(c.raw["claudeAiOauth"])
}

// AccessToken returns the trimmed access token, or "" if absent.
func (c *Credential) AccessToken() string {
	oauth, ok := c.oauth()
	if !ok {
		return ""
	}
	return trimmedString(oauth["accessToken"])
}

// RefreshToken returns the trimmed refresh token, or "" if absent.
func (c *Credential) RefreshToken() string {
	oauth, ok := c.oauth()
	if !ok {
		return ""
	}
	return trimmedString(oauth["refreshToken"])
}

// ExpiresAt returns the extracted expiry, checking claudeAiOauth.expiresAt,
// claudeAiOauth.expires_at, root expiresAt, and root expires_at in that
// order, accepting epoch seconds, epoch milliseconds, a numeric string of
// either, or an ISO-8601 timestamp. Returns the zero time when absent.
func (c *Credential) ExpiresAt() time.Time {
	oauth, _ := c.oauth()

	candidates := []interface{}{}
	if oauth != nil {
		candidates = append(candidates, oauth["expiresAt"], oauth["expires_at"])
	}
	candidates = append(candidates, c.raw["expiresAt"], c.raw["expires_at"])

	for _, cand := range candidates {
		if t, ok := parseExpiry(cand); ok {
			return t
		}
	}
	return time.Time{}
}

// Scopes returns the scope list, accepting either a JSON array of strings or
// a single space-delimited string; empty entries are dropped.
func (c *Credential) Scopes() []string {
	oauth, ok := c.oauth()
	if !ok {
		return nil
	}
	return parseScopes(oauth["scopes"])
}

// Email returns the first non-empty, lowercased, '@'-containing email found
// across root email, root account.email, claudeAiOauth.email,
// claudeAiOauth.account.email, and finally the email/preferred_username
// claim of the access token's JWT payload.
func (c *Credential) Email() string {
	oauth, _ := c.oauth()

	if e := emailFrom(c.raw["email"]); e != "" {
		return e
	}
	if acct, ok := asObject(c.raw["account"]); ok {
		if e := emailFrom(acct["email"]); e != "" {
			return e
		}
	}
	if oauth != nil {
		if e := emailFrom(oauth["email"]); e != "" {
			return e
		}
		if acct, ok := asObject(oauth["account"]); ok {
			if e := emailFrom(acct["email"]); e != "" {
				return e
			}
		}
	}
	if e := emailFromJWT(c.AccessToken()); e != "" {
		return e
	}
	return ""
}

// Plan derives the plan tag from rateLimitTier first, subscriptionType
// second, via case-insensitive substring match (underscores and hyphens
// count as spaces, so "max_20x" yields "Max 20x").
func (c *Credential) Plan() string {
	oauth, ok := c.oauth()
	if !ok {
		return ""
	}
	for _, field := range []string{"rateLimitTier", "subscriptionType"} {
		if tag := planFromTag(trimmedString(oauth[field])); tag != "" {
			return tag
		}
	}
	return ""
}

// IsTeam reports whether the credential belongs to a team account:
// isTeam if present, else true if subscriptionType or
// organization.organization_type contains "team" (case-insensitive).
func (c *Credential) IsTeam() bool {
	oauth, ok := c.oauth()
	if !ok {
		return false
	}
	if v, present := oauth["isTeam"]; present {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	if strings.Contains(strings.ToLower(trimmedString(oauth["subscriptionType"])), "team") {
		return true
	}
	if org, ok := asObject(oauth["organization"]); ok {
		if strings.Contains(strings.ToLower(trimmedString(org["organization_type"])), "team") {
			return true
		}
	}
	return false
}

// TokenMaterial returns the extracted (access, refresh, expiresAt) triple.
func (c *Credential) TokenMaterial() TokenMaterial {
	return TokenMaterial{
		AccessToken:  c.AccessToken(),
		RefreshToken: c.RefreshToken(),
		ExpiresAt:    c.ExpiresAt(),
	}
}

// SetTokenMaterial merges a refreshed payload back into the credential:
// accessToken is replaced, refreshToken is replaced only if newRefresh is
// non-empty (keeping the previous value otherwise), expiresAt is set when
// provided, and scopes are replaced only when newScopes is non-empty. The
// claudeAiOauth object is created if it did not already exist.
func (c *Credential) SetTokenMaterial(newAccess, newRefresh string, expiresAt time.Time, newScopes []string) {
	oauth, ok := c.oauth()
	if !ok {
		oauth = map[string]interface{}{}
		c.raw["claudeAiOauth"] = oauth
	}

	if newAccess != "" {
		oauth["accessToken"] = newAccess
	}
	if newRefresh != "" {
		oauth["refreshToken"] = newRefresh
	}
	if !expiresAt.IsZero() {
		oauth["expiresAt"] = json.Number(fmt.Sprintf("%d", expiresAt.UnixMilli()))
	}
	if len(newScopes) > 0 {
		scopes := make([]interface{}, len(newScopes))
		for i, s := range newScopes {
			scopes[i] = s
		}
		oauth["scopes"] = scopes
	}
}

// Fingerprint returns the first 16 hex characters of SHA-256(data).
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum)[:16]
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(s string) string {
	s = strings.ToLower(s)
	s = nonAlnum.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// AccountID derives a stable account identifier from a credential blob: a
// slugged-email identity when an email is extractable, otherwise a
// fingerprint of the refresh token (or of a placeholder, if even that is
// absent).
func (c *Credential) AccountID() string {
	if email := c.Email(); email != "" {
		slug := slugify(email)
		if c.IsTeam() {
			return "acct_claude_team_" + slug
		}
		return "acct_claude_" + slug
	}

	rt := c.RefreshToken()
	if rt == "" {
		rt = "-"
	}
	fp := Fingerprint([]byte("claude:refresh:" + rt))
	return "acct_claude_" + fp
}

// --- helpers ---

func asObject(v interface{}) (map[string]interface{}, bool) {
	m, ok := v.(map[string]interface{})
	return m, ok
}

func trimmedString(v interface{}) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

func emailFrom(v interface{}) string {
	s := trimmedString(v)
	if s == "" {
		return ""
	}
	s = strings.ToLower(s)
	if !strings.Contains(s, "@") {
		return ""
	}
	return s
}

func parseScopes(v interface{}) []string {
	switch val := v.(type) {
	case []interface{}:
		var out []string
		for _, item := range val {
			if s := trimmedString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		var out []string
		for _, s := range strings.Fields(val) {
			if s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

var planTags = []struct {
	substr string
	tag    string
}{
	{"max 20x", "Max 20x"},
	{"max20x", "Max 20x"},
	{"max 5x", "Max 5x"},
	{"max5x", "Max 5x"},
	{"pro", "Pro"},
	{"max", "Max"},
}

func planFromTag(s string) string {
	if s == "" {
		return ""
	}
	// Tiers are spelled like "default_claude_max_20x"; treat '_' and '-' as
	// spaces so they match the tags above.
	lower := strings.NewReplacer("_", " ", "-", " ").Replace(strings.ToLower(s))
	for _, candidate := range planTags {
		if strings.Contains(lower, candidate.substr) {
			return candidate.tag
		}
	}
	return ""
}

// ParseTimestamp applies the same epoch-seconds/epoch-millis/ISO-8601
// heuristics used for expires_at extraction to an arbitrary decoded JSON
// value, so other callers (the usage client's resets_at fields) share the
// exact parsing rules instead of re-implementing them.
func ParseTimestamp(v interface{}) (time.Time, bool) {
	return parseExpiry(v)
}

// parseExpiry accepts json.Number / string / float64 representations of an
// epoch timestamp (seconds or milliseconds) or an ISO-8601 string. Values
// that are absent, non-finite, or <= 0 are treated as absent.
func parseExpiry(v interface{}) (time.Time, bool) {
	switch val := v.(type) {
	case nil:
		return time.Time{}, false
	case json.Number:
		return epochToTime(val.String())
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return time.Time{}, false
		}
		if t, ok := epochToTime(s); ok {
			return t, true
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return normalizeZero(t)
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return normalizeZero(t)
		}
		return time.Time{}, false
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return time.Time{}, false
		}
		return epochMillisOrSeconds(int64(val))
	default:
		return time.Time{}, false
	}
}

func epochToTime(s string) (time.Time, bool) {
	var n int64
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return time.Time{}, false
	}
	// Reject inputs that weren't purely integral (fmt.Sscanf stops at the
	// first non-digit, which would silently accept "123abc").
	trimmed := strings.TrimPrefix(s, "-")
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return time.Time{}, false
		}
	}
	return epochMillisOrSeconds(n)
}

func epochMillisOrSeconds(n int64) (time.Time, bool) {
	if n <= 0 {
		return time.Time{}, false
	}
	switch {
	case n > 1_000_000_000_000:
		return normalizeZero(time.UnixMilli(n).UTC())
	case n > 1_000_000_000:
		return normalizeZero(time.Unix(n, 0).UTC())
	default:
		// Too small to be a plausible timestamp in either unit; treat as
		// absent rather than guessing.
		return time.Time{}, false
	}
}

func normalizeZero(t time.Time) (time.Time, bool) {
	if t.IsZero() || t.Unix() <= 0 {
		return time.Time{}, false
	}
	return t, true
}

// emailFromJWT decodes the middle (payload) segment of a JWT access token
// and extracts the "email" or "preferred_username" claim, as a last resort
// when no structured email field is present anywhere in the blob.
func emailFromJWT(token string) string {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return ""
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		// Some encoders emit standard padding; retry with the padded decoder.
		payload, err = base64.URLEncoding.DecodeString(parts[1])
		if err != nil {
			return ""
		}
	}

	var claims struct {
		Email             string `json:"email"`
		PreferredUsername string `json:"preferred_username"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return ""
	}
	if e := emailFrom(claims.Email); e != "" {
		return e
	}
	return emailFrom(claims.PreferredUsername)
}
