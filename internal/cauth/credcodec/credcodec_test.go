package credcodec

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParse_ExtractsTokenMaterial(t *testing.T) {
	doc := `{
		"claudeAiOauth": {
			"accessToken": " sk-access-1 ",
			"refreshToken": "sk-refresh-1",
			"expiresAt": 1999999999000,
			"scopes": ["user:inference", "user:profile"],
			"email": "Jane@Example.com",
			"rateLimitTier": "max_20x",
			"isTeam": false
		}
	}`

	cred, err := Parse([]byte(doc))
	require.NoError(t, err)

	require.Equal(t, "sk-access-1", cred.AccessToken())
	require.Equal(t, "sk-refresh-1", cred.RefreshToken())
	require.Equal(t, []string{"user:inference", "user:profile"}, cred.Scopes())
	require.Equal(t, "jane@example.com", cred.Email())
	require.Equal(t, "Max 20x", cred.Plan())
	require.False(t, cred.IsTeam())
	require.False(t, cred.ExpiresAt().IsZero())
}

func TestParse_PreservesUnknownFields(t *testing.T) {
	doc := `{"claudeAiOauth":{"accessToken":"a","refreshToken":"r"},"someOtherTool":{"keepMe":true}}`
	cred, err := Parse([]byte(doc))
	require.NoError(t, err)

	out, err := cred.Bytes()
	require.NoError(t, err)

	var roundTripped map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &roundTripped))
	other, ok := roundTripped["someOtherTool"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, true, other["keepMe"])
}

func TestExpiresAt_AcceptsSecondsMillisAndISO(t *testing.T) {
	cases := []struct {
		name  string
		value string
	}{
		{"seconds", `"1999999999"`},
		{"millis", `1999999999000`},
		{"iso8601", `"2033-05-18T03:33:20Z"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := `{"claudeAiOauth":{"expiresAt":` + tc.value + `}}`
			cred, err := Parse([]byte(doc))
			require.NoError(t, err)
			require.False(t, cred.ExpiresAt().IsZero())
		})
	}
}

func TestExpiresAt_FallsBackToRootKeys(t *testing.T) {
	doc := `{"claudeAiOauth":{},"expires_at":1999999999}`
	cred, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.False(t, cred.ExpiresAt().IsZero())
}

func TestExpiresAt_AbsentWhenNonPositive(t *testing.T) {
	doc := `{"claudeAiOauth":{"expiresAt":0}}`
	cred, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.True(t, cred.ExpiresAt().IsZero())
}

func TestScopes_AcceptsSpaceDelimitedString(t *testing.T) {
	doc := `{"claudeAiOauth":{"scopes":"  user:inference   user:profile "}}`
	cred, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.Equal(t, []string{"user:inference", "user:profile"}, cred.Scopes())
}

func TestEmail_FallsBackToJWTClaim(t *testing.T) {
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"email":"jwt-user@example.com"}`))
	token := "header." + payload + ".sig"
	doc := `{"claudeAiOauth":{"accessToken":"` + token + `"}}`

	cred, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.Equal(t, "jwt-user@example.com", cred.Email())
}

func TestPlan_PrefersRateLimitTierOverSubscriptionType(t *testing.T) {
	doc := `{"claudeAiOauth":{"rateLimitTier":"pro_tier","subscriptionType":"max_5x"}}`
	cred, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.Equal(t, "Pro", cred.Plan())
}

func TestIsTeam_DetectsViaOrganizationType(t *testing.T) {
	doc := `{"claudeAiOauth":{"organization":{"organization_type":"TEAM"}}}`
	cred, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.True(t, cred.IsTeam())
}

func TestAccountID_UsesEmailSlugWhenAvailable(t *testing.T) {
	doc := `{"claudeAiOauth":{"email":"Jane.Doe+x@Example.com","isTeam":true}}`
	cred, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.Equal(t, "acct_claude_team_jane_doe_x_example_com", cred.AccountID())
}

func TestAccountID_FallsBackToRefreshTokenFingerprint(t *testing.T) {
	doc := `{"claudeAiOauth":{"refreshToken":"sk-refresh-xyz"}}`
	cred, err := Parse([]byte(doc))
	require.NoError(t, err)

	id := cred.AccountID()
	require.Regexp(t, `^acct_claude_[0-9a-f]{16}$`, id)
}

func TestAccountID_FallsBackEvenWithoutRefreshToken(t *testing.T) {
	doc := `{}`
	cred, err := Parse([]byte(doc))
	require.NoError(t, err)

	id := cred.AccountID()
	require.Regexp(t, `^acct_claude_[0-9a-f]{16}$`, id)
}

func TestFingerprint_IsStableAndSixteenHex(t *testing.T) {
	fp1 := Fingerprint([]byte("same-bytes"))
	fp2 := Fingerprint([]byte("same-bytes"))
	require.Equal(t, fp1, fp2)
	require.Len(t, fp1, 16)
	require.Regexp(t, `^[0-9a-f]{16}$`, fp1)
}

func TestSetTokenMaterial_ReplacesOnlyProvidedFields(t *testing.T) {
	doc := `{"claudeAiOauth":{"accessToken":"old-access","refreshToken":"old-refresh","scopes":["user:inference"]}}`
	cred, err := Parse([]byte(doc))
	require.NoError(t, err)

	expiresAt := time.Unix(2000000000, 0).UTC()
	cred.SetTokenMaterial("new-access", "", expiresAt, nil)

	require.Equal(t, "new-access", cred.AccessToken())
	require.Equal(t, "old-refresh", cred.RefreshToken())
	require.Equal(t, []string{"user:inference"}, cred.Scopes())
	require.False(t, cred.ExpiresAt().IsZero())
}

func TestSetTokenMaterial_CreatesOauthObjectWhenMissing(t *testing.T) {
	cred, err := Parse([]byte(`{}`))
	require.NoError(t, err)

	cred.SetTokenMaterial("a", "r", time.Unix(2000000000, 0).UTC(), []string{"user:inference"})

	require.Equal(t, "a", cred.AccessToken())
	require.Equal(t, "r", cred.RefreshToken())
	require.Equal(t, []string{"user:inference"}, cred.Scopes())
}
