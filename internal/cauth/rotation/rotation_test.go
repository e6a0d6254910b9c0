package rotation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agent-island/cauth/internal/cauth/keychain"
	"github.com/agent-island/cauth/internal/cauth/refresher"
	"github.com/agent-island/cauth/internal/cauth/resolver"
	"github.com/agent-island/cauth/internal/cauth/runner"
	"github.com/agent-island/cauth/internal/cauth/store"
)

func newTestEngine(t *testing.T, mirrorResults []runner.Result, mirrorErrs []error) (*Engine, string) {
	t.Helper()
	home := t.TempDir()
	activePath := filepath.Join(home, ".claude", ".credentials.json")

	resolverMirror := keychain.New(&runner.Recording{Errs: []error{errors.New("no keychain on this host")}}, "security")
	res := resolver.New(activePath, resolverMirror)

	var engineMirror *keychain.Mirror
	if mirrorResults != nil || mirrorErrs != nil {
		engineMirror = keychain.New(&runner.Recording{Results: mirrorResults, Errs: mirrorErrs}, "security")
	}

	eng := New(home, res, engineMirror, nil, nil, nil)
	return eng, activePath
}

func writeJSON(t *testing.T, path string, doc map[string]any) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func credentialDoc(access, refresh, email string) map[string]any {
	return map[string]any{
		"claudeAiOauth": map[string]any{
			"accessToken":  access,
			"refreshToken": refresh,
			"email":        email,
		},
	}
}

func TestSave_RejectsEmptyProfileName(t *testing.T) {
	eng, _ := newTestEngine(t, nil, nil)
	err := eng.Save(context.Background(), "   ")
	require.ErrorIs(t, err, ErrEmptyProfileName)
}

func TestSave_ErrorsWhenNoActiveCredential(t *testing.T) {
	eng, _ := newTestEngine(t, nil, nil)
	err := eng.Save(context.Background(), "work")
	require.ErrorIs(t, err, ErrNoActiveCredential)
}

func TestSave_WritesAccountAndBindsProfile(t *testing.T) {
	eng, activePath := newTestEngine(t, nil, nil)
	writeJSON(t, activePath, credentialDoc("at1", "rt1", "a@example.com"))

	require.NoError(t, eng.Save(context.Background(), "work"))

	snap, err := store.Load(eng.StorePath)
	require.NoError(t, err)
	require.Len(t, snap.Accounts, 1)
	require.Len(t, snap.Profiles, 1)

	accountID := snap.Accounts[0].ID
	require.Equal(t, "work", snap.Profiles[0].Name)
	require.NotNil(t, snap.Profiles[0].ClaudeAccountID)
	require.Equal(t, accountID, *snap.Profiles[0].ClaudeAccountID)

	stored, err := os.ReadFile(eng.accountCredentialPath(accountID))
	require.NoError(t, err)
	require.Contains(t, string(stored), "at1")
}

func TestSave_ReplacesAccountOnSecondSaveSameIdentity(t *testing.T) {
	eng, activePath := newTestEngine(t, nil, nil)
	writeJSON(t, activePath, credentialDoc("at1", "rt1", "a@example.com"))
	require.NoError(t, eng.Save(context.Background(), "work"))

	writeJSON(t, activePath, credentialDoc("at2", "rt2", "a@example.com"))
	require.NoError(t, eng.Save(context.Background(), "home"))

	snap, err := store.Load(eng.StorePath)
	require.NoError(t, err)
	require.Len(t, snap.Accounts, 1, "same email identity must reuse the same account slot")
	require.Len(t, snap.Profiles, 2)
}

func setupSwitchFixture(t *testing.T, eng *Engine, accountID, profileName string, doc map[string]any) {
	t.Helper()
	snap := store.Empty()
	snap.UpsertAccount(store.Account{
		ID:        accountID,
		Service:   store.ServiceClaude,
		Label:     "claude:test",
		RootPath:  filepath.Join(eng.AccountsRoot, accountID),
		UpdatedAt: time.Now(),
	})
	snap.UpsertProfile(profileName, store.StringPtr(accountID))
	require.NoError(t, store.Save(eng.StorePath, snap))
	writeJSON(t, eng.accountCredentialPath(accountID), doc)
}

func TestSwitch_WritesActiveFileAndKeychainMirror(t *testing.T) {
	eng, activePath := newTestEngine(t,
		[]runner.Result{{ExitCode: 1}, {ExitCode: 0}},
		[]error{errors.New("no such item"), nil},
	)
	setupSwitchFixture(t, eng, "acct1", "work", credentialDoc("at1", "rt1", "a@example.com"))

	require.NoError(t, eng.Switch(context.Background(), "work"))

	data, err := os.ReadFile(activePath)
	require.NoError(t, err)
	require.Contains(t, string(data), "at1")
}

func TestSwitch_RollsBackActiveFileOnKeychainFailure(t *testing.T) {
	eng, activePath := newTestEngine(t,
		[]runner.Result{{ExitCode: 1}, {ExitCode: 1, Stderr: []byte("denied")}},
		[]error{errors.New("no such item"), nil},
	)
	require.NoError(t, os.MkdirAll(filepath.Dir(activePath), 0o700))
	require.NoError(t, os.WriteFile(activePath, []byte("previous-active-data"), 0o600))

	setupSwitchFixture(t, eng, "acct1", "work", credentialDoc("at1", "rt1", "a@example.com"))

	err := eng.Switch(context.Background(), "work")
	var kwf *KeychainWriteFailed
	require.ErrorAs(t, err, &kwf)

	data, readErr := os.ReadFile(activePath)
	require.NoError(t, readErr)
	require.Equal(t, "previous-active-data", string(data))
}

func TestSwitch_ProfileNotFound(t *testing.T) {
	eng, _ := newTestEngine(t, nil, nil)
	require.NoError(t, store.Save(eng.StorePath, store.Empty()))

	err := eng.Switch(context.Background(), "missing")
	require.ErrorIs(t, err, ErrProfileNotFound)
}

func TestSwitch_ProfileHasNoClaudeAccount(t *testing.T) {
	eng, _ := newTestEngine(t, nil, nil)
	snap := store.Empty()
	snap.UpsertProfile("empty", nil)
	require.NoError(t, store.Save(eng.StorePath, snap))

	err := eng.Switch(context.Background(), "empty")
	require.ErrorIs(t, err, ErrProfileHasNoClaudeAccount)
}

func TestSwitch_AccountNotFound(t *testing.T) {
	eng, _ := newTestEngine(t, nil, nil)
	snap := store.Empty()
	snap.UpsertProfile("work", store.StringPtr("acct-missing"))
	require.NoError(t, store.Save(eng.StorePath, snap))

	err := eng.Switch(context.Background(), "work")
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestSwitch_StoredCredentialMissing(t *testing.T) {
	eng, _ := newTestEngine(t, nil, nil)
	snap := store.Empty()
	snap.UpsertAccount(store.Account{ID: "acct1", Service: store.ServiceClaude})
	snap.UpsertProfile("work", store.StringPtr("acct1"))
	require.NoError(t, store.Save(eng.StorePath, snap))

	err := eng.Switch(context.Background(), "work")
	require.ErrorIs(t, err, ErrStoredCredentialMissing)
}

func newRefreshServer(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"new-at","refresh_token":"new-rt","expires_in":3600,"scope":"user:inference"}`))
	}))
}

func TestRefreshAll_DedupsProfilesSharingRefreshToken(t *testing.T) {
	eng, _ := newTestEngine(t, nil, nil)
	var calls int32
	server := newRefreshServer(t, &calls)
	defer server.Close()
	eng.Refresher = refresher.New(server.URL, "client-id")

	snap := store.Empty()
	snap.UpsertAccount(store.Account{ID: "acct1", Service: store.ServiceClaude})
	snap.UpsertAccount(store.Account{ID: "acct2", Service: store.ServiceClaude})
	snap.UpsertProfile("alpha", store.StringPtr("acct1"))
	snap.UpsertProfile("beta", store.StringPtr("acct2"))
	require.NoError(t, store.Save(eng.StorePath, snap))

	writeJSON(t, eng.accountCredentialPath("acct1"), credentialDoc("old-at-1", "shared-rt", "alpha@example.com"))
	writeJSON(t, eng.accountCredentialPath("acct2"), credentialDoc("old-at-2", "shared-rt", "beta@example.com"))

	lines, err := eng.RefreshAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls), "profiles sharing a refresh token must trigger exactly one upstream call")
	require.Len(t, lines, 2)

	for _, line := range lines {
		require.NotContains(t, line, ": - - 5h -- 7d -- (key) --")
	}

	acct2Data, err := os.ReadFile(eng.accountCredentialPath("acct2"))
	require.NoError(t, err)
	require.Contains(t, string(acct2Data), "new-at")
}

func TestRefreshAll_SyncsActiveAccountCredential(t *testing.T) {
	eng, activePath := newTestEngine(t,
		[]runner.Result{{ExitCode: 0}},
		[]error{nil},
	)
	var calls int32
	server := newRefreshServer(t, &calls)
	defer server.Close()
	eng.Refresher = refresher.New(server.URL, "client-id")

	writeJSON(t, activePath, credentialDoc("old-at", "rt-active", "active@example.com"))

	// The active account's ID must match what the codec itself derives from
	// the active credential's email, since that's what RefreshAll compares
	// against to decide whether to sync the active file.
	const activeAccountID = "acct_claude_active_example_com"
	snap := store.Empty()
	snap.UpsertAccount(store.Account{ID: activeAccountID, Service: store.ServiceClaude})
	snap.UpsertProfile("work", store.StringPtr(activeAccountID))
	require.NoError(t, store.Save(eng.StorePath, snap))
	writeJSON(t, eng.accountCredentialPath(activeAccountID), credentialDoc("old-at", "rt-active", "active@example.com"))

	_, err := eng.RefreshAll(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(activePath)
	require.NoError(t, err)
	require.Contains(t, string(data), "new-at")
}

func TestRefreshAll_IsolatesPerProfileFailures(t *testing.T) {
	eng, _ := newTestEngine(t, nil, nil)
	var calls int32
	server := newRefreshServer(t, &calls)
	defer server.Close()
	eng.Refresher = refresher.New(server.URL, "client-id")

	snap := store.Empty()
	snap.UpsertAccount(store.Account{ID: "acct-ok", Service: store.ServiceClaude})
	snap.UpsertProfile("broken", store.StringPtr("acct-missing-credential"))
	snap.UpsertProfile("healthy", store.StringPtr("acct-ok"))
	require.NoError(t, store.Save(eng.StorePath, snap))

	writeJSON(t, eng.accountCredentialPath("acct-ok"), credentialDoc("old-at", "rt-ok", "ok@example.com"))

	lines, err := eng.RefreshAll(context.Background())
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.Equal(t, "broken: - - 5h -- 7d -- (key) --", lines[0])
	require.Contains(t, lines[1], "healthy: ok@example.com")
}

func TestRenderTTL_FormatsDaysHoursMinutes(t *testing.T) {
	require.Equal(t, "expired", renderTTL(-time.Minute))
	require.Equal(t, "expired", renderTTL(0))
	require.Equal(t, "2h 30m", renderTTL(2*time.Hour+30*time.Minute))
	require.Equal(t, "1d 0h 5m", renderTTL(24*time.Hour+5*time.Minute))
}

func TestRenderLine_AbsentOutcomeRendersFallback(t *testing.T) {
	line := renderLine("ghost", nil, time.Now())
	require.Equal(t, "ghost: - - 5h -- 7d -- (key) --", line)
}

