package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsEmptySnapshot(t *testing.T) {
	snap, err := Load(filepath.Join(t.TempDir(), "accounts.json"))
	require.NoError(t, err)
	require.Empty(t, snap.Accounts)
	require.Empty(t, snap.Profiles)
}

func TestSaveAndLoad_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json")

	snap := Empty()
	snap.UpsertAccount(Account{
		ID:        "acct_claude_z_iq_io",
		Service:   ServiceClaude,
		Label:     "claude:abcd1234",
		RootPath:  "/home/u/.agent-island/accounts/acct_claude_z_iq_io",
		UpdatedAt: time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC),
	})
	snap.UpsertProfile("home", StringPtr("acct_claude_z_iq_io"))

	require.NoError(t, Save(path, snap))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Len(t, loaded.Accounts, 1)
	require.Len(t, loaded.Profiles, 1)
	require.Equal(t, "acct_claude_z_iq_io", *loaded.Profiles[0].ClaudeAccountID)
}

func TestUpsertAccount_ReplacesInPlaceAndPreservesOrder(t *testing.T) {
	snap := Empty()
	snap.UpsertAccount(Account{ID: "a1", Label: "first"})
	snap.UpsertAccount(Account{ID: "a2", Label: "second"})
	snap.UpsertAccount(Account{ID: "a1", Label: "first-updated"})

	require.Len(t, snap.Accounts, 2)
	require.Equal(t, "first-updated", snap.Accounts[0].Label)
	require.Equal(t, "second", snap.Accounts[1].Label)
}

func TestUpsertProfile_PreservesForeignServiceSlots(t *testing.T) {
	snap := Empty()
	codexID := "acct_codex_x"
	snap.Profiles = append(snap.Profiles, Profile{Name: "home", CodexAccountID: &codexID})

	snap.UpsertProfile("home", StringPtr("acct_claude_new"))

	p, ok := snap.FindProfile("home")
	require.True(t, ok)
	require.Equal(t, "acct_claude_new", *p.ClaudeAccountID)
	require.Equal(t, codexID, *p.CodexAccountID)
}

func TestBumpUpdatedAt_SetsTimestampOnMatchingAccount(t *testing.T) {
	snap := Empty()
	snap.UpsertAccount(Account{ID: "a1"})

	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	snap.BumpUpdatedAt("a1", now)

	a, ok := snap.FindAccount("a1")
	require.True(t, ok)
	require.Equal(t, now, a.UpdatedAt)
}
