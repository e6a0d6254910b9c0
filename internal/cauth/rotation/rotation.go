// Package rotation implements the Rotation Engine: save, switch, and
// refresh_all, the three operations that move credentials between the
// active file/keychain pair and the per-account store.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/agent-island/cauth/internal/cauth/analytics"
	"github.com/agent-island/cauth/internal/cauth/atomicio"
	"github.com/agent-island/cauth/internal/cauth/credcodec"
	"github.com/agent-island/cauth/internal/cauth/filelock"
	"github.com/agent-island/cauth/internal/cauth/keychain"
	"github.com/agent-island/cauth/internal/cauth/refresher"
	"github.com/agent-island/cauth/internal/cauth/resolver"
	"github.com/agent-island/cauth/internal/cauth/store"
	"github.com/agent-island/cauth/internal/cauth/usageclient"
)

// refreshLockTimeout bounds how long refresh_all waits for a per-identity
// lock before giving up on that account for this cycle.
const refreshLockTimeout = 30 * time.Second

// Engine composes the active-credential resolver, the account store, and
// the upstream refresh/usage clients into the three rotation operations.
type Engine struct {
	Home         string
	ActivePath   string // ~/.claude/.credentials.json
	StorePath    string // ~/.agent-island/accounts.json
	AccountsRoot string // ~/.agent-island/accounts
	LocksDir     string // ~/.agent-island/locks

	Resolver    *resolver.Resolver
	Mirror      *keychain.Mirror
	Refresher   *refresher.Refresher
	UsageClient *usageclient.Client
	Analytics   *analytics.Sink

	// Now is overridable in tests; defaults to time.Now.
	Now func() time.Time
}

// New wires an Engine rooted at home, the directory holding .agent-island
// and (its parent) .claude.
func New(home string, res *resolver.Resolver, mirror *keychain.Mirror, ref *refresher.Refresher, usage *usageclient.Client, sink *analytics.Sink) *Engine {
	root := filepath.Join(home, ".agent-island")
	return &Engine{
		Home:         home,
		ActivePath:   filepath.Join(home, ".claude", ".credentials.json"),
		StorePath:    filepath.Join(root, "accounts.json"),
		AccountsRoot: filepath.Join(root, "accounts"),
		LocksDir:     filepath.Join(root, "locks"),
		Resolver:     res,
		Mirror:       mirror,
		Refresher:    ref,
		UsageClient:  usage,
		Analytics:    sink,
		Now:          time.Now,
	}
}

// now returns the current instant in UTC, so every timestamp persisted
// through the engine serializes with a "Z" offset per spec, regardless of
// the host's local zone.
func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e *Engine) accountCredentialPath(accountID string) string {
	return filepath.Join(e.AccountsRoot, accountID, ".claude", ".credentials.json")
}

func (e *Engine) storeLockPath() string {
	return filepath.Join(e.LocksDir, "cauth-store.lock")
}

func (e *Engine) refreshLockPath(lockID string) string {
	return filepath.Join(e.LocksDir, "cauth-refresh-"+lockID+".lock")
}

// withStoreLock loads the snapshot, runs fn over it, and persists the
// (possibly mutated) result while still holding the lock, so the
// read-modify-write cycle is atomic with respect to concurrent cauth
// invocations.
func (e *Engine) withStoreLock(ctx context.Context, fn func(snap *store.Snapshot) error) error {
	release, err := filelock.Acquire(ctx, e.storeLockPath(), refreshLockTimeout)
	if err != nil {
		return &IOError{Op: "acquiring account store lock", Cause: err}
	}
	defer release()

	snap, err := store.Load(e.StorePath)
	if err != nil {
		return &IOError{Op: "loading account store", Cause: err}
	}
	if err := fn(&snap); err != nil {
		return err
	}
	if err := store.Save(e.StorePath, snap); err != nil {
		return &IOError{Op: "saving account store", Cause: err}
	}
	return nil
}

// Save resolves the current active credential, persists it into that
// account's slot in the per-account store, and binds profileName to it.
func (e *Engine) Save(ctx context.Context, profileName string) error {
	profileName = strings.TrimSpace(profileName)
	if profileName == "" {
		return ErrEmptyProfileName
	}

	data, err := e.Resolver.Resolve(ctx)
	if err != nil {
		if errors.Is(err, resolver.ErrNoActiveCredential) {
			return ErrNoActiveCredential
		}
		return &IOError{Op: "resolving active credential", Cause: err}
	}

	cred, err := credcodec.Parse(data)
	if err != nil {
		return &IOError{Op: "parsing active credential", Cause: err}
	}
	accountID := cred.AccountID()

	if err := atomicio.WriteFile(e.accountCredentialPath(accountID), data, 0o600); err != nil {
		return &IOError{Op: "writing account credential", Cause: err}
	}

	now := e.now()
	err = e.withStoreLock(ctx, func(snap *store.Snapshot) error {
		snap.UpsertAccount(store.Account{
			ID:        accountID,
			Service:   store.ServiceClaude,
			Label:     "claude:" + credcodec.Fingerprint(data),
			RootPath:  filepath.Join(e.AccountsRoot, accountID),
			UpdatedAt: now,
		})
		snap.UpsertProfile(profileName, store.StringPtr(accountID))
		return nil
	})
	if err != nil {
		return err
	}

	if e.Analytics != nil {
		e.Analytics.Send("profile_saved", map[string]any{"profile": profileName, "accountId": accountID}, now)
	}
	return nil
}

// Switch loads profileName's bound claude account and makes it the active
// credential, writing the canonical file first and the keychain mirror
// second, rolling the file back if the mirror write fails.
func (e *Engine) Switch(ctx context.Context, profileName string) error {
	profileName = strings.TrimSpace(profileName)

	snap, err := store.Load(e.StorePath)
	if err != nil {
		return &IOError{Op: "loading account store", Cause: err}
	}

	profile, ok := snap.FindProfile(profileName)
	if !ok {
		return ErrProfileNotFound
	}
	if profile.ClaudeAccountID == nil {
		return ErrProfileHasNoClaudeAccount
	}
	account, ok := snap.FindAccount(*profile.ClaudeAccountID)
	if !ok {
		return ErrAccountNotFound
	}

	credPath := e.accountCredentialPath(account.ID)
	data, err := os.ReadFile(credPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrStoredCredentialMissing, credPath)
		}
		return &IOError{Op: "reading stored account credential", Cause: err}
	}

	previous, hadPrevious := readIfExists(e.ActivePath)

	if err := atomicio.WriteFile(e.ActivePath, data, 0o600); err != nil {
		return &IOError{Op: "writing active credential", Cause: err}
	}

	if e.Mirror != nil {
		if err := e.Mirror.Write(ctx, string(data)); err != nil {
			if hadPrevious {
				_ = atomicio.WriteFile(e.ActivePath, previous, 0o600)
			} else {
				_ = os.Remove(e.ActivePath)
			}
			return &KeychainWriteFailed{Cause: err}
		}
	}

	if e.Analytics != nil {
		e.Analytics.Send("profile_switched", map[string]any{"profile": profileName, "accountId": account.ID}, e.now())
	}
	return nil
}

func readIfExists(path string) ([]byte, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return data, true
}

// refreshOutcome holds what a single account-identity refresh produced, so
// it can be replayed onto every profile sharing that identity.
type refreshOutcome struct {
	bytes []byte
	cred  *credcodec.Credential
	usage usageclient.Usage
	ok    bool
}

// RefreshAll refreshes every profile's bound claude account, deduplicating
// work across profiles that share a refresh token, and returns one rendered
// status line per profile in original store order. It never returns a
// fatal error for an individual profile's refresh failure — only a line
// rendered with "-"/"--" fallbacks — since partial failure must not abort
// the cycle.
func (e *Engine) RefreshAll(ctx context.Context) ([]string, error) {
	activeData, _ := e.Resolver.Resolve(ctx)
	var activeAccountID string
	if activeData != nil {
		if cred, err := credcodec.Parse(activeData); err == nil {
			activeAccountID = cred.AccountID()
		}
	}

	snap, err := store.Load(e.StorePath)
	if err != nil {
		return nil, &IOError{Op: "loading account store", Cause: err}
	}

	sorted := append([]store.Profile(nil), snap.Profiles...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	refreshedByAccountID := map[string]*refreshOutcome{}
	refreshedByLockID := map[string]*refreshOutcome{}
	touchedAccountIDs := map[string]bool{}

	for _, p := range sorted {
		if p.ClaudeAccountID == nil {
			continue
		}
		accountID := *p.ClaudeAccountID
		if _, done := refreshedByAccountID[accountID]; done {
			continue
		}
		account, ok := snap.FindAccount(accountID)
		if !ok || account.Service != store.ServiceClaude {
			continue
		}

		credPath := e.accountCredentialPath(accountID)
		storedBytes, err := os.ReadFile(credPath)
		if err != nil {
			continue // no stored credential for this account yet; skip silently
		}
		cred, err := credcodec.Parse(storedBytes)
		if err != nil {
			continue // unreadable stored blob; leave it for a future cycle
		}

		lockID := refreshIdentity(cred, accountID)

		if existing, found := refreshedByLockID[lockID]; found {
			e.applyDedup(ctx, accountID, credPath, existing, accountID == activeAccountID)
			refreshedByAccountID[accountID] = existing
			touchedAccountIDs[accountID] = true
			continue
		}

		release, lockErr := filelock.Acquire(ctx, e.refreshLockPath(lockID), refreshLockTimeout)
		if lockErr != nil {
			slog.Warn("skipping account refresh, lock unavailable", "error", &RefreshLockTimeout{LockID: lockID})
			continue // could not get exclusive ownership of this identity this cycle
		}
		outcome := e.refreshOne(ctx, cred, storedBytes, credPath, accountID == activeAccountID)
		release()

		refreshedByLockID[lockID] = outcome
		refreshedByAccountID[accountID] = outcome
		touchedAccountIDs[accountID] = true
	}

	now := e.now()
	if len(touchedAccountIDs) > 0 {
		err := e.withStoreLock(ctx, func(locked *store.Snapshot) error {
			for id := range touchedAccountIDs {
				locked.BumpUpdatedAt(id, now)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	lines := make([]string, 0, len(snap.Profiles))
	for _, p := range snap.Profiles {
		var outcome *refreshOutcome
		if p.ClaudeAccountID != nil {
			outcome = refreshedByAccountID[*p.ClaudeAccountID]
		}
		lines = append(lines, renderLine(p.Name, outcome, now))
	}

	if e.Analytics != nil {
		e.Analytics.Send("refresh_all", map[string]any{"profiles": len(lines)}, now)
	}
	return lines, nil
}

// refreshIdentity returns the key that groups profiles sharing a single
// refresh token, so a single upstream call covers all of them: the
// fingerprint of the refresh token when one is present, else the account ID
// itself (so a tokenless credential still gets its own serialized slot).
func refreshIdentity(cred *credcodec.Credential, accountID string) string {
	if rt := cred.RefreshToken(); rt != "" {
		return credcodec.Fingerprint([]byte(rt))
	}
	return accountID
}

// applyDedup replays an already-completed refresh's result onto a second
// account sharing the same refresh token, and keeps the active file/
// keychain in sync if that account happens to be the active one.
func (e *Engine) applyDedup(ctx context.Context, accountID, credPath string, outcome *refreshOutcome, isActive bool) {
	if !outcome.ok {
		return
	}
	if err := atomicio.WriteFile(credPath, outcome.bytes, 0o600); err != nil {
		return
	}
	if isActive {
		e.syncActive(ctx, outcome.bytes)
	}
}

// syncActive writes freshly refreshed bytes to the active file and its
// keychain mirror. Used when the refreshed account happens to be the
// currently active one, so refresh_all never leaves the active credential
// stale relative to what it just wrote to the account store.
func (e *Engine) syncActive(ctx context.Context, data []byte) {
	if err := atomicio.WriteFile(e.ActivePath, data, 0o600); err != nil {
		return
	}
	if e.Mirror != nil {
		_ = e.Mirror.Write(ctx, string(data))
	}
}

// refreshOne performs the actual upstream token refresh for one account
// identity, writes the result back to its stored slot (and the active
// file/keychain pair if it is the active account), and fetches best-effort
// usage data for the rendered status line.
func (e *Engine) refreshOne(ctx context.Context, cred *credcodec.Credential, storedBytes []byte, credPath string, isActive bool) *refreshOutcome {
	result, err := e.Refresher.Refresh(ctx, cred.RefreshToken(), strings.Join(cred.Scopes(), " "))
	if err != nil {
		return &refreshOutcome{ok: false}
	}

	var expiresAt time.Time
	if result.ExpiresIn > 0 {
		expiresAt = e.now().Add(time.Duration(result.ExpiresIn) * time.Second)
	}
	var scopes []string
	if result.Scope != "" {
		scopes = strings.Fields(result.Scope)
	}
	cred.SetTokenMaterial(result.AccessToken, result.RefreshToken, expiresAt, scopes)

	newBytes, err := cred.Bytes()
	if err != nil {
		return &refreshOutcome{ok: false}
	}
	if err := atomicio.WriteFile(credPath, newBytes, 0o600); err != nil {
		return &refreshOutcome{ok: false}
	}

	if isActive {
		e.syncActive(ctx, newBytes)
	}

	var usage usageclient.Usage
	if e.UsageClient != nil {
		usage, _ = e.UsageClient.Fetch(ctx, cred.AccessToken())
	}

	return &refreshOutcome{bytes: newBytes, cred: cred, usage: usage, ok: true}
}

func renderLine(name string, outcome *refreshOutcome, now time.Time) string {
	if outcome == nil || !outcome.ok {
		return fmt.Sprintf("%s: - - 5h -- 7d -- (key) --", name)
	}

	email := outcome.cred.Email()
	if email == "" {
		email = "-"
	}
	plan := outcome.cred.Plan()
	if plan == "" {
		plan = "-"
	}

	return fmt.Sprintf("%s: %s %s 5h %s 7d %s (key) %s",
		name, email, plan,
		renderWindow(outcome.usage.FiveHour, now),
		renderWindow(outcome.usage.SevenDay, now),
		renderTTL(outcome.cred.ExpiresAt().Sub(now)),
	)
}

func renderWindow(w usageclient.Window, now time.Time) string {
	if w.ResetsAt.IsZero() {
		return "--"
	}
	return fmt.Sprintf("%d%% (%s)", w.UtilizationPct, renderTTL(w.ResetsAt.Sub(now)))
}

// renderTTL formats a duration as the status line expects: "expired" once
// it has elapsed, "Xd Yh Zm" when at least a day remains, else "Yh Zm".
func renderTTL(d time.Duration) string {
	if d <= 0 {
		return "expired"
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
