// Package store persists the AccountsSnapshot — the whole-document ledger
// of known Accounts and Profiles — as a single pretty-printed, sorted-key
// JSON file under 0600.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/agent-island/cauth/internal/cauth/atomicio"
)

// Service enumerates the upstream services a Profile can bind an account
// for. Only "claude" is populated by the core; the others are reserved
// nullable slots preserved across saves.
const ServiceClaude = "claude"

// Account is a stable identity representing one upstream account.
type Account struct {
	ID        string    `json:"id"`
	Service   string    `json:"service"`
	Label     string    `json:"label"`
	RootPath  string    `json:"rootPath"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Profile binds a name to zero or one account per supported service.
type Profile struct {
	Name            string  `json:"name"`
	ClaudeAccountID *string `json:"claudeAccountId"`
	CodexAccountID  *string `json:"codexAccountId"`
	GeminiAccountID *string `json:"geminiAccountId"`
}

// Snapshot is the persisted document: ordered accounts and profiles.
type Snapshot struct {
	Accounts []Account `json:"accounts"`
	Profiles []Profile `json:"profiles"`
}

// Empty returns a zero-value snapshot with non-nil (but empty) slices, so
// serialization always emits "[]" rather than "null".
func Empty() Snapshot {
	return Snapshot{Accounts: []Account{}, Profiles: []Profile{}}
}

// Load reads the snapshot at path. A missing file is not an error: it
// returns an empty snapshot, matching first-run behavior.
func Load(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Empty(), nil
		}
		return Snapshot{}, fmt.Errorf("reading snapshot %s: %w", path, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("parsing snapshot %s: %w", path, err)
	}
	if snap.Accounts == nil {
		snap.Accounts = []Account{}
	}
	if snap.Profiles == nil {
		snap.Profiles = []Profile{}
	}
	return snap, nil
}

// Save serializes the snapshot with sorted keys, pretty-printed, and writes
// it atomically to path with mode 0600. Account and profile order is
// insertion order, not re-sorted; only the keys within each object are.
func Save(path string, snap Snapshot) error {
	// encoding/json sorts map keys but emits struct fields in declaration
	// order, so round-trip through a generic value before indenting.
	compact, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	var generic interface{}
	if err := json.Unmarshal(compact, &generic); err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	data, err := json.MarshalIndent(generic, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	if err := atomicio.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing snapshot %s: %w", path, err)
	}
	return nil
}

// UpsertAccount inserts account if its ID is new, preserving append order,
// or replaces the existing entry with the same ID in place.
func (s *Snapshot) UpsertAccount(account Account) {
	for i, existing := range s.Accounts {
		if existing.ID == account.ID {
			s.Accounts[i] = account
			return
		}
	}
	s.Accounts = append(s.Accounts, account)
}

// FindAccount returns the account with the given ID, if any.
func (s *Snapshot) FindAccount(id string) (Account, bool) {
	for _, a := range s.Accounts {
		if a.ID == id {
			return a, true
		}
	}
	return Account{}, false
}

// UpsertProfile inserts profile if its name is new, preserving append
// order, or replaces claudeAccountId in place while preserving the
// existing foreign-service slots when they are unset on the incoming value.
func (s *Snapshot) UpsertProfile(name string, claudeAccountID *string) {
	for i, existing := range s.Profiles {
		if existing.Name == name {
			existing.ClaudeAccountID = claudeAccountID
			s.Profiles[i] = existing
			return
		}
	}
	s.Profiles = append(s.Profiles, Profile{Name: name, ClaudeAccountID: claudeAccountID})
}

// FindProfile returns the profile with the given name, if any.
func (s *Snapshot) FindProfile(name string) (Profile, bool) {
	for _, p := range s.Profiles {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}

// BumpUpdatedAt sets UpdatedAt on the account with the given ID, if present.
func (s *Snapshot) BumpUpdatedAt(id string, at time.Time) {
	for i := range s.Accounts {
		if s.Accounts[i].ID == id {
			s.Accounts[i].UpdatedAt = at
			return
		}
	}
}

// StringPtr is a small convenience for constructing *string literals inline
// (Go has no address-of-literal operator).
func StringPtr(s string) *string { return &s }
