// Package accounts loads the account pool from the directory service and
// keeps the current snapshot.
package accounts

import "time"

// Account is one enrolled identity. Credential is the raw session cookie.
type Account struct {
	ID         int64
	Credential string
}

// Snapshot is an immutable view of the pool. It is safe for concurrent reads.
type Snapshot struct {
	accounts []Account
	byID     map[int64]string
	loadedAt time.Time
}

// NewSnapshot keeps accounts in the given order. A later duplicate ID
// replaces the credential of the earlier one.
func NewSnapshot(accounts []Account, loadedAt time.Time) *Snapshot {
	s := &Snapshot{
		accounts: make([]Account, 0, len(accounts)),
		byID:     make(map[int64]string, len(accounts)),
		loadedAt: loadedAt,
	}
	pos := make(map[int64]int, len(accounts))
	for _, a := range accounts {
		if i, dup := pos[a.ID]; dup {
			s.accounts[i] = a
		} else {
			pos[a.ID] = len(s.accounts)
			s.accounts = append(s.accounts, a)
		}
		s.byID[a.ID] = a.Credential
	}
	return s
}

// Accounts returns the pool in load order. Callers must not modify it.
func (s *Snapshot) Accounts() []Account {
	if s == nil {
		return nil
	}
	return s.accounts
}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.accounts)
}

func (s *Snapshot) Credential(id int64) (string, bool) {
	if s == nil {
		return "", false
	}
	c, ok := s.byID[id]
	return c, ok
}

func (s *Snapshot) LoadedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.loadedAt
}
