//go:build !wasm
// +build !wasm

package gae

import (
	"encoding/json"
	"time"

	"cloud.google.com/go/datastore"

	sp "github.com/sofigonzalez2012/secrets-project"
)

// AccountEntity is the Datastore entity for accounts
type AccountEntity struct {
	Key                *datastore.Key `datastore:"__key__"`
	Username           string         `datastore:"username"`
	Credential         string         `datastore:"credential,noindex"`
	ExternalIdentities []byte         `datastore:"external_identities,noindex"` // JSON encoded
	HasSecret          bool           `datastore:"has_secret"`
	ProfileSecret      string         `datastore:"profile_secret,noindex"`
	Profile            []byte         `datastore:"profile,noindex"` // JSON encoded
	CreatedAt          time.Time      `datastore:"created_at"`
	UpdatedAt          time.Time      `datastore:"updated_at"`
	Version            int            `datastore:"version"`
}

func (e *AccountEntity) ToAccount() *sp.Account {
	acct := &sp.Account{
		Username:   e.Username,
		Credential: e.Credential,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
		Version:    e.Version,
	}
	if e.Key != nil {
		acct.ID = e.Key.Name
	}
	if e.HasSecret {
		secret := e.ProfileSecret
		acct.ProfileSecret = &secret
	}
	if len(e.ExternalIdentities) > 0 {
		json.Unmarshal(e.ExternalIdentities, &acct.ExternalIdentities)
	}
	if len(e.Profile) > 0 {
		json.Unmarshal(e.Profile, &acct.Profile)
	}
	return acct
}

func AccountToEntity(a *sp.Account, key *datastore.Key) *AccountEntity {
	e := &AccountEntity{
		Key:        key,
		Username:   a.Username,
		Credential: a.Credential,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
		Version:    a.Version,
	}
	if a.ProfileSecret != nil {
		e.HasSecret = true
		e.ProfileSecret = *a.ProfileSecret
	}
	if len(a.ExternalIdentities) > 0 {
		e.ExternalIdentities, _ = json.Marshal(a.ExternalIdentities)
	}
	if a.Profile != nil {
		e.Profile, _ = json.Marshal(a.Profile)
	}
	return e
}

// IndexEntity maps a username or provider identity to the account holding it
type IndexEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	AccountID string         `datastore:"account_id"`
	CreatedAt time.Time      `datastore:"created_at"`
}

// SessionEntity is the Datastore entity for sessions
type SessionEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	AccountID string         `datastore:"account_id"`
	CreatedAt time.Time      `datastore:"created_at"`
	ExpiresAt time.Time      `datastore:"expires_at"`
}

func (e *SessionEntity) ToSession() *sp.Session {
	s := &sp.Session{
		AccountID: e.AccountID,
		CreatedAt: e.CreatedAt,
		ExpiresAt: e.ExpiresAt,
	}
	if e.Key != nil {
		s.Token = e.Key.Name
	}
	return s
}
