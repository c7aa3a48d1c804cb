//go:build !wasm
// +build !wasm

package gorm

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	sp "github.com/sofigonzalez2012/secrets-project"
)

// JSONMap is a helper type for storing JSON maps in GORM
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	}
	return nil
}

// AccountModel is the GORM model for accounts. Username is nil for accounts
// that only log in through a provider, so the unique index ignores them.
type AccountModel struct {
	ID            string  `gorm:"primaryKey;size:64"`
	Username      *string `gorm:"size:64;uniqueIndex"`
	Credential    string  `gorm:"size:255"`
	ProfileSecret *string `gorm:"type:text"`
	Profile       JSONMap `gorm:"type:jsonb"`
	Version       int     `gorm:"default:1"`
	CreatedAt     time.Time
	UpdatedAt     time.Time

	ExternalIdentities []ExternalIdentityModel `gorm:"foreignKey:AccountID"`
}

func (AccountModel) TableName() string {
	return "accounts"
}

func (m *AccountModel) ToAccount() *sp.Account {
	acct := &sp.Account{
		ID:         m.ID,
		Credential: m.Credential,
		Profile:    m.Profile,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
		Version:    m.Version,
	}
	if m.Username != nil {
		acct.Username = *m.Username
	}
	if m.ProfileSecret != nil {
		secret := *m.ProfileSecret
		acct.ProfileSecret = &secret
	}
	if len(m.ExternalIdentities) > 0 {
		acct.ExternalIdentities = make(map[sp.Provider]string, len(m.ExternalIdentities))
		for _, ext := range m.ExternalIdentities {
			acct.ExternalIdentities[sp.Provider(ext.Provider)] = ext.SubjectID
		}
	}
	return acct
}

// ExternalIdentityModel is the GORM model for provider identities. The
// primary key is the uniqueness constraint behind find-or-create; an account
// holds at most one subject per provider.
type ExternalIdentityModel struct {
	Provider  string    `gorm:"primaryKey;size:32;uniqueIndex:idx_account_provider,priority:2"`
	SubjectID string    `gorm:"primaryKey;size:255"`
	AccountID string    `gorm:"size:64;not null;uniqueIndex:idx_account_provider,priority:1"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (ExternalIdentityModel) TableName() string {
	return "external_identities"
}

// SessionModel is the GORM model for sessions
type SessionModel struct {
	Token     string    `gorm:"primaryKey;size:128"`
	AccountID string    `gorm:"size:64;index"`
	CreatedAt time.Time
	ExpiresAt time.Time `gorm:"index"`
}

func (SessionModel) TableName() string {
	return "sessions"
}

func (m *SessionModel) ToSession() *sp.Session {
	return &sp.Session{
		Token:     m.Token,
		AccountID: m.AccountID,
		CreatedAt: m.CreatedAt,
		ExpiresAt: m.ExpiresAt,
	}
}

func SessionToModel(s *sp.Session) *SessionModel {
	return &SessionModel{
		Token:     s.Token,
		AccountID: s.AccountID,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
	}
}
