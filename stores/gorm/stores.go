//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	sp "github.com/sofigonzalez2012/secrets-project"
)

// AutoMigrate runs database migrations for the account and session tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&AccountModel{},
		&ExternalIdentityModel{},
		&SessionModel{},
	)
}

// isDuplicate reports whether err is a unique constraint violation
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key") || strings.Contains(msg, "duplicate entry")
}

// =============================================================================
// AccountStore
// =============================================================================

// AccountStore implements sp.AccountStore using GORM
type AccountStore struct {
	db *gorm.DB
}

func NewAccountStore(db *gorm.DB) *AccountStore {
	return &AccountStore{db: db}
}

func (s *AccountStore) load(tx *gorm.DB, query string, args ...any) (*sp.Account, error) {
	var model AccountModel
	err := tx.Preload("ExternalIdentities").First(&model, append([]any{query}, args...)...).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, sp.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return model.ToAccount(), nil
}

func (s *AccountStore) GetAccount(ctx context.Context, accountID string) (*sp.Account, error) {
	return s.load(s.db.WithContext(ctx), "id = ?", accountID)
}

func (s *AccountStore) FindByLocalUsername(ctx context.Context, name string) (*sp.Account, error) {
	return s.load(s.db.WithContext(ctx), "username = ?", name)
}

func (s *AccountStore) FindByExternalIdentity(ctx context.Context, provider sp.Provider, subjectID string) (*sp.Account, error) {
	return s.findByExternal(s.db.WithContext(ctx), provider, subjectID)
}

func (s *AccountStore) findByExternal(tx *gorm.DB, provider sp.Provider, subjectID string) (*sp.Account, error) {
	var ext ExternalIdentityModel
	err := tx.First(&ext, "provider = ? AND subject_id = ?", string(provider), subjectID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, sp.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.load(tx, "id = ?", ext.AccountID)
}

// FindOrCreateByExternalIdentity inserts the account and its identity row in
// one transaction. If the identity insert loses a race the transaction rolls
// back and the winner's account is read instead.
func (s *AccountStore) FindOrCreateByExternalIdentity(ctx context.Context, provider sp.Provider, subjectID string, hints map[string]any) (*sp.Account, bool, error) {
	db := s.db.WithContext(ctx)
	acct, err := s.findByExternal(db, provider, subjectID)
	if err == nil {
		return acct, false, nil
	}
	if !errors.Is(err, sp.ErrAccountNotFound) {
		return nil, false, err
	}

	model := &AccountModel{
		ID:      uuid.NewString(),
		Profile: JSONMap(maps.Clone(hints)),
		Version: 1,
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		return tx.Create(&ExternalIdentityModel{
			Provider:  string(provider),
			SubjectID: subjectID,
			AccountID: model.ID,
		}).Error
	})
	if err == nil {
		model.ExternalIdentities = []ExternalIdentityModel{{Provider: string(provider), SubjectID: subjectID, AccountID: model.ID}}
		return model.ToAccount(), true, nil
	}
	if !isDuplicate(err) {
		return nil, false, err
	}
	acct, err = s.findByExternal(db, provider, subjectID)
	if err != nil {
		return nil, false, err
	}
	return acct, false, nil
}

func (s *AccountStore) CreateLocalAccount(ctx context.Context, name string, storedCredential string) (*sp.Account, error) {
	model := &AccountModel{
		ID:         uuid.NewString(),
		Username:   &name,
		Credential: storedCredential,
		Version:    1,
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicate(err) {
			return nil, sp.ErrDuplicateIdentity
		}
		return nil, err
	}
	return model.ToAccount(), nil
}

func (s *AccountStore) UpdateCredential(ctx context.Context, accountID string, storedCredential string) error {
	return s.updateAccount(s.db.WithContext(ctx), accountID, map[string]any{"credential": storedCredential})
}

func (s *AccountStore) SetLocalCredential(ctx context.Context, accountID string, name string, storedCredential string) error {
	err := s.updateAccount(s.db.WithContext(ctx), accountID, map[string]any{"username": name, "credential": storedCredential})
	if err != nil && isDuplicate(err) {
		return sp.ErrDuplicateIdentity
	}
	return err
}

func (s *AccountStore) LinkExternalIdentity(ctx context.Context, accountID string, provider sp.Provider, subjectID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&AccountModel{}).Where("id = ?", accountID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return sp.ErrAccountNotFound
		}

		var existing ExternalIdentityModel
		err := tx.First(&existing, "provider = ? AND subject_id = ?", string(provider), subjectID).Error
		if err == nil {
			if existing.AccountID != accountID {
				return sp.ErrIdentityAlreadyLinked
			}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		// replace any subject this account already holds for the provider
		if err := tx.Where("account_id = ? AND provider = ?", accountID, string(provider)).Delete(&ExternalIdentityModel{}).Error; err != nil {
			return err
		}
		err = tx.Create(&ExternalIdentityModel{Provider: string(provider), SubjectID: subjectID, AccountID: accountID}).Error
		if err != nil {
			if isDuplicate(err) {
				return sp.ErrIdentityAlreadyLinked
			}
			return err
		}
		return tx.Model(&AccountModel{}).Where("id = ?", accountID).
			Updates(map[string]any{"version": gorm.Expr("version + 1"), "updated_at": time.Now()}).Error
	})
}

func (s *AccountStore) UpdateProfileSecret(ctx context.Context, accountID string, text string) error {
	return s.updateAccount(s.db.WithContext(ctx), accountID, map[string]any{"profile_secret": text})
}

func (s *AccountStore) ListProfileSecrets(ctx context.Context) ([]string, error) {
	secrets := []string{}
	err := s.db.WithContext(ctx).Model(&AccountModel{}).
		Where("profile_secret IS NOT NULL").
		Order("updated_at").
		Pluck("profile_secret", &secrets).Error
	if err != nil {
		return nil, err
	}
	return secrets, nil
}

func (s *AccountStore) updateAccount(tx *gorm.DB, accountID string, fields map[string]any) error {
	fields["version"] = gorm.Expr("version + 1")
	fields["updated_at"] = time.Now()
	result := tx.Model(&AccountModel{}).Where("id = ?", accountID).Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return sp.ErrAccountNotFound
	}
	return nil
}

// =============================================================================
// SessionStore
// =============================================================================

// SessionStore implements sp.SessionStore using GORM
type SessionStore struct {
	db *gorm.DB
}

func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) SaveSession(ctx context.Context, session *sp.Session) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(SessionToModel(session)).Error
}

func (s *SessionStore) GetSession(ctx context.Context, token string) (*sp.Session, error) {
	var model SessionModel
	err := s.db.WithContext(ctx).First(&model, "token = ?", token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, sp.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return model.ToSession(), nil
}

// TouchSession updates the expiry in place. A session deleted in the meantime
// matches no row and stays deleted.
func (s *SessionStore) TouchSession(ctx context.Context, token string, expiresAt time.Time) error {
	result := s.db.WithContext(ctx).Model(&SessionModel{}).Where("token = ?", token).Update("expires_at", expiresAt)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return sp.ErrSessionNotFound
	}
	return nil
}

func (s *SessionStore) DeleteSession(ctx context.Context, token string) error {
	return s.db.WithContext(ctx).Where("token = ?", token).Delete(&SessionModel{}).Error
}

// DeleteExpiredSessions removes sessions that expired before now
func (s *SessionStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&SessionModel{})
	return result.RowsAffected, result.Error
}
