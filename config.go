package secrets

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Config collects the tunables of an Authenticator. Zero values are replaced
// by EnsureDefaults.
type Config struct {
	// Session lifetime
	SessionTTL         time.Duration
	SessionSliding     bool
	SessionMaxLifetime time.Duration

	// Credential hashing. HashScheme is "argon2id" (default) or "bcrypt"; the
	// other scheme is still accepted when verifying.
	HashScheme     string
	BcryptCost     int
	Argon2Time     uint32
	Argon2MemoryKB uint32
	Argon2Threads  uint8
	HashWorkers    int

	// StoreTimeout bounds each strategy run (store calls included)
	StoreTimeout time.Duration

	// LoginURL is where the access gate sends unauthenticated callers. Empty means 401
	LoginURL string

	MinPasswordLength int
	UsernamePattern   string
}

// DefaultConfig returns a configuration with every default applied
func DefaultConfig() Config {
	c := Config{SessionSliding: true}
	c.EnsureDefaults()
	return c
}

// EnsureDefaults fills unset fields
func (c *Config) EnsureDefaults() *Config {
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.SessionMaxLifetime <= 0 {
		c.SessionMaxLifetime = DefaultSessionMaxLifetime
	}
	if c.HashScheme == "" {
		c.HashScheme = SchemeArgon2id
	}
	if c.BcryptCost <= 0 {
		c.BcryptCost = 12
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 5 * time.Second
	}
	if c.MinPasswordLength <= 0 {
		c.MinPasswordLength = 6
	}
	return c
}

// ConfigFromEnv reads SECRETS_* environment variables on top of the defaults
func ConfigFromEnv() (Config, error) {
	c := Config{SessionSliding: true}
	var err error
	env := func(name string) string { return strings.TrimSpace(os.Getenv("SECRETS_" + name)) }

	if v := env("SESSION_TTL"); v != "" {
		if c.SessionTTL, err = time.ParseDuration(v); err != nil {
			return c, fmt.Errorf("SECRETS_SESSION_TTL: %w", err)
		}
	}
	if v := env("SESSION_SLIDING"); v != "" {
		if c.SessionSliding, err = strconv.ParseBool(v); err != nil {
			return c, fmt.Errorf("SECRETS_SESSION_SLIDING: %w", err)
		}
	}
	if v := env("SESSION_MAX_LIFETIME"); v != "" {
		if c.SessionMaxLifetime, err = time.ParseDuration(v); err != nil {
			return c, fmt.Errorf("SECRETS_SESSION_MAX_LIFETIME: %w", err)
		}
	}
	c.HashScheme = env("HASH_SCHEME")
	if v := env("BCRYPT_COST"); v != "" {
		if c.BcryptCost, err = strconv.Atoi(v); err != nil {
			return c, fmt.Errorf("SECRETS_BCRYPT_COST: %w", err)
		}
	}
	if v := env("HASH_WORKERS"); v != "" {
		if c.HashWorkers, err = strconv.Atoi(v); err != nil {
			return c, fmt.Errorf("SECRETS_HASH_WORKERS: %w", err)
		}
	}
	if v := env("STORE_TIMEOUT"); v != "" {
		if c.StoreTimeout, err = time.ParseDuration(v); err != nil {
			return c, fmt.Errorf("SECRETS_STORE_TIMEOUT: %w", err)
		}
	}
	c.LoginURL = env("LOGIN_URL")
	c.EnsureDefaults()
	return c, nil
}

// Hasher builds the configured hasher. The primary scheme hashes; both
// schemes verify so credentials survive a change of HashScheme.
func (c Config) Hasher() (Hasher, error) {
	bcryptHasher := NewBcryptHasher(c.BcryptCost)
	argonHasher := NewArgon2idHasher(c.Argon2Time, c.Argon2MemoryKB, c.Argon2Threads)
	switch c.HashScheme {
	case SchemeArgon2id, "":
		return NewUpgradingHasher(argonHasher, bcryptHasher), nil
	case SchemeBcrypt:
		return NewUpgradingHasher(bcryptHasher, argonHasher), nil
	}
	return nil, fmt.Errorf("unknown hash scheme %q", c.HashScheme)
}

// RegistrationPolicy builds the policy for new local credentials
func (c Config) RegistrationPolicy() (RegistrationPolicy, error) {
	policy := DefaultRegistrationPolicy()
	if c.MinPasswordLength > 0 {
		policy.MinPasswordLength = c.MinPasswordLength
	}
	if c.UsernamePattern != "" {
		re, err := regexp.Compile(c.UsernamePattern)
		if err != nil {
			return policy, fmt.Errorf("invalid username pattern: %w", err)
		}
		policy.UsernamePattern = re
	}
	return policy, nil
}

// SessionPolicy builds the session policy
func (c Config) SessionPolicy() SessionPolicy {
	return SessionPolicy{TTL: c.SessionTTL, Sliding: c.SessionSliding, MaxLifetime: c.SessionMaxLifetime}
}
