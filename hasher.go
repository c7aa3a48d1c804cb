package secrets

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Hash schemes recognised in stored credentials
const (
	SchemeBcrypt   = "bcrypt"
	SchemeArgon2id = "argon2id"
)

// Hasher turns a plaintext secret into a storage-safe form and checks
// candidates against it. Stored forms carry their own salt and work factor,
// so Verify accepts anything produced by any earlier configuration.
//
// Verify never reports why it failed: a malformed stored form is logged and
// treated the same as a wrong password.
type Hasher interface {
	Scheme() string
	Hash(plaintext string) (string, error)
	Verify(plaintext, stored string) bool
	// NeedsRehash is true when stored was produced with weaker parameters
	// than the hasher is currently configured with.
	NeedsRehash(stored string) bool
}

// SchemeOf identifies the scheme of a stored credential, or "" if unknown
func SchemeOf(stored string) string {
	switch {
	case strings.HasPrefix(stored, "$argon2id$"):
		return SchemeArgon2id
	case strings.HasPrefix(stored, "$2a$"), strings.HasPrefix(stored, "$2b$"), strings.HasPrefix(stored, "$2y$"):
		return SchemeBcrypt
	}
	return ""
}

func logMalformedCredential(scheme string, err error) {
	log.Warn().Str("scheme", scheme).Err(err).Msg("malformed stored credential")
}

// =============================================================================
// bcrypt
// =============================================================================

// BcryptHasher hashes with bcrypt. The modular-crypt output embeds cost and salt.
type BcryptHasher struct {
	Cost int
}

func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{Cost: cost}
}

func (h *BcryptHasher) Scheme() string { return SchemeBcrypt }

func (h *BcryptHasher) Hash(plaintext string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.Cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(out), nil
}

func (h *BcryptHasher) Verify(plaintext, stored string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(plaintext))
	if err == nil {
		return true
	}
	if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		logMalformedCredential(SchemeBcrypt, err)
	}
	return false
}

func (h *BcryptHasher) NeedsRehash(stored string) bool {
	cost, err := bcrypt.Cost([]byte(stored))
	if err != nil {
		return true
	}
	return cost < h.Cost
}

// =============================================================================
// argon2id
// =============================================================================

// Upper bounds accepted from a stored form, so a corrupted record cannot ask
// for an unbounded allocation or run time. The constructor clamps to the
// same bounds, so every form it produces stays verifiable.
const (
	maxArgon2MemoryKiB = 1 << 21
	maxArgon2Time      = 64
	maxArgon2Threads   = 16
)

// Argon2idHasher hashes with argon2id and stores the PHC string format:
//
//	$argon2id$v=19$m=65536,t=3,p=2$<salt>$<digest>
type Argon2idHasher struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
	KeyLen    uint32
	SaltLen   uint32
}

// NewArgon2idHasher returns a hasher with the given cost, filling zero values
// with defaults (t=3, m=64MiB, p=2, 32 byte key, 16 byte salt)
func NewArgon2idHasher(time, memoryKiB uint32, threads uint8) *Argon2idHasher {
	h := &Argon2idHasher{Time: time, MemoryKiB: memoryKiB, Threads: threads}
	if h.Time == 0 {
		h.Time = 3
	}
	if h.MemoryKiB == 0 {
		h.MemoryKiB = 64 * 1024
	}
	if h.Threads == 0 {
		h.Threads = 2
	}
	h.Time = min(h.Time, maxArgon2Time)
	h.MemoryKiB = min(h.MemoryKiB, maxArgon2MemoryKiB)
	h.Threads = min(h.Threads, maxArgon2Threads)
	h.KeyLen = 32
	h.SaltLen = 16
	return h
}

func (h *Argon2idHasher) Scheme() string { return SchemeArgon2id }

func (h *Argon2idHasher) Hash(plaintext string) (string, error) {
	salt := make([]byte, h.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(plaintext), salt, h.Time, h.MemoryKiB, h.Threads, h.KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.MemoryKiB, h.Time, h.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

func (h *Argon2idHasher) Verify(plaintext, stored string) bool {
	params, salt, want, err := parseArgon2id(stored)
	if err != nil {
		logMalformedCredential(SchemeArgon2id, err)
		return false
	}
	got := argon2.IDKey([]byte(plaintext), salt, params.Time, params.MemoryKiB, params.Threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

func (h *Argon2idHasher) NeedsRehash(stored string) bool {
	params, _, key, err := parseArgon2id(stored)
	if err != nil {
		return true
	}
	return params.Time < h.Time || params.MemoryKiB < h.MemoryKiB || params.Threads < h.Threads || uint32(len(key)) < h.KeyLen
}

func parseArgon2id(stored string) (params Argon2idHasher, salt, key []byte, err error) {
	parts := strings.Split(stored, "$")
	if len(parts) != 6 || parts[1] != SchemeArgon2id {
		return params, nil, nil, fmt.Errorf("argon2id: expected 6 fields, got %d", len(parts))
	}
	var version int
	if _, err = fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return params, nil, nil, fmt.Errorf("argon2id: bad version: %w", err)
	}
	if version != argon2.Version {
		return params, nil, nil, fmt.Errorf("argon2id: unsupported version %d", version)
	}
	var threads uint32
	if _, err = fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.MemoryKiB, &params.Time, &threads); err != nil {
		return params, nil, nil, fmt.Errorf("argon2id: bad parameters: %w", err)
	}
	if params.Time == 0 || params.Time > maxArgon2Time ||
		params.MemoryKiB == 0 || params.MemoryKiB > maxArgon2MemoryKiB ||
		threads == 0 || threads > maxArgon2Threads {
		return params, nil, nil, fmt.Errorf("argon2id: parameters out of range")
	}
	params.Threads = uint8(threads)
	if salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil || len(salt) == 0 {
		return params, nil, nil, fmt.Errorf("argon2id: bad salt")
	}
	if key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(key) == 0 || len(key) > 1024 {
		return params, nil, nil, fmt.Errorf("argon2id: bad digest")
	}
	return params, salt, key, nil
}

// =============================================================================
// Upgrades
// =============================================================================

// UpgradingHasher hashes with Primary and verifies stored forms of any scheme
// it knows about. Credentials of another scheme, or of the primary scheme at a
// lower cost, report NeedsRehash so they can be replaced on the next login.
type UpgradingHasher struct {
	Primary Hasher
	byName  map[string]Hasher
}

func NewUpgradingHasher(primary Hasher, legacy ...Hasher) *UpgradingHasher {
	out := &UpgradingHasher{Primary: primary, byName: map[string]Hasher{}}
	for _, h := range legacy {
		out.byName[h.Scheme()] = h
	}
	out.byName[primary.Scheme()] = primary
	return out
}

func (u *UpgradingHasher) Scheme() string { return u.Primary.Scheme() }

func (u *UpgradingHasher) Hash(plaintext string) (string, error) {
	return u.Primary.Hash(plaintext)
}

func (u *UpgradingHasher) Verify(plaintext, stored string) bool {
	h, ok := u.byName[SchemeOf(stored)]
	if !ok {
		logMalformedCredential(SchemeOf(stored), fmt.Errorf("unrecognised credential scheme"))
		return false
	}
	return h.Verify(plaintext, stored)
}

func (u *UpgradingHasher) NeedsRehash(stored string) bool {
	if SchemeOf(stored) != u.Primary.Scheme() {
		return true
	}
	return u.Primary.NeedsRehash(stored)
}
