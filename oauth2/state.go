package oauth2

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultStateTTL bounds how long a user may take at the provider's consent screen
const DefaultStateTTL = 10 * time.Minute

var ErrInvalidState = errors.New("invalid oauth state")

// stateClaims travel in the OAuth "state" parameter. Nonce must match the
// nonce cookie set on the browser that started the flow.
type stateClaims struct {
	Nonce       string `json:"nonce"`
	CallbackURL string `json:"cb,omitempty"`
	jwt.RegisteredClaims
}

// StateSigner issues and checks HS256-signed state values
type StateSigner struct {
	Key []byte
	TTL time.Duration
}

// NewStateSigner creates a signer. An empty key is replaced by a random one,
// which only works while a single process serves both legs of the flow.
func NewStateSigner(key []byte) *StateSigner {
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			panic(fmt.Sprintf("oauth2: generating state key: %v", err))
		}
	}
	return &StateSigner{Key: key, TTL: DefaultStateTTL}
}

func (s *StateSigner) ttl() time.Duration {
	if s.TTL <= 0 {
		return DefaultStateTTL
	}
	return s.TTL
}

// Issue returns a signed state bound to nonce
func (s *StateSigner) Issue(nonce, callbackURL string) (string, error) {
	ttl := s.ttl()
	now := time.Now()
	claims := stateClaims{
		Nonce:       nonce,
		CallbackURL: callbackURL,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Key)
}

// Verify checks the signature, expiry and nonce binding of state and returns
// the callback URL recorded when the flow started
func (s *StateSigner) Verify(state, nonce string) (string, error) {
	var claims stateClaims
	_, err := jwt.ParseWithClaims(state, &claims, func(t *jwt.Token) (any, error) {
		return s.Key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if nonce == "" || claims.Nonce != nonce {
		return "", fmt.Errorf("%w: nonce mismatch", ErrInvalidState)
	}
	return claims.CallbackURL, nil
}
