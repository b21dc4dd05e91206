package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
)

// Hash formats accepted for operator keys.
const (
	HashTypeArgon2id = "argon2id"
	HashTypeSHA256   = "sha256"
	HashTypeUnknown  = "unknown"

	sha256Prefix = "sha256:"
)

var (
	// ErrInvalidOperatorKey is returned when a presented key matches no
	// configured operator key.
	ErrInvalidOperatorKey = errors.New("invalid operator key")
	// ErrUnknownHashType is returned when a stored hash has an unrecognized format.
	ErrUnknownHashType = errors.New("unknown hash type")
)

// OperatorKey is a configured credential for the gate's operator endpoints.
// Only the hash is ever held in memory.
type OperatorKey struct {
	// Name identifies the key in logs.
	Name string
	// Hash is "sha256:<hex>", bare 64-char hex, or an argon2id PHC string.
	Hash string
}

// KeyStore lists the configured operator keys.
type KeyStore interface {
	ListOperatorKeys(ctx context.Context) ([]OperatorKey, error)
}

// OperatorKeyService checks presented bearer keys against the key store.
type OperatorKeyService struct {
	store KeyStore
}

// NewOperatorKeyService creates an OperatorKeyService backed by store.
func NewOperatorKeyService(store KeyStore) *OperatorKeyService {
	return &OperatorKeyService{store: store}
}

// Enabled reports whether any operator key is configured.
func (s *OperatorKeyService) Enabled(ctx context.Context) bool {
	if s == nil || s.store == nil {
		return false
	}
	keys, err := s.store.ListOperatorKeys(ctx)
	return err == nil && len(keys) > 0
}

// Validate returns the operator key matching rawKey.
// Every candidate is checked so the response time does not depend on which
// key matched.
func (s *OperatorKeyService) Validate(ctx context.Context, rawKey string) (*OperatorKey, error) {
	if rawKey == "" {
		return nil, ErrInvalidOperatorKey
	}
	keys, err := s.store.ListOperatorKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list operator keys: %w", err)
	}

	var found *OperatorKey
	for i := range keys {
		match, verifyErr := VerifyKey(rawKey, keys[i].Hash)
		if verifyErr != nil {
			continue
		}
		if match && found == nil {
			found = &keys[i]
		}
	}
	if found == nil {
		return nil, ErrInvalidOperatorKey
	}
	return found, nil
}

// HashKey returns the SHA-256 hex hash of rawKey.
func HashKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// argon2idParams follows the OWASP minimums (46 MiB, t=1, p=1).
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashKeyArgon2id returns an argon2id PHC hash of rawKey with a random salt.
func HashKeyArgon2id(rawKey string) (string, error) {
	return argon2id.CreateHash(rawKey, argon2idParams)
}

// DetectHashType identifies the algorithm of a stored hash.
func DetectHashType(storedHash string) string {
	switch {
	case strings.HasPrefix(storedHash, "$argon2id$"):
		return HashTypeArgon2id
	case strings.HasPrefix(storedHash, sha256Prefix):
		return HashTypeSHA256
	case len(storedHash) == 64 && isHexString(storedHash):
		return HashTypeSHA256
	default:
		return HashTypeUnknown
	}
}

func isHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// VerifyKey reports whether rawKey matches storedHash.
// Returns ErrUnknownHashType for unrecognized formats.
func VerifyKey(rawKey, storedHash string) (bool, error) {
	switch DetectHashType(storedHash) {
	case HashTypeArgon2id:
		return safeArgon2idCompare(rawKey, storedHash)
	case HashTypeSHA256:
		expected := strings.ToLower(strings.TrimPrefix(storedHash, sha256Prefix))
		computed := HashKey(rawKey)
		return subtle.ConstantTimeCompare([]byte(computed), []byte(expected)) == 1, nil
	default:
		return false, ErrUnknownHashType
	}
}

// safeArgon2idCompare converts panics from malformed argon2id parameters
// (t=0, p=0) into errors.
func safeArgon2idCompare(rawKey, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(rawKey, storedHash)
}
