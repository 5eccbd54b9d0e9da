package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters of new hashes.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 1
	argonKeyLen  = 32
	argonSaltLen = 16
)

// maxArgonMemory bounds the memory cost accepted from a configured hash so
// a hand-edited config cannot make every login allocate gigabytes.
const maxArgonMemory = 1024 * 1024 // KiB

var b64 = base64.RawStdEncoding

type argonParams struct {
	memory  uint32
	time    uint32
	threads uint8
}

// phc is a decoded $argon2id$v=19$m=..,t=..,p=..$salt$hash string.
type phc struct {
	params argonParams
	salt   []byte
	hash   []byte
}

// HashPassword hashes password with Argon2id and returns the PHC string
// that goes into security.*.password_hash. `tfbridge hash-password` prints it.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		b64.EncodeToString(salt), b64.EncodeToString(hash),
	), nil
}

// VerifyPassword reports whether password matches encodedHash. A malformed
// hash is an ErrInvalidHash error rather than a mismatch.
func VerifyPassword(password, encodedHash string) (bool, error) {
	p, err := decodePHC(encodedHash)
	if err != nil {
		return false, err
	}
	keyLen := uint32(len(p.hash)) //nolint:gosec // G115: decoded hash is short
	candidate := argon2.IDKey([]byte(password), p.salt, p.params.time, p.params.memory, p.params.threads, keyLen)
	return subtle.ConstantTimeCompare(p.hash, candidate) == 1, nil
}

// NeedsRehash reports whether encodedHash was made with weaker parameters
// than HashPassword uses today. Malformed hashes need a rehash too.
func NeedsRehash(encodedHash string) bool {
	p, err := decodePHC(encodedHash)
	if err != nil {
		return true
	}
	return p.params.memory < argonMemory ||
		p.params.time < argonTime ||
		len(p.hash) < argonKeyLen ||
		len(p.salt) < argonSaltLen
}

func decodePHC(encoded string) (phc, error) {
	var p phc
	invalid := func(format string, args ...any) (phc, error) {
		return phc{}, fmt.Errorf("%w: "+format, append([]any{ErrInvalidHash}, args...)...)
	}

	// Leading "$" yields an empty first field.
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return invalid("expected 6 fields, got %d", len(parts))
	}
	if parts[1] != "argon2id" {
		return invalid("unsupported algorithm %q", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return invalid("unsupported version %q", parts[2])
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.params.memory, &p.params.time, &p.params.threads); err != nil {
		return invalid("parameters %q", parts[3])
	}
	if p.params.memory == 0 || p.params.memory > maxArgonMemory || p.params.time == 0 || p.params.threads == 0 {
		return invalid("parameters out of range %q", parts[3])
	}

	var err error
	if p.salt, err = b64.DecodeString(parts[4]); err != nil {
		return invalid("salt: %v", err)
	}
	if p.hash, err = b64.DecodeString(parts[5]); err != nil {
		return invalid("hash: %v", err)
	}
	if len(p.hash) == 0 {
		return invalid("empty hash")
	}
	return p, nil
}
