package auth

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// dummyHash is verified when the username is unknown, so a failed login
// takes the same time whether or not the account exists.
var (
	dummyHash     string
	dummyHashOnce sync.Once
)

// Authenticator checks credentials of configured accounts and issues
// access tokens.
type Authenticator struct {
	secret   string
	ttl      time.Duration
	accounts map[string]Account
}

// NewAuthenticator builds an authenticator over accounts. Every account
// needs a valid username, role and password hash.
func NewAuthenticator(secret string, ttl time.Duration, accounts ...Account) (*Authenticator, error) {
	a := &Authenticator{
		secret:   secret,
		ttl:      ttl,
		accounts: make(map[string]Account, len(accounts)),
	}
	for _, acc := range accounts {
		if !IsValidUsername(acc.Username) {
			return nil, fmt.Errorf("%w: username %q", ErrInvalidAccount, acc.Username)
		}
		if !IsValidRole(acc.Role) {
			return nil, fmt.Errorf("%w: %s has role %q", ErrInvalidAccount, acc.Username, acc.Role)
		}
		if _, err := decodePHC(acc.PasswordHash); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidAccount, acc.Username, err)
		}
		if _, dup := a.accounts[acc.Username]; dup {
			return nil, fmt.Errorf("%w: duplicate username %q", ErrInvalidAccount, acc.Username)
		}
		a.accounts[acc.Username] = acc
	}
	return a, nil
}

// Login verifies a username and password and returns a signed access
// token with its expiry. Unknown users and wrong passwords both return
// ErrInvalidCredentials.
func (a *Authenticator) Login(username, password string) (string, time.Time, error) {
	acc, ok := a.accounts[username]
	if !ok {
		dummyHashOnce.Do(func() {
			dummyHash, _ = HashPassword("tfbridge-dummy")
		})
		VerifyPassword(password, dummyHash) //nolint:errcheck // timing equalisation only
		return "", time.Time{}, ErrInvalidCredentials
	}

	match, err := VerifyPassword(password, acc.PasswordHash)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("verifying password of %s: %w", username, err)
	}
	if !match {
		return "", time.Time{}, ErrInvalidCredentials
	}
	return GenerateAccessToken(acc, a.secret, a.ttl)
}

// Verify parses an access token issued by this authenticator.
func (a *Authenticator) Verify(token string) (*Claims, error) {
	return ParseToken(token, a.secret)
}

// WeakHashes lists accounts whose password hash predates the current
// Argon2id parameters, sorted by username.
func (a *Authenticator) WeakHashes() []string {
	var weak []string
	for name, acc := range a.accounts {
		if NeedsRehash(acc.PasswordHash) {
			weak = append(weak, name)
		}
	}
	sort.Strings(weak)
	return weak
}

// TTL returns the lifetime of issued tokens.
func (a *Authenticator) TTL() time.Duration {
	if a.ttl <= 0 {
		return defaultTokenTTL
	}
	return a.ttl
}
