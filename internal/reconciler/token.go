package reconciler

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	scanTokenPrefix = "tk_"
	scanTokenBytes  = 24
	// ScanTokenPrefixLen is how many leading characters of the token are
	// stored in clear for support lookups.
	ScanTokenPrefixLen = 10
)

// ScanToken is a freshly minted check-in token. Plaintext never leaves the
// approving request except through the confirmation email.
type ScanToken struct {
	Plaintext string
	Prefix    string
	Hash      []byte
}

// TokenMinter creates scan tokens hashed with bcrypt at Cost.
type TokenMinter struct {
	Cost int
}

// NewTokenMinter returns a minter using bcrypt.DefaultCost when cost is zero.
func NewTokenMinter(cost int) *TokenMinter {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &TokenMinter{Cost: cost}
}

// Mint returns a new random token with its bcrypt hash.
func (m *TokenMinter) Mint() (ScanToken, error) {
	b := make([]byte, scanTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return ScanToken{}, fmt.Errorf("read random: %w", err)
	}
	plain := scanTokenPrefix + base64.RawURLEncoding.EncodeToString(b)

	hash, err := bcrypt.GenerateFromPassword([]byte(plain), m.Cost)
	if err != nil {
		return ScanToken{}, fmt.Errorf("hash scan token: %w", err)
	}
	return ScanToken{
		Plaintext: plain,
		Prefix:    plain[:ScanTokenPrefixLen],
		Hash:      hash,
	}, nil
}

// CompareScanToken reports whether token matches the stored hash.
func CompareScanToken(hash []byte, token string) bool {
	if len(hash) == 0 || token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(token)) == nil
}
