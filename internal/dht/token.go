package dht

import (
	"crypto/rand"
	"crypto/sha1"
	"sync"
)

const (
	saltSize     = 128
	saltRingSize = 10
)

// TokenMinter issues and validates get_peers/announce_peer tokens from
// an ordered, time-rotating ring of salts (most-recent first). A token
// for an endpoint E is SHA-1(utf8(str(E)) || salt) for any salt
// currently in the ring.
type TokenMinter struct {
	mu    sync.RWMutex
	salts [][]byte
}

// NewTokenMinter returns a minter seeded with one salt, ready to issue
// tokens immediately.
func NewTokenMinter() *TokenMinter {
	tm := &TokenMinter{}
	tm.Rotate()
	return tm
}

// Rotate prepends a freshly generated salt and trims the ring to
// saltRingSize.
func (tm *TokenMinter) Rotate() {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		panic("dht: crypto/rand failure: " + err.Error())
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	tm.salts = append([][]byte{salt}, tm.salts...)
	if len(tm.salts) > saltRingSize {
		tm.salts = tm.salts[:saltRingSize]
	}
}

// Issue returns the token for endpoint under the current (newest) salt.
func (tm *TokenMinter) Issue(ep Endpoint) []byte {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	return tokenFor(ep, tm.salts[0])
}

// Validate reports whether token was issued for ep under any salt
// currently held in the ring.
func (tm *TokenMinter) Validate(ep Endpoint, token []byte) bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	for _, salt := range tm.salts {
		if string(tokenFor(ep, salt)) == string(token) {
			return true
		}
	}
	return false
}

func tokenFor(ep Endpoint, salt []byte) []byte {
	h := sha1.New()
	h.Write([]byte(ep.String()))
	h.Write(salt)
	return h.Sum(nil)
}
