package hls

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
)

// KeyRotator generates and persists key material for both container
// profiles and tracks the fragment count since the last rotation so the
// controller can enforce hls_fragments_per_key.
type KeyRotator struct {
	fragmentsPerKey  int
	fragmentsSoFar   int
	keyFilePath      string // directory .key files are written under
	keyFileTemplate  string // filename template, e.g. "[seq].key"
	constantIVLength int    // 8 or 16, for fMP4 CBCS
}

// NewKeyRotator builds a rotator. fragmentsPerKey <= 0 means "never rotate
// after the first key". constantIVLength must be 8 or 16; 16 is assumed if
// an invalid value is given.
func NewKeyRotator(fragmentsPerKey int, keyFilePath, keyFileTemplate string, constantIVLength int) *KeyRotator {
	if constantIVLength != 8 && constantIVLength != 16 {
		constantIVLength = 16
	}
	return &KeyRotator{
		fragmentsPerKey:  fragmentsPerKey,
		keyFilePath:      keyFilePath,
		keyFileTemplate:  keyFileTemplate,
		constantIVLength: constantIVLength,
	}
}

// ShouldRotate reports whether a new key must be generated before the next
// segment is opened: true on the very first call, then every
// fragmentsPerKey segments.
func (r *KeyRotator) ShouldRotate() bool {
	if r.fragmentsPerKey <= 0 {
		return r.fragmentsSoFar == 0
	}
	return r.fragmentsSoFar%r.fragmentsPerKey == 0
}

// Advance records that one more fragment has been produced under the
// current key.
func (r *KeyRotator) Advance() {
	r.fragmentsSoFar++
}

// NewTSKey generates fresh AES-128-CBC key/IV material for a TS segment.
func NewTSKey() (*TSKey, error) {
	k := &TSKey{}
	if _, err := rand.Read(k.Key16[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoRng, err)
	}
	if _, err := rand.Read(k.IV16[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoRng, err)
	}
	return k, nil
}

// NewFMP4Key generates fresh SAMPLE-AES (CBCS) key material: a random key
// id, a random constant IV of the requested length, and a per-segment IV.
func NewFMP4Key(constantIVLength int) (*FMP4Key, error) {
	if constantIVLength != 8 && constantIVLength != 16 {
		constantIVLength = 16
	}
	k := &FMP4Key{ConstantIV: make([]byte, constantIVLength)}
	if _, err := rand.Read(k.Kid16[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoRng, err)
	}
	if _, err := rand.Read(k.ConstantIV); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoRng, err)
	}
	if _, err := rand.Read(k.IV16[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoRng, err)
	}
	return k, nil
}

// WriteKeyFile persists raw key bytes (the TS AES-128 key, or the fMP4
// content key) to a .key file under keyFilePath, following the write-temp,
// rename pattern used for segments and playlists.
func (r *KeyRotator) WriteKeyFile(name string, key []byte) (string, error) {
	if err := os.MkdirAll(r.keyFilePath, 0o755); err != nil {
		return "", fmt.Errorf("%w: mkdir key path: %v", ErrIoTransient, err)
	}
	final := filepath.Join(r.keyFilePath, name)
	tmp := final + ".temp"
	if err := os.WriteFile(tmp, key, 0o644); err != nil {
		return "", fmt.Errorf("%w: write key file: %v", ErrIoTransient, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return "", fmt.Errorf("%w: rename key file: %v", ErrIoTransient, err)
	}
	return final, nil
}
