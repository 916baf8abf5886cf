package transcription

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

const fingerprintContext = "appetiteclub kds 2026 transcription audio fingerprint"

// Fingerprinter derives cache keys from audio content with a keyed
// BLAKE3 hash, so fingerprints from different deployments never collide.
type Fingerprinter struct {
	key [32]byte
}

// NewFingerprinter derives the hashing key from secret. An empty secret
// still yields a stable key.
func NewFingerprinter(secret string) *Fingerprinter {
	f := &Fingerprinter{}
	blake3.DeriveKey(fingerprintContext, []byte(secret), f.key[:])
	return f
}

func (f *Fingerprinter) Fingerprint(audio []byte) (string, error) {
	hasher, err := blake3.NewKeyed(f.key[:])
	if err != nil {
		return "", fmt.Errorf("cannot create audio hasher: %w", err)
	}
	if _, err := hasher.Write(audio); err != nil {
		return "", fmt.Errorf("cannot hash audio: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
