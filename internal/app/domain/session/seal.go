package session

import (
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

var errSealedTooShort = errors.New("sealed session snapshot is truncated")

// Sealer encrypts the on-disk session snapshot with a key derived from a
// configured secret.
type Sealer struct {
	key [32]byte
}

// NewSealer derives a secretbox key from secret with HKDF-SHA256.
func NewSealer(secret string) (*Sealer, error) {
	if secret == "" {
		return nil, errors.New("session secret is empty")
	}
	r := hkdf.New(sha256.New, []byte(secret), []byte("clinic-admin-session-salt"), []byte("session-snapshot"))
	s := &Sealer{}
	if _, err := io.ReadFull(r, s.key[:]); err != nil {
		return nil, errors.Wrap(err, "derive session key")
	}
	return s, nil
}

// Seal returns nonce || box.
func (s *Sealer) Seal(plain []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, errors.Wrap(err, "read nonce")
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &s.key), nil
}

func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, errSealedTooShort
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, errors.New("session snapshot failed authentication")
	}
	return plain, nil
}
