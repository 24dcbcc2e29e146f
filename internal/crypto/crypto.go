// Package crypto is the engine's opaque encryption capability: event content
// is sealed with a per-event symmetric session key, and the session key is
// wrapped per recipient with the calendar's public key. The rest of the
// engine treats ciphertext as an uninterpreted blob.
package crypto

import (
	crand "crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

var errDecrypt = errors.New("crypto: decryption failed")

// Keyring holds the calendar's asymmetric keypair.
type Keyring struct {
	publicKey  *[keySize]byte
	privateKey *[keySize]byte
}

// GenerateKeyring creates a fresh calendar keypair.
func GenerateKeyring() (*Keyring, error) {
	pub, priv, err := box.GenerateKey(crand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Keyring{publicKey: pub, privateKey: priv}, nil
}

// KeyringFromBytes restores a keyring from persisted key material.
func KeyringFromBytes(pub, priv []byte) (*Keyring, error) {
	if len(pub) != keySize || len(priv) != keySize {
		return nil, fmt.Errorf("crypto: bad key length pub=%d priv=%d", len(pub), len(priv))
	}
	k := &Keyring{publicKey: new([keySize]byte), privateKey: new([keySize]byte)}
	copy(k.publicKey[:], pub)
	copy(k.privateKey[:], priv)
	return k, nil
}

// PublicKeyBytes returns the public key for persistence.
func (k *Keyring) PublicKeyBytes() []byte { return append([]byte(nil), k.publicKey[:]...) }

// PrivateKeyBytes returns the private key for persistence.
func (k *Keyring) PrivateKeyBytes() []byte { return append([]byte(nil), k.privateKey[:]...) }

// NewSessionKey generates a fresh per-event symmetric key.
func NewSessionKey() (*[keySize]byte, error) {
	key := new([keySize]byte)
	if _, err := io.ReadFull(crand.Reader, key[:]); err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	return key, nil
}

// EncryptContent seals plaintext with the session key. The output is
// nonce||ciphertext.
func EncryptContent(plaintext []byte, sessionKey *[keySize]byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(crand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, sessionKey), nil
}

// DecryptContent opens a nonce||ciphertext blob with the session key.
func DecryptContent(ciphertext []byte, sessionKey *[keySize]byte) ([]byte, error) {
	if len(ciphertext) < nonceSize {
		return nil, errDecrypt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])
	plain, ok := secretbox.Open(nil, ciphertext[nonceSize:], &nonce, sessionKey)
	if !ok {
		return nil, errDecrypt
	}
	return plain, nil
}

// EncryptSessionKey wraps a session key for this keyring's recipient.
func (k *Keyring) EncryptSessionKey(sessionKey *[keySize]byte) ([]byte, error) {
	sealed, err := box.SealAnonymous(nil, sessionKey[:], k.publicKey, crand.Reader)
	if err != nil {
		return nil, fmt.Errorf("wrap session key: %w", err)
	}
	return sealed, nil
}

// DecryptSessionKey unwraps a session key sealed to this keyring.
func (k *Keyring) DecryptSessionKey(wrapped []byte) (*[keySize]byte, error) {
	raw, ok := box.OpenAnonymous(nil, wrapped, k.publicKey, k.privateKey)
	if !ok || len(raw) != keySize {
		return nil, errDecrypt
	}
	key := new([keySize]byte)
	copy(key[:], raw)
	return key, nil
}
