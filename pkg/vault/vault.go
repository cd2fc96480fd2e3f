// Package vault encrypts site secrets at rest and resolves auth configurations into usable tokens.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/dukex/checkinhub/pkg/models"
)

const (
	keySize   = 32
	nonceSize = 12
	keyPad    = '0'
)

// Vault holds the AES-256 key derived from the configured passphrase.
// It is immutable and safe for concurrent use.
type Vault struct {
	key [keySize]byte
}

// New derives the key by truncating the passphrase to 32 bytes or
// right-padding it with ASCII '0'.
func New(passphrase string) *Vault {
	v := &Vault{}

	n := copy(v.key[:], passphrase)
	for i := n; i < keySize; i++ {
		v.key[i] = keyPad
	}

	return v
}

func (v *Vault) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	return cipher.NewGCM(block)
}

// Encrypt seals plaintext with a fresh random nonce.
func (v *Vault) Encrypt(plaintext string) (models.EncryptedSecret, error) {
	gcm, err := v.aead()
	if err != nil {
		return models.EncryptedSecret{}, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return models.EncryptedSecret{}, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	return models.EncryptedSecret{
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
	}, nil
}

// Decrypt opens a ciphertext produced by Encrypt under the same key.
func (v *Vault) Decrypt(ciphertext, nonce string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", newIntegrityError("decode ciphertext", err)
	}

	rawNonce, err := base64.StdEncoding.DecodeString(nonce)
	if err != nil {
		return "", newIntegrityError("decode nonce", err)
	}

	if len(rawNonce) != nonceSize {
		return "", newIntegrityError("decode nonce", fmt.Errorf("nonce must be %d bytes, got %d", nonceSize, len(rawNonce)))
	}

	gcm, err := v.aead()
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, rawNonce, sealed, nil)
	if err != nil {
		return "", newIntegrityError("open", err)
	}

	return string(plaintext), nil
}

// ResolveSecret turns an auth configuration into the secret variables seeded into a run.
// Only bearer auth yields a "token" entry.
func (v *Vault) ResolveSecret(auth models.AuthSpec) (map[string]string, error) {
	secrets := map[string]string{}

	if auth.Type != models.AuthTypeBearer {
		return secrets, nil
	}

	switch auth.TokenSource {
	case models.TokenSourceEnv:
		secrets["token"] = os.Getenv(auth.EnvKey)
	default:
		if auth.Encrypted != nil {
			token, err := v.Decrypt(auth.Encrypted.Ciphertext, auth.Encrypted.Nonce)
			if err != nil {
				return nil, err
			}

			secrets["token"] = token
		} else {
			secrets["token"] = auth.Token
		}
	}

	return secrets, nil
}
