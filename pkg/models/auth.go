package models

import (
	"encoding/json"
	"fmt"
)

const (
	AuthTypeNone   = "none"
	AuthTypeBearer = "bearer"

	TokenSourceManual = "manual"
	TokenSourceEnv    = "env"
)

// EncryptedSecret is an AEAD ciphertext with its nonce, both base64 encoded.
type EncryptedSecret struct {
	Ciphertext string `json:"ciphertext"`
	Nonce      string `json:"nonce"`
}

// AuthSpec describes how a site's secret is obtained.
// Unknown types are kept as-is and resolve to no secret.
type AuthSpec struct {
	Type        string           `json:"type"`
	TokenSource string           `json:"tokenSource,omitempty"`
	Token       string           `json:"token,omitempty"`
	Encrypted   *EncryptedSecret `json:"encrypted,omitempty"`
	EnvKey      string           `json:"envKey,omitempty"`
}

// UnmarshalJSON applies the defaults for missing type and token source.
func (a *AuthSpec) UnmarshalJSON(data []byte) error {
	type plain AuthSpec

	var decoded plain

	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}

	*a = AuthSpec(decoded)
	a.normalize()

	return nil
}

func (a *AuthSpec) normalize() {
	if a.Type == "" {
		a.Type = AuthTypeNone
	}

	if a.Type == AuthTypeBearer && a.TokenSource == "" {
		a.TokenSource = TokenSourceManual
	}

	if a.Encrypted != nil && a.Encrypted.Ciphertext == "" && a.Encrypted.Nonce == "" {
		a.Encrypted = nil
	}
}

// Validate checks the fields a bearer configuration needs.
func (a AuthSpec) Validate() error {
	if a.Type != AuthTypeBearer {
		return nil
	}

	switch a.TokenSource {
	case "", TokenSourceManual:
		if a.Encrypted != nil && (a.Encrypted.Ciphertext == "" || a.Encrypted.Nonce == "") {
			return fmt.Errorf("%w: encrypted secret needs both ciphertext and nonce", ErrInvalidAuth)
		}
	case TokenSourceEnv:
		if a.EnvKey == "" {
			return fmt.Errorf("%w: envKey is required for env token source", ErrInvalidAuth)
		}
	default:
		return fmt.Errorf("%w: unknown token source %q", ErrInvalidAuth, a.TokenSource)
	}

	return nil
}

// Public returns a copy without the plaintext token.
func (a AuthSpec) Public() AuthSpec {
	a.Token = ""

	return a
}
