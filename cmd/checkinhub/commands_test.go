package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dukex/checkinhub/pkg/models"
	"github.com/dukex/checkinhub/pkg/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	command := newCommand()
	command.Writer = &out
	command.ErrWriter = &out

	err := command.Run(context.Background(), append([]string{"checkinhub"}, args...))

	return out.String(), err
}

func TestEncryptCommand(t *testing.T) {
	out, err := runCLI(t, "encrypt", "--encryption-key", "k", "hello")
	require.NoError(t, err)

	var secret models.EncryptedSecret
	require.NoError(t, json.Unmarshal([]byte(out), &secret))

	plaintext, err := vault.New("k").Decrypt(secret.Ciphertext, secret.Nonce)
	require.NoError(t, err)
	assert.Equal(t, "hello", plaintext)
}

func TestEncryptCommand_MissingInput(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "")

	_, err := runCLI(t, "encrypt", "hello")
	require.ErrorIs(t, err, errMissingEncryptionKey)

	_, err = runCLI(t, "encrypt", "--encryption-key", "k")
	require.ErrorIs(t, err, errMissingArgument)
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()

	valid := filepath.Join(dir, "valid.json")
	require.NoError(t, os.WriteFile(valid, []byte(`{
		"name": "Example",
		"enabled": true,
		"auth": {"type": "bearer", "tokenSource": "env", "envKey": "EXAMPLE_TOKEN"},
		"schedule": {"type": "cron", "cron": "0 8 * * *"},
		"flow": [{"name": "checkin", "method": "POST", "url": "https://example.com/checkin"}]
	}`), 0o600))

	out, err := runCLI(t, "validate", valid)
	require.NoError(t, err)
	assert.Contains(t, out, "is a valid site document")
}

func TestValidateSiteDocument(t *testing.T) {
	tests := []struct {
		name     string
		document string
		wantErr  error
	}{
		{"malformed json", `{`, models.ErrInvalidSite},
		{"missing name", `{"flow": []}`, models.ErrInvalidSite},
		{"flow step without url", `{"name": "x", "flow": [{"name": "a", "method": "GET"}]}`, models.ErrInvalidFlow},
		{"bad cron", `{"name": "x", "schedule": {"type": "cron", "cron": "nope"}}`, models.ErrInvalidSchedule},
		{"env auth without key", `{"name": "x", "auth": {"type": "bearer", "tokenSource": "env"}}`, models.ErrInvalidAuth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSiteDocument(strings.NewReader(tt.document))
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestServe_RequiresAdminToken(t *testing.T) {
	t.Setenv("ADMIN_TOKEN", "")

	_, err := runCLI(t, "serve", "--encryption-key", "k")
	require.ErrorIs(t, err, errMissingAdminToken)
}
