// Package file provides file-based persistence for sites and runs.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Persistence stores every site and run as its own JSON document under root.
type Persistence struct {
	root string
	// mu serializes writers so FinishRun updates the run and the site together.
	mu    sync.RWMutex
	sites *SiteRepository
	runs  *RunRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:  cleanRoot,
		sites: NewSiteRepository(cleanRoot),
		runs:  NewRunRepository(cleanRoot),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck creates the root directory if needed and verifies it is a directory.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if err := os.MkdirAll(fp.root, 0750); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	info, err := os.Stat(fp.root)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", fp.root)
	}

	return nil
}

func validID(id string) bool {
	return uuid.Validate(id) == nil
}

func readJSON(path string, v any) (bool, error) {
	body, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, err
	}

	if err := json.Unmarshal(body, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", filepath.Base(path), err)
	}

	return true, nil
}

// writeJSON replaces path atomically through a temporary file in the same directory.
func writeJSON(path string, v any) error {
	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return err
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return err
	}

	return os.Rename(tmp.Name(), path)
}
