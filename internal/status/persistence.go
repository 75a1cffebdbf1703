// Package status provides sweep status tracking and persistence for the uploader.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

//go:generate mockgen -destination=mocks/mock_status_persistence.go -package=mocks -source=persistence.go StatusPersistence

const (
	// StatusFileName is the name of the status file
	StatusFileName = "sweep-status.json"
)

// StatusPersistence defines the interface for sweep status persistence
//
//nolint:revive // This name is fine
type StatusPersistence interface {
	// SaveStatus saves the sweep status to persistent storage
	SaveStatus(ctx context.Context, status *SweepStatus) error

	// LoadStatus loads the sweep status from persistent storage.
	// Returns an empty SweepStatus if nothing was saved yet (first run)
	LoadStatus(ctx context.Context) (*SweepStatus, error)
}

// fileStatusPersistence implements StatusPersistence using local filesystem
type fileStatusPersistence struct {
	basePath string
}

// NewFileStatusPersistence creates a new file-based status persistence.
// basePath is the directory holding the status file.
func NewFileStatusPersistence(basePath string) StatusPersistence {
	return &fileStatusPersistence{
		basePath: basePath,
	}
}

// SaveStatus writes the status to a JSON file, replacing it atomically
func (f *fileStatusPersistence) SaveStatus(_ context.Context, status *SweepStatus) error {
	if err := os.MkdirAll(f.basePath, 0750); err != nil {
		return fmt.Errorf("failed to create status directory: %w", err)
	}

	filePath := filepath.Join(f.basePath, StatusFileName)

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sweep status: %w", err)
	}

	// Write to temporary file first for atomic operation
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary status file: %w", err)
	}

	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename status file: %w", err)
	}

	return nil
}

// LoadStatus reads the status file. Returns an empty SweepStatus if the file doesn't exist
func (f *fileStatusPersistence) LoadStatus(_ context.Context) (*SweepStatus, error) {
	filePath := filepath.Join(f.basePath, StatusFileName)

	// #nosec G304 -- filePath is built from the configured status directory
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &SweepStatus{}, nil
		}
		return nil, fmt.Errorf("failed to read status file: %w", err)
	}

	var status SweepStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sweep status: %w", err)
	}

	return &status, nil
}
