package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	// InstanceIDFileName is the name of the file where the instance ID is stored.
	InstanceIDFileName = "instance_id"
	// InstanceIDDir is the directory under the data dir holding identity files.
	InstanceIDDir = "identity"
)

// InstanceIdentity identifies a gateway process across restarts. Clients
// can use it to detect that they reconnected to a restarted instance and
// must re-establish session state.
type InstanceIdentity struct {
	InstanceID string `json:"instance_id"`
}

// GenerateInstanceIdentity creates a fresh instance identity.
func GenerateInstanceIdentity() *InstanceIdentity {
	id := uuid.New().String()
	return &InstanceIdentity{
		InstanceID: fmt.Sprintf("gw-%s", id[:18]),
	}
}

// GetOrCreateInstanceIdentity loads the stored identity from dataDir or
// creates and persists a new one.
func GetOrCreateInstanceIdentity(dataDir string) (*InstanceIdentity, error) {
	idPath := filepath.Join(dataDir, InstanceIDDir, InstanceIDFileName)

	if _, err := os.Stat(idPath); os.IsNotExist(err) {
		identity := GenerateInstanceIdentity()
		if err := saveInstanceIdentity(identity, idPath); err != nil {
			return nil, fmt.Errorf("failed to save instance identity: %w", err)
		}
		return identity, nil
	}

	return loadInstanceIdentity(idPath)
}

func saveInstanceIdentity(identity *InstanceIdentity, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create identity directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(identity.InstanceID+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write instance ID file: %w", err)
	}
	return nil
}

func loadInstanceIdentity(path string) (*InstanceIdentity, error) {
	cleanedPath := filepath.Clean(path)
	if strings.Contains(cleanedPath, "..") {
		return nil, fmt.Errorf("invalid path: directory traversal detected")
	}

	content, err := os.ReadFile(cleanedPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read instance ID file: %w", err)
	}

	id := strings.TrimSpace(string(content))
	if id == "" {
		return nil, fmt.Errorf("instance ID file is empty")
	}
	return &InstanceIdentity{InstanceID: id}, nil
}
