package systemd

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// HashBytes returns the hex SHA-256 of data.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// CheckUnitFileIntegrity compares the unit file at unitPath against the
// install-time hash stored at hashPath. It returns a warning when the unit
// has been modified, or an empty string when integrity is confirmed or
// cannot be checked (no unit file, no stored hash).
func CheckUnitFileIntegrity(unitPath, hashPath string) string {
	data, err := os.ReadFile(unitPath)
	if os.IsNotExist(err) {
		return ""
	}
	if err != nil {
		return fmt.Sprintf("cannot read unit file %s: %v", unitPath, err)
	}

	stored, err := os.ReadFile(hashPath)
	if err != nil {
		return ""
	}
	expected := strings.TrimSpace(string(stored))
	if len(expected) != 64 {
		return ""
	}

	actual := HashBytes(data)
	if actual == expected {
		return ""
	}
	return fmt.Sprintf("systemd unit file %s has been modified since installation (expected %s, got %s)",
		unitPath, expected[:16], actual[:16])
}

// RecordUnitFileHash writes the SHA-256 of the unit file at unitPath to
// hashPath, creating its directory if needed.
func RecordUnitFileHash(unitPath, hashPath string) error {
	data, err := os.ReadFile(unitPath)
	if err != nil {
		return fmt.Errorf("read unit file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(hashPath), 0o700); err != nil {
		return fmt.Errorf("create hash dir: %w", err)
	}
	return os.WriteFile(hashPath, []byte(HashBytes(data)+"\n"), 0o600)
}
