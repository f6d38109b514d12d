// Package authstore manages the per-tenant filesystem area holding WhatsApp
// credential databases.
package authstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// Store keys credential directories by tenant id under one base directory.
type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// Dir returns the tenant's credential directory, creating it if needed.
func (s *Store) Dir(tenantID string) (string, error) {
	dir := filepath.Join(s.baseDir, sanitize(tenantID))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create auth dir for %s: %w", tenantID, err)
	}
	return dir, nil
}

// DBPath returns the path of the tenant's credential database file.
func (s *Store) DBPath(tenantID string) (string, error) {
	dir, err := s.Dir(tenantID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "session.db"), nil
}

// Exists reports whether the tenant has stored credentials.
func (s *Store) Exists(tenantID string) bool {
	_, err := os.Stat(filepath.Join(s.baseDir, sanitize(tenantID), "session.db"))
	return err == nil
}

// Wipe deletes the tenant's credential material. The next session start will
// require a fresh pairing scan.
func (s *Store) Wipe(tenantID string) error {
	dir := filepath.Join(s.baseDir, sanitize(tenantID))
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("wipe auth dir for %s: %w", tenantID, err)
	}
	log.Info().Str("tenantID", tenantID).Msg("Auth material wiped")
	return nil
}

// sanitize keeps tenant-derived path components to a safe character set.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}
