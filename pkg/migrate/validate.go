package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pressly/goose/v3"
)

var (
	versionedName = regexp.MustCompile(`^\d{14}_[a-z0-9_]+\.sql$`)
	concurrentIdx = regexp.MustCompile(`(?i)\bINDEX\s+CONCURRENTLY\b`)
)

// ValidateDir checks every SQL migration in dir before it reaches a database:
// timestamped snake_case names, unique versions, both goose directions, and
// no CONCURRENTLY index builds inside a transaction.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir %q: %w", dir, err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".sql" {
			continue
		}
		if !versionedName.MatchString(name) {
			return fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
		}
		body, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read %q: %w", name, err)
		}
		if err := checkBody(name, string(body)); err != nil {
			return err
		}
	}

	// goose rejects duplicate versions itself
	if _, err := goose.CollectMigrations(dir, 0, goose.MaxVersion); err != nil {
		return fmt.Errorf("collect migrations: %w", err)
	}
	return nil
}

func checkBody(name, body string) error {
	for _, marker := range []string{"-- +goose Up", "-- +goose Down"} {
		if !strings.Contains(body, marker) {
			return fmt.Errorf("migration %q missing %q", name, marker)
		}
	}
	if concurrentIdx.MatchString(body) && !strings.Contains(body, "-- +goose NO TRANSACTION") {
		return fmt.Errorf("migration %q builds an index concurrently without \"-- +goose NO TRANSACTION\"", name)
	}
	return nil
}
