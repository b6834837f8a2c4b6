package database

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pressly/goose/v3"
)

const migrationsDir = "../../migrations"

func TestMigrationFilesAreVersioned(t *testing.T) {
	migrations, err := goose.CollectMigrations(migrationsDir, 0, goose.MaxVersion)
	if err != nil {
		t.Fatalf("CollectMigrations: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("no migrations found")
	}

	for i, m := range migrations {
		if m.Version != int64(i+1) {
			t.Errorf("%s has version %d, want %d", filepath.Base(m.Source), m.Version, i+1)
		}
		script, err := os.ReadFile(m.Source)
		if err != nil {
			t.Fatalf("read %s: %v", m.Source, err)
		}
		for _, marker := range []string{"-- +goose Up", "-- +goose Down"} {
			if !strings.Contains(string(script), marker) {
				t.Errorf("%s is missing %q", filepath.Base(m.Source), marker)
			}
		}
	}
}

// Runs against a real database only when TEST_DATABASE_URL is set.
func TestMigrateIsRepeatable(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := NewPostgres(url, 2, 1)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if _, err := db.Migrate(ctx, migrationsDir); err != nil {
		t.Fatalf("first Migrate: %v", err)
	}
	applied, err := db.Migrate(ctx, migrationsDir)
	if err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("second Migrate applied %v, want nothing", applied)
	}
}
