package main

import (
	"net/url"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/lalithlochan/herald/internal/db"
	"github.com/lalithlochan/herald/migrations"
)

func TestDatabaseURL(t *testing.T) {
	cfg := db.Config{Host: "db", Port: 5432, User: "herald", Password: "pw", Database: "institute", SSLMode: "disable"}

	tests := []struct {
		name       string
		raw        string
		wantPrefix string
		wantTable  string
		wantErr    bool
	}{
		{"from config", "", "pgx5://herald:pw@db:5432/institute", migrationsTable, false},
		{"postgres scheme rewritten", "postgres://u@h:5433/x?sslmode=require", "pgx5://u@h:5433/x", migrationsTable, false},
		{"explicit table kept", "postgresql://u@h/x?x-migrations-table=custom", "pgx5://u@h/x", "custom", false},
		{"mysql rejected", "mysql://u@h/x", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := databaseURL(tt.raw, cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !strings.HasPrefix(got, tt.wantPrefix) {
				t.Errorf("expected prefix %s, got %s", tt.wantPrefix, got)
			}
			u, err := url.Parse(got)
			if err != nil {
				t.Fatalf("unparseable url %s: %v", got, err)
			}
			if table := u.Query().Get("x-migrations-table"); table != tt.wantTable {
				t.Errorf("expected table %s, got %s", tt.wantTable, table)
			}
		})
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		t.Fatalf("expected embedded migrations to load, got: %v", err)
	}
	defer src.Close()

	first, err := src.First()
	if err != nil || first != 1 {
		t.Fatalf("expected first version 1, got %d (%v)", first, err)
	}

	count := 1
	for v := first; ; count++ {
		next, err := src.Next(v)
		if err != nil {
			break
		}
		v = next
	}
	if count != 3 {
		t.Errorf("expected 3 migrations, got %d", count)
	}
}

func TestPositive(t *testing.T) {
	if n, err := positive(" 2 "); err != nil || n != 2 {
		t.Errorf("expected 2, got %d (%v)", n, err)
	}
	for _, bad := range []string{"0", "-1", "x"} {
		if _, err := positive(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}
