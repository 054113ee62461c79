package database

import (
	"context"
	"testing"
	"testing/fstest"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20261001_090000_create_items.up.sql":   {Data: []byte("CREATE TABLE items (id INTEGER PRIMARY KEY);")},
		"20261001_090000_create_items.down.sql": {Data: []byte("DROP TABLE items;")},
		"20261002_090000_add_tags.up.sql":       {Data: []byte("CREATE TABLE tags (id INTEGER PRIMARY KEY);")},
		"20261002_090000_add_tags.down.sql":     {Data: []byte("DROP TABLE tags;")},
		"README.md":                             {Data: []byte("ignored")},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&count)
	if err != nil {
		t.Fatalf("sqlite_master query: %v", err)
	}
	return count == 1
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	n, err := db.Migrate(ctx, testMigrations())
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Migrate() applied %d, want 2", n)
	}
	if !tableExists(t, db, "items") || !tableExists(t, db, "tags") {
		t.Error("migrated tables missing")
	}

	n, err = db.Migrate(ctx, testMigrations())
	if err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	if n != 0 {
		t.Errorf("second Migrate() applied %d, want 0", n)
	}
}

func TestLoadMigrationsIgnoresDownFiles(t *testing.T) {
	migrations, err := LoadMigrations(testMigrations())
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("len = %d, want 2", len(migrations))
	}
	if migrations[0].Name != "create_items" || migrations[1].Name != "add_tags" {
		t.Errorf("order = %s, %s", migrations[0].Name, migrations[1].Name)
	}
	if migrations[1].UpSQL != "CREATE TABLE tags (id INTEGER PRIMARY KEY);" {
		t.Errorf("UpSQL = %q", migrations[1].UpSQL)
	}

	orphan := fstest.MapFS{
		"20261001_090000_orphan.down.sql": {Data: []byte("DROP TABLE x;")},
	}
	migrations, err = LoadMigrations(orphan)
	if err != nil || len(migrations) != 0 {
		t.Errorf("LoadMigrations(down only) = %d, %v; want 0, nil", len(migrations), err)
	}
}

func TestLoadMigrationsDuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"20261001_090000_create_items.up.sql": {Data: []byte("CREATE TABLE items (id INTEGER);")},
		"20261001_090000_create_tags.up.sql":  {Data: []byte("CREATE TABLE tags (id INTEGER);")},
	}
	if _, err := LoadMigrations(fsys); err == nil {
		t.Error("LoadMigrations() should reject two migrations with one version")
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantUp      bool
		wantOK      bool
	}{
		{"20261018_120000_frame_spool.up.sql", "20261018_120000", "frame_spool", true, true},
		{"20261018_120000_frame_spool.down.sql", "20261018_120000", "frame_spool", false, true},
		{"20261018_120000.up.sql", "20261018_120000", "", true, true},
		{"20261018_120000_frame_spool.sql", "", "", false, false},
		{"frame_spool.up.sql", "", "", false, false},
		{"embed.go", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, isUp, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if version != tt.wantVersion || name != tt.wantName || isUp != tt.wantUp {
				t.Errorf("got (%q, %q, %v), want (%q, %q, %v)",
					version, name, isUp, tt.wantVersion, tt.wantName, tt.wantUp)
			}
		})
	}
}
