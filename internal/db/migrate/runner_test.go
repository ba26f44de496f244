package migrate

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/punchamoorthee/tuitionpay/internal/db"
)

func TestRun_RejectsEmptyDSN(t *testing.T) {
	if err := Run("", "up"); err == nil {
		t.Fatal("Run with empty DSN should fail")
	}
}

func TestRun_RejectsBadDirection(t *testing.T) {
	err := Run("postgres://localhost/x", "sideways")
	if err == nil || !strings.Contains(err.Error(), "direction") {
		t.Errorf("err = %v, want direction error", err)
	}
}

func TestMigrationFS_HasPairedFiles(t *testing.T) {
	ups, err := fs.Glob(db.MigrationFS, "migrations/*.up.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(ups) == 0 {
		t.Fatal("no up migrations embedded")
	}
	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		if _, err := fs.Stat(db.MigrationFS, down); err != nil {
			t.Errorf("%s has no matching %s", up, down)
		}
	}
}
