package app

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/router-for-me/hazardguard/internal/db"
	"github.com/router-for-me/hazardguard/internal/models"
	"github.com/router-for-me/hazardguard/internal/security"
)

func TestHasAdminInitialized(t *testing.T) {
	conn, err := db.Open(db.SQLiteDSN(filepath.Join(t.TempDir(), "guard-test.db")))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	initialized, err := HasAdminInitialized(conn)
	if err != nil {
		t.Fatalf("HasAdminInitialized: %v", err)
	}
	if initialized {
		t.Fatalf("expected initialized=false before migrate")
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	if initialized, err = HasAdminInitialized(conn); err != nil || initialized {
		t.Fatalf("expected initialized=false with empty admins table, got %v %v", initialized, err)
	}

	if _, errCreate := CreateAdminWithConn(conn, CreateAdminParams{Username: "root", Password: "long-enough"}); errCreate != nil {
		t.Fatalf("create admin: %v", errCreate)
	}
	if initialized, err = HasAdminInitialized(conn); err != nil || !initialized {
		t.Fatalf("expected initialized=true after admin created, got %v %v", initialized, err)
	}
}

func TestCreateAdminWithConn(t *testing.T) {
	conn, err := db.Open(db.SQLiteDSN(filepath.Join(t.TempDir(), "guard-test.db")))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	first, errCreate := CreateAdminWithConn(conn, CreateAdminParams{Username: "root", Password: "long-enough"})
	if errCreate != nil {
		t.Fatalf("create first: %v", errCreate)
	}
	if !first.IsSuperAdmin {
		t.Fatalf("expected first admin to be super admin")
	}

	second, errCreate := CreateAdminWithConn(conn, CreateAdminParams{
		Username:    "viewer",
		Password:    "long-enough",
		Permissions: []string{"GET /v0/admin/events"},
	})
	if errCreate != nil {
		t.Fatalf("create second: %v", errCreate)
	}
	if second.IsSuperAdmin {
		t.Fatalf("expected second admin without super admin flag")
	}

	var stored models.Admin
	if errFind := conn.Where("username = ?", "viewer").First(&stored).Error; errFind != nil {
		t.Fatalf("find admin: %v", errFind)
	}
	if !security.CheckPassword(stored.Password, "long-enough") {
		t.Fatalf("expected hashed password to verify")
	}

	if _, errCreate = CreateAdminWithConn(conn, CreateAdminParams{Username: "viewer", Password: "long-enough"}); !errors.Is(errCreate, errAdminExists) {
		t.Fatalf("expected errAdminExists, got %v", errCreate)
	}
	if _, errCreate = CreateAdminWithConn(conn, CreateAdminParams{Username: "x", Password: "short"}); errCreate == nil {
		t.Fatalf("expected short password error")
	}
	if _, errCreate = CreateAdminWithConn(conn, CreateAdminParams{Username: "y", Password: "long-enough", Permissions: []string{"GET /nope"}}); errCreate == nil {
		t.Fatalf("expected invalid permission error")
	}
}
