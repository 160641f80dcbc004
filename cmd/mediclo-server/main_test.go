package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mediclo/mediclo/internal/domain/backup"
	"github.com/mediclo/mediclo/internal/domain/tenant"
	"github.com/mediclo/mediclo/internal/platform/auth"
	"github.com/mediclo/mediclo/internal/platform/db"
	"github.com/mediclo/mediclo/internal/platform/docstore"
	"github.com/mediclo/mediclo/internal/platform/notification"
	"github.com/mediclo/mediclo/internal/platform/objectstore"
)

func TestRootCmd_Commands(t *testing.T) {
	root := rootCmd()
	for _, path := range [][]string{
		{"serve"},
		{"migrate", "up"},
		{"migrate", "status"},
		{"tenant", "create"},
		{"backup", "create"},
		{"backup", "list"},
		{"backup", "sweep"},
	} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Errorf("command %v not found: %v", path, err)
		}
	}
}

func TestBackupSweep_RequiresExactlyOneTarget(t *testing.T) {
	for _, args := range [][]string{
		{"backup", "sweep"},
		{"backup", "sweep", "--tenant", "t1", "--all"},
	} {
		root := rootCmd()
		root.SetArgs(args)
		root.SetOut(&bytes.Buffer{})
		root.SetErr(&bytes.Buffer{})
		err := root.Execute()
		if err == nil || !strings.Contains(err.Error(), "exactly one") {
			t.Errorf("%v: expected target error, got %v", args, err)
		}
	}
}

func TestBackupCreate_RejectsUnknownKind(t *testing.T) {
	root := rootCmd()
	root.SetArgs([]string{"backup", "create", "--tenant", "t1", "--kind", "hourly"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	if err := root.Execute(); err == nil || !strings.Contains(err.Error(), "unknown backup kind") {
		t.Errorf("expected kind error, got %v", err)
	}
}

func TestSweepTenants(t *testing.T) {
	ctx := context.Background()
	objects := objectstore.NewMemoryStore("http://localhost")
	engine := backup.NewEngine(docstore.NewMemoryStore(), objects, notification.Nop{}, zerolog.Nop())

	now := time.Now().UTC()
	for _, k := range []string{
		backup.ObjectKey("t1", backup.KindDaily, now.AddDate(0, 0, -200)),
		backup.ObjectKey("t1", backup.KindDaily, now.AddDate(0, 0, -2)),
		backup.ObjectKey("t2", backup.KindWeekly, now.AddDate(0, 0, -120)),
	} {
		if err := objects.Put(ctx, k, "application/json", []byte(`{}`)); err != nil {
			t.Fatal(err)
		}
	}

	var out bytes.Buffer
	if err := sweepTenants(ctx, engine, []string{"t1", "t2"}, 90, &out); err != nil {
		t.Fatalf("sweepTenants: %v", err)
	}
	if !strings.Contains(out.String(), "deleted 2 backup(s)") {
		t.Errorf("output = %q", out.String())
	}
	left, _ := objects.List(ctx, "backups/")
	if len(left) != 1 {
		t.Errorf("expected 1 backup left, got %d", len(left))
	}

	out.Reset()
	if err := sweepTenants(ctx, engine, []string{"t1"}, 0, &out); err == nil {
		t.Error("expected an error for a non-positive window")
	}
}

func TestPrinters(t *testing.T) {
	var out bytes.Buffer
	printRegistration(&out, &tenant.Registration{
		TenantID: "t1", Name: "Spot", Prefix: "spotdi",
		Credentials: []tenant.Credential{{Role: auth.RoleLab, Username: "spotdi@lab", Password: "s3cret12"}},
	})
	if !strings.Contains(out.String(), "spotdi@lab") || !strings.Contains(out.String(), "s3cret12") {
		t.Errorf("registration output = %q", out.String())
	}

	out.Reset()
	printBackups(&out, nil)
	if !strings.Contains(out.String(), "No backups") {
		t.Errorf("empty list output = %q", out.String())
	}

	out.Reset()
	at := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	printMigrationStatus(&out, []db.MigrationStatus{
		{Version: 1, Name: "001_docstore.sql", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "002_extra.sql"},
	})
	if !strings.Contains(out.String(), "2025-06-01 09:30:00") || !strings.Contains(out.String(), "pending") {
		t.Errorf("status output = %q", out.String())
	}
}
