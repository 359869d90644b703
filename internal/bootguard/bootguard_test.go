package bootguard

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGuardLifecycle(t *testing.T) {
	guard := New(filepath.Join(t.TempDir(), "settlecam_test_completed"))

	done, err := guard.CompletedThisBoot()
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if done {
		t.Fatal("fresh guard reports completed")
	}

	if err := guard.Mark("a2f1"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	done, err = guard.CompletedThisBoot()
	if err != nil {
		t.Fatalf("check after mark: %v", err)
	}
	if !done {
		t.Fatal("marker written but guard reports not completed")
	}

	body, err := os.ReadFile(guard.Path())
	if err != nil {
		t.Fatalf("read marker: %v", err)
	}
	if !strings.Contains(string(body), "run_id=a2f1") {
		t.Fatalf("marker body = %q, want run id recorded", body)
	}

	if err := guard.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	done, err = guard.CompletedThisBoot()
	if err != nil {
		t.Fatalf("check after reset: %v", err)
	}
	if done {
		t.Fatal("guard still completed after reset")
	}
}

func TestMarkCreatesParentDir(t *testing.T) {
	guard := New(filepath.Join(t.TempDir(), "nested", "marker"))
	if err := guard.Mark("r1"); err != nil {
		t.Fatalf("mark: %v", err)
	}
}

func TestResetMissingMarkerIsNoop(t *testing.T) {
	guard := New(filepath.Join(t.TempDir(), "absent"))
	if err := guard.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
}
