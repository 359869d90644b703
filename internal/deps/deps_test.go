package deps

import "testing"

func TestCheckBinaries(t *testing.T) {
	statuses := CheckBinaries([]Requirement{
		{Name: "Shell", Command: "sh", Description: "always present"},
		{Name: "Ghost", Command: "definitely-not-a-binary-7f3a"},
		{Name: "Blank", Command: "   "},
		{Name: "OptGhost", Command: "also-not-a-binary-7f3a", Optional: true},
	})
	if len(statuses) != 4 {
		t.Fatalf("statuses = %d, want 4", len(statuses))
	}
	if !statuses[0].Available {
		t.Fatalf("sh unavailable: %s", statuses[0].Detail)
	}
	if statuses[1].Available || statuses[1].Detail == "" {
		t.Fatalf("ghost status = %+v", statuses[1])
	}
	if statuses[2].Detail != "command not configured" {
		t.Fatalf("blank detail = %q", statuses[2].Detail)
	}

	missing := MissingRequired(statuses)
	if len(missing) != 2 || missing[0] != "Ghost" || missing[1] != "Blank" {
		t.Fatalf("missing = %v", missing)
	}
}
