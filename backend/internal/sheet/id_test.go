package sheet

import (
	"strings"
	"testing"
)

func TestValidateSheetID(t *testing.T) {
	valid := []string{
		"my-group",
		"a",
		"FOO",
		"group 2024",
		"äbcdef",
		strings.Repeat("x", 64),
	}
	for _, id := range valid {
		if err := ValidateSheetID(id); err != nil {
			t.Fatalf("ValidateSheetID(%q) = %v, want nil", id, err)
		}
	}

	invalid := []string{
		"",
		"Foo.Bar",
		"a/b",
		`a\b`,
		"a\x00b",
		"a\x1fb",
		"a\x7fb",
		strings.Repeat("x", 65),
	}
	for _, id := range invalid {
		if err := ValidateSheetID(id); err == nil {
			t.Fatalf("ValidateSheetID(%q) = nil, want error", id)
		}
	}
}

func TestNormalizeSheetID(t *testing.T) {
	if got := NormalizeSheetID("FOO"); got != "foo" {
		t.Fatalf("NormalizeSheetID(FOO) = %q", got)
	}
	// "foo" and "FOO" must resolve to the same room
	if NormalizeSheetID("foo") != NormalizeSheetID("FOO") {
		t.Fatalf("foo and FOO should normalize identically")
	}
}

func TestReservedSheetIDs(t *testing.T) {
	for _, id := range []string{"nosync", "upload", "healthz"} {
		if !IsReservedSheetID(id) {
			t.Fatalf("%q should be reserved", id)
		}
	}
	if IsReservedSheetID("my-group") {
		t.Fatalf("my-group should not be reserved")
	}
}
