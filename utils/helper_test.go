package utils

import "testing"

func TestIsValidEmail(t *testing.T) {
	if !IsValidEmail("alice@example.com") {
		t.Fatalf("valid address rejected")
	}
	if IsValidEmail("not-an-email") {
		t.Fatalf("invalid address accepted")
	}
}

func TestNormalizePhoneNumber(t *testing.T) {
	if got := NormalizePhoneNumber("(415) 555-2671", "US"); got != "+14155552671" {
		t.Fatalf("normalized = %q, want +14155552671", got)
	}
	// unparseable input passes through unchanged
	if got := NormalizePhoneNumber("???", "US"); got != "???" {
		t.Fatalf("unparseable input changed to %q", got)
	}
}

func TestUniqueSlice(t *testing.T) {
	got := UniqueSlice([]int{3, 1, 3, 2, 1})
	want := []int{3, 1, 2}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v (order must follow first occurrence)", got, want)
		}
	}
}
