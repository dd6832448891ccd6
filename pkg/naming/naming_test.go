// SPDX-License-Identifier: Apache-2.0

package naming

import (
	"testing"
	"time"
)

func TestExtractBase(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"ARCHITECT_MANAGER.3", "ARCHITECT_MANAGER"},
		{"ARCHITECT_MANAGER", "ARCHITECT_MANAGER"},
		{"HR_Flow_v1.12", "HR_Flow_v1"},
		{"Plain", "Plain"},
	}
	for _, tc := range cases {
		if got := ExtractBase(tc.in); got != tc.want {
			t.Errorf("ExtractBase(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNextVersion(t *testing.T) {
	existing := []string{
		"ARCHITECT_MANAGER.1",
		"ARCHITECT_MANAGER.3 [abc123 | 2026-08-20 10:00 AM PST]",
		"OTHER_AGENT.9",
		"ARCHITECT_MANAGER_EXTRA.7", // different base, must not count
	}
	if got := NextVersion(existing, "ARCHITECT_MANAGER"); got != 4 {
		t.Errorf("NextVersion = %d, want 4", got)
	}
	if got := NextVersion(nil, "FRESH"); got != 1 {
		t.Errorf("NextVersion for unseen base = %d, want 1", got)
	}
}

func TestVersioned(t *testing.T) {
	existing := []string{"HR_MANAGER.2"}
	if got := Versioned(existing, "HR_MANAGER.1"); got != "HR_MANAGER.3" {
		t.Errorf("Versioned = %q, want HR_MANAGER.3", got)
	}
}

func TestStamped(t *testing.T) {
	at := time.Date(2026, 8, 25, 14, 45, 0, 0, time.FixedZone("PST", -8*3600))
	got := Stamped("HR_MANAGER.3", "68abc123", at)
	want := "HR_MANAGER.3 [68abc123 | 2026-08-25 02:45 PM PST]"
	if got != want {
		t.Errorf("Stamped = %q, want %q", got, want)
	}

	// No id means no stamp: stamping only happens once a remote id exists.
	if got := Stamped("HR_MANAGER.3", "", at); got != "HR_MANAGER.3" {
		t.Errorf("expected unstamped name, got %q", got)
	}
}
