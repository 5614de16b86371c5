package cli

import "testing"

func TestDetectModeDashboardIsCaseInsensitive(t *testing.T) {
	cases := []string{"dashboard", "DASHBOARD", " Dashboard "}
	for _, v := range cases {
		t.Setenv("AIRCHAINPAY_MODE", v)
		if got := DetectMode(); got != ModeDashboard {
			t.Fatalf("DetectMode() with AIRCHAINPAY_MODE=%q = %v, want %v", v, got, ModeDashboard)
		}
	}
}

func TestDetectModeDefaultsToInteractive(t *testing.T) {
	cases := []string{"", "bogus", "interactive"}
	for _, v := range cases {
		t.Setenv("AIRCHAINPAY_MODE", v)
		if got := DetectMode(); got != ModeInteractive {
			t.Fatalf("DetectMode() with AIRCHAINPAY_MODE=%q = %v, want %v", v, got, ModeInteractive)
		}
	}
}

func TestIsInteractiveAndIsDashboardAgreeWithDetectMode(t *testing.T) {
	t.Setenv("AIRCHAINPAY_MODE", "dashboard")
	if !IsDashboard() || IsInteractive() {
		t.Fatal("expected dashboard mode to report IsDashboard=true, IsInteractive=false")
	}

	t.Setenv("AIRCHAINPAY_MODE", "")
	if !IsInteractive() || IsDashboard() {
		t.Fatal("expected unset mode to report IsInteractive=true, IsDashboard=false")
	}
}
