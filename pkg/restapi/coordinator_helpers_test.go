package restapi

import (
	"testing"
	"time"
)

func TestWithinOperationWindow(t *testing.T) {
	cases := []struct {
		name   string
		period string
		now    string
		want   bool
	}{
		{"inside a same-day window", "09:00-18:00", "2026-07-31 12:00", true},
		{"before a same-day window", "09:00-18:00", "2026-07-31 08:59", false},
		{"at the end boundary is excluded", "09:00-18:00", "2026-07-31 18:00", false},
		{"at the start boundary is included", "09:00-18:00", "2026-07-31 09:00", true},
		{"inside a midnight-crossing window, late side", "19:00-08:00", "2026-07-31 23:00", true},
		{"inside a midnight-crossing window, early side", "19:00-08:00", "2026-07-31 03:00", true},
		{"outside a midnight-crossing window", "19:00-08:00", "2026-07-31 12:00", false},
		{"malformed period", "not-a-period", "2026-07-31 12:00", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			now, err := time.ParseInLocation("2006-01-02 15:04", c.now, time.Local)
			if err != nil {
				t.Fatalf("bad fixture time: %v", err)
			}
			if got := withinOperationWindow(c.period, now); got != c.want {
				t.Errorf("withinOperationWindow(%q, %s) = %v, want %v", c.period, c.now, got, c.want)
			}
		})
	}
}

func TestParseHHMM(t *testing.T) {
	if m, ok := parseHHMM("09:30"); !ok || m != 9*60+30 {
		t.Errorf("parseHHMM(09:30) = (%d, %v), want (570, true)", m, ok)
	}
	if _, ok := parseHHMM("bad"); ok {
		t.Error("expected parseHHMM to reject a malformed string")
	}
}

func TestDeploymentNameFromPod(t *testing.T) {
	cases := []struct {
		pod  string
		want string
	}{
		{"my-web-app-7d8f9c6b5d-abcde", "my-web-app"},
		{"single-rs-abcde", "single"},
		{"toofew", ""},
		{"a-b", ""},
	}
	for _, c := range cases {
		if got := deploymentNameFromPod(c.pod); got != c.want {
			t.Errorf("deploymentNameFromPod(%q) = %q, want %q", c.pod, got, c.want)
		}
	}
}

func TestContainsString(t *testing.T) {
	if !containsString([]string{"alice", "bob"}, "bob") {
		t.Error("expected bob to be found")
	}
	if containsString([]string{"alice", "bob"}, "carol") {
		t.Error("expected carol to be absent")
	}
}
