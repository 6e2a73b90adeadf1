package harvest

import "testing"

func TestClampCPU(t *testing.T) {
	cases := []struct {
		name string
		in   int32
		want int32
	}{
		{"negative sentinel bypasses clamp", -1, -1},
		{"zero rounds up to the floor", 0, 10},
		{"below floor rounds up", 5, 10},
		{"at floor is unchanged", 10, 10},
		{"above floor is unchanged", 250, 250},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := clampCPU(c.in); got != c.want {
				t.Errorf("clampCPU(%d) = %d, want %d", c.in, got, c.want)
			}
		})
	}
}

func TestSplitPeakHours(t *testing.T) {
	start, end, ok := SplitPeakHours("10:00:00-11:30:00")
	if !ok || start != "10:00:00" || end != "11:30:00" {
		t.Errorf("got (%q, %q, %v), want (\"10:00:00\", \"11:30:00\", true)", start, end, ok)
	}

	for _, bad := range []string{"", "10:00:00", "-11:30:00", "10:00:00-"} {
		if _, _, ok := SplitPeakHours(bad); ok {
			t.Errorf("SplitPeakHours(%q) unexpectedly succeeded", bad)
		}
	}
}
