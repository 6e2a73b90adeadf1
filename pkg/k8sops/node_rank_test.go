package k8sops

import "testing"

func TestRankNodesAscending(t *testing.T) {
	in := []NodeLoad{{Node: "a", CPUPct: 50}, {Node: "b", CPUPct: 10}, {Node: "c", CPUPct: 30}}
	out := RankNodesAscending(in)
	want := []string{"b", "c", "a"}
	for i, n := range want {
		if out[i].Node != n {
			t.Fatalf("index %d: got %s, want %s", i, out[i].Node, n)
		}
	}
	if in[0].Node != "a" {
		t.Error("expected RankNodesAscending not to mutate its input")
	}
}

func TestRankNodesDescending(t *testing.T) {
	in := []NodeLoad{{Node: "a", CPUPct: 50}, {Node: "b", CPUPct: 10}, {Node: "c", CPUPct: 30}}
	out := RankNodesDescending(in)
	want := []string{"a", "c", "b"}
	for i, n := range want {
		if out[i].Node != n {
			t.Fatalf("index %d: got %s, want %s", i, out[i].Node, n)
		}
	}
}

func TestLabelKey(t *testing.T) {
	if got := LabelKey("default", "web"); got != "default.web" {
		t.Errorf("got %q, want default.web", got)
	}
}
