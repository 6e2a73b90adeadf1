package scale

import (
	"reflect"
	"testing"
)

func TestDedupTopK(t *testing.T) {
	cases := []struct {
		name       string
		candidates []string
		k          int
		want       []string
	}{
		{"dedups repeats", []string{"n1", "n1", "n2", "n3"}, 2, []string{"n1", "n2"}},
		{"stops at k", []string{"n1", "n2", "n3", "n4"}, 3, []string{"n1", "n2", "n3"}},
		{"fewer than k returns all distinct", []string{"n1", "n1"}, 5, []string{"n1"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := DedupTopK(c.candidates, c.k)
			if len(got) != len(c.want) {
				t.Fatalf("got %v, want %v", got, c.want)
			}
			for i := range got {
				if got[i] != c.want[i] {
					t.Errorf("index %d: got %s, want %s", i, got[i], c.want[i])
				}
			}
		})
	}
}

func TestRankDeploymentsByResource(t *testing.T) {
	candidates := []DeploymentCandidate{
		{Namespace: "ns", Deployment: "a", RequestCPUM: 100, RequestMemMB: 512},
		{Namespace: "ns", Deployment: "b", RequestCPUM: 300, RequestMemMB: 128},
		{Namespace: "ns", Deployment: "c", RequestCPUM: 200, RequestMemMB: 1024},
	}

	cpuRanked := RankDeploymentsByResource(candidates, "cpu", 2)
	if want := []string{"ns/b", "ns/c"}; !reflect.DeepEqual(cpuRanked, want) {
		t.Errorf("cpu ranking = %v, want %v", cpuRanked, want)
	}

	memRanked := RankDeploymentsByResource(candidates, "mem", 0)
	if want := []string{"ns/c", "ns/a", "ns/b"}; !reflect.DeepEqual(memRanked, want) {
		t.Errorf("mem ranking (no limit) = %v, want %v", memRanked, want)
	}
}
