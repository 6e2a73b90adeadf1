package restapi

import "testing"

func TestSqlAllowedForPermission(t *testing.T) {
	cases := []struct {
		sql        string
		permission string
		want       bool
	}{
		{"select * from k8s_events", "read", true},
		{"  SELECT 1", "", true},
		{"alter table k8s_res_control update observed_pod=1", "read", false},
		{"alter table k8s_res_control update observed_pod=1", "rw", true},
		{"insert into k8s_events values (1)", "rw", true},
		{"insert into k8s_events values (1)", "read", false},
		{"drop table k8s_events", "rw", false},
	}
	for _, c := range cases {
		if got := sqlAllowedForPermission(c.sql, c.permission); got != c.want {
			t.Errorf("sqlAllowedForPermission(%q, %q) = %v, want %v", c.sql, c.permission, got, c.want)
		}
	}
}

func TestOptimizeTargetTable(t *testing.T) {
	cases := []struct {
		stmt string
		want string
	}{
		{"ALTER TABLE K8S_RES_CONTROL UPDATE OBSERVED_POD=1 WHERE ENV='prod'", "k8s_res_control"},
		{"INSERT INTO K8S_EVENTS VALUES (1)", "k8s_events"},
		{"INSERT INTO K8S_RESOURCES VALUES (1)", ""},
	}
	for _, c := range cases {
		if got := optimizeTargetTable(c.stmt); got != c.want {
			t.Errorf("optimizeTargetTable(%q) = %q, want %q", c.stmt, got, c.want)
		}
	}
}
