package events

import "testing"

func TestMatchFieldCondition_MissingField(t *testing.T) {
	fields := map[string]string{"kind": "Pod"}

	cases := []struct {
		name string
		cond FieldCondition
		want bool
	}{
		{"not_contains on missing field is true", FieldCondition{Field: "reason", Predicate: "not_contains", Value: "x"}, true},
		{"contains on missing field is false", FieldCondition{Field: "reason", Predicate: "contains", Value: "x"}, false},
		{"not_equals on missing field is true", FieldCondition{Field: "reason", Predicate: "not_equals", Value: "x"}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := matchFieldCondition(c.cond, fields); got != c.want {
				t.Errorf("got %v, want %v", got, c.want)
			}
		})
	}
}

func TestMatchFieldCondition_CaseInsensitive(t *testing.T) {
	fields := map[string]string{"reason": "FailedScheduling"}
	cond := FieldCondition{Field: "reason", Predicate: "contains", Value: "failed"}
	if !matchFieldCondition(cond, fields) {
		t.Error("expected case-insensitive contains match")
	}
}

func TestMatchCountPredicate(t *testing.T) {
	cases := []struct {
		predicate string
		actual    string
		want      string
		expect    bool
	}{
		{"greater_than", "5", "3", true},
		{"greater_than", "2", "3", false},
		{"less_equal", "3", "3", true},
		{"equals", "3", "3", true},
		{"not_equals", "3", "4", true},
	}
	for _, c := range cases {
		if got := matchCountPredicate(c.predicate, c.actual, c.want); got != c.expect {
			t.Errorf("matchCountPredicate(%s, %s, %s) = %v, want %v", c.predicate, c.actual, c.want, got, c.expect)
		}
	}
}

func TestMatcher_FirstMatchWins(t *testing.T) {
	m := &Matcher{set: RuleSet{
		AlertRules: []Rule{
			{Name: "generic-warning", Severity: "warning", Conditions: []FieldCondition{
				{Field: "level", Predicate: "equals", Value: "Warning"},
			}},
			{Name: "oom-critical", Severity: "critical", Conditions: []FieldCondition{
				{Field: "reason", Predicate: "equals", Value: "OOMKilling"},
				{Field: "level", Predicate: "equals", Value: "Warning"},
			}},
		},
	}}

	fields := map[string]string{"level": "Warning", "reason": "OOMKilling"}
	rule, matched := m.Match(fields)
	if !matched {
		t.Fatal("expected a match")
	}
	if rule.Name != "generic-warning" {
		t.Errorf("expected first matching rule generic-warning, got %s", rule.Name)
	}
}

func TestMatcher_IgnoreRulesEvaluatedFirst(t *testing.T) {
	m := &Matcher{set: RuleSet{
		IgnoreRules: []Rule{
			{Name: "ignore-succeeded", Conditions: []FieldCondition{
				{Field: "reason", Predicate: "equals", Value: "Completed"},
			}},
		},
	}}
	if !m.ShouldIgnore(map[string]string{"reason": "Completed"}) {
		t.Error("expected event to be ignored")
	}
	if m.ShouldIgnore(map[string]string{"reason": "Failed"}) {
		t.Error("expected event not to be ignored")
	}
}
