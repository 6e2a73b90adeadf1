package events

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FieldCondition is one predicate within a rule, grounded on
// alert_rule_matcher.py's _match_field_condition. contains/not_contains/
// starts_with/not_starts_with/ends_with/not_ends_with/equals/not_equals are
// case-insensitive string predicates; greater_than/less_than/greater_equal/
// less_equal are numeric and apply only to the "count" field.
type FieldCondition struct {
	Field     string `json:"field"`
	Predicate string `json:"predicate"`
	Value     string `json:"value"`
}

// Rule is one ordered, first-match-wins alert rule.
type Rule struct {
	Name       string           `json:"name"`
	Severity   string           `json:"severity"`
	Conditions []FieldCondition `json:"conditions"`
}

// RuleSet is the top-level alert_rules.json shape: a global ignore list
// evaluated before any alert rule, then the ordered alert rules themselves.
type RuleSet struct {
	IgnoreRules []Rule `json:"ignore_rules"`
	AlertRules  []Rule `json:"alert_rules"`
}

// Matcher holds the live rule set plus hot-reload wiring. Grounded on
// AlertRuleMatcher, with reload driven by fsnotify (a jordigilh-kubernaut
// dependency) watching the rules file instead of requiring an explicit
// reload_rules() call from an operator action.
type Matcher struct {
	mu   sync.RWMutex
	path string
	set  RuleSet
	log  *zap.Logger

	matchedCount int64
	ignoredCount int64
}

func NewMatcher(path string, log *zap.Logger) (*Matcher, error) {
	m := &Matcher{path: path, log: log}
	if err := m.Load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Matcher) Load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("read alert rules %s: %w", m.path, err)
	}
	var set RuleSet
	if err := json.Unmarshal(data, &set); err != nil {
		return fmt.Errorf("parse alert rules %s: %w", m.path, err)
	}
	m.mu.Lock()
	m.set = set
	m.mu.Unlock()
	return nil
}

// Watch starts an fsnotify watch on the rules file and reloads on write,
// running until stop is closed.
func (m *Matcher) Watch(stop <-chan struct{}) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := w.Add(m.path); err != nil {
		w.Close()
		return fmt.Errorf("watch alert rules %s: %w", m.path, err)
	}
	go func() {
		defer w.Close()
		for {
			select {
			case <-stop:
				return
			case evt, ok := <-w.Events:
				if !ok {
					return
				}
				if evt.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if err := m.Load(); err != nil {
						m.log.Error("failed to reload alert rules", zap.Error(err))
					} else {
						m.log.Info("alert rules reloaded", zap.String("path", m.path))
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				m.log.Error("alert rule watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

// ShouldIgnore evaluates the global ignore rules first, matching
// should_ignore_event.
func (m *Matcher) ShouldIgnore(fields map[string]string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.set.IgnoreRules {
		if matchConditions(r.Conditions, fields) {
			return true
		}
	}
	return false
}

// Match runs the ordered alert rules and returns the first matching rule,
// matching match_alert_rules's first-match-wins semantics.
func (m *Matcher) Match(fields map[string]string) (Rule, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.set.AlertRules {
		if matchConditions(r.Conditions, fields) {
			m.matchedCount++
			return r, true
		}
	}
	m.ignoredCount++
	return Rule{}, false
}

func (m *Matcher) Stats() (matched, ignored int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.matchedCount, m.ignoredCount
}

func matchConditions(conds []FieldCondition, fields map[string]string) bool {
	for _, c := range conds {
		if !matchFieldCondition(c, fields) {
			return false
		}
	}
	return true
}

// matchFieldCondition implements _match_field_condition's missing-field
// semantics: a not_* predicate against a missing field is true (there is
// nothing to contain/start/end-with, so the negative holds); every other
// predicate against a missing field is false.
func matchFieldCondition(c FieldCondition, fields map[string]string) bool {
	value, present := fields[c.Field]
	negative := strings.HasPrefix(c.Predicate, "not_")
	if !present {
		return negative
	}

	if c.Field == "count" {
		return matchCountPredicate(c.Predicate, value, c.Value)
	}

	lv := strings.ToLower(value)
	lc := strings.ToLower(c.Value)
	switch c.Predicate {
	case "contains":
		return strings.Contains(lv, lc)
	case "not_contains":
		return !strings.Contains(lv, lc)
	case "starts_with":
		return strings.HasPrefix(lv, lc)
	case "not_starts_with":
		return !strings.HasPrefix(lv, lc)
	case "ends_with":
		return strings.HasSuffix(lv, lc)
	case "not_ends_with":
		return !strings.HasSuffix(lv, lc)
	case "equals":
		return lv == lc
	case "not_equals":
		return lv != lc
	default:
		return false
	}
}

func matchCountPredicate(predicate, actual, want string) bool {
	a, err1 := strconv.ParseFloat(actual, 64)
	w, err2 := strconv.ParseFloat(want, 64)
	if err1 != nil || err2 != nil {
		return false
	}
	switch predicate {
	case "greater_than":
		return a > w
	case "less_than":
		return a < w
	case "greater_equal":
		return a >= w
	case "less_equal":
		return a <= w
	case "equals":
		return a == w
	case "not_equals":
		return a != w
	default:
		return false
	}
}
