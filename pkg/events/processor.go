package events

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/nikarhub/kubedoor/pkg/alertcache"
	"github.com/nikarhub/kubedoor/pkg/notifier"
	"github.com/nikarhub/kubedoor/pkg/store"
)

// severityEmoji mirrors _build_alert_info's message-template severity
// prefix.
var severityEmoji = map[string]string{
	"critical": "🔴",
	"warning":  "🟡",
	"info":     "🔵",
}

// Processor ties the rule matcher, the dedup cache, and the notifier
// transports together, grounded on EventAlertProcessor.process_event.
type Processor struct {
	matcher  *Matcher
	dedup    *alertcache.Cache
	notifier notifier.Notifier
	store    *store.Store
	log      *zap.Logger
}

func NewProcessor(matcher *Matcher, dedup *alertcache.Cache, n notifier.Notifier, st *store.Store, log *zap.Logger) *Processor {
	return &Processor{matcher: matcher, dedup: dedup, notifier: n, store: st, log: log}
}

// Process ingests one already-persisted event record: it skips DELETED
// events outright (hardcoded in the original), evaluates the ignore rules,
// then the alert rules, then dedups and notifies on a match, marking the
// event row as alerted in the store.
func (p *Processor) Process(ctx context.Context, e store.EventRecord) error {
	if e.EventStatus == "DELETED" {
		return nil
	}

	fields := recordFields(e)
	if p.matcher.ShouldIgnore(fields) {
		return nil
	}

	rule, matched := p.matcher.Match(fields)
	if !matched {
		return nil
	}

	if !p.dedup.ShouldAlert(e.EventUID) {
		p.log.Debug("alert suppressed by dedup window", zap.String("eventUid", e.EventUID))
		return nil
	}

	if err := p.store.MarkEventAlerted(ctx, e.EventUID); err != nil {
		p.log.Error("failed to mark event alerted", zap.Error(err))
	}

	msg := buildAlertMessage(rule, e)
	if err := p.notifier.Notify(ctx, msg); err != nil {
		return fmt.Errorf("notify alert for event %s: %w", e.EventUID, err)
	}
	return nil
}

func recordFields(e store.EventRecord) map[string]string {
	return map[string]string{
		"eventStatus":         e.EventStatus,
		"level":               e.Level,
		"kind":                e.Kind,
		"namespace":           e.Namespace,
		"name":                e.Name,
		"reason":              e.Reason,
		"message":             e.Message,
		"reportingComponent":  e.ReportingComponent,
		"reportingInstance":   e.ReportingInstance,
		"count":               strconv.Itoa(int(e.Count)),
	}
}

func buildAlertMessage(rule Rule, e store.EventRecord) string {
	emoji := severityEmoji[rule.Severity]
	if emoji == "" {
		emoji = "⚪"
	}
	return fmt.Sprintf("%s [%s] %s/%s\nreason: %s\nmessage: %s\nrule: %s",
		emoji, e.Kind, e.Namespace, e.Name, e.Reason, e.Message, rule.Name)
}
