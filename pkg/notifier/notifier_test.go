package notifier

import (
	"context"
	"errors"
	"testing"
)

type stubNotifier struct {
	err error
}

func (s stubNotifier) Notify(ctx context.Context, message string) error {
	return s.err
}

func TestMulti_AggregatesAllFailures(t *testing.T) {
	errA := errors.New("wecom down")
	errB := errors.New("dingding down")
	m := Multi{Transports: []Notifier{
		stubNotifier{err: errA},
		stubNotifier{},
		stubNotifier{err: errB},
	}}
	err := m.Notify(context.Background(), "alert")
	if err == nil {
		t.Fatal("expected an aggregated error")
	}
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("expected both underlying errors in the aggregate, got: %v", err)
	}
}

func TestMulti_NilWhenAllSucceed(t *testing.T) {
	m := Multi{Transports: []Notifier{stubNotifier{}, stubNotifier{}}}
	if err := m.Notify(context.Background(), "alert"); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestWecom_NoOpWhenWebhookUnset(t *testing.T) {
	w := Wecom{}
	if err := w.Notify(context.Background(), "alert"); err != nil {
		t.Errorf("expected a no-op when WebhookURL is empty, got %v", err)
	}
}
