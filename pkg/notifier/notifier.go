// Package notifier implements C5's pluggable alert transports, grounded on
// original_source/src/kubedoor-master/utils.py's wecom/dingding/feishu/slack
// functions.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/multierr"
)

// Notifier delivers an already-formatted alert message to one or more
// destinations.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Multi fans a message out to every configured transport and aggregates
// any failures, so a single dead webhook doesn't block the others.
type Multi struct {
	Transports []Notifier
}

func (m Multi) Notify(ctx context.Context, message string) error {
	var errs error
	for _, t := range m.Transports {
		if err := t.Notify(ctx, message); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

// Wecom posts to a WeCom (企业微信) bot webhook. No pack library covers
// this vendor-specific bot-webhook shape, so it stays on net/http
// deliberately (see DESIGN.md).
type Wecom struct{ WebhookURL string }

func (w Wecom) Notify(ctx context.Context, message string) error {
	if w.WebhookURL == "" {
		return nil
	}
	return postJSON(ctx, w.WebhookURL, map[string]interface{}{
		"msgtype": "text",
		"text":    map[string]string{"content": message},
	})
}

// Dingding posts to a DingTalk bot webhook.
type Dingding struct{ WebhookURL string }

func (d Dingding) Notify(ctx context.Context, message string) error {
	if d.WebhookURL == "" {
		return nil
	}
	return postJSON(ctx, d.WebhookURL, map[string]interface{}{
		"msgtype": "text",
		"text":    map[string]string{"content": message},
	})
}

// Feishu posts to a Feishu/Lark bot webhook.
type Feishu struct{ WebhookURL string }

func (f Feishu) Notify(ctx context.Context, message string) error {
	if f.WebhookURL == "" {
		return nil
	}
	return postJSON(ctx, f.WebhookURL, map[string]interface{}{
		"msg_type": "text",
		"content":  map[string]string{"text": message},
	})
}

// Slack posts to an incoming webhook using slack-go/slack's own helper,
// replacing the original's raw requests.post Slack path with the
// ecosystem's client.
type Slack struct{ WebhookURL string }

func (s Slack) Notify(ctx context.Context, message string) error {
	if s.WebhookURL == "" {
		return nil
	}
	return slack.PostWebhookContext(ctx, s.WebhookURL, &slack.WebhookMessage{Text: message})
}

func postJSON(ctx context.Context, url string, body interface{}) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal notifier payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("build notifier request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post notifier webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notifier webhook returned status %d", resp.StatusCode)
	}
	return nil
}
