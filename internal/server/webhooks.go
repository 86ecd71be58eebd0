package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"liahona/internal/config"
	"liahona/internal/observability"
	"liahona/internal/realtime"
)

const defaultWebhookTimeout = 5 * time.Second

// WebhookForwarder POSTs every fan-out event to the configured endpoints
// whose filters match. Delivery is best effort: failures are logged and
// counted, never retried.
type WebhookForwarder struct {
	hooks   []config.WebhookConfig
	filters []webhookFilter
	sub     *realtime.Subscription
	client  *http.Client
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewWebhookForwarder subscribes to the wildcard topic immediately; call Run
// to start delivering. Disabled hooks and hooks without a URL are skipped.
func NewWebhookForwarder(bus *realtime.Bus, hooks []config.WebhookConfig, metrics *observability.Metrics, logger *slog.Logger) *WebhookForwarder {
	if logger == nil {
		logger = slog.Default()
	}
	f := &WebhookForwarder{
		client:  &http.Client{Timeout: defaultWebhookTimeout},
		metrics: metrics,
		logger:  logger,
	}
	for _, hook := range hooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		f.hooks = append(f.hooks, hook)
		f.filters = append(f.filters, webhookFilter{
			events:   newStringSet(hook.Events),
			projects: newStringSet(hook.Projects),
		})
	}
	f.sub = bus.Subscribe(realtime.Wildcard)
	return f
}

// Hooks reports how many endpoints are active.
func (f *WebhookForwarder) Hooks() int { return len(f.hooks) }

// Run delivers events until ctx is done or the bus closes the subscription.
func (f *WebhookForwarder) Run(ctx context.Context) {
	defer f.sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-f.sub.C:
			if !ok {
				return
			}
			f.deliver(ctx, evt)
		}
	}
}

func (f *WebhookForwarder) deliver(ctx context.Context, evt realtime.Event) {
	for i, hook := range f.hooks {
		if !f.filters[i].match(evt) {
			continue
		}
		if err := f.post(ctx, hook, evt); err != nil {
			f.metrics.ObserveWebhook("failed")
			f.logger.Warn("webhook delivery failed", "url", hook.URL, "event", evt.Type, "err", err)
			continue
		}
		f.metrics.ObserveWebhook("delivered")
	}
}

func (f *WebhookForwarder) post(ctx context.Context, hook config.WebhookConfig, evt realtime.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Liahona-Event", evt.Type)
	req.Header.Set("X-Liahona-Delivery", strconv.FormatInt(evt.ID, 10))
	req.Header.Set("X-Liahona-Project", evt.ProjectID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Liahona-Secret", hook.Secret)
	}
	res, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type webhookFilter struct {
	events   stringSet
	projects stringSet
}

func (f webhookFilter) match(evt realtime.Event) bool {
	return f.events.match(evt.Type) && f.projects.match(evt.ProjectID)
}

// stringSet matches everything when empty.
type stringSet map[string]struct{}

func newStringSet(items []string) stringSet {
	set := stringSet{}
	for _, item := range items {
		key := strings.TrimSpace(item)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	return set
}

func (s stringSet) match(v string) bool {
	if len(s) == 0 {
		return true
	}
	_, ok := s[v]
	return ok
}
