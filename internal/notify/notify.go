// Package notify reports finished runs to the operator.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/example/resale-repricer/internal/domain/bid"
	"github.com/example/resale-repricer/internal/logging"
)

// Summary renders ev as a short human-readable message.
func Summary(ev bid.Event) string {
	var b strings.Builder
	switch ev.Kind {
	case bid.EventRunAborted:
		fmt.Fprintf(&b, "repricing run %s aborted", ev.RunID)
	default:
		fmt.Fprintf(&b, "repricing run %s finished", ev.RunID)
	}
	fmt.Fprintf(&b, ": %d/%d succeeded, %d failed", ev.Succeeded, ev.Total, ev.Failed)
	if ev.Interrupted > 0 {
		fmt.Fprintf(&b, ", %d interrupted", ev.Interrupted)
	}
	if ev.NotStarted > 0 {
		fmt.Fprintf(&b, ", %d not started", ev.NotStarted)
	}
	if len(ev.Reasons) > 0 {
		keys := make([]string, 0, len(ev.Reasons))
		for k := range ev.Reasons {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%d", k, ev.Reasons[k]))
		}
		fmt.Fprintf(&b, " (%s)", strings.Join(parts, ", "))
	}
	if ev.Message != "" {
		fmt.Fprintf(&b, ": %s", ev.Message)
	}
	return b.String()
}

// LogNotifier writes events to the log.
type LogNotifier struct {
	Log logrus.FieldLogger
}

func (n LogNotifier) Notify(_ context.Context, ev bid.Event) error {
	entry := logging.Component(n.Log, "notify").WithFields(logrus.Fields{
		"run":         ev.RunID,
		"kind":        ev.Kind,
		"total":       ev.Total,
		"succeeded":   ev.Succeeded,
		"failed":      ev.Failed,
		"interrupted": ev.Interrupted,
		"not_started": ev.NotStarted,
	})
	if ev.Kind == bid.EventRunAborted {
		entry.Error(Summary(ev))
	} else {
		entry.Info(Summary(ev))
	}
	return nil
}

// WebhookNotifier posts events as JSON to a chat-bot style webhook. The
// payload carries a "text" line for chat clients and the raw event.
type WebhookNotifier struct {
	URL string
	hc  *http.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{URL: url, hc: &http.Client{Timeout: 5 * time.Second}}
}

type webhookPayload struct {
	Text  string    `json:"text"`
	Event bid.Event `json:"event"`
}

func (n *WebhookNotifier) Notify(ctx context.Context, ev bid.Event) error {
	body, err := json.Marshal(webhookPayload{Text: Summary(ev), Event: ev})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("content-type", "application/json")

	res, err := n.hc.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("webhook returned status=%d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []bid.Notifier

func (m Multi) Notify(ctx context.Context, ev bid.Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
