package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/example/resale-repricer/internal/domain/bid"
	"github.com/example/resale-repricer/internal/internaltypes"
	"github.com/example/resale-repricer/internal/logging"
)

// SessionManager is the part of session.Authority the orchestrator drives.
type SessionManager interface {
	CredentialSource
	Restore(ctx context.Context) error
	Drop()
}

type Orchestrator struct {
	Source   bid.ItemSource
	Pool     *Pool
	Sessions SessionManager
	Notifier bid.Notifier // optional
	// Closers are flushed after the run (results ledger, failure log).
	Closers []io.Closer
	// URLTemplate fills empty item URLs; {sku} and {brand} are substituted.
	URLTemplate string
	Log         logrus.FieldLogger
}

func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	log := logging.Component(o.Log, "orchestrator")

	items, err := o.Source.Items(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load items: %w", err)
	}
	if err := FillURLs(items, o.URLTemplate); err != nil {
		return Summary{}, err
	}
	log.WithField("items", len(items)).Info("batch loaded")

	if err := o.Sessions.Restore(ctx); err != nil {
		log.WithError(err).Warn("session restore failed; will log in on demand")
	}
	defer o.Sessions.Drop()

	sum, runErr := o.Pool.Run(ctx, items)

	o.notify(log, sum, runErr)

	var closeErrs []error
	for _, c := range o.Closers {
		if err := c.Close(); err != nil {
			closeErrs = append(closeErrs, err)
		}
	}
	if err := errors.Join(closeErrs...); err != nil {
		logging.LogError(log, "orchestrator", "Close", nil, err)
		if runErr == nil {
			runErr = fmt.Errorf("flush results: %w", err)
		}
	}
	return sum, runErr
}

// notify reports the outcome; delivery problems never affect the run.
func (o *Orchestrator) notify(log *logrus.Entry, sum Summary, runErr error) {
	if o.Notifier == nil {
		return
	}
	ev := bid.Event{
		Kind:        bid.EventRunFinished,
		RunID:       sum.RunID,
		Total:       sum.Total,
		Succeeded:   sum.Succeeded,
		Failed:      sum.Failed,
		Interrupted: sum.Interrupted,
		NotStarted:  sum.NotStarted,
		Reasons:     sum.Reasons,
	}
	if runErr != nil && !errors.Is(runErr, internaltypes.ErrInterrupted) {
		ev.Kind = bid.EventRunAborted
		ev.Message = runErr.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.Notifier.Notify(ctx, ev); err != nil {
		log.WithError(err).Warn("notification failed")
	}
}

// FillURLs sets the product URL of items that have none.
func FillURLs(items []*bid.Item, template string) error {
	for _, it := range items {
		if it.URL != "" {
			continue
		}
		if template == "" {
			return fmt.Errorf("item %s has no URL and PRODUCT_URL_TEMPLATE is empty", it.ID)
		}
		it.URL = strings.NewReplacer(
			"{sku}", url.PathEscape(it.SKU),
			"{brand}", url.PathEscape(it.Brand),
		).Replace(template)
	}
	return nil
}
