package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/example/resale-repricer/internal/internaltypes"
	"github.com/example/resale-repricer/internal/logging"
)

// Repeater runs a repricing round immediately and then once per Interval
// until ctx ends. Rounds never overlap; ticks that fire during a round are
// dropped.
type Repeater struct {
	Round    func(ctx context.Context) (Summary, error)
	Interval time.Duration // <= 0 runs a single round
	// Rounds caps the number of rounds; 0 repeats until cancelled.
	Rounds    int
	OnSummary func(Summary) // optional
	Log       logrus.FieldLogger
}

// Run returns the last round's error once the round cap is reached, or
// ctx.Err() when cancelled. A failing round is logged and the next one still
// runs, except for session failures, which end the loop.
func (r *Repeater) Run(ctx context.Context) error {
	log := logging.Component(r.Log, "repeater")

	n := 0
	once := func() error {
		n++
		sum, err := r.Round(ctx)
		if r.OnSummary != nil {
			r.OnSummary(sum)
		}
		if err != nil && ctx.Err() == nil {
			log.WithError(err).WithField("round", n).Error("round failed")
		}
		return err
	}

	// kick immediately
	err := once()
	if ctx.Err() != nil || r.Interval <= 0 || r.done(n, err) {
		return err
	}

	t := time.NewTicker(r.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			err = once()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if r.done(n, err) {
				return err
			}
		}
	}
}

func (r *Repeater) done(n int, err error) bool {
	var se *internaltypes.SessionError
	return (r.Rounds > 0 && n >= r.Rounds) || errors.As(err, &se)
}
