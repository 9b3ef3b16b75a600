// Package schedule runs the nightly job that unmarks the day that just ended
// in every round, so each weekday starts fresh the next time it comes round.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"remember/api/internal/docstore"
	"remember/api/internal/model"
)

const runTimeout = 10 * time.Minute

type lister interface {
	Children(ctx context.Context, parent docstore.Ref, collection string) ([]docstore.Ref, error)
}

type weekdayResetter interface {
	ResetWeekday(ctx context.Context, uid, roundID string, day model.Weekday) (int, error)
}

type Summary struct {
	Day        model.Weekday
	Rounds     int
	TodayTasks int
	Failed     int
}

// Resetter wraps a cron scheduler running the reset.
type Resetter struct {
	cron   *cron.Cron
	store  lister
	target weekdayResetter
	loc    *time.Location
	log    zerolog.Logger
	now    func() time.Time
}

func NewResetter(store lister, target weekdayResetter, loc *time.Location, log zerolog.Logger) *Resetter {
	if loc == nil {
		loc = time.UTC
	}
	return &Resetter{
		cron:   cron.New(cron.WithLocation(loc)),
		store:  store,
		target: target,
		loc:    loc,
		log:    log,
		now:    time.Now,
	}
}

// Schedule registers the reset under a standard five-field cron spec.
func (r *Resetter) Schedule(spec string) (cron.EntryID, error) {
	id, err := r.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		if _, err := r.RunOnce(ctx); err != nil {
			r.log.Error().Err(err).Msg("nightly reset failed")
		}
	})
	if err != nil {
		return 0, fmt.Errorf("schedule reset %q: %w", spec, err)
	}
	return id, nil
}

func (r *Resetter) Start() {
	r.cron.Start()
}

func (r *Resetter) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

// RunOnce unmarks yesterday's Today in every round of every user. A round
// that fails is logged and counted, the rest still run.
func (r *Resetter) RunOnce(ctx context.Context) (Summary, error) {
	summary := Summary{Day: model.WeekdayOf(r.now().In(r.loc).AddDate(0, 0, -1))}

	users, err := r.store.Children(ctx, docstore.Ref{}, model.CollectionUsers)
	if err != nil {
		return summary, fmt.Errorf("list users: %w", err)
	}
	for _, user := range users {
		rounds, err := r.store.Children(ctx, user, model.CollectionRounds)
		if err != nil {
			return summary, fmt.Errorf("list rounds of %s: %w", user, err)
		}
		for _, round := range rounds {
			n, err := r.target.ResetWeekday(ctx, user.ID(), round.ID(), summary.Day)
			if err != nil {
				summary.Failed++
				r.log.Error().Err(err).Str("uid", user.ID()).Str("round_id", round.ID()).Msg("reset failed")
				continue
			}
			summary.Rounds++
			summary.TodayTasks += n
		}
	}

	r.log.Info().
		Str("day", string(summary.Day)).
		Int("rounds", summary.Rounds).
		Int("today_tasks", summary.TodayTasks).
		Int("failed", summary.Failed).
		Msg("nightly reset done")
	return summary, nil
}
