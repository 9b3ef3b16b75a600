package app

import (
	"context"
	"encoding/json"
	"fmt"

	"remember/api/internal/docstore"
	"remember/api/internal/fanout"
	"remember/api/internal/model"
	"remember/api/internal/seq"
	"remember/api/internal/txwrite"
	"remember/api/internal/validate"
)

// SetProgress marks one time of day of a task done or not done for a day.
func (s *Service) SetProgress(ctx context.Context, caller Caller, data json.RawMessage) (Result, error) {
	var req validate.SetProgress
	c, err := s.begin(caller, data, &req)
	if err != nil {
		return nil, err
	}

	err = s.transact(ctx, caller, c, func(t *txn) error {
		task, err := t.task(req.RoundID, req.TaskID)
		if err != nil {
			return err
		}
		if !seq.Contains(task.Days, req.Day) {
			return invalidArgument("", "The task is not scheduled on that day.")
		}
		if !seq.Contains(task.TimesOfDay, req.TimeOfDay) {
			return invalidArgument("Invalid time of day", "The task has no such time of day.")
		}
		todayTask, err := t.todayTask(req.RoundID, req.Day, req.TaskID)
		if err != nil {
			return err
		}
		if done, ok := todayTask.TimesOfDay[req.TimeOfDay]; ok && done == *req.Done {
			return nil
		}
		todayTask.TimesOfDay[req.TimeOfDay] = *req.Done
		t.writes.Set(model.TodayTaskRef(t.uid, req.RoundID, req.Day, req.TaskID), t.codec.EncodeTodayTask(todayTask))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return Result{"details": "Your progress has been updated."}, nil
}

// UnmarkToday resets every TodayTask of one day of a round to not done.
func (s *Service) UnmarkToday(ctx context.Context, caller Caller, data json.RawMessage) (Result, error) {
	var req validate.UnmarkToday
	c, err := s.begin(caller, data, &req)
	if err != nil {
		return nil, err
	}

	var reset int
	err = s.transact(ctx, caller, c, func(t *txn) error {
		n, err := s.unmark(t.ctx, t.tx, t.writes, t.uid, req.RoundID, req.TodayID)
		reset = n
		return err
	})
	if err != nil {
		return nil, err
	}
	return Result{"details": "Today tasks have been unmarked.", "todayTasks": reset}, nil
}

// ResetWeekday unmarks one day of one round on behalf of the nightly reset.
// It needs no key: done flags are rewritten without reading labels.
func (s *Service) ResetWeekday(ctx context.Context, uid, roundID string, day model.Weekday) (int, error) {
	var reset int
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		writes := txwrite.New(tx)
		n, err := s.unmark(ctx, tx, writes, uid, roundID, day)
		if err != nil {
			return err
		}
		reset = n
		return writes.Execute(ctx)
	})
	if err != nil {
		return 0, fmt.Errorf("reset %s of round %s: %w", day, roundID, err)
	}
	return reset, nil
}

// unmark stages a reset of every TodayTask under the Today of day. Documents
// that cannot be parsed are skipped.
func (s *Service) unmark(ctx context.Context, tx docstore.Tx, writes *txwrite.Buffer, uid, roundID string, day model.Weekday) (int, error) {
	refs, err := s.store.Children(ctx, model.TodayRef(uid, roundID, day), model.CollectionTodayTasks)
	if err != nil {
		return 0, fmt.Errorf("list today tasks: %w", err)
	}

	reset := 0
	for _, ref := range refs {
		snap, err := tx.Get(ctx, ref)
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", ref, err)
		}
		if !snap.Exists {
			continue
		}
		data, err := fanout.ResetProgress(snap.Data)
		if err != nil {
			s.log.Warn().Err(err).Str("ref", ref.Path()).Msg("skipping unreadable today task")
			continue
		}
		writes.Update(ref, data)
		reset++
	}
	return reset, nil
}
