package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"remember/api/internal/fanout"
	"remember/api/internal/labels"
	"remember/api/internal/model"
	"remember/api/internal/seq"
	"remember/api/internal/util"
	"remember/api/internal/validate"
)

// labelErr maps a cardinality failure. Too many labels is the caller's
// doing; anything else means the stored round is inconsistent.
func labelErr(err error) error {
	switch {
	case errors.Is(err, labels.ErrTooManyLabels):
		return invalidArgument("", fmt.Sprintf("A round can have up to %d times of day.", model.MaxTimesOfDay))
	case errors.Is(err, seq.ErrInvalidMove):
		return invalidArgument("", err.Error())
	}
	return err
}

func (s *Service) CreateTask(ctx context.Context, caller Caller, data json.RawMessage) (Result, error) {
	var req validate.CreateTask
	c, err := s.begin(caller, data, &req)
	if err != nil {
		return nil, err
	}

	var taskID string
	err = s.transact(ctx, caller, c, func(t *txn) error {
		round, err := t.round(req.Round.ID)
		if err != nil {
			return err
		}
		if len(round.TasksIDs) >= model.MaxTasksPerRound {
			return invalidArgument("", fmt.Sprintf("A round can have up to %d tasks.", model.MaxTasksPerRound))
		}
		timesOfDay, err := labels.AddTask(round.TimesOfDay, req.Task.TimesOfDay)
		if err != nil {
			return labelErr(err)
		}

		taskID = util.NewID()
		task := model.Task{
			ID:          taskID,
			Description: req.Task.Description,
			Days:        req.Task.Days,
			TimesOfDay:  req.Task.TimesOfDay,
		}
		state, err := t.dayState(round.ID, task.Days, task.ID, false)
		if err != nil {
			return err
		}

		t.writes.Create(model.TaskRef(t.uid, round.ID, task.ID), t.codec.EncodeTask(task))
		t.apply(round.ID, fanout.PlanCreate(task, state))

		round.TimesOfDay = timesOfDay
		round.TasksIDs = append(seq.Remove(round.TasksIDs, task.ID), task.ID)
		t.writes.Set(model.RoundRef(t.uid, round.ID), t.codec.EncodeRound(round))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return Result{"details": "Your task has been created.", "taskId": taskID}, nil
}

func (s *Service) UpdateTask(ctx context.Context, caller Caller, data json.RawMessage) (Result, error) {
	var req validate.UpdateTask
	c, err := s.begin(caller, data, &req)
	if err != nil {
		return nil, err
	}

	err = s.transact(ctx, caller, c, func(t *txn) error {
		round, err := t.round(req.Round.ID)
		if err != nil {
			return err
		}
		prev, err := t.task(round.ID, req.Task.ID)
		if err != nil {
			return err
		}
		next := model.Task{
			ID:          prev.ID,
			Description: req.Task.Description,
			Days:        req.Task.Days,
			TimesOfDay:  req.Task.TimesOfDay,
		}

		timesOfDay, err := labels.UpdateTask(round.TimesOfDay, prev.TimesOfDay, next.TimesOfDay)
		if err != nil {
			return labelErr(err)
		}
		state, err := t.dayState(round.ID, fanout.Days(&prev, &next), next.ID, true)
		if err != nil {
			return err
		}
		plan, err := fanout.PlanUpdate(prev, next, state)
		if err != nil {
			return planErr(err)
		}

		t.writes.Set(model.TaskRef(t.uid, round.ID, next.ID), t.codec.EncodeTask(next))
		t.apply(round.ID, plan)
		if !timesOfDay.Equal(round.TimesOfDay) {
			round.TimesOfDay = timesOfDay
			t.writes.Set(model.RoundRef(t.uid, round.ID), t.codec.EncodeRound(round))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return Result{"details": "Your task has been updated."}, nil
}

// DeleteTask removes a task, its TodayTasks and its place in the Todays and
// uncounts its labels on the round.
func (s *Service) DeleteTask(ctx context.Context, caller Caller, data json.RawMessage) (Result, error) {
	var req validate.DeleteTask
	c, err := s.begin(caller, data, &req)
	if err != nil {
		return nil, err
	}

	err = s.transact(ctx, caller, c, func(t *txn) error {
		round, err := t.round(req.Round.ID)
		if err != nil {
			return err
		}
		task, err := t.task(round.ID, req.Task.ID)
		if err != nil {
			return err
		}

		timesOfDay, err := labels.RemoveTask(round.TimesOfDay, task.TimesOfDay)
		if err != nil {
			return labelErr(err)
		}
		state, err := t.dayState(round.ID, task.Days, task.ID, false)
		if err != nil {
			return err
		}
		plan, err := fanout.PlanDelete(task, state)
		if err != nil {
			return planErr(err)
		}

		t.writes.Delete(model.TaskRef(t.uid, round.ID, task.ID))
		t.apply(round.ID, plan)

		round.TimesOfDay = timesOfDay
		round.TasksIDs = seq.Remove(round.TasksIDs, task.ID)
		t.writes.Set(model.RoundRef(t.uid, round.ID), t.codec.EncodeRound(round))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return Result{"details": "Your task has been deleted."}, nil
}

// MoveTimesOfDay moves one label of a round, with its count, by moveBy
// positions.
func (s *Service) MoveTimesOfDay(ctx context.Context, caller Caller, data json.RawMessage) (Result, error) {
	var req validate.MoveTimesOfDay
	c, err := s.begin(caller, data, &req)
	if err != nil {
		return nil, err
	}

	err = s.transact(ctx, caller, c, func(t *txn) error {
		round, err := t.round(req.RoundID)
		if err != nil {
			return err
		}
		timesOfDay, err := labels.Move(round.TimesOfDay, req.TimeOfDay, req.MoveBy)
		if errors.Is(err, labels.ErrUnknownLabel) {
			return invalidArgument("", "The round has no such time of day.")
		}
		if err != nil {
			return labelErr(err)
		}
		round.TimesOfDay = timesOfDay
		t.writes.Set(model.RoundRef(t.uid, round.ID), t.codec.EncodeRound(round))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return Result{"details": "Times of day order has been updated."}, nil
}
