package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"remember/api/internal/codec"
	"remember/api/internal/docstore"
	"remember/api/internal/fanout"
	"remember/api/internal/model"
	"remember/api/internal/seq"
	"remember/api/internal/util"
	"remember/api/internal/validate"
)

func (s *Service) CreateRound(ctx context.Context, caller Caller, data json.RawMessage) (Result, error) {
	var req validate.CreateRound
	c, err := s.begin(caller, data, &req)
	if err != nil {
		return nil, err
	}

	var roundID string
	err = s.transact(ctx, caller, c, func(t *txn) error {
		user, err := t.editableUser()
		if err != nil {
			return err
		}
		if len(user.RoundsIDs) >= model.MaxRoundsPerUser {
			return invalidArgument("", fmt.Sprintf("You can own up to %d rounds.", model.MaxRoundsPerUser))
		}

		roundID = util.NewID()
		round := model.Round{ID: roundID, Name: req.Round.Name}
		t.writes.Create(model.RoundRef(t.uid, roundID), t.codec.EncodeRound(round))

		user.RoundsIDs = append(user.RoundsIDs, roundID)
		t.writes.Set(model.UserRef(t.uid), t.codec.EncodeUser(user))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return Result{
		"details": "Your round has been created.",
		"round":   map[string]any{"id": roundID},
	}, nil
}

func (s *Service) UpdateRound(ctx context.Context, caller Caller, data json.RawMessage) (Result, error) {
	var req validate.UpdateRound
	c, err := s.begin(caller, data, &req)
	if err != nil {
		return nil, err
	}

	err = s.transact(ctx, caller, c, func(t *txn) error {
		round, err := t.round(req.Round.ID)
		if err != nil {
			return err
		}
		if round.Name == req.Round.Name {
			return nil
		}
		round.Name = req.Round.Name
		t.writes.Set(model.RoundRef(t.uid, round.ID), t.codec.EncodeRound(round))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return Result{"details": "Your round has been updated."}, nil
}

// DeleteRound removes a round with every task, Today and TodayTask under it
// and drops it from the user's round list. Tasks that are missing or cannot
// be read do not block the deletion.
func (s *Service) DeleteRound(ctx context.Context, caller Caller, data json.RawMessage) (Result, error) {
	var req validate.DeleteRound
	c, err := s.begin(caller, data, &req)
	if err != nil {
		return nil, err
	}

	err = s.transact(ctx, caller, c, func(t *txn) error {
		user, err := t.editableUser()
		if err != nil {
			return err
		}
		round, err := t.round(req.Round.ID)
		if err != nil {
			return err
		}

		tasks, probeAll, err := t.roundTasks(round)
		if err != nil {
			return err
		}
		days := fanout.UsedDays(tasks)
		if probeAll {
			days = model.Weekdays
		}
		todays, err := t.existingTodays(round.ID, days)
		if err != nil {
			return err
		}

		t.writes.DeleteAll(fanout.RoundTeardown(t.uid, round.ID, round.TasksIDs, tasks, todays))

		user.RoundsIDs = seq.Remove(user.RoundsIDs, round.ID)
		t.writes.Set(model.UserRef(t.uid), t.codec.EncodeUser(user))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return Result{"details": "Your round has been deleted."}, nil
}

// roundTasks reads the round's tasks, skipping missing ones. probeAll is set
// when some task could not be read, since its days are then unknown.
func (t *txn) roundTasks(round model.Round) (tasks []model.Task, probeAll bool, err error) {
	for _, id := range round.TasksIDs {
		if !docstore.ValidID(id) {
			continue
		}
		task, err := read(t, model.TaskRef(t.uid, round.ID, id), t.codec.DecodeTask)
		switch {
		case errors.Is(err, docstore.ErrNotFound):
		case errors.Is(err, codec.ErrUnreadable):
			probeAll = true
		case err != nil:
			return nil, false, err
		default:
			tasks = append(tasks, task)
		}
	}
	return tasks, probeAll, nil
}

// existingTodays reads the Todays of days that exist. A Today that cannot be
// read is still returned so it gets deleted, without its task list.
func (t *txn) existingTodays(roundID string, days []model.Weekday) ([]model.Today, error) {
	var todays []model.Today
	for _, day := range days {
		today, err := read(t, model.TodayRef(t.uid, roundID, day), t.codec.DecodeToday)
		switch {
		case errors.Is(err, docstore.ErrNotFound):
		case errors.Is(err, codec.ErrUnreadable):
			todays = append(todays, model.Today{ID: day})
		case err != nil:
			return nil, err
		default:
			todays = append(todays, today)
		}
	}
	return todays, nil
}

func (s *Service) MoveRound(ctx context.Context, caller Caller, data json.RawMessage) (Result, error) {
	var req validate.MoveRound
	c, err := s.begin(caller, data, &req)
	if err != nil {
		return nil, err
	}

	err = s.transact(ctx, caller, c, func(t *txn) error {
		user, err := t.editableUser()
		if err != nil {
			return err
		}
		if _, err := t.round(req.Round.ID); err != nil {
			return err
		}

		from := seq.Index(user.RoundsIDs, req.Round.ID)
		if from < 0 {
			return invalidArgument("", "Round is not in your list.")
		}
		to, err := seq.CheckMove(len(user.RoundsIDs), from, req.Move)
		if err != nil {
			return invalidArgument("", err.Error())
		}
		seq.Move(user.RoundsIDs, from, to)
		t.writes.Set(model.UserRef(t.uid), t.codec.EncodeUser(user))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return Result{"details": "Order has been updated."}, nil
}

// SetRoundsOrder replaces the user's round order. The new order must hold
// exactly the rounds the user has.
func (s *Service) SetRoundsOrder(ctx context.Context, caller Caller, data json.RawMessage) (Result, error) {
	var req validate.SetRoundsOrder
	c, err := s.begin(caller, data, &req)
	if err != nil {
		return nil, err
	}

	err = s.transact(ctx, caller, c, func(t *txn) error {
		user, err := t.editableUser()
		if err != nil {
			return err
		}
		if len(req.RoundsIDs) != len(user.RoundsIDs) || !seq.SameSet(req.RoundsIDs, user.RoundsIDs) {
			return invalidArgument("", "The new order must list exactly your rounds.")
		}
		if slices.Equal(req.RoundsIDs, user.RoundsIDs) {
			return nil
		}
		user.RoundsIDs = req.RoundsIDs
		t.writes.Set(model.UserRef(t.uid), t.codec.EncodeUser(user))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return Result{"details": "Order has been updated."}, nil
}
