// Package fanout plans the Today and TodayTask writes that mirror a task's
// days and labels. Planning is pure: callers read the current documents,
// pass them in as State and buffer the returned writes.
package fanout

import (
	"encoding/json"
	"errors"
	"fmt"

	"remember/api/internal/docstore"
	"remember/api/internal/model"
	"remember/api/internal/seq"
)

var (
	ErrMissingToday     = errors.New("today document missing")
	ErrMissingTodayTask = errors.New("today task document missing")
)

// DayState is what the store holds for one weekday of a round.
type DayState struct {
	Today        model.Today
	Exists       bool
	TodayTask    model.TodayTask
	HasTodayTask bool
}

// State is keyed by weekday. Days not present are treated as absent.
type State map[model.Weekday]DayState

type Op int

const (
	OpSet Op = iota + 1
	OpCreate
	OpDelete
)

type TodayWrite struct {
	Op    Op
	Today model.Today
}

type TodayTaskWrite struct {
	Op        Op
	Day       model.Weekday
	TodayTask model.TodayTask
}

type Plan struct {
	Todays     []TodayWrite
	TodayTasks []TodayTaskWrite
}

// Days returns the weekdays whose documents must be read to plan a change
// from prev to next. Either may be nil for create or delete.
func Days(prev, next *model.Task) []model.Weekday {
	var days []model.Weekday
	if prev != nil {
		days = append(days, prev.Days...)
	}
	if next != nil {
		days = append(days, next.Days...)
	}
	return seq.Dedupe(days)
}

// NewTodayTask builds the completion record of task with every label not done.
func NewTodayTask(task model.Task) model.TodayTask {
	timesOfDay := make(map[string]bool, len(task.TimesOfDay))
	for _, label := range task.TimesOfDay {
		timesOfDay[label] = false
	}
	return model.TodayTask{ID: task.ID, Description: task.Description, TimesOfDay: timesOfDay}
}

// PlanCreate adds task to the Today of each of its days, creating the Today
// where needed, and creates one TodayTask per day.
func PlanCreate(task model.Task, state State) Plan {
	var plan Plan
	for _, day := range task.Days {
		plan.attach(task, day, state[day])
	}
	return plan
}

// PlanUpdate moves task from prev's days and labels to next's.
func PlanUpdate(prev, next model.Task, state State) (Plan, error) {
	var plan Plan
	for _, day := range seq.Difference(prev.Days, next.Days) {
		if err := plan.detach(next.ID, day, state[day]); err != nil {
			return Plan{}, err
		}
	}
	for _, day := range seq.Difference(next.Days, prev.Days) {
		plan.attach(next, day, state[day])
	}

	if seq.SameSet(prev.TimesOfDay, next.TimesOfDay) && prev.Description == next.Description {
		return plan, nil
	}
	for _, day := range seq.Intersection(prev.Days, next.Days) {
		ds := state[day]
		if !ds.HasTodayTask {
			return Plan{}, fmt.Errorf("%w: %s/%s", ErrMissingTodayTask, day, next.ID)
		}
		plan.TodayTasks = append(plan.TodayTasks, TodayTaskWrite{
			Op:        OpSet,
			Day:       day,
			TodayTask: Relabel(ds.TodayTask, next),
		})
	}
	return plan, nil
}

// PlanDelete removes task from the Today of each of its days, deleting a
// Today left without tasks, and deletes its TodayTasks.
func PlanDelete(task model.Task, state State) (Plan, error) {
	var plan Plan
	for _, day := range task.Days {
		if err := plan.detach(task.ID, day, state[day]); err != nil {
			return Plan{}, err
		}
	}
	return plan, nil
}

// Relabel carries the done flags of labels task still has over to a record
// with task's description and labels. New labels start not done.
func Relabel(current model.TodayTask, task model.Task) model.TodayTask {
	timesOfDay := make(map[string]bool, len(task.TimesOfDay))
	for _, label := range task.TimesOfDay {
		timesOfDay[label] = current.TimesOfDay[label]
	}
	return model.TodayTask{
		ID:          current.ID,
		Description: task.Description,
		TimesOfDay:  timesOfDay,
		LabelKeys:   current.LabelKeys,
	}
}

func (p *Plan) attach(task model.Task, day model.Weekday, ds DayState) {
	today := model.Today{ID: day}
	if ds.Exists {
		today.TodayTasksIDs = append(today.TodayTasksIDs, ds.Today.TodayTasksIDs...)
	}
	if !seq.Contains(today.TodayTasksIDs, task.ID) {
		today.TodayTasksIDs = append(today.TodayTasksIDs, task.ID)
	}
	p.Todays = append(p.Todays, TodayWrite{Op: OpSet, Today: today})

	todayTask := NewTodayTask(task)
	p.TodayTasks = append(p.TodayTasks, TodayTaskWrite{Op: OpCreate, Day: day, TodayTask: todayTask})
}

func (p *Plan) detach(taskID string, day model.Weekday, ds DayState) error {
	if !ds.Exists {
		return fmt.Errorf("%w: %s", ErrMissingToday, day)
	}
	remaining := seq.Remove(ds.Today.TodayTasksIDs, taskID)
	if len(remaining) == 0 {
		p.Todays = append(p.Todays, TodayWrite{Op: OpDelete, Today: model.Today{ID: day}})
	} else {
		p.Todays = append(p.Todays, TodayWrite{Op: OpSet, Today: model.Today{ID: day, TodayTasksIDs: remaining}})
	}
	p.TodayTasks = append(p.TodayTasks, TodayTaskWrite{Op: OpDelete, Day: day, TodayTask: model.TodayTask{ID: taskID}})
	return nil
}

// UsedDays is the union of the days of tasks, in week order.
func UsedDays(tasks []model.Task) []model.Weekday {
	used := seq.NewSet[model.Weekday]()
	for _, task := range tasks {
		for _, day := range task.Days {
			used.Add(day)
		}
	}
	days := make([]model.Weekday, 0, len(used))
	for _, day := range model.Weekdays {
		if used.Has(day) {
			days = append(days, day)
		}
	}
	return days
}

// RoundTeardown lists every document of a round in deletion order:
// TodayTasks, Todays, Tasks, then the Round. Each ref appears once. The
// TodayTasks are those listed by todays plus one per task and day.
func RoundTeardown(uid, roundID string, taskIDs []string, tasks []model.Task, todays []model.Today) []docstore.Ref {
	var (
		todayTasks []docstore.Ref
		todayRefs  []docstore.Ref
		taskRefs   []docstore.Ref
	)
	for _, today := range todays {
		todayRefs = append(todayRefs, model.TodayRef(uid, roundID, today.ID))
		for _, id := range today.TodayTasksIDs {
			if docstore.ValidID(id) {
				todayTasks = append(todayTasks, model.TodayTaskRef(uid, roundID, today.ID, id))
			}
		}
	}
	for _, task := range tasks {
		for _, day := range task.Days {
			todayTasks = append(todayTasks, model.TodayTaskRef(uid, roundID, day, task.ID))
		}
	}
	for _, id := range seq.Union(taskIDs, taskIDsOf(tasks)) {
		if docstore.ValidID(id) {
			taskRefs = append(taskRefs, model.TaskRef(uid, roundID, id))
		}
	}

	refs := seq.Dedupe(todayTasks)
	refs = append(refs, seq.Dedupe(todayRefs)...)
	refs = append(refs, seq.Dedupe(taskRefs)...)
	return append(refs, model.RoundRef(uid, roundID))
}

func taskIDsOf(tasks []model.Task) []string {
	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	return ids
}

// ResetProgress clears every done flag of a stored TodayTask document without
// interpreting its keys, so it works on encrypted documents too.
func ResetProgress(raw []byte) ([]byte, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode today task: %w", err)
	}
	var flags map[string]bool
	if encoded, ok := doc["timesOfDay"]; ok {
		if err := json.Unmarshal(encoded, &flags); err != nil {
			return nil, fmt.Errorf("decode today task flags: %w", err)
		}
	}
	for key := range flags {
		flags[key] = false
	}
	if flags == nil {
		flags = map[string]bool{}
	}
	encoded, err := json.Marshal(flags)
	if err != nil {
		return nil, err
	}
	doc["timesOfDay"] = encoded
	return json.Marshal(doc)
}
