// Package labels keeps a round's time-of-day labels and their reference
// counts in step with the round's tasks. Every function returns a new
// LabelCounts and leaves its input untouched.
package labels

import (
	"errors"
	"fmt"

	"remember/api/internal/model"
	"remember/api/internal/seq"
)

var (
	ErrTooManyLabels = errors.New("too many times of day")
	ErrUnknownLabel  = errors.New("time of day not in round")
)

// AddTask counts the labels of a new task: known labels are incremented,
// unknown ones appended with count 1.
func AddTask(current model.LabelCounts, taskLabels []string) (model.LabelCounts, error) {
	next := current.Clone()
	for _, label := range seq.Dedupe(taskLabels) {
		next = increment(next, label)
	}
	if len(next) > model.MaxTimesOfDay {
		return nil, fmt.Errorf("%w: %d, at most %d", ErrTooManyLabels, len(next), model.MaxTimesOfDay)
	}
	return next, nil
}

// UpdateTask applies the difference between a task's old and new labels.
// Labels whose count drops to zero are removed.
func UpdateTask(current model.LabelCounts, oldLabels, newLabels []string) (model.LabelCounts, error) {
	next := current.Clone()
	var err error
	for _, label := range seq.Difference(seq.Dedupe(oldLabels), newLabels) {
		if next, err = decrement(next, label); err != nil {
			return nil, err
		}
	}
	for _, label := range seq.Difference(seq.Dedupe(newLabels), oldLabels) {
		next = increment(next, label)
	}
	if len(next) > model.MaxTimesOfDay {
		return nil, fmt.Errorf("%w: %d, at most %d", ErrTooManyLabels, len(next), model.MaxTimesOfDay)
	}
	return next, nil
}

// RemoveTask uncounts every label of a deleted task.
func RemoveTask(current model.LabelCounts, taskLabels []string) (model.LabelCounts, error) {
	return UpdateTask(current, taskLabels, nil)
}

// Move shifts label by delta positions, carrying its count along.
func Move(current model.LabelCounts, label string, delta int) (model.LabelCounts, error) {
	from := current.Index(label)
	if from < 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLabel, label)
	}
	to, err := seq.CheckMove(len(current), from, delta)
	if err != nil {
		return nil, err
	}
	next := current.Clone()
	seq.Move(next, from, to)
	return next, nil
}

// Tally recounts labels from scratch over task label sets, in first-use
// order. It is the reference the incremental functions must agree with.
func Tally(tasks [][]string) model.LabelCounts {
	var out model.LabelCounts
	for _, taskLabels := range tasks {
		for _, label := range seq.Dedupe(taskLabels) {
			out = increment(out, label)
		}
	}
	return out
}

func increment(lc model.LabelCounts, label string) model.LabelCounts {
	if i := lc.Index(label); i >= 0 {
		lc[i].Count++
		return lc
	}
	return append(lc, model.LabelCount{Label: label, Count: 1})
}

func decrement(lc model.LabelCounts, label string) (model.LabelCounts, error) {
	i := lc.Index(label)
	if i < 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLabel, label)
	}
	if lc[i].Count > 1 {
		lc[i].Count--
		return lc, nil
	}
	return append(lc[:i], lc[i+1:]...), nil
}
