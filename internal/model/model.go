// Package model holds the tracker's documents and their places in the
// store: users/{uid}/rounds/{rid}/tasks/{tid} and
// users/{uid}/rounds/{rid}/todays/{day}/todayTasks/{tid}.
package model

import (
	"encoding/json"
	"errors"

	"remember/api/internal/docstore"
)

const (
	MaxRoundsPerUser    = 5
	MaxTasksPerRound    = 25
	MaxTimesOfDay       = 10
	MaxRoundNameLength  = 64
	MaxDescriptionLen   = 256
	MaxTimeOfDayLength  = 64
	MaxProfileImageSize = 5 << 20
)

const (
	CollectionUsers      = "users"
	CollectionRounds     = "rounds"
	CollectionTasks      = "tasks"
	CollectionTodays     = "todays"
	CollectionTodayTasks = "todayTasks"
)

var ErrCardinalityMismatch = errors.New("timesOfDay and timesOfDayCardinality do not describe a label set")

type User struct {
	ID          string   `json:"-"`
	RoundsIDs   []string `json:"roundsIds"`
	PhotoURL    string   `json:"photoUrl,omitempty"`
	Initialized bool     `json:"initialized,omitempty"`
	IsDarkMode  bool     `json:"isDarkMode,omitempty"`
	Disabled    bool     `json:"disabled,omitempty"`
}

type Round struct {
	ID         string
	Name       string
	TimesOfDay LabelCounts
	TasksIDs   []string
}

// roundDocument is the stored shape of a Round, labels and counts as
// index-aligned arrays.
type roundDocument struct {
	Name                  string   `json:"name"`
	TimesOfDay            []string `json:"timesOfDay"`
	TimesOfDayCardinality []int    `json:"timesOfDayCardinality"`
	TasksIDs              []string `json:"tasksIds"`
}

func (r Round) MarshalJSON() ([]byte, error) {
	return json.Marshal(roundDocument{
		Name:                  r.Name,
		TimesOfDay:            r.TimesOfDay.Labels(),
		TimesOfDayCardinality: r.TimesOfDay.Counts(),
		TasksIDs:              nonNil(r.TasksIDs),
	})
}

func (r *Round) UnmarshalJSON(data []byte) error {
	var doc roundDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	counts, ok := NewLabelCounts(doc.TimesOfDay, doc.TimesOfDayCardinality)
	if !ok {
		return ErrCardinalityMismatch
	}
	r.Name = doc.Name
	r.TimesOfDay = counts
	r.TasksIDs = doc.TasksIDs
	return nil
}

type Task struct {
	ID          string    `json:"-"`
	Description string    `json:"description"`
	Days        []Weekday `json:"days"`
	TimesOfDay  []string  `json:"timesOfDay"`
}

type Today struct {
	ID            Weekday  `json:"-"`
	TodayTasksIDs []string `json:"todayTasksIds"`
}

// TodayTask is the completion record of one task on one weekday. TimesOfDay
// maps each label to its done flag.
type TodayTask struct {
	ID          string          `json:"-"`
	Description string          `json:"description"`
	TimesOfDay  map[string]bool `json:"timesOfDay"`
	// LabelKeys maps a label to the exact key it is stored under when keys
	// are encrypted. Encoders reuse these keys so a label keeps its key.
	LabelKeys map[string]string `json:"-"`
}

func (t TodayTask) MarshalJSON() ([]byte, error) {
	type plain TodayTask
	p := plain(t)
	if p.TimesOfDay == nil {
		p.TimesOfDay = map[string]bool{}
	}
	return json.Marshal(p)
}

func (u User) MarshalJSON() ([]byte, error) {
	type plain User
	p := plain(u)
	p.RoundsIDs = nonNil(p.RoundsIDs)
	return json.Marshal(p)
}

func (t Task) MarshalJSON() ([]byte, error) {
	type plain Task
	p := plain(t)
	if p.Days == nil {
		p.Days = []Weekday{}
	}
	p.TimesOfDay = nonNil(p.TimesOfDay)
	return json.Marshal(p)
}

func (t Today) MarshalJSON() ([]byte, error) {
	type plain Today
	p := plain(t)
	p.TodayTasksIDs = nonNil(p.TodayTasksIDs)
	return json.Marshal(p)
}

func UserRef(uid string) docstore.Ref {
	return docstore.Doc(CollectionUsers, uid)
}

func RoundRef(uid, roundID string) docstore.Ref {
	return UserRef(uid).Doc(CollectionRounds, roundID)
}

func TaskRef(uid, roundID, taskID string) docstore.Ref {
	return RoundRef(uid, roundID).Doc(CollectionTasks, taskID)
}

func TodayRef(uid, roundID string, day Weekday) docstore.Ref {
	return RoundRef(uid, roundID).Doc(CollectionTodays, string(day))
}

func TodayTaskRef(uid, roundID string, day Weekday, taskID string) docstore.Ref {
	return TodayRef(uid, roundID, day).Doc(CollectionTodayTasks, taskID)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
