package validate

import (
	"strings"

	"remember/api/internal/model"
	"remember/api/internal/seq"
)

type RoundName struct {
	Name string `json:"name" validate:"min=1,max=64"`
}

type RoundID struct {
	ID string `json:"id" validate:"docid"`
}

type RoundIDName struct {
	ID   string `json:"id" validate:"docid"`
	Name string `json:"name" validate:"min=1,max=64"`
}

type TaskID struct {
	ID string `json:"id" validate:"docid"`
}

type TaskFields struct {
	Description string          `json:"description" validate:"min=1,max=256"`
	Days        []model.Weekday `json:"days" validate:"min=1,max=7,dive,oneof=mon tue wed thu fri sat sun"`
	TimesOfDay  []string        `json:"timesOfDay" validate:"min=1,max=10,dive,min=1,max=64"`
}

func (t *TaskFields) normalize() {
	t.Description = Text(t.Description)
	t.Days = dedupeDays(t.Days)
	t.TimesOfDay = TextList(t.TimesOfDay)
}

type TaskWithID struct {
	ID string `json:"id" validate:"docid"`
	TaskFields
}

type CreateRound struct {
	Round RoundName `json:"round"`
}

func (r *CreateRound) Normalize() { r.Round.Name = Text(r.Round.Name) }

type UpdateRound struct {
	Round RoundIDName `json:"round"`
}

func (r *UpdateRound) Normalize() { r.Round.Name = Text(r.Round.Name) }

type DeleteRound struct {
	Round RoundID `json:"round"`
}

func (r *DeleteRound) Normalize() {}

type MoveRound struct {
	Move  int     `json:"move" validate:"required"`
	Round RoundID `json:"round"`
}

func (r *MoveRound) Normalize() {}

type SetRoundsOrder struct {
	RoundsIDs []string `json:"roundsIds" validate:"max=5,dive,docid"`
}

func (r *SetRoundsOrder) Normalize() {
	if r.RoundsIDs == nil {
		r.RoundsIDs = []string{}
	}
}

type CreateTask struct {
	Round RoundID    `json:"round"`
	Task  TaskFields `json:"task"`
}

func (r *CreateTask) Normalize() { r.Task.normalize() }

type UpdateTask struct {
	Round RoundID    `json:"round"`
	Task  TaskWithID `json:"task"`
}

func (r *UpdateTask) Normalize() { r.Task.normalize() }

type DeleteTask struct {
	Round RoundID `json:"round"`
	Task  TaskID  `json:"task"`
}

func (r *DeleteTask) Normalize() {}

type MoveTimesOfDay struct {
	RoundID   string `json:"roundId" validate:"docid"`
	TimeOfDay string `json:"timeOfDay" validate:"min=1,max=64"`
	MoveBy    int    `json:"moveBy" validate:"required"`
}

func (r *MoveTimesOfDay) Normalize() { r.TimeOfDay = Text(r.TimeOfDay) }

type SetProgress struct {
	RoundID   string        `json:"roundId" validate:"docid"`
	Day       model.Weekday `json:"day" validate:"oneof=mon tue wed thu fri sat sun"`
	TaskID    string        `json:"taskId" validate:"docid"`
	TimeOfDay string        `json:"timeOfDay" validate:"min=1,max=64"`
	Done      *bool         `json:"done" validate:"required"`
}

func (r *SetProgress) Normalize() { r.TimeOfDay = Text(r.TimeOfDay) }

type UnmarkToday struct {
	RoundID string        `json:"roundId" validate:"docid"`
	TodayID model.Weekday `json:"todayId" validate:"oneof=mon tue wed thu fri sat sun"`
}

func (r *UnmarkToday) Normalize() {}

type UploadProfileImage struct {
	ImageDataURL string `json:"imageDataURL" validate:"required,startswith=data:image/"`
}

func (r *UploadProfileImage) Normalize() { r.ImageDataURL = strings.TrimSpace(r.ImageDataURL) }

func dedupeDays(days []model.Weekday) []model.Weekday {
	if days == nil {
		return nil
	}
	return seq.Dedupe(days)
}
