package fanout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remember/api/internal/docstore"
	"remember/api/internal/model"
)

func drinkWater() model.Task {
	return model.Task{
		ID:          "t1",
		Description: "Drink water",
		Days:        []model.Weekday{model.Monday, model.Wednesday},
		TimesOfDay:  []string{"atDawn"},
	}
}

func TestPlanCreateFreshRound(t *testing.T) {
	plan := PlanCreate(drinkWater(), State{})

	require.Len(t, plan.Todays, 2)
	assert.Equal(t, TodayWrite{Op: OpSet, Today: model.Today{ID: model.Monday, TodayTasksIDs: []string{"t1"}}}, plan.Todays[0])
	assert.Equal(t, model.Wednesday, plan.Todays[1].Today.ID)

	require.Len(t, plan.TodayTasks, 2)
	for _, w := range plan.TodayTasks {
		assert.Equal(t, OpCreate, w.Op)
		assert.Equal(t, "Drink water", w.TodayTask.Description)
		assert.Equal(t, map[string]bool{"atDawn": false}, w.TodayTask.TimesOfDay)
	}
}

func TestPlanCreateAppendsToExistingToday(t *testing.T) {
	state := State{model.Monday: {Exists: true, Today: model.Today{ID: model.Monday, TodayTasksIDs: []string{"t0"}}}}
	plan := PlanCreate(drinkWater(), state)
	assert.Equal(t, []string{"t0", "t1"}, plan.Todays[0].Today.TodayTasksIDs)
}

func TestPlanUpdateAddsLabelPreservingProgress(t *testing.T) {
	prev := drinkWater()
	next := prev
	next.TimesOfDay = []string{"atDawn", "morning"}

	state := State{}
	for _, day := range prev.Days {
		state[day] = DayState{
			Exists:       true,
			Today:        model.Today{ID: day, TodayTasksIDs: []string{"t1"}},
			HasTodayTask: true,
			TodayTask:    model.TodayTask{ID: "t1", Description: "Drink water", TimesOfDay: map[string]bool{"atDawn": true}},
		}
	}

	plan, err := PlanUpdate(prev, next, state)
	require.NoError(t, err)
	assert.Empty(t, plan.Todays)
	require.Len(t, plan.TodayTasks, 2)
	for _, w := range plan.TodayTasks {
		assert.Equal(t, OpSet, w.Op)
		assert.Equal(t, map[string]bool{"atDawn": true, "morning": false}, w.TodayTask.TimesOfDay)
	}
}

func TestPlanUpdateMovesDays(t *testing.T) {
	prev := drinkWater()
	next := prev
	next.Days = []model.Weekday{model.Wednesday, model.Friday}

	state := State{
		model.Monday:    {Exists: true, Today: model.Today{ID: model.Monday, TodayTasksIDs: []string{"t1"}}},
		model.Wednesday: {Exists: true, Today: model.Today{ID: model.Wednesday, TodayTasksIDs: []string{"t1", "t2"}}},
	}
	plan, err := PlanUpdate(prev, next, state)
	require.NoError(t, err)

	assert.Equal(t, []TodayWrite{
		{Op: OpDelete, Today: model.Today{ID: model.Monday}},
		{Op: OpSet, Today: model.Today{ID: model.Friday, TodayTasksIDs: []string{"t1"}}},
	}, plan.Todays)
	require.Len(t, plan.TodayTasks, 2)
	assert.Equal(t, OpDelete, plan.TodayTasks[0].Op)
	assert.Equal(t, model.Monday, plan.TodayTasks[0].Day)
	assert.Equal(t, OpCreate, plan.TodayTasks[1].Op)
	assert.Equal(t, model.Friday, plan.TodayTasks[1].Day)
}

func TestPlanUpdateRemovedDayKeepsSharedToday(t *testing.T) {
	prev := drinkWater()
	next := prev
	next.Days = []model.Weekday{model.Wednesday}

	state := State{
		model.Monday:    {Exists: true, Today: model.Today{ID: model.Monday, TodayTasksIDs: []string{"t0", "t1"}}},
		model.Wednesday: {Exists: true, Today: model.Today{ID: model.Wednesday, TodayTasksIDs: []string{"t1"}}},
	}
	plan, err := PlanUpdate(prev, next, state)
	require.NoError(t, err)
	assert.Equal(t, []TodayWrite{{Op: OpSet, Today: model.Today{ID: model.Monday, TodayTasksIDs: []string{"t0"}}}}, plan.Todays)
}

func TestPlanUpdateMissingTodayTask(t *testing.T) {
	prev := drinkWater()
	next := prev
	next.Description = "Drink more water"
	_, err := PlanUpdate(prev, next, State{})
	assert.ErrorIs(t, err, ErrMissingTodayTask)
}

func TestPlanDelete(t *testing.T) {
	state := State{
		model.Monday:    {Exists: true, Today: model.Today{ID: model.Monday, TodayTasksIDs: []string{"t1"}}},
		model.Wednesday: {Exists: true, Today: model.Today{ID: model.Wednesday, TodayTasksIDs: []string{"t1", "t2"}}},
	}
	plan, err := PlanDelete(drinkWater(), state)
	require.NoError(t, err)
	assert.Equal(t, []TodayWrite{
		{Op: OpDelete, Today: model.Today{ID: model.Monday}},
		{Op: OpSet, Today: model.Today{ID: model.Wednesday, TodayTasksIDs: []string{"t2"}}},
	}, plan.Todays)
	for _, w := range plan.TodayTasks {
		assert.Equal(t, OpDelete, w.Op)
		assert.Equal(t, "t1", w.TodayTask.ID)
	}

	_, err = PlanDelete(drinkWater(), State{})
	assert.ErrorIs(t, err, ErrMissingToday)
}

func TestUsedDaysInWeekOrder(t *testing.T) {
	tasks := []model.Task{
		{Days: []model.Weekday{model.Sunday, model.Monday}},
		{Days: []model.Weekday{model.Wednesday, model.Monday}},
	}
	assert.Equal(t, []model.Weekday{model.Monday, model.Wednesday, model.Sunday}, UsedDays(tasks))
}

func TestRoundTeardownTargetsEachDocumentOnce(t *testing.T) {
	tasks := []model.Task{
		{ID: "t1", Days: []model.Weekday{model.Monday, model.Wednesday}},
		{ID: "t2", Days: []model.Weekday{model.Monday}},
	}
	todays := []model.Today{
		{ID: model.Monday, TodayTasksIDs: []string{"t1", "t2"}},
		{ID: model.Wednesday, TodayTasksIDs: []string{"t1"}},
	}
	refs := RoundTeardown("u", "r", []string{"t1", "t2"}, tasks, todays)

	paths := make([]string, len(refs))
	for i, ref := range refs {
		paths[i] = ref.Path()
	}
	assert.Equal(t, []string{
		"users/u/rounds/r/todays/mon/todayTasks/t1",
		"users/u/rounds/r/todays/mon/todayTasks/t2",
		"users/u/rounds/r/todays/wed/todayTasks/t1",
		"users/u/rounds/r/todays/mon",
		"users/u/rounds/r/todays/wed",
		"users/u/rounds/r/tasks/t1",
		"users/u/rounds/r/tasks/t2",
		"users/u/rounds/r",
	}, paths)

	seen := map[docstore.Ref]bool{}
	for _, ref := range refs {
		assert.False(t, seen[ref], "duplicate %s", ref)
		seen[ref] = true
	}
}

func TestResetProgressIsKeyAgnostic(t *testing.T) {
	out, err := ResetProgress([]byte(`{"description":"enc","timesOfDay":{"k1":true,"k2":false},"extra":1}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"description":"enc","timesOfDay":{"k1":false,"k2":false},"extra":1}`, string(out))

	_, err = ResetProgress([]byte(`not json`))
	assert.Error(t, err)
}
