package labels

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remember/api/internal/model"
)

func TestAddTask(t *testing.T) {
	lc, err := AddTask(nil, []string{"atDawn"})
	require.NoError(t, err)
	assert.Equal(t, model.LabelCounts{{Label: "atDawn", Count: 1}}, lc)

	lc, err = AddTask(lc, []string{"morning", "atDawn"})
	require.NoError(t, err)
	assert.Equal(t, model.LabelCounts{{Label: "atDawn", Count: 2}, {Label: "morning", Count: 1}}, lc)
}

func TestAddTaskDoesNotMutateInput(t *testing.T) {
	current := model.LabelCounts{{Label: "a", Count: 1}}
	_, err := AddTask(current, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, model.LabelCounts{{Label: "a", Count: 1}}, current)
}

func TestAddTaskRejectsEleventhLabel(t *testing.T) {
	var current model.LabelCounts
	for i := 0; i < model.MaxTimesOfDay; i++ {
		current = append(current, model.LabelCount{Label: fmt.Sprintf("l%d", i), Count: 1})
	}
	_, err := AddTask(current, []string{"l0", "new"})
	assert.ErrorIs(t, err, ErrTooManyLabels)

	_, err = UpdateTask(current, []string{"l0"}, []string{"l1", "new"})
	require.NoError(t, err, "dropping l0 frees a slot")

	_, err = UpdateTask(current, []string{"l0", "l1"}, []string{"l0", "l1", "new"})
	assert.ErrorIs(t, err, ErrTooManyLabels)
}

func TestUpdateTask(t *testing.T) {
	current := model.LabelCounts{{Label: "atDawn", Count: 1}, {Label: "noon", Count: 2}}

	lc, err := UpdateTask(current, []string{"atDawn", "noon"}, []string{"noon", "morning"})
	require.NoError(t, err)
	assert.Equal(t, model.LabelCounts{{Label: "noon", Count: 2}, {Label: "morning", Count: 1}}, lc)

	same, err := UpdateTask(current, []string{"atDawn", "noon"}, []string{"noon", "atDawn"})
	require.NoError(t, err)
	assert.Equal(t, current, same)
}

func TestRemoveTask(t *testing.T) {
	current := model.LabelCounts{{Label: "atDawn", Count: 1}, {Label: "noon", Count: 2}}
	lc, err := RemoveTask(current, []string{"atDawn", "noon"})
	require.NoError(t, err)
	assert.Equal(t, model.LabelCounts{{Label: "noon", Count: 1}}, lc)

	_, err = RemoveTask(current, []string{"evening"})
	assert.ErrorIs(t, err, ErrUnknownLabel)
}

func TestMove(t *testing.T) {
	current := model.LabelCounts{{Label: "a", Count: 1}, {Label: "b", Count: 2}, {Label: "c", Count: 3}}

	lc, err := Move(current, "a", 2)
	require.NoError(t, err)
	assert.Equal(t, model.LabelCounts{{Label: "b", Count: 2}, {Label: "c", Count: 3}, {Label: "a", Count: 1}}, lc)
	assert.Equal(t, "a", current[0].Label)

	_, err = Move(current, "a", -1)
	assert.Error(t, err)
	_, err = Move(current, "a", 0)
	assert.Error(t, err)
	_, err = Move(current, "z", 1)
	assert.ErrorIs(t, err, ErrUnknownLabel)
}

// Random create/update/delete sequences must always agree with a recount.
func TestIncrementalMatchesTally(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pool := []string{"atDawn", "morning", "noon", "afternoon", "evening", "night"}
	randomLabels := func() []string {
		n := 1 + rng.Intn(3)
		out := make([]string, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, pool[rng.Intn(len(pool))])
		}
		return out
	}

	tasks := map[int][]string{}
	var lc model.LabelCounts
	nextID := 0
	for step := 0; step < 500; step++ {
		var err error
		switch op := rng.Intn(3); {
		case op == 0 || len(tasks) == 0:
			labels := randomLabels()
			lc, err = AddTask(lc, labels)
			require.NoError(t, err)
			tasks[nextID] = labels
			nextID++
		case op == 1:
			id := anyKey(rng, tasks)
			labels := randomLabels()
			lc, err = UpdateTask(lc, tasks[id], labels)
			require.NoError(t, err)
			tasks[id] = labels
		default:
			id := anyKey(rng, tasks)
			lc, err = RemoveTask(lc, tasks[id])
			require.NoError(t, err)
			delete(tasks, id)
		}

		var all [][]string
		for _, labels := range tasks {
			all = append(all, labels)
		}
		want := Tally(all)
		require.Len(t, lc, len(want))
		for _, c := range want {
			require.Equal(t, c.Count, lc.Count(c.Label), "step %d label %s", step, c.Label)
		}
		for _, c := range lc {
			require.Positive(t, c.Count)
		}
	}
}

func anyKey(rng *rand.Rand, m map[int][]string) int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys[rng.Intn(len(keys))]
}
