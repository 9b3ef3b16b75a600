package codec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remember/api/internal/docstore"
	"remember/api/internal/envelope"
	"remember/api/internal/model"
	"remember/api/internal/txwrite"
)

type captureWriter struct {
	data map[docstore.Ref][]byte
}

func (c *captureWriter) Set(ref docstore.Ref, data []byte)    { c.data[ref] = data }
func (c *captureWriter) Create(ref docstore.Ref, data []byte) { c.data[ref] = data }
func (c *captureWriter) Update(ref docstore.Ref, data []byte) { c.data[ref] = data }
func (c *captureWriter) Delete(ref docstore.Ref)              { delete(c.data, ref) }

// encode runs value through a buffer the way handlers do and returns the
// stored bytes.
func encode(t *testing.T, ref docstore.Ref, value any) docstore.Snapshot {
	t.Helper()
	w := &captureWriter{data: map[docstore.Ref][]byte{}}
	b := txwrite.New(w)
	b.Set(ref, value)
	require.NoError(t, b.Execute(context.Background()))
	return docstore.Snapshot{Ref: ref, Exists: true, Data: w.data[ref]}
}

func codecs(t *testing.T) map[string]Codec {
	key, err := envelope.ImportKey("00112233445566778899aabbccddeeff")
	require.NoError(t, err)
	return map[string]Codec{"plain": Plain{}, "encrypted": Encrypted{Key: key}}
}

func TestCodecsRoundTripEntities(t *testing.T) {
	for name, c := range codecs(t) {
		t.Run(name, func(t *testing.T) {
			roundRef := model.RoundRef("u1", "r1")
			round := model.Round{Name: "Evening", TimesOfDay: model.LabelCounts{{Label: "night", Count: 2}}, TasksIDs: []string{"a", "b"}}
			got, err := c.DecodeRound(encode(t, roundRef, c.EncodeRound(round)))
			require.NoError(t, err)
			round.ID = "r1"
			assert.Equal(t, round, got)

			todayRef := model.TodayRef("u1", "r1", model.Friday)
			today, err := c.DecodeToday(encode(t, todayRef, c.EncodeToday(model.Today{TodayTasksIDs: []string{"a"}})))
			require.NoError(t, err)
			assert.Equal(t, model.Today{ID: model.Friday, TodayTasksIDs: []string{"a"}}, today)

			ttRef := model.TodayTaskRef("u1", "r1", model.Friday, "a")
			tt, err := c.DecodeTodayTask(encode(t, ttRef, c.EncodeTodayTask(model.TodayTask{Description: "d", TimesOfDay: map[string]bool{"night": true}})))
			require.NoError(t, err)
			assert.Equal(t, "a", tt.ID)
			assert.Equal(t, map[string]bool{"night": true}, tt.TimesOfDay)

			user, err := c.DecodeUser(encode(t, model.UserRef("u1"), c.EncodeUser(model.User{RoundsIDs: []string{"r1"}})))
			require.NoError(t, err)
			assert.Equal(t, model.User{ID: "u1", RoundsIDs: []string{"r1"}}, user)
		})
	}
}

func TestCodecsReportMissingAndUnreadable(t *testing.T) {
	for name, c := range codecs(t) {
		t.Run(name, func(t *testing.T) {
			ref := model.TaskRef("u1", "r1", "t1")
			_, err := c.DecodeTask(docstore.Snapshot{Ref: ref})
			assert.ErrorIs(t, err, docstore.ErrNotFound)

			task, err := c.DecodeTask(docstore.Snapshot{Ref: ref, Exists: true, Data: []byte(`{"value":`)})
			assert.ErrorIs(t, err, ErrUnreadable)
			assert.Equal(t, model.Task{ID: "t1"}, task)
		})
	}
}

func TestEncryptedRejectsPlainDocuments(t *testing.T) {
	c := codecs(t)["encrypted"]
	ref := model.RoundRef("u1", "r1")
	plain := encode(t, ref, Plain{}.EncodeRound(model.Round{Name: "legacy"}))

	round, err := c.DecodeRound(plain)
	assert.ErrorIs(t, err, ErrUnreadable)
	assert.Equal(t, model.Round{ID: "r1"}, round)
}
