package oracle

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	bbolt "go.etcd.io/bbolt"
)

func TestAnswerLog_PutGet(t *testing.T) {
	l := newAnswerLog(t)

	rec, err := l.Get(1)
	require.NoError(t, err)
	require.Nil(t, rec)
	closed, err := l.Closed(1)
	require.NoError(t, err)
	require.False(t, closed)

	require.NoError(t, l.Put(
		Record{RequestID: 1, State: Open, Height: 4},
		Record{RequestID: 2, State: Answered, Result: []byte{1}, BatchID: "b", Height: 4},
	))
	rec, err = l.Get(1)
	require.NoError(t, err)
	require.Equal(t, Open, rec.State)
	require.Equal(t, uint64(4), rec.Height)
	rec, err = l.Get(2)
	require.NoError(t, err)
	require.Equal(t, []byte{1}, rec.Result)
	require.Equal(t, "b", rec.BatchID)

	closed, err = l.Closed(2)
	require.NoError(t, err)
	require.True(t, closed)
}

func TestAnswerLog_NeverReopens(t *testing.T) {
	l := newAnswerLog(t)
	require.NoError(t, l.Put(Record{RequestID: 7, State: Expired}))
	require.NoError(t, l.Put(Record{RequestID: 7, State: Open}))
	rec, err := l.Get(7)
	require.NoError(t, err)
	require.Equal(t, Expired, rec.State)

	// Closed records can still change their outcome.
	require.NoError(t, l.Put(Record{RequestID: 7, State: Answered}))
	rec, err = l.Get(7)
	require.NoError(t, err)
	require.Equal(t, Answered, rec.State)
}

func TestAnswerLog_Count(t *testing.T) {
	l := newAnswerLog(t)
	require.NoError(t, l.Put(
		Record{RequestID: 1, State: Open},
		Record{RequestID: 2, State: Answered},
		Record{RequestID: 3, State: Answered},
		Record{RequestID: 4, State: Expired},
	))
	counts, err := l.Count()
	require.NoError(t, err)
	require.Equal(t, map[State]int{Open: 1, Answered: 2, Expired: 1}, counts)
}

func TestAnswerLog_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "answers.db")
	l, err := OpenAnswerLog(path)
	require.NoError(t, err)
	require.NoError(t, l.Put(Record{RequestID: 3, State: Answered}))
	require.NoError(t, l.Close())

	l, err = OpenAnswerLog(path)
	require.NoError(t, err)
	defer l.Close()
	closed, err := l.Closed(3)
	require.NoError(t, err)
	require.True(t, closed)
}

func TestAnswerLog_SharedDB(t *testing.T) {
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "shared.db"), 0600, nil)
	require.NoError(t, err)
	defer db.Close()

	a, err := NewAnswerLog(db, []byte("a"))
	require.NoError(t, err)
	b, err := NewAnswerLog(db, []byte("b"))
	require.NoError(t, err)
	require.NoError(t, a.Put(Record{RequestID: 1, State: Answered}))

	closed, err := b.Closed(1)
	require.NoError(t, err)
	require.False(t, closed)
	// Not owned, the database stays open.
	require.NoError(t, a.Close())
	closed, err = a.Closed(1)
	require.NoError(t, err)
	require.True(t, closed)
}

func TestState(t *testing.T) {
	require.Equal(t, "open", Open.String())
	require.Equal(t, "answered", Answered.String())
	require.Equal(t, "expired", Expired.String())
	require.Equal(t, "unknown", State(9).String())
	require.False(t, Open.Closed())
	require.True(t, Answered.Closed())
	require.True(t, Expired.Closed())
}
