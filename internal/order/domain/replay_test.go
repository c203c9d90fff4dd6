package domain

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lifecycleLog() []Event {
	return []Event{
		ev(1, created(itemA)),
		ev(2, statusTo(StatusConfirmed)),
		ev(3, added(itemB)),
	}
}

func TestRebuild_Empty(t *testing.T) {
	o, err := Rebuild(nil)
	require.NoError(t, err)
	assert.Nil(t, o)
}

func TestRebuild_BasicLifecycle(t *testing.T) {
	o, err := Rebuild(lifecycleLog())

	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, StatusConfirmed, o.Status)
	assert.Equal(t, []string{"A", "B"}, productIDs(o))
	assert.Equal(t, int64(150), o.TotalAmount())
	assert.Equal(t, 3, o.Version)
	assert.Equal(t, "c1", o.CustomerID)
}

func TestRebuild_DeterministicAndOrderIndependent(t *testing.T) {
	events := []Event{
		ev(1, created(itemA)),
		ev(2, statusTo(StatusConfirmed)),
		ev(3, added(itemB)),
		ev(4, rollbackTo(2)),
		ev(5, added(itemC)),
		ev(6, removed("A")),
	}

	first, err := Rebuild(events)
	require.NoError(t, err)
	second, err := Rebuild(events)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Equal(t, []string{"C"}, productIDs(first))
	assert.Equal(t, StatusConfirmed, first.Status)
	assert.Equal(t, int64(15), first.TotalAmount())
	assert.Equal(t, 6, first.Version)

	rnd := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := make([]Event, len(events))
		copy(shuffled, events)
		rnd.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got, err := Rebuild(shuffled)
		require.NoError(t, err)
		assert.Equal(t, first, got)
	}
}

func TestRebuild_TotalAmountMatchesItems(t *testing.T) {
	logs := [][]Event{
		lifecycleLog(),
		{ev(1, created(itemA, itemB, itemC)), ev(2, removed("B"))},
		{ev(1, created(itemA)), ev(2, added(itemB)), ev(3, rollbackTo(1)), ev(4, added(itemC))},
	}
	for _, events := range logs {
		o, err := Rebuild(events)
		require.NoError(t, err)

		var sum int64
		for _, it := range o.Items {
			sum += it.Price * int64(it.Quantity)
		}
		assert.Equal(t, sum, o.TotalAmount())
	}
}

func TestRebuild_RollbackUndoesRange(t *testing.T) {
	events := []Event{
		ev(1, created(itemA)),
		ev(2, added(itemB)),
		ev(3, statusTo(StatusConfirmed)),
		ev(4, rollbackTo(1)),
	}

	o, err := Rebuild(events)

	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, productIDs(o))
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, 4, o.Version)
}

func TestRebuild_EventsAfterRollbackAreKept(t *testing.T) {
	events := []Event{
		ev(1, created(itemA)),
		ev(2, added(itemB)),
		ev(3, rollbackTo(1)),
		ev(4, added(itemC)),
	}

	o, err := Rebuild(events)

	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C"}, productIDs(o))
}

func TestRebuild_NestedRollback(t *testing.T) {
	events := []Event{
		ev(1, created(itemA)),
		ev(2, added(itemB)),
		ev(3, rollbackTo(1)),
		ev(4, added(itemC)),
		ev(5, rollbackTo(3)),
	}

	o, err := Rebuild(events)

	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, productIDs(o))
	assert.Equal(t, 5, o.Version)

	// Lo registrado después del último rollback se apila encima.
	o, err = Rebuild(append(events, ev(6, added(itemB))))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, productIDs(o))
}

func TestRebuild_RollbackPastEarlierRollbackKeepsItsUndo(t *testing.T) {
	// v2 lo deshizo v3; volver a v4 no debe resucitarlo.
	events := []Event{
		ev(1, created(itemA)),
		ev(2, added(itemB)),
		ev(3, rollbackTo(1)),
		ev(4, added(itemB)),
		ev(5, rollbackTo(4)),
	}

	o, err := Rebuild(events)

	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, productIDs(o))
}

func TestRebuild_TimestampRollback(t *testing.T) {
	events := []Event{
		ev(1, created(itemA)),
		ev(2, added(itemB)),
		ev(3, statusTo(StatusConfirmed)),
		ev(4, rollbackAt(baseTime.Add(2*time.Minute+30*time.Second))),
	}

	o, err := Rebuild(events)

	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, productIDs(o))
	assert.Equal(t, StatusPending, o.Status)
}

func TestRebuild_RollbackWithNothingToReplay(t *testing.T) {
	events := []Event{
		ev(1, created(itemA)),
		ev(2, rollbackAt(baseTime)),
	}

	_, err := Rebuild(events)

	assert.ErrorIs(t, err, ErrDataIntegrity)
}

func TestReplay_SkipsUnknownKinds(t *testing.T) {
	events := []Event{
		ev(1, created(itemA)),
		ev(2, UnknownPayload{RawKind: "Archived", Raw: []byte(`{}`)}),
		ev(3, added(itemB)),
	}
	var skipped []int

	o, err := Replay(events, func(e Event) { skipped = append(skipped, e.Version) })

	require.NoError(t, err)
	assert.Equal(t, []int{2}, skipped)
	assert.Equal(t, []string{"A", "B"}, productIDs(o))
	assert.Equal(t, 3, o.Version)
}

func TestRebuild_DataIntegrity(t *testing.T) {
	tests := []struct {
		name        string
		events      []Event
		wantVersion int
	}{
		{name: "no empieza por Created", events: []Event{ev(1, statusTo(StatusConfirmed))}, wantVersion: 1},
		{name: "Created duplicado", events: []Event{ev(1, created(itemA)), ev(2, created(itemB))}, wantVersion: 2},
		{name: "transición imposible", events: []Event{ev(1, created(itemA)), ev(2, statusTo(StatusDelivered))}, wantVersion: 2},
		{name: "item duplicado", events: []Event{ev(1, created(itemA)), ev(2, added(itemA))}, wantVersion: 2},
		{name: "payload nil", events: []Event{ev(1, created(itemA)), ev(2, nil)}, wantVersion: 2},
		{name: "rollback de tipo desconocido", events: []Event{
			ev(1, created(itemA)),
			ev(2, RolledBack{Descriptor: RollbackDescriptor{Type: "bogus"}}),
		}, wantVersion: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := Rebuild(tt.events)

			assert.Nil(t, o)
			require.ErrorIs(t, err, ErrDataIntegrity)
			assert.False(t, IsBusinessRule(err))

			var ie *DataIntegrityError
			require.True(t, errors.As(err, &ie))
			assert.Equal(t, "o1", ie.AggregateID)
			assert.Equal(t, tt.wantVersion, ie.Version)
		})
	}
}

func TestAtVersion(t *testing.T) {
	o, err := AtVersion(lifecycleLog(), 2)

	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, o.Status)
	assert.Equal(t, []string{"A"}, productIDs(o))
	assert.Equal(t, 2, o.Version)

	o, err = AtVersion(lifecycleLog(), 0)
	require.NoError(t, err)
	assert.Nil(t, o)
}
