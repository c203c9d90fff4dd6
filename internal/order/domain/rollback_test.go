package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// [Created(v1), ItemAdded(v2), StatusChanged(v3), RolledBack(v4, target=1)]
func skippedLog() []Event {
	return []Event{
		ev(1, created(itemA)),
		ev(2, added(itemB)),
		ev(3, statusTo(StatusConfirmed)),
		ev(4, rollbackTo(1)),
	}
}

// [Created(v1), ItemAdded(v2), RolledBack(v3, target=1), ItemAdded(v4), RolledBack(v5, target=3)]
func nestedLog() []Event {
	return []Event{
		ev(1, created(itemA)),
		ev(2, added(itemB)),
		ev(3, rollbackTo(1)),
		ev(4, added(itemC)),
		ev(5, rollbackTo(3)),
	}
}

func TestComputeSkippedVersions(t *testing.T) {
	assert.Equal(t, []int{2, 3}, ComputeSkippedVersions(skippedLog()).Sorted())
	// Cuentan todos los rollbacks, no solo el activo.
	assert.Equal(t, []int{2, 4}, ComputeSkippedVersions(nestedLog()).Sorted())
	assert.Empty(t, ComputeSkippedVersions(lifecycleLog()))
}

func TestComputeSkippedVersions_Timestamp(t *testing.T) {
	events := []Event{
		ev(1, created(itemA)),
		ev(2, added(itemB)),
		ev(3, statusTo(StatusConfirmed)),
		ev(4, rollbackAt(baseTime.Add(90*time.Second))),
		ev(5, added(itemC)),
	}

	assert.Equal(t, []int{2, 3}, ComputeSkippedVersions(events).Sorted())
}

func TestResolveEffectiveVersion(t *testing.T) {
	events := nestedLog()

	assert.Equal(t, 1, ResolveEffectiveVersion(events, 3))
	assert.Equal(t, 1, ResolveEffectiveVersion(events, 5))
	assert.Equal(t, 4, ResolveEffectiveVersion(events, 4))
	assert.Equal(t, 9, ResolveEffectiveVersion(events, 9))
}

func brokenRollback() Payload {
	return RolledBack{Descriptor: RollbackDescriptor{Type: RollbackByVersion, Broken: true, RawTarget: `"abc"`}}
}

func TestResolveEffectiveVersion_StopsOnBrokenChain(t *testing.T) {
	events := []Event{
		ev(1, created(itemA)),
		ev(2, added(itemB)),
		ev(3, brokenRollback()),
		ev(4, added(itemC)),
		ev(5, rollbackTo(3)),
	}

	assert.Equal(t, 3, ResolveEffectiveVersion(events, 5))
	assert.Equal(t, 3, ResolveEffectiveVersion(events, 3))
	// El rollback roto no protege nada; el v5 salta solo el v4.
	assert.Equal(t, []int{4}, ComputeSkippedVersions(events).Sorted())

	info := DescribeRollback(events, events[2])
	assert.Equal(t, RollbackInfo{Version: 3, SkippedVersions: []int{}}, info)

	// Volver al v3 es volver al estado previo al rollback roto: A y B.
	state, err := Rebuild(events)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, productIDs(state))
	assert.Equal(t, 5, state.Version)
}

func TestRebuild_ActiveBrokenRollbackUndoesNothing(t *testing.T) {
	events := []Event{
		ev(1, created(itemA)),
		ev(2, added(itemB)),
		ev(3, brokenRollback()),
	}

	state, err := Rebuild(events)

	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, productIDs(state))
	assert.Equal(t, 3, state.Version)
}

func TestResolveEffectiveVersion_StopsOnTimestampAndCycles(t *testing.T) {
	events := []Event{
		ev(1, created(itemA)),
		ev(2, rollbackAt(baseTime)),
		ev(3, rollbackTo(2)),
	}
	assert.Equal(t, 2, ResolveEffectiveVersion(events, 3))

	cyclic := []Event{
		ev(1, created(itemA)),
		ev(2, rollbackTo(3)),
		ev(3, rollbackTo(2)),
	}
	assert.Equal(t, 2, ResolveEffectiveVersion(cyclic, 2))
}

func TestValidateRollbackRequest_RejectsSkippedVersion(t *testing.T) {
	_, err := ValidateRollbackRequest(skippedLog(), RollbackRequest{ToVersion: intPtr(2)})
	assert.ErrorIs(t, err, ErrInvalidRollbackTarget)

	_, err = ValidateRollbackRequest(skippedLog(), RollbackRequest{ToVersion: intPtr(3)})
	assert.ErrorIs(t, err, ErrInvalidRollbackTarget)

	d, err := ValidateRollbackRequest(skippedLog(), RollbackRequest{ToVersion: intPtr(1)})
	require.NoError(t, err)
	assert.Equal(t, RollbackDescriptor{Type: RollbackByVersion, ToVersion: 1}, d)
}

func TestValidateRollbackRequest_Nested(t *testing.T) {
	_, err := ValidateRollbackRequest(nestedLog(), RollbackRequest{ToVersion: intPtr(4)})
	assert.ErrorIs(t, err, ErrInvalidRollbackTarget)

	// Apuntar a un rollback es válido: se resuelve a v1.
	d, err := ValidateRollbackRequest(nestedLog(), RollbackRequest{ToVersion: intPtr(3)})
	require.NoError(t, err)
	assert.Equal(t, 3, d.ToVersion)
}

func TestValidateRollbackRequest_Shape(t *testing.T) {
	tests := []struct {
		name string
		req  RollbackRequest
	}{
		{name: "ambos campos", req: RollbackRequest{ToVersion: intPtr(1), ToTimestamp: strPtr("2024-03-01T10:01:00Z")}},
		{name: "versión con timestamp vacío", req: RollbackRequest{ToVersion: intPtr(1), ToTimestamp: strPtr("")}},
		{name: "versión con timestamp en blanco", req: RollbackRequest{ToVersion: intPtr(1), ToTimestamp: strPtr("  ")}},
		{name: "ningún campo", req: RollbackRequest{}},
		{name: "timestamp vacío", req: RollbackRequest{ToTimestamp: strPtr("  ")}},
		{name: "versión cero", req: RollbackRequest{ToVersion: intPtr(0)}},
		{name: "timestamp inválido", req: RollbackRequest{ToTimestamp: strPtr("ayer")}},
		{name: "versión fuera de rango", req: RollbackRequest{ToVersion: intPtr(9)}},
		{name: "corte anterior al primer evento", req: RollbackRequest{ToTimestamp: strPtr("2024-03-01T09:00:00Z")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateRollbackRequest(lifecycleLog(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidRollbackTarget)
		})
	}
}

func TestValidateRollbackRequest_NoEvents(t *testing.T) {
	_, err := ValidateRollbackRequest(nil, RollbackRequest{ToVersion: intPtr(1)})
	assert.ErrorIs(t, err, ErrInvalidRollbackTarget)
}

func TestValidateRollbackRequest_Timestamp(t *testing.T) {
	d, err := ValidateRollbackRequest(lifecycleLog(), RollbackRequest{ToTimestamp: strPtr("2024-03-01T12:01:30+02:00")})
	require.NoError(t, err)
	assert.Equal(t, RollbackByTimestamp, d.Type)
	assert.Equal(t, baseTime.Add(90*time.Second), d.ToTime)

	// El estado en ese instante (v2) ya lo descartó el rollback v4.
	_, err = ValidateRollbackRequest(skippedLog(), RollbackRequest{ToTimestamp: strPtr("2024-03-01T10:02:30Z")})
	assert.ErrorIs(t, err, ErrInvalidRollbackTarget)
}

func TestParseRollbackRequest_DateOnly(t *testing.T) {
	d, err := ParseRollbackRequest(RollbackRequest{ToTimestamp: strPtr("2024-03-01")})

	require.NoError(t, err)
	assert.Equal(t, RollbackByTimestamp, d.Type)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), d.ToTime)

	_, err = ParseRollbackRequest(RollbackRequest{ToTimestamp: strPtr("2024-13-01")})
	assert.ErrorIs(t, err, ErrInvalidRollbackTarget)
}

func TestDescribeRollback(t *testing.T) {
	events := skippedLog()
	info := DescribeRollback(events, events[3])
	assert.Equal(t, RollbackInfo{Version: 4, EffectiveVersion: 1, EventsUndone: 2, SkippedVersions: []int{2, 3}}, info)

	nested := nestedLog()
	info = DescribeRollback(nested, nested[4])
	assert.Equal(t, 1, info.EffectiveVersion)
	assert.Equal(t, []int{4}, info.SkippedVersions)
}
