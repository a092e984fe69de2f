package shortlist

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lattice-ip/priorart-engine/internal/model"
)

func rows(n int) []model.UnifiedResult {
	out := make([]model.UnifiedResult, n)
	for i := range out {
		out[i] = model.UnifiedResult{
			Identifier: string(rune('A' + i)),
			Position:   i + 1,
		}
	}
	return out
}

func selectedIDs(rs []model.UnifiedResult) []string {
	var ids []string
	for _, r := range rs {
		if r.Shortlisted {
			ids = append(ids, r.Identifier)
		}
	}
	return ids
}

func TestApply_TopKByDefault(t *testing.T) {
	t.Parallel()

	got := Apply(rows(5), 3)
	assert.Equal(t, []string{"A", "B", "C"}, selectedIDs(got))
}

func TestApply_FewerRowsThanSlots(t *testing.T) {
	t.Parallel()

	got := Apply(rows(2), 10)
	assert.Equal(t, []string{"A", "B"}, selectedIDs(got))
}

func TestApply_ForceOutFreesSlot(t *testing.T) {
	t.Parallel()

	rs := rows(5)
	rs[1].Override = model.OverrideForceOut // B drops, D takes its slot

	got := Apply(rs, 3)
	assert.Equal(t, []string{"A", "C", "D"}, selectedIDs(got))
}

func TestApply_ForceInConsumesSlot(t *testing.T) {
	t.Parallel()

	rs := rows(5)
	rs[4].Override = model.OverrideForceIn // E pins, C loses the last slot

	got := Apply(rs, 3)
	assert.Equal(t, []string{"A", "B", "E"}, selectedIDs(got))
}

func TestApply_ForceInInsideTopKKeepsSize(t *testing.T) {
	t.Parallel()

	rs := rows(5)
	rs[0].Override = model.OverrideForceIn

	got := Apply(rs, 3)
	assert.Equal(t, []string{"A", "B", "C"}, selectedIDs(got))
}

func TestApply_PinsBeyondCapacityAllStick(t *testing.T) {
	t.Parallel()

	rs := rows(4)
	for i := range rs {
		rs[i].Override = model.OverrideForceIn
	}

	got := Apply(rs, 2)
	assert.Equal(t, []string{"A", "B", "C", "D"}, selectedIDs(got))
}

func TestApply_Idempotent(t *testing.T) {
	t.Parallel()

	rs := rows(5)
	rs[1].Override = model.OverrideForceOut
	rs[4].Override = model.OverrideForceIn

	once := Apply(rs, 3)
	first := selectedIDs(once)
	twice := Apply(once, 3)
	assert.Equal(t, first, selectedIDs(twice))
}

func TestSelected_PreservesPositionOrder(t *testing.T) {
	t.Parallel()

	rs := Apply(rows(5), 2)
	got := Selected(rs)
	assert.Len(t, got, 2)
	assert.Equal(t, "A", got[0].Identifier)
	assert.Equal(t, "B", got[1].Identifier)
}
