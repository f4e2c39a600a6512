package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertPoolExclusive checks that no two live rows hold the same pool value.
func assertPoolExclusive(t *testing.T, s *Snapshot, group, pool string) {
	t.Helper()
	held := make(map[string]string)
	for _, row := range s.Groups[group] {
		if row.State == RowDeleted {
			continue
		}
		v := s.Fields[row.Path+"."+pool].Value
		if v == "" {
			continue
		}
		other, dup := held[v]
		assert.False(t, dup, "%s and %s both hold %s", other, row.Path, v)
		held[v] = row.Path
	}
}

func TestGuard_ThreeRowScenario(t *testing.T) {
	r := newRig(t, receivingSpec())
	for i := 0; i < 3; i++ {
		require.NoError(t, r.eng.AddRow("pallets"))
	}
	r.settle()

	r.set("pallets[0].pallet", "A")
	r.set("pallets[1].pallet", "B")
	r.settle()

	row3 := r.field("pallets[2].pallet")
	assert.Equal(t, []string{"C"}, row3.EnabledOptions())
	assert.Equal(t, []string{"A", "B"}, row3.DisabledOptions())
	assert.False(t, row3.Options[0].Disabled, "placeholder is never disabled")
	assert.Equal(t, []string{"", "A", "B", "C"}, optionIDs(row3), "order preserved")

	row1 := r.field("pallets[0].pallet")
	assert.Equal(t, []string{"A", "C"}, row1.EnabledOptions(), "own value stays enabled")
	assert.Equal(t, []string{"B"}, row1.DisabledOptions())

	require.NoError(t, r.eng.ToggleDeleted("pallets", 0, true))
	r.settle()

	assert.Equal(t, []string{"A", "B", "C"}, r.field("pallets[1].pallet").EnabledOptions())
	assert.Equal(t, []string{"A", "C"}, r.field("pallets[2].pallet").EnabledOptions())
	assert.Equal(t, "A", r.field("pallets[0].pallet").Value, "soft-delete keeps the value")

	require.NoError(t, r.eng.ToggleDeleted("pallets", 0, false))
	r.settle()

	assert.Equal(t, []string{"A", "B"}, r.field("pallets[2].pallet").DisabledOptions())
	assertPoolExclusive(t, r.eng.Snapshot(), "pallets", "pallet")
}

func TestGuard_RejectsHeldValue(t *testing.T) {
	r := newRig(t, receivingSpec())
	require.NoError(t, r.eng.AddRow("pallets"))
	require.NoError(t, r.eng.AddRow("pallets"))
	r.settle()

	r.set("pallets[0].pallet", "A")
	r.set("pallets[1].pallet", "A")
	r.settle()

	assert.Equal(t, "", r.field("pallets[1].pallet").Value)
	rejected := r.recorder.Rejected()
	require.Len(t, rejected, 1)
	assert.True(t, IsInvalidStateError(rejected[0]))
}

func TestGuard_RejectsHeldValueBeforeOptionsLoad(t *testing.T) {
	r := newRig(t, receivingSpec())
	require.NoError(t, r.eng.AddRow("pallets"))
	require.NoError(t, r.eng.AddRow("pallets"))
	r.apply()

	r.set("pallets[0].pallet", "A")
	r.set("pallets[1].pallet", "A")
	r.apply()
	assert.Equal(t, StateLoading, r.field("pallets[1].pallet").State)
	assert.Len(t, r.recorder.Rejected(), 1)
	r.settle()
	assertPoolExclusive(t, r.eng.Snapshot(), "pallets", "pallet")
}

func TestGuard_RemovalReleasesAllocation(t *testing.T) {
	r := newRig(t, receivingSpec())
	require.NoError(t, r.eng.AddRow("pallets"))
	require.NoError(t, r.eng.AddRow("pallets"))
	r.settle()
	r.set("pallets[0].pallet", "A")
	r.settle()
	assert.Equal(t, []string{"A"}, r.field("pallets[1].pallet").DisabledOptions())

	require.NoError(t, r.eng.RemoveRow("pallets", 0))
	r.settle()

	assert.Empty(t, r.field("pallets[1].pallet").DisabledOptions())
	_, ok := r.eng.Snapshot().Field("pallets[0].pallet")
	assert.False(t, ok, "removed row's fields are gone")

	// Stable indexes are not reused.
	require.NoError(t, r.eng.AddRow("pallets"))
	r.settle()
	_, ok = r.eng.Snapshot().Field("pallets[2].pallet")
	assert.True(t, ok)
}

func TestGuard_RestoreConflictClearsRestoredRow(t *testing.T) {
	r := newRig(t, receivingSpec())
	require.NoError(t, r.eng.AddRow("pallets"))
	require.NoError(t, r.eng.AddRow("pallets"))
	r.settle()
	r.set("pallets[0].pallet", "A")
	r.settle()

	require.NoError(t, r.eng.ToggleDeleted("pallets", 0, true))
	r.settle()
	r.set("pallets[1].pallet", "A")
	r.settle()
	require.Equal(t, "A", r.field("pallets[1].pallet").Value)

	r.recorder.Reset()
	require.NoError(t, r.eng.ToggleDeleted("pallets", 0, false))
	r.settle()

	assert.Equal(t, "", r.field("pallets[0].pallet").Value)
	changes := r.recorder.ChangesFor("pallets[0].pallet")
	require.Len(t, changes, 1)
	assert.Equal(t, CauseConflict, changes[0].Cause)
	assertPoolExclusive(t, r.eng.Snapshot(), "pallets", "pallet")
}

func TestGuard_PoolExhaustion(t *testing.T) {
	r := newRig(t, receivingSpec())
	for i := 0; i < 3; i++ {
		require.NoError(t, r.eng.AddRow("pallets"))
	}
	r.settle()
	r.set("pallets[0].pallet", "A")
	r.set("pallets[1].pallet", "B")
	r.set("pallets[2].pallet", "C")
	r.settle()

	for i, own := range []string{"A", "B", "C"} {
		v := r.field(fmt.Sprintf("pallets[%d].pallet", i))
		assert.Equal(t, []string{own}, v.EnabledOptions(), "only the row's own value remains")
	}
	assert.Empty(t, r.recorder.Rejected())
}

func TestGuard_ExclusivityUnderMixedEdits(t *testing.T) {
	r := newRig(t, receivingSpec())
	for i := 0; i < 3; i++ {
		require.NoError(t, r.eng.AddRow("pallets"))
	}
	r.settle()

	steps := []func(){
		func() { r.set("pallets[0].pallet", "A") },
		func() { r.set("pallets[1].pallet", "A") },
		func() { r.set("pallets[1].pallet", "B") },
		func() { _ = r.eng.ToggleDeleted("pallets", 1, true) },
		func() { r.set("pallets[2].pallet", "B") },
		func() { _ = r.eng.ToggleDeleted("pallets", 1, false) },
		func() { r.set("pallets[0].pallet", "") },
		func() { r.set("pallets[1].pallet", "A") },
		func() { _ = r.eng.RemoveRow("pallets", 2) },
		func() { r.set("pallets[0].pallet", "B") },
	}
	for _, step := range steps {
		step()
		r.settle()
		assertPoolExclusive(t, r.eng.Snapshot(), "pallets", "pallet")
	}
}

func optionIDs(v FieldView) []string {
	ids := make([]string, len(v.Options))
	for i, o := range v.Options {
		ids[i] = o.ID
	}
	return ids
}
