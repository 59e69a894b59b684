package automation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCascadeGuardCycle(t *testing.T) {
	g := newCascadeGuard(10)
	release := g.enter("flow-1")
	defer release()

	require.NoError(t, g.admit("flow-1", "rule-a", "k1"))
	require.NoError(t, g.admit("flow-1", "rule-a", "k2"), "same rule, other record")

	err := g.admit("flow-1", "rule-a", "k1")
	assert.True(t, IsCycleError(err))
	assert.False(t, IsQuotaError(err))
	assert.Contains(t, err.Error(), "CYCLE_DETECTED")

	other := g.enter("flow-2")
	defer other()
	assert.NoError(t, g.admit("flow-2", "rule-a", "k1"), "flows are independent")
}

func TestCascadeGuardQuota(t *testing.T) {
	g := newCascadeGuard(3)
	release := g.enter("flow-1")
	defer release()

	for i, key := range []string{"a", "b", "c"} {
		require.NoError(t, g.admit("flow-1", "r", key), "step %d", i+1)
	}
	err := g.admit("flow-1", "r", "d")
	require.True(t, IsQuotaError(err))

	var ce *CascadeError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 4, ce.Steps)
	assert.Equal(t, 3, ce.Limit)
	assert.Equal(t, "quota", ce.reason())
}

func TestCascadeGuardReleasesNestedEntries(t *testing.T) {
	g := newCascadeGuard(0)
	assert.Equal(t, DefaultMaxSteps, g.maxSteps)

	outer := g.enter("flow-1")
	require.NoError(t, g.admit("flow-1", "r", "k"))
	inner := g.enter("flow-1")
	assert.True(t, IsCycleError(g.admit("flow-1", "r", "k")), "nested handlers share the flow")
	inner()
	assert.Equal(t, 1, g.active())
	outer()
	assert.Equal(t, 0, g.active())

	again := g.enter("flow-1")
	defer again()
	assert.NoError(t, g.admit("flow-1", "r", "k"), "a finished flow leaves nothing behind")
}
