package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaging_SortedNeedsMarker(t *testing.T) {
	var st Staging
	st.Add("p/", "p/"+StagingName(4), 2)
	st.Add("p/", "p/"+StagingName(0), 4)
	st.Add("p/", "p/garbage", 1)

	_, err := st.Sorted("tok")
	require.ErrorIs(t, err, ErrNotFound)

	st.Add("p/", "p/"+StagingMarker, 0)
	parts, err := st.Sorted("tok")
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.EqualValues(t, 0, parts[0].Offset)
	assert.EqualValues(t, 4, parts[1].Offset)
}

func TestPlanAppend(t *testing.T) {
	parts := []StagedPart{{Key: "a", Offset: 0, Size: 4}, {Key: "b", Offset: 4, Size: 4}}

	stale, err := PlanAppend(parts, 8)
	require.NoError(t, err)
	assert.Empty(t, stale)

	stale, err = PlanAppend(parts, 4)
	require.NoError(t, err)
	assert.Empty(t, stale)

	stale, err = PlanAppend(parts, 0)
	require.NoError(t, err)
	assert.Equal(t, []StagedPart{{Key: "b", Offset: 4, Size: 4}}, stale)

	_, err = PlanAppend(parts, 9)
	require.ErrorIs(t, err, ErrConflict)
	_, err = PlanAppend(parts, 2)
	require.ErrorIs(t, err, ErrConflict)
}

func TestCheckCompleteAndComposable(t *testing.T) {
	big := int64(MinComposePart)
	parts := []StagedPart{{Offset: 0, Size: big}, {Offset: big, Size: 1}}

	require.NoError(t, CheckComplete(parts, big+1))
	require.ErrorIs(t, CheckComplete(parts, big), ErrConflict)
	require.ErrorIs(t, CheckComplete([]StagedPart{{Offset: 1, Size: 1}}, 2), ErrConflict)
	require.NoError(t, CheckComplete(nil, 0))

	assert.True(t, Composable(parts))
	assert.False(t, Composable(parts[:1]))
	assert.False(t, Composable([]StagedPart{{Offset: 0, Size: 4}, {Offset: 4, Size: 4}}))
}
