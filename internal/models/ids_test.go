package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoulderCombinationExerciseLinkID(t *testing.T) {
	combination := "3F2504E0-4F89-11D3-9A0C-0305E82C3301"
	exercise := "6f9619ff-8b86-d011-b42d-00c04fc964ff"

	t.Run("is stable across calls", func(t *testing.T) {
		first := BoulderCombinationExerciseLinkID(combination, exercise)
		second := BoulderCombinationExerciseLinkID(combination, exercise)
		assert.Equal(t, first, second)
	})

	t.Run("ignores case of inputs", func(t *testing.T) {
		upper := BoulderCombinationExerciseLinkID(combination, exercise)
		lower := BoulderCombinationExerciseLinkID("3f2504e0-4f89-11d3-9a0c-0305e82c3301", exercise)
		assert.Equal(t, upper, lower)
	})

	t.Run("depends on argument order", func(t *testing.T) {
		assert.NotEqual(t,
			BoulderCombinationExerciseLinkID(combination, exercise),
			BoulderCombinationExerciseLinkID(exercise, combination),
		)
	})

	t.Run("produces a lower-case version 5 uuid", func(t *testing.T) {
		id := BoulderCombinationExerciseLinkID(combination, exercise)
		parsed, err := uuid.Parse(id)
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(5), parsed.Version())
		assert.Equal(t, uuid.RFC4122, parsed.Variant())
		assert.Equal(t, NormalizeID(id), id)
	})
}

func TestParseEntityType(t *testing.T) {
	for _, info := range SyncableEntities() {
		got, err := ParseEntityType(string(info.Type))
		require.NoError(t, err)
		assert.Equal(t, info.Type, got)
	}

	_, err := ParseEntityType("photos")
	assert.ErrorIs(t, err, ErrUnknownEntity)
}
