package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/ashureev/scenario-coach/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectives_IsComplete(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		objs domain.Objectives
		want bool
	}{
		{name: "empty set", objs: domain.Objectives{}, want: false},
		{name: "all false", objs: domain.NewObjectives([]string{"a", "b"}), want: false},
		{name: "one missing", objs: domain.Objectives{"a": true, "b": false, "c": true}, want: false},
		{name: "all true four keys", objs: domain.Objectives{
			"empathyShown": true, "stressCauseIdentified": true, "techniqueUsed": true, "planCreated": true,
		}, want: true},
		{name: "all true arbitrary keys", objs: domain.Objectives{"x": true, "y": true}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.objs.IsComplete())
		})
	}
}

func TestObjectives_MergeLastWriteWins(t *testing.T) {
	t.Parallel()

	objs := domain.NewObjectives([]string{"a", "b"})
	objs.Merge(domain.ObjectiveUpdate{"a": true})
	objs.Merge(domain.ObjectiveUpdate{"a": false})

	assert.False(t, objs["a"])
}

func TestObjectives_MergeLeavesAbsentKeys(t *testing.T) {
	t.Parallel()

	objs := domain.NewObjectives([]string{"a", "b"})
	objs.Merge(domain.ObjectiveUpdate{"b": true})
	objs.Merge(domain.ObjectiveUpdate{"a": true})

	assert.Equal(t, domain.Objectives{"a": true, "b": true}, objs)
}

func TestObjectives_MergeIgnoresUnknownKeys(t *testing.T) {
	t.Parallel()

	objs := domain.NewObjectives([]string{"a"})
	ignored := objs.Merge(domain.ObjectiveUpdate{"zeta": true, "a": true, "beta": false})

	assert.Equal(t, []string{"beta", "zeta"}, ignored)
	assert.Equal(t, domain.Objectives{"a": true}, objs)
}

func TestParseObjectiveUpdate(t *testing.T) {
	t.Parallel()

	allowed := []string{"waterProviderCalled", "waterTurnedOff", "itemsSecured"}

	t.Run("sparse keys", func(t *testing.T) {
		t.Parallel()
		update, dropped, err := domain.ParseObjectiveUpdate(json.RawMessage(`{"waterTurnedOff":true,"itemsSecured":false}`), allowed)
		require.NoError(t, err)
		assert.Empty(t, dropped)
		assert.Equal(t, domain.ObjectiveUpdate{"waterTurnedOff": true, "itemsSecured": false}, update)
		_, present := update["waterProviderCalled"]
		assert.False(t, present)
	})

	t.Run("non-boolean values dropped", func(t *testing.T) {
		t.Parallel()
		update, dropped, err := domain.ParseObjectiveUpdate(json.RawMessage(`{"waterTurnedOff":"true","itemsSecured":null,"waterProviderCalled":true}`), allowed)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"waterTurnedOff", "itemsSecured"}, dropped)
		assert.Equal(t, domain.ObjectiveUpdate{"waterProviderCalled": true}, update)
	})

	t.Run("unknown keys skipped", func(t *testing.T) {
		t.Parallel()
		update, _, err := domain.ParseObjectiveUpdate(json.RawMessage(`{"somethingElse":true}`), allowed)
		require.NoError(t, err)
		assert.Empty(t, update)
	})

	t.Run("malformed input", func(t *testing.T) {
		t.Parallel()
		update, _, err := domain.ParseObjectiveUpdate(json.RawMessage(`[true]`), allowed)
		require.Error(t, err)
		assert.Empty(t, update)
	})

	t.Run("empty input", func(t *testing.T) {
		t.Parallel()
		update, _, err := domain.ParseObjectiveUpdate(nil, allowed)
		require.NoError(t, err)
		assert.Empty(t, update)
	})
}
