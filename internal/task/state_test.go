package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		trigger Trigger
		from    State
		to      State
		allowed bool
	}{
		{TriggerStart, StateDraft, StatePending, true},
		{TriggerStart, StatePending, StatePending, true},
		{TriggerStart, StateRunning, StatePending, true},
		{TriggerStart, StateFailed, StatePending, true},
		{TriggerStart, StateComplete, StatePending, false},
		{TriggerStart, StateDraft, StateRunning, false},
		{TriggerObserve, StatePending, StateRunning, true},
		{TriggerObserve, StatePending, StateComplete, true},
		{TriggerObserve, StateRunning, StateFailed, true},
		{TriggerObserve, StateRunning, StatePending, false},
		{TriggerObserve, StateRunning, StateDraft, false},
		{TriggerObserve, StateComplete, StateRunning, false},
		{TriggerObserve, StateDraft, StatePending, false},
		{TriggerReset, StateFailed, StateDraft, true},
		{TriggerReset, StateDraft, StateDraft, true},
		{TriggerReset, StateRunning, StateDraft, false},
		{TriggerReset, StateComplete, StateDraft, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.trigger)+"/"+string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := Transition(tt.trigger, tt.from, tt.to)
			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrIllegalTransition)
		})
	}
}

func TestStateHelpers(t *testing.T) {
	for _, s := range AllStates {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, State("done").Valid())

	assert.True(t, StateComplete.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateRunning.Terminal())

	assert.True(t, StateDraft.CanStart())
	assert.True(t, StateFailed.CanStart())
	assert.False(t, StateComplete.CanStart())
}
