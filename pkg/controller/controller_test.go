package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sunswitch/sunswitch/pkg/types"
)

func boolPtr(b bool) *bool { return &b }

func TestDecide(t *testing.T) {
	c := NewController()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	baseSettings := types.Settings{
		Enabled:     true,
		TriggerKW:   2.0,
		SwitchCodes: []string{"switch_1"},
	}

	tests := []struct {
		name       string
		activeKW   float64
		previousOn *bool
		settings   func(s *types.Settings)
		wantOn     bool
		wantSend   bool
		wantReason types.ActionReason
	}{
		{
			name:       "Above Trigger, Switch Off -> Turn On",
			activeKW:   3.5,
			previousOn: boolPtr(false),
			wantOn:     true,
			wantSend:   true,
			wantReason: types.ActionReasonAboveTrigger,
		},
		{
			name:       "Equal To Trigger -> On",
			activeKW:   2.0,
			previousOn: boolPtr(false),
			wantOn:     true,
			wantSend:   true,
			wantReason: types.ActionReasonAboveTrigger,
		},
		{
			name:       "Above Trigger, Already On -> No Command",
			activeKW:   3.5,
			previousOn: boolPtr(true),
			wantOn:     true,
			wantSend:   false,
			wantReason: types.ActionReasonAboveTrigger,
		},
		{
			name:       "Below Trigger, Switch On -> Turn Off",
			activeKW:   1.99,
			previousOn: boolPtr(true),
			wantOn:     false,
			wantSend:   true,
			wantReason: types.ActionReasonBelowTrigger,
		},
		{
			name:       "Below Trigger, Already Off -> No Command",
			activeKW:   0,
			previousOn: boolPtr(false),
			wantOn:     false,
			wantSend:   false,
			wantReason: types.ActionReasonBelowTrigger,
		},
		{
			name:       "Unknown State -> Command",
			activeKW:   0.5,
			previousOn: nil,
			wantOn:     false,
			wantSend:   true,
			wantReason: types.ActionReasonBelowTrigger,
		},
		{
			name:       "Always Send",
			activeKW:   3.5,
			previousOn: boolPtr(true),
			settings:   func(s *types.Settings) { s.AlwaysSend = true },
			wantOn:     true,
			wantSend:   true,
			wantReason: types.ActionReasonAboveTrigger,
		},
		{
			name:       "Dry Run Never Sends",
			activeKW:   3.5,
			previousOn: boolPtr(false),
			settings:   func(s *types.Settings) { s.DryRun = true },
			wantOn:     true,
			wantSend:   false,
			wantReason: types.ActionReasonAboveTrigger,
		},
		{
			name:       "Disabled -> Off",
			activeKW:   10,
			previousOn: boolPtr(true),
			settings:   func(s *types.Settings) { s.Enabled = false },
			wantOn:     false,
			wantSend:   true,
			wantReason: types.ActionReasonDisabled,
		},
		{
			name:       "Zero Trigger Is Always On",
			activeKW:   0,
			previousOn: boolPtr(false),
			settings:   func(s *types.Settings) { s.TriggerKW = 0 },
			wantOn:     true,
			wantSend:   true,
			wantReason: types.ActionReasonAboveTrigger,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := baseSettings
			if tt.settings != nil {
				tt.settings(&settings)
			}
			d := c.Decide(ctx, tt.activeKW, tt.previousOn, settings)
			assert.Equal(t, tt.wantOn, d.Action.SwitchOn)
			assert.Equal(t, tt.wantSend, d.Send)
			assert.Equal(t, tt.wantReason, d.Action.Reason)
			assert.Equal(t, now, d.Action.Timestamp)
			assert.Equal(t, tt.activeKW, d.Action.ActivePowerKW)
			assert.Equal(t, settings.TriggerKW, d.Action.TriggerKW)
			assert.Equal(t, settings.DryRun, d.Action.DryRun)
			assert.Equal(t, tt.previousOn, d.Action.PreviousOn)
			assert.False(t, d.Action.Sent, "decide never marks an action sent")
			assert.NotEmpty(t, d.Action.Description)
		})
	}
}

func TestCombinedState(t *testing.T) {
	codes := []string{"switch_1", "switch_2"}

	assert.Equal(t, boolPtr(true), combinedState(map[string]bool{"switch_1": true, "switch_2": true}, codes))
	assert.Equal(t, boolPtr(false), combinedState(map[string]bool{"switch_1": false, "switch_2": false, "switch_3": true}, codes))
	assert.Nil(t, combinedState(map[string]bool{"switch_1": true, "switch_2": false}, codes), "mixed")
	assert.Nil(t, combinedState(map[string]bool{"switch_1": true}, codes), "missing")
	assert.Nil(t, combinedState(map[string]bool{"switch_1": true}, nil), "no codes")
}
