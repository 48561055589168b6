package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sunswitch/sunswitch/pkg/cloud"
	"github.com/sunswitch/sunswitch/pkg/storage"
	"github.com/sunswitch/sunswitch/pkg/storage/storagemock"
	"github.com/sunswitch/sunswitch/pkg/types"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) ActivePower(ctx context.Context) (float64, error) {
	args := m.Called(ctx)
	return args.Get(0).(float64), args.Error(1)
}

type mockReadingSource struct {
	mockSource
}

func (m *mockReadingSource) Reading(ctx context.Context) (types.Reading, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.Reading), args.Error(1)
}

type mockSwitch struct {
	mock.Mock
}

func (m *mockSwitch) TurnOn(ctx context.Context, codes ...string) error {
	return m.Called(ctx, codes).Error(0)
}

func (m *mockSwitch) TurnOff(ctx context.Context, codes ...string) error {
	return m.Called(ctx, codes).Error(0)
}

func (m *mockSwitch) Status(ctx context.Context, codes ...string) (map[string]bool, error) {
	args := m.Called(ctx, codes)
	if v := args.Get(0); v != nil {
		return v.(map[string]bool), args.Error(1)
	}
	return nil, args.Error(1)
}

var (
	_ cloud.PowerSource    = (*mockSource)(nil)
	_ readingSource        = (*mockReadingSource)(nil)
	_ cloud.SwitchActuator = (*mockSwitch)(nil)
)

var codes = []string{"switch_1"}

func enabledSettings(trigger float64) types.Settings {
	return types.Settings{Enabled: true, TriggerKW: trigger, SwitchCodes: codes}
}

func newTestAutomation(source cloud.PowerSource, sw *mockSwitch, db *storagemock.MockDatabase) *Automation {
	a := NewAutomation(source, sw, db, time.Minute, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a.controller.now = func() time.Time { return now }
	return a
}

func TestRunOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("Turns On Above Trigger", func(t *testing.T) {
		src := &mockSource{}
		sw := &mockSwitch{}
		db := &storagemock.MockDatabase{}
		a := newTestAutomation(src, sw, db)

		db.On("GetSettings", ctx).Return(enabledSettings(2), types.CurrentSettingsVersion, nil)
		src.On("ActivePower", ctx).Return(3.2, nil)
		sw.On("Status", ctx, codes).Return(map[string]bool{"switch_1": false}, nil)
		sw.On("TurnOn", ctx, codes).Return(nil)
		db.On("InsertAction", ctx, mock.MatchedBy(func(a types.Action) bool {
			return a.SwitchOn && a.Sent && a.Reason == types.ActionReasonAboveTrigger && a.ActivePowerKW == 3.2
		})).Return(nil)

		action, err := a.RunOnce(ctx)
		require.NoError(t, err)
		assert.True(t, action.Sent)

		st := a.Status()
		assert.True(t, st.Enabled)
		assert.Equal(t, 2.0, st.TriggerKW)
		require.NotNil(t, st.SwitchOn)
		assert.True(t, *st.SwitchOn)
		require.NotNil(t, st.LastActivePowerKW)
		assert.Equal(t, 3.2, *st.LastActivePowerKW)
		assert.Empty(t, st.LastError)

		sw.AssertNotCalled(t, "TurnOff", mock.Anything, mock.Anything)
		src.AssertExpectations(t)
		sw.AssertExpectations(t)
		db.AssertExpectations(t)
	})

	t.Run("Already In State", func(t *testing.T) {
		src := &mockSource{}
		sw := &mockSwitch{}
		db := &storagemock.MockDatabase{}
		a := newTestAutomation(src, sw, db)

		db.On("GetSettings", ctx).Return(enabledSettings(2), types.CurrentSettingsVersion, nil)
		src.On("ActivePower", ctx).Return(0.4, nil)
		sw.On("Status", ctx, codes).Return(map[string]bool{"switch_1": false}, nil)
		db.On("InsertAction", ctx, mock.MatchedBy(func(a types.Action) bool {
			return !a.SwitchOn && !a.Sent && a.Reason == types.ActionReasonBelowTrigger
		})).Return(nil)

		_, err := a.RunOnce(ctx)
		require.NoError(t, err)
		sw.AssertNotCalled(t, "TurnOn", mock.Anything, mock.Anything)
		sw.AssertNotCalled(t, "TurnOff", mock.Anything, mock.Anything)
		db.AssertExpectations(t)
	})

	t.Run("Disabled", func(t *testing.T) {
		src := &mockSource{}
		sw := &mockSwitch{}
		db := &storagemock.MockDatabase{}
		a := newTestAutomation(src, sw, db)

		db.On("GetSettings", ctx).Return(types.Settings{SwitchCodes: codes}, types.CurrentSettingsVersion, nil)

		_, err := a.RunOnce(ctx)
		assert.ErrorIs(t, err, ErrDisabled)
		src.AssertNotCalled(t, "ActivePower", mock.Anything)
		sw.AssertNotCalled(t, "Status", mock.Anything, mock.Anything)
		db.AssertNotCalled(t, "InsertAction", mock.Anything, mock.Anything)
	})

	t.Run("Stores Reading", func(t *testing.T) {
		src := &mockReadingSource{}
		sw := &mockSwitch{}
		db := &storagemock.MockDatabase{}
		a := newTestAutomation(src, sw, db)

		reading := types.Reading{Timestamp: time.Now(), DeviceID: "inv", ActivePowerKW: 5}
		db.On("GetSettings", ctx).Return(enabledSettings(2), types.CurrentSettingsVersion, nil)
		src.On("Reading", ctx).Return(reading, nil)
		db.On("InsertReading", ctx, reading).Return(nil)
		sw.On("Status", ctx, codes).Return(map[string]bool{"switch_1": true}, nil)
		db.On("InsertAction", ctx, mock.Anything).Return(nil)

		action, err := a.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5.0, action.ActivePowerKW)
		src.AssertNotCalled(t, "ActivePower", mock.Anything)
		db.AssertExpectations(t)
	})

	t.Run("Inverter Read Fails", func(t *testing.T) {
		src := &mockSource{}
		sw := &mockSwitch{}
		db := &storagemock.MockDatabase{}
		a := newTestAutomation(src, sw, db)

		readErr := &cloud.RequestError{Vendor: "fusionsolar", Code: 407, Message: "ACCESS_FREQUENCY_IS_TOO_HIGH"}
		db.On("GetSettings", ctx).Return(enabledSettings(2), types.CurrentSettingsVersion, nil)
		src.On("ActivePower", ctx).Return(0.0, readErr)
		db.On("InsertAction", ctx, mock.MatchedBy(func(a types.Action) bool {
			return a.Failed && a.Reason == types.ActionReasonReadFailed && !a.Sent
		})).Return(nil)

		action, err := a.RunOnce(ctx)
		require.Error(t, err)
		code, ok := cloud.VendorCode(err)
		require.True(t, ok)
		assert.Equal(t, 407, code)
		assert.True(t, action.Failed)
		sw.AssertNotCalled(t, "Status", mock.Anything, mock.Anything)
		assert.NotEmpty(t, a.Status().LastError)
		assert.Nil(t, a.Status().LastActivePowerKW)
	})

	t.Run("Switch Read Fails", func(t *testing.T) {
		src := &mockSource{}
		sw := &mockSwitch{}
		db := &storagemock.MockDatabase{}
		a := newTestAutomation(src, sw, db)

		db.On("GetSettings", ctx).Return(enabledSettings(2), types.CurrentSettingsVersion, nil)
		src.On("ActivePower", ctx).Return(3.0, nil)
		sw.On("Status", ctx, codes).Return(nil, errors.New("boom"))
		db.On("InsertAction", ctx, mock.MatchedBy(func(a types.Action) bool {
			return a.Failed && a.Reason == types.ActionReasonReadFailed && a.ActivePowerKW == 3.0
		})).Return(nil)

		_, err := a.RunOnce(ctx)
		require.Error(t, err)
		sw.AssertNotCalled(t, "TurnOn", mock.Anything, mock.Anything)
		st := a.Status()
		assert.Nil(t, st.SwitchOn)
		require.NotNil(t, st.LastActivePowerKW)
		assert.Equal(t, 3.0, *st.LastActivePowerKW)
	})

	t.Run("Command Fails", func(t *testing.T) {
		src := &mockSource{}
		sw := &mockSwitch{}
		db := &storagemock.MockDatabase{}
		a := newTestAutomation(src, sw, db)

		db.On("GetSettings", ctx).Return(enabledSettings(2), types.CurrentSettingsVersion, nil)
		src.On("ActivePower", ctx).Return(0.0, nil)
		sw.On("Status", ctx, codes).Return(map[string]bool{"switch_1": true}, nil)
		sw.On("TurnOff", ctx, codes).Return(&cloud.RequestError{Vendor: "tuya", Code: 2008, Message: "command or value not support"})
		db.On("InsertAction", ctx, mock.MatchedBy(func(a types.Action) bool {
			return a.Failed && !a.Sent && !a.SwitchOn
		})).Return(nil)

		action, err := a.RunOnce(ctx)
		require.Error(t, err)
		code, ok := cloud.VendorCode(err)
		require.True(t, ok)
		assert.Equal(t, 2008, code)
		assert.Contains(t, action.Error, "command or value not support")
		assert.Nil(t, a.Status().SwitchOn)
	})

	t.Run("Dry Run", func(t *testing.T) {
		src := &mockSource{}
		sw := &mockSwitch{}
		db := &storagemock.MockDatabase{}
		a := newTestAutomation(src, sw, db)

		settings := enabledSettings(2)
		settings.DryRun = true
		db.On("GetSettings", ctx).Return(settings, types.CurrentSettingsVersion, nil)
		src.On("ActivePower", ctx).Return(4.0, nil)
		sw.On("Status", ctx, codes).Return(map[string]bool{"switch_1": false}, nil)
		db.On("InsertAction", ctx, mock.MatchedBy(func(a types.Action) bool {
			return a.DryRun && a.SwitchOn && !a.Sent
		})).Return(nil)

		_, err := a.RunOnce(ctx)
		require.NoError(t, err)
		sw.AssertNotCalled(t, "TurnOn", mock.Anything, mock.Anything)
		db.AssertExpectations(t)
	})

	t.Run("Migrates Settings", func(t *testing.T) {
		src := &mockSource{}
		sw := &mockSwitch{}
		db := &storagemock.MockDatabase{}
		a := newTestAutomation(src, sw, db)

		db.On("GetSettings", ctx).Return(types.Settings{Enabled: true, TriggerKW: 1}, 0, nil)
		db.On("SetSettings", ctx, mock.MatchedBy(func(s types.Settings) bool {
			return assert.ObjectsAreEqual([]string{types.DefaultSwitchCode}, s.SwitchCodes)
		}), types.CurrentSettingsVersion).Return(nil)
		src.On("ActivePower", ctx).Return(1.5, nil)
		sw.On("Status", ctx, []string{types.DefaultSwitchCode}).Return(map[string]bool{types.DefaultSwitchCode: true}, nil)
		db.On("InsertAction", ctx, mock.Anything).Return(nil)

		_, err := a.RunOnce(ctx)
		require.NoError(t, err)
		db.AssertExpectations(t)
	})

	t.Run("Settings Error", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		a := newTestAutomation(&mockSource{}, &mockSwitch{}, db)

		db.On("GetSettings", ctx).Return(types.Settings{}, 0, errors.New("unavailable"))

		_, err := a.RunOnce(ctx)
		require.Error(t, err)
		assert.Contains(t, a.Status().LastError, "unavailable")
	})
}

func TestSetState(t *testing.T) {
	ctx := context.Background()

	t.Run("Start", func(t *testing.T) {
		sw := &mockSwitch{}
		db := &storagemock.MockDatabase{}
		a := newTestAutomation(&mockSource{}, sw, db)

		trigger := 1.5
		db.On("GetSettings", ctx).Return(types.Settings{SwitchCodes: codes, TriggerKW: 3}, types.CurrentSettingsVersion, nil)
		db.On("SetSettings", ctx, types.Settings{Enabled: true, TriggerKW: 1.5, SwitchCodes: codes}, types.CurrentSettingsVersion).Return(nil)

		settings, err := a.SetState(ctx, true, &trigger)
		require.NoError(t, err)
		assert.True(t, settings.Enabled)
		assert.Equal(t, 1.5, a.Status().TriggerKW)

		// the loop is asked to run now
		select {
		case <-a.kick:
		default:
			t.Fatal("expected a kick")
		}
		sw.AssertNotCalled(t, "TurnOff", mock.Anything, mock.Anything)
		db.AssertExpectations(t)
	})

	t.Run("Stop Turns Switch Off", func(t *testing.T) {
		sw := &mockSwitch{}
		db := &storagemock.MockDatabase{}
		a := newTestAutomation(&mockSource{}, sw, db)

		db.On("GetSettings", ctx).Return(enabledSettings(2), types.CurrentSettingsVersion, nil)
		db.On("SetSettings", ctx, types.Settings{Enabled: false, TriggerKW: 2, SwitchCodes: codes}, types.CurrentSettingsVersion).Return(nil)
		sw.On("TurnOff", ctx, codes).Return(nil)
		db.On("InsertAction", ctx, mock.MatchedBy(func(a types.Action) bool {
			return a.Reason == types.ActionReasonDisabled && a.Sent && !a.SwitchOn
		})).Return(nil)

		settings, err := a.SetState(ctx, false, nil)
		require.NoError(t, err)
		assert.False(t, settings.Enabled)

		st := a.Status()
		assert.False(t, st.Enabled)
		require.NotNil(t, st.SwitchOn)
		assert.False(t, *st.SwitchOn)
		sw.AssertExpectations(t)
		db.AssertExpectations(t)
	})

	t.Run("Stop Switch Error", func(t *testing.T) {
		sw := &mockSwitch{}
		db := &storagemock.MockDatabase{}
		a := newTestAutomation(&mockSource{}, sw, db)

		db.On("GetSettings", ctx).Return(enabledSettings(2), types.CurrentSettingsVersion, nil)
		db.On("SetSettings", ctx, mock.Anything, types.CurrentSettingsVersion).Return(nil)
		sw.On("TurnOff", ctx, codes).Return(errors.New("offline"))
		db.On("InsertAction", ctx, mock.MatchedBy(func(a types.Action) bool { return a.Failed })).Return(nil)

		settings, err := a.SetState(ctx, false, nil)
		require.Error(t, err)
		assert.False(t, settings.Enabled, "settings are saved even when the switch fails")
	})

	t.Run("Invalid Trigger", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		a := newTestAutomation(&mockSource{}, &mockSwitch{}, db)

		trigger := -1.0
		db.On("GetSettings", ctx).Return(enabledSettings(2), types.CurrentSettingsVersion, nil)

		_, err := a.SetState(ctx, true, &trigger)
		assert.True(t, cloud.IsValidation(err))
		db.AssertNotCalled(t, "SetSettings", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestRun(t *testing.T) {
	src := &mockSource{}
	sw := &mockSwitch{}
	db := &storagemock.MockDatabase{}
	a := newTestAutomation(src, sw, db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ran := make(chan struct{}, 10)
	db.On("GetLatestAction", mock.Anything).Return((*types.Action)(nil), nil)
	db.On("GetSettings", mock.Anything).Return(types.Settings{SwitchCodes: codes}, types.CurrentSettingsVersion, nil).
		Run(func(mock.Arguments) { ran <- struct{}{} })

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// first cycle runs immediately, the kick runs another
	<-ran
	assert.Eventually(t, func() bool { return a.Status().Running }, time.Second, 10*time.Millisecond)
	a.Kick()
	<-ran

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}
	assert.False(t, a.Status().Running)
}

func TestRestoreStatus(t *testing.T) {
	ctx := context.Background()
	last := time.Date(2025, 6, 1, 11, 55, 0, 0, time.UTC)
	on, off := true, false

	tests := []struct {
		name       string
		action     *types.Action
		wantRun    time.Time
		wantOn     *bool
		wantKW     *float64
		wantErrMsg string
	}{
		{
			name:    "Sent",
			action:  &types.Action{Timestamp: last, Reason: types.ActionReasonAboveTrigger, SwitchOn: true, Sent: true, ActivePowerKW: 3.1},
			wantRun: last,
			wantOn:  &on,
			wantKW:  func() *float64 { v := 3.1; return &v }(),
		},
		{
			name:    "Unchanged",
			action:  &types.Action{Timestamp: last, Reason: types.ActionReasonBelowTrigger, PreviousOn: &off, ActivePowerKW: 0.5},
			wantRun: last,
			wantOn:  &off,
			wantKW:  func() *float64 { v := 0.5; return &v }(),
		},
		{
			name:       "Read Failed",
			action:     &types.Action{Timestamp: last, Reason: types.ActionReasonReadFailed, Failed: true, Error: "failed to read inverter"},
			wantRun:    last,
			wantErrMsg: "failed to read inverter",
		},
		{
			name: "No History",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &storagemock.MockDatabase{}
			a := newTestAutomation(&mockSource{}, &mockSwitch{}, db)
			db.On("GetLatestAction", ctx).Return(tt.action, nil)

			a.restoreStatus(ctx)

			st := a.Status()
			assert.Equal(t, tt.wantRun, st.LastRun)
			assert.Equal(t, tt.wantOn, st.SwitchOn)
			assert.Equal(t, tt.wantKW, st.LastActivePowerKW)
			assert.Equal(t, tt.wantErrMsg, st.LastError)
			db.AssertExpectations(t)
		})
	}

	t.Run("Storage Error", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		a := newTestAutomation(&mockSource{}, &mockSwitch{}, db)
		db.On("GetLatestAction", ctx).Return((*types.Action)(nil), errors.New("unavailable"))

		a.restoreStatus(ctx)
		assert.True(t, a.Status().LastRun.IsZero())
	})

	t.Run("Keeps Newer Status", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		a := newTestAutomation(&mockSource{}, &mockSwitch{}, db)
		now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		a.updateStatus(func(s *types.Status) { s.LastRun = now })

		a.restoreStatus(ctx)
		assert.Equal(t, now, a.Status().LastRun)
		db.AssertNotCalled(t, "GetLatestAction", mock.Anything)
	})
}

func TestSaveSettings(t *testing.T) {
	ctx := context.Background()

	t.Run("Disabling Turns Switch Off", func(t *testing.T) {
		sw := &mockSwitch{}
		db := &storagemock.MockDatabase{}
		a := newTestAutomation(&mockSource{}, sw, db)

		next := types.Settings{TriggerKW: 2, SwitchCodes: codes}
		db.On("GetSettings", ctx).Return(enabledSettings(2), types.CurrentSettingsVersion, nil)
		db.On("SetSettings", ctx, next, types.CurrentSettingsVersion).Return(nil)
		sw.On("TurnOff", ctx, codes).Return(nil)
		db.On("InsertAction", ctx, mock.MatchedBy(func(a types.Action) bool {
			return a.Reason == types.ActionReasonDisabled && a.Sent
		})).Return(nil)

		_, err := a.SaveSettings(ctx, next)
		require.NoError(t, err)
		sw.AssertExpectations(t)
		db.AssertExpectations(t)
	})

	t.Run("Already Disabled", func(t *testing.T) {
		sw := &mockSwitch{}
		db := &storagemock.MockDatabase{}
		a := newTestAutomation(&mockSource{}, sw, db)

		next := types.Settings{TriggerKW: 4, SwitchCodes: codes}
		db.On("GetSettings", ctx).Return(types.Settings{TriggerKW: 2, SwitchCodes: codes}, types.CurrentSettingsVersion, nil)
		db.On("SetSettings", ctx, next, types.CurrentSettingsVersion).Return(nil)

		_, err := a.SaveSettings(ctx, next)
		require.NoError(t, err)
		sw.AssertNotCalled(t, "TurnOff", mock.Anything, mock.Anything)
		assert.Equal(t, 4.0, a.Status().TriggerKW)
	})

	t.Run("Invalid", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		a := newTestAutomation(&mockSource{}, &mockSwitch{}, db)

		db.On("GetSettings", ctx).Return(enabledSettings(2), types.CurrentSettingsVersion, nil)

		_, err := a.SaveSettings(ctx, types.Settings{Enabled: true, TriggerKW: 1})
		assert.True(t, cloud.IsValidation(err))
		db.AssertNotCalled(t, "SetSettings", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Stale", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		a := newTestAutomation(&mockSource{}, &mockSwitch{}, db)

		db.On("GetSettings", ctx).Return(enabledSettings(2), types.CurrentSettingsVersion, nil)
		db.On("SetSettings", ctx, mock.Anything, types.CurrentSettingsVersion).Return(storage.ErrStaleSettings)

		_, err := a.SaveSettings(ctx, enabledSettings(3))
		assert.ErrorIs(t, err, storage.ErrStaleSettings)
	})
}
